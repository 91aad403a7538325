package dispatcher

import (
	"errors"
	"fmt"

	"github.com/local/doctranslate/internal/ai"
)

// TranslationError is a failed single-unit translation. Status and Body are
// set when the endpoint answered with a non-2xx reply.
type TranslationError struct {
	Status int
	Body   string
	Err    error
}

func newTranslationError(err error) *TranslationError {
	te := &TranslationError{Err: err}
	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		te.Status = apiErr.StatusCode
		te.Body = apiErr.Body
	}
	return te
}

func (e *TranslationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("translation failed: HTTP %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("translation failed: %v", e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }
