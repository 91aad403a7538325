package dispatcher

import (
	"context"
	"errors"

	"github.com/local/doctranslate/internal/ai"
)

// classify maps a call error to the result label used in metrics and logs.
func classify(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ai.ErrMissingAPIKey) {
		return "config"
	}
	if ai.IsRateLimited(err) {
		return "rate_limited"
	}
	if isTimeoutError(err) {
		return "timeout"
	}

	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		return "api_error"
	}
	var te *ai.TransportError
	if errors.As(err, &te) {
		return "transport"
	}
	var pe *ai.ParseError
	if errors.As(err, &pe) {
		return "parse"
	}
	return "unknown"
}

// isTimeoutError checks if error is specifically a timeout
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *ai.TransportError
	return errors.As(err, &te) && te.Op == "timeout"
}
