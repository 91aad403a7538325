package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// LimitError means an upload was refused by policy.
type LimitError struct {
	Reason string
}

func (e *LimitError) Error() string { return e.Reason }

// Policy bounds accepted uploads.
type Policy struct {
	AllowedExtensions []string
	MaxBytes          int64
	MaxPDFPages       int
}

// Check validates the client file name and size before anything is stored.
func (p Policy) Check(name string, size int64) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return &LimitError{Reason: "file has no extension"}
	}
	if len(p.AllowedExtensions) > 0 && !contains(p.AllowedExtensions, ext) {
		return &LimitError{Reason: fmt.Sprintf("file type .%s is not allowed", ext)}
	}
	if p.MaxBytes > 0 && size > p.MaxBytes {
		return &LimitError{Reason: fmt.Sprintf("file is %d bytes, limit is %d", size, p.MaxBytes)}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// checkPageLimit counts pages with pdfcpu so oversized documents are refused
// before any page is rendered.
func checkPageLimit(path string, limit int) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		// pdfcpu is stricter than MuPDF; let go-fitz decide on malformed files.
		return 0, nil
	}
	if limit > 0 && n > limit {
		return n, &LimitError{Reason: fmt.Sprintf("PDF has %d pages, limit is %d", n, limit)}
	}
	return n, nil
}
