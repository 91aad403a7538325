// Package statuscheck reports the readiness of the service's dependencies.
package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Pinger is anything with a reachability check (Redis gate, S3 store).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the Checker. Nil dependencies are reported as not
// configured.
type Options struct {
	Redis       Pinger
	S3          Pinger
	LibreOffice func() error
	APIKey      string
	BaseURL     string
	HTTPClient  *http.Client
	// CheckAPI enables a live GET <base>/v1/models call.
	CheckAPI bool
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK         bool   `json:"ok"`
	Configured bool   `json:"configured"`
	Message    string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	API         Status `json:"api"`
	Redis       Status `json:"redis"`
	S3          Status `json:"s3"`
	LibreOffice Status `json:"libreoffice"`
	MuPDF       Status `json:"mupdf"`
}

// Ready reports whether every configured subsystem is healthy.
func (s Summary) Ready() bool {
	for _, st := range []Status{s.API, s.Redis, s.S3, s.LibreOffice, s.MuPDF} {
		if st.Configured && !st.OK {
			return false
		}
	}
	return true
}

type Checker struct {
	opts Options
}

func New(opts Options) *Checker {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	opts.APIKey = strings.TrimSpace(opts.APIKey)
	return &Checker{opts: opts}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		API:         c.checkAPI(ctx),
		Redis:       ping(ctx, c.opts.Redis, 2*time.Second),
		S3:          ping(ctx, c.opts.S3, 5*time.Second),
		LibreOffice: c.checkLibreOffice(),
		MuPDF:       Status{OK: true, Configured: true, Message: "embedded (go-fitz)"},
	}
}

func ping(ctx context.Context, p Pinger, timeout time.Duration) Status {
	if p == nil {
		return Status{Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{Configured: true, Message: trimError(err)}
	}
	return Status{OK: true, Configured: true, Message: "Connected"}
}

func (c *Checker) checkLibreOffice() Status {
	if c.opts.LibreOffice == nil {
		return Status{Message: "not configured"}
	}
	if err := c.opts.LibreOffice(); err != nil {
		return Status{Configured: true, Message: "Binary not found"}
	}
	return Status{OK: true, Configured: true, Message: "Available"}
}

func (c *Checker) checkAPI(ctx context.Context) Status {
	if c.opts.APIKey == "" {
		return Status{Configured: true, Message: "API key missing"}
	}
	if !c.opts.CheckAPI {
		return Status{OK: true, Configured: true, Message: "API key present"}
	}
	url := strings.TrimRight(c.opts.BaseURL, "/")
	if !strings.HasSuffix(url, "/v1") {
		url += "/v1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/models", nil)
	if err != nil {
		return Status{Configured: true, Message: trimError(err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return Status{Configured: true, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{Configured: true, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Configured: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
