package statuscheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestSummaryUnconfigured(t *testing.T) {
	s := New(Options{APIKey: "  k "}).Summary(context.Background())
	if !s.API.OK || s.Redis.Configured || s.S3.Configured || s.LibreOffice.Configured || !s.MuPDF.OK {
		t.Fatalf("summary = %+v", s)
	}
	if !s.Ready() {
		t.Fatal("unconfigured optional deps must not block readiness")
	}
}

func TestSummaryFailures(t *testing.T) {
	s := New(Options{
		Redis:       pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
		S3:          pingFunc(func(ctx context.Context) error { return nil }),
		LibreOffice: func() error { return errors.New("missing") },
	}).Summary(context.Background())
	if s.API.OK || s.Redis.OK || s.Redis.Message != "connection refused" || !s.S3.OK || s.LibreOffice.OK {
		t.Fatalf("summary = %+v", s)
	}
	if s.Ready() {
		t.Fatal("should not be ready")
	}
}

func TestLiveAPICheck(t *testing.T) {
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, path = r.Header.Get("Authorization"), r.URL.Path
		if auth != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	s := New(Options{APIKey: "good", BaseURL: srv.URL + "/", CheckAPI: true}).Summary(context.Background())
	if !s.API.OK || path != "/v1/models" {
		t.Fatalf("api = %+v path %s", s.API, path)
	}
	s = New(Options{APIKey: "bad", BaseURL: srv.URL + "/v1", CheckAPI: true}).Summary(context.Background())
	if s.API.OK || s.API.Message != "HTTP 401" {
		t.Fatalf("api = %+v", s.API)
	}
}
