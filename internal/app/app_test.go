package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/local/doctranslate/internal/config"
)

func TestBuildWithoutAPIKey(t *testing.T) {
	cfg := config.Config{}
	cfg.Upload.Dir = t.TempDir()
	a, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.Store != nil {
		t.Fatal("store should stay nil without a bucket")
	}
	sum := a.Checker.Summary(context.Background())
	if sum.API.OK || sum.API.Message != "API key missing" || sum.Ready() {
		t.Fatalf("api status = %+v", sum.API)
	}
	if sum.Redis.Configured || sum.S3.Configured {
		t.Fatalf("unexpected optional deps: %+v", sum)
	}

	req := a.JobRequest("en", "auto", "no-such-model")
	if req.Model != a.Registry.Default() || req.Target != "en" || req.Source != "auto" {
		t.Fatalf("job request = %+v", req)
	}

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body)
	}
}

func TestBuildRejectsBadRedisURL(t *testing.T) {
	cfg := config.Config{}
	cfg.Limiter.RedisURL = "http://not-redis"
	cfg.Limiter.PerMinute = 10
	if _, err := Build(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "rate limiter") {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildRejectsMissingModelsFile(t *testing.T) {
	cfg := config.Config{}
	cfg.API.ModelsFile = t.TempDir() + "/missing.yaml"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected models file error")
	}
}
