package recognizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/local/doctranslate/internal/ai"
	"github.com/local/doctranslate/internal/config"
)

var model = config.Model{Key: "gpt-4o", ModelID: "gpt-4o", BaseURL: "http://fake"}

// 1x1 PNG
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

type script struct {
	replies []func() (ai.Response, error)
	calls   int
	reqs    []ai.Request
}

func (s *script) Do(ctx context.Context, req ai.Request) (ai.Response, error) {
	s.reqs = append(s.reqs, req)
	f := s.replies[s.calls]
	s.calls++
	return f()
}

func ok(text string) func() (ai.Response, error) {
	return func() (ai.Response, error) { return ai.Response{Text: text}, nil }
}

func fail(err error) func() (ai.Response, error) {
	return func() (ai.Response, error) { return ai.Response{}, err }
}

func newTestRecognizer(c ai.Client) (*Recognizer, *[]time.Duration) {
	var sleeps []time.Duration
	r := New(c, nil, 0)
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return r, &sleeps
}

func writeImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(p, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRecognizeSucceedsOnThirdAttempt(t *testing.T) {
	s := &script{replies: []func() (ai.Response, error){
		fail(&ai.APIError{StatusCode: 503, Body: "busy"}),
		ok("   \n "),
		ok("First para\n\n\nSecond para\n"),
	}}
	r, sleeps := newTestRecognizer(s)
	paras, err := r.RecognizeWithRetry(context.Background(), writeImage(t), model, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(paras) != 2 || paras[0] != (Paragraph{1, "First para"}) || paras[1] != (Paragraph{2, "Second para"}) {
		t.Fatalf("paras = %+v", paras)
	}
	if len(*sleeps) != 2 || (*sleeps)[0] != 2*time.Second || (*sleeps)[1] != 4*time.Second {
		t.Fatalf("sleeps = %v", *sleeps)
	}
	req := s.reqs[0]
	if req.MaxTokens != 4000 || req.Kind != "vision" || len(req.Messages[0].Parts) != 2 {
		t.Fatalf("request = %+v", req)
	}
	if url := req.Messages[0].Parts[1].ImageURL; !strings.HasPrefix(url, "data:image/png;base64,iVBOR") {
		t.Fatalf("image url = %.40s", url)
	}
}

func TestRecognizeExhaustsAttempts(t *testing.T) {
	last := &ai.TransportError{Op: "post", Err: errors.New("reset")}
	s := &script{replies: []func() (ai.Response, error){
		fail(errors.New("one")), fail(errors.New("two")), fail(last),
	}}
	r, sleeps := newTestRecognizer(s)
	_, err := r.RecognizeBytes(context.Background(), pngBytes, model, 3)
	var ire *ImageRecognitionError
	if !errors.As(err, &ire) || ire.Attempts != 3 {
		t.Fatalf("err = %v", err)
	}
	var te *ai.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("last error should be wrapped, got %v", ire.Err)
	}
	if s.calls != 3 || len(*sleeps) != 2 {
		t.Fatalf("calls=%d sleeps=%v", s.calls, *sleeps)
	}
}

func TestRecognizeDefaultsRetries(t *testing.T) {
	s := &script{replies: []func() (ai.Response, error){ok(""), ok(""), ok("")}}
	r, _ := newTestRecognizer(s)
	_, err := r.RecognizeBytes(context.Background(), pngBytes, model, 0)
	if !errors.Is(err, ErrNoText) || s.calls != 3 {
		t.Fatalf("err=%v calls=%d", err, s.calls)
	}
}

func TestRecognizeReadErrorIsNotRetried(t *testing.T) {
	s := &script{}
	r, _ := newTestRecognizer(s)
	_, err := r.RecognizeWithRetry(context.Background(), filepath.Join(t.TempDir(), "missing.png"), model, 3)
	var ire *ImageRecognitionError
	if err == nil || errors.As(err, &ire) || !errors.Is(err, os.ErrNotExist) || s.calls != 0 {
		t.Fatalf("err=%v calls=%d", err, s.calls)
	}
}

func TestRecognizeStopsWhenContextDone(t *testing.T) {
	s := &script{replies: []func() (ai.Response, error){fail(&ai.APIError{StatusCode: 502, Body: "bad gateway"}), ok("never")}}
	r := New(s, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.RecognizeBytes(ctx, pngBytes, model, 3)
	if !errors.Is(err, context.Canceled) || s.calls != 1 {
		t.Fatalf("err=%v calls=%d", err, s.calls)
	}
	var ire *ImageRecognitionError
	if !errors.As(err, &ire) || ire.Attempts != 1 {
		t.Fatalf("attempts should count the calls made, err = %v", err)
	}
	var ae *ai.APIError
	if !errors.As(err, &ae) || ae.StatusCode != 502 {
		t.Fatalf("api error lost: %v", err)
	}
}

func TestSplitParagraphs(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a\n\nb", []string{"a", "b"}},
		{"  line one\nline two  ", []string{"line one\nline two"}},
		{"\n\n \n\n", nil},
		{"x\n\n\n\ny\n\n", []string{"x", "y"}},
	}
	for _, c := range cases {
		got := SplitParagraphs(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q: got %+v", c.in, got)
		}
		for i, p := range got {
			if p.Index != i+1 || p.Text != c.want[i] {
				t.Fatalf("%q: got %+v", c.in, got)
			}
		}
	}
}

func TestTranslateImage(t *testing.T) {
	s := &script{replies: []func() (ai.Response, error){ok("  你好  ")}}
	r, _ := newTestRecognizer(s)
	got, err := r.TranslateImage(context.Background(), pngBytes, "ja", model)
	if err != nil || got != "你好" {
		t.Fatalf("got %q err %v", got, err)
	}
	req := s.reqs[0]
	if req.MaxTokens != 2000 || !strings.Contains(req.Messages[0].Parts[0].Text, "日本語") {
		t.Fatalf("request = %+v", req)
	}
}
