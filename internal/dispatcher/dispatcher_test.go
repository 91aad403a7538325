package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/local/doctranslate/internal/ai"
	"github.com/local/doctranslate/internal/config"
)

var testModel = config.Model{Key: "gpt-4o", ModelID: "gpt-4o", BaseURL: "http://fake"}

func promptOf(req ai.Request) string { return req.Messages[0].Parts[0].Text }

// batchInput recovers the items embedded in a batch prompt.
func batchInput(t *testing.T, prompt string) []batchItem {
	t.Helper()
	start := strings.Index(prompt, "Original JSON:\n")
	end := strings.LastIndex(prompt, "\n\nTranslated JSON array:")
	if start < 0 || end < 0 {
		t.Fatalf("not a batch prompt: %q", prompt)
	}
	var items []batchItem
	if err := json.Unmarshal([]byte(prompt[start+len("Original JSON:\n"):end]), &items); err != nil {
		t.Fatalf("batch payload: %v", err)
	}
	return items
}

func singleInput(prompt string) string {
	i := strings.LastIndex(prompt, "Original:\n")
	return prompt[i+len("Original:\n"):]
}

func reply(items []batchReply) string {
	b, _ := json.Marshal(items)
	return string(b)
}

func TestTranslateBatchEmptyMakesNoCall(t *testing.T) {
	var calls int32
	d := NewDispatcher(Options{Client: ai.ClientFunc(func(ctx context.Context, req ai.Request) (ai.Response, error) {
		atomic.AddInt32(&calls, 1)
		return ai.Response{}, nil
	})})
	out := d.TranslateBatch(context.Background(), nil, "en", "auto", testModel)
	if out == nil || len(out) != 0 || calls != 0 {
		t.Fatalf("out=%v calls=%d", out, calls)
	}
}

func TestTranslateBatchReordersByIndex(t *testing.T) {
	d := NewDispatcher(Options{Client: ai.ClientFunc(func(ctx context.Context, req ai.Request) (ai.Response, error) {
		if req.Kind != "batch" {
			t.Errorf("unexpected %s call", req.Kind)
		}
		if req.Timeout < minBatchTimeout {
			t.Errorf("batch timeout %v", req.Timeout)
		}
		items := batchInput(t, promptOf(req))
		var rs []batchReply
		for i := len(items) - 1; i >= 0; i-- {
			rs = append(rs, batchReply{Index: items[i].Index, Translation: "T:" + items[i].Text})
		}
		return ai.Response{Text: reply(rs)}, nil
	})})
	got := d.TranslateBatch(context.Background(), []string{"a", "b", "c"}, "en", "auto", testModel)
	want := []string{"T:a", "T:b", "T:c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestParseBatchReplyFencedAndPlainAgree(t *testing.T) {
	plain := `[{"index":1,"translation":"world"},{"index":0,"translation":"hello"}]`
	cases := []string{
		plain,
		"```json\n" + plain + "\n```",
		"```\n" + plain + "\n```",
		"  ```JSON\n" + plain + "```  ",
		"```json\n" + plain,
	}
	for _, c := range cases {
		got, err := parseBatchReply(c, 2)
		if err != nil {
			t.Fatalf("%q: %v", c, err)
		}
		if got[0] != "hello" || got[1] != "world" {
			t.Fatalf("%q: got %v", c, got)
		}
	}
}

func TestParseBatchReplyErrors(t *testing.T) {
	for _, c := range []string{"not json", `{"index":0}`, `[{"index":0,"translation":"x"}]`} {
		_, err := parseBatchReply(c, 2)
		var pe *ai.ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("%q: want ParseError, got %v", c, err)
		}
	}
}

func TestTranslateBatchFallsBackPerUnit(t *testing.T) {
	var singles int32
	d := NewDispatcher(Options{Client: ai.ClientFunc(func(ctx context.Context, req ai.Request) (ai.Response, error) {
		if req.Kind == "batch" {
			return ai.Response{Text: "Sorry, I cannot produce JSON."}, nil
		}
		atomic.AddInt32(&singles, 1)
		text := singleInput(promptOf(req))
		if text == "bad" {
			return ai.Response{}, &ai.APIError{StatusCode: 500, Body: "boom"}
		}
		return ai.Response{Text: "  T:" + text + "\n"}, nil
	})})
	got := d.TranslateBatch(context.Background(), []string{"a", "bad", "c"}, "en", "auto", testModel)
	want := []string{"T:a", DefaultSentinel, "T:c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
	if singles != 3 {
		t.Fatalf("singles = %d", singles)
	}
}

func TestTranslateBatchCountMismatchFallsBack(t *testing.T) {
	d := NewDispatcher(Options{Sentinel: "<x>", Client: ai.ClientFunc(func(ctx context.Context, req ai.Request) (ai.Response, error) {
		if req.Kind == "batch" {
			return ai.Response{Text: `[{"index":0,"translation":"only one"}]`}, nil
		}
		return ai.Response{Text: "S:" + singleInput(promptOf(req))}, nil
	})})
	got := d.TranslateBatch(context.Background(), []string{"a", "b"}, "en", "auto", testModel)
	if got[0] != "S:a" || got[1] != "S:b" {
		t.Fatalf("got %v", got)
	}
}

func TestTranslateBatchTransportFailureUsesSentinel(t *testing.T) {
	d := NewDispatcher(Options{Sentinel: "<x>", Client: ai.ClientFunc(func(ctx context.Context, req ai.Request) (ai.Response, error) {
		return ai.Response{}, &ai.TransportError{Op: "post", Err: errors.New("connection refused")}
	})})
	got := d.TranslateBatch(context.Background(), []string{"a", "b"}, "en", "auto", testModel)
	if len(got) != 2 || got[0] != "<x>" || got[1] != "<x>" {
		t.Fatalf("got %v", got)
	}
}

func TestTranslateTextWrapsAPIError(t *testing.T) {
	d := NewDispatcher(Options{Client: ai.ClientFunc(func(ctx context.Context, req ai.Request) (ai.Response, error) {
		return ai.Response{}, &ai.APIError{StatusCode: 401, Body: "bad key"}
	})})
	_, err := d.TranslateText(context.Background(), "hi", "en", "auto", testModel)
	var te *TranslationError
	if !errors.As(err, &te) || te.Status != 401 || te.Body != "bad key" {
		t.Fatalf("err = %#v", err)
	}
	var apiErr *ai.APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("APIError should stay reachable through Unwrap")
	}
}

func TestTranslateTextPrompt(t *testing.T) {
	var prompts []string
	d := NewDispatcher(Options{Client: ai.ClientFunc(func(ctx context.Context, req ai.Request) (ai.Response, error) {
		if req.Model != "gpt-4o" || req.BaseURL != "http://fake" || req.Timeout != defaultSingleTimeout {
			t.Errorf("request = %+v", req)
		}
		if req.Temperature == nil || *req.Temperature != defaultTemperature {
			t.Errorf("temperature = %v", req.Temperature)
		}
		prompts = append(prompts, promptOf(req))
		return ai.Response{Text: "ok"}, nil
	})})
	ctx := context.Background()
	if _, err := d.TranslateText(ctx, "hello", "xx", "auto", testModel); err != nil {
		t.Fatal(err)
	}
	if _, err := d.TranslateText(ctx, "hello", "ja", "en", testModel); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompts[0], "content into "+config.DefaultLanguageName) {
		t.Errorf("unknown target should use the default name: %q", prompts[0])
	}
	if strings.Contains(prompts[0], "English") {
		t.Errorf("auto source should not be named: %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "English content into 日本語") {
		t.Errorf("prompt = %q", prompts[1])
	}
	if !strings.HasSuffix(prompts[1], "\nhello") {
		t.Errorf("text should close the prompt: %q", prompts[1])
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]error{
		"success":      nil,
		"rate_limited": &ai.APIError{StatusCode: 429},
		"api_error":    &ai.APIError{StatusCode: 503},
		"timeout":      &ai.TransportError{Op: "timeout", Err: context.DeadlineExceeded},
		"transport":    &ai.TransportError{Op: "post", Err: errors.New("reset")},
		"parse":        &ai.ParseError{What: "x"},
		"config":       ai.ErrMissingAPIKey,
		"unknown":      errors.New("?"),
	}
	for want, err := range cases {
		if got := classify(fmt.Errorf("wrapped: %w", err)); err != nil && got != want {
			t.Errorf("%v: got %s want %s", err, got, want)
		}
	}
	if classify(nil) != "success" {
		t.Error("nil")
	}
}
