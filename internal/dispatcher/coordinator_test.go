package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/local/doctranslate/internal/batch"
	"github.com/local/doctranslate/internal/config"
)

type fakeBatcher func(ctx context.Context, texts []string) []string

func (f fakeBatcher) TranslateBatch(ctx context.Context, texts []string, target, source string, model config.Model) []string {
	return f(ctx, texts)
}

func units(texts ...string) []batch.Unit {
	out := make([]batch.Unit, len(texts))
	for i, s := range texts {
		out[i] = batch.Unit{ID: fmt.Sprintf("para-%d", i), Text: s, Position: i}
	}
	return out
}

func upper(_ context.Context, texts []string) []string {
	out := make([]string, len(texts))
	for i, s := range texts {
		out[i] = strings.ToUpper(s)
	}
	return out
}

func TestTranslateAllKeepsOrderWhenLaterBatchFinishesFirst(t *testing.T) {
	hello, world := make(chan struct{}), make(chan struct{})
	c := NewCoordinator(fakeBatcher(func(ctx context.Context, texts []string) []string {
		switch texts[0] {
		case "Hello":
			<-world
			close(hello)
			return []string{"你好"}
		default:
			close(world)
			return []string{"世界"}
		}
	}), "")
	got, err := c.TranslateAll(context.Background(), units("Hello", "World"), JobRequest{Target: "zh-CN", BatchSize: 1, MaxWorkers: 2})
	if err != nil {
		t.Fatal(err)
	}
	<-hello
	if got[0].Translation != "你好" || got[1].Translation != "世界" {
		t.Fatalf("got %+v", got)
	}
	if got[0].ID != "para-0" || got[1].Position != 1 {
		t.Fatalf("unit metadata lost: %+v", got)
	}
}

func TestTranslateAllMatchesInputForEverySize(t *testing.T) {
	texts := make([]string, 17)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	in := units(texts...)
	for size := 1; size <= 20; size++ {
		for workers := 1; workers <= 4; workers++ {
			got, err := NewCoordinator(fakeBatcher(upper), "").TranslateAll(context.Background(), in,
				JobRequest{BatchSize: size, MaxWorkers: workers})
			if err != nil {
				t.Fatal(err)
			}
			for i, r := range got {
				if r.Unit != in[i] || r.Translation != strings.ToUpper(in[i].Text) {
					t.Fatalf("size=%d workers=%d slot %d = %+v", size, workers, i, r)
				}
			}
		}
	}
}

func TestTranslateAllBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	c := NewCoordinator(fakeBatcher(func(ctx context.Context, texts []string) []string {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return upper(ctx, texts)
	}), "")
	if _, err := c.TranslateAll(context.Background(), units("a", "b", "c", "d", "e", "f", "g", "h"), JobRequest{BatchSize: 1, MaxWorkers: 2}); err != nil {
		t.Fatal(err)
	}
	if peak > 2 {
		t.Fatalf("peak concurrency %d exceeds 2", peak)
	}
}

func TestTranslateAllDefaultsWorkers(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	c := NewCoordinator(fakeBatcher(func(ctx context.Context, texts []string) []string {
		mu.Lock()
		calls++
		mu.Unlock()
		return upper(ctx, texts)
	}), "")
	if _, err := c.TranslateAll(context.Background(), units("a", "b", "c"), JobRequest{BatchSize: 2}); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestTranslateAllContainsBatchFailures(t *testing.T) {
	c := NewCoordinator(fakeBatcher(func(ctx context.Context, texts []string) []string {
		switch texts[0] {
		case "panic":
			panic("worker exploded")
		case "short":
			return nil
		}
		return upper(ctx, texts)
	}), "<x>")
	got, err := c.TranslateAll(context.Background(), units("a", "b", "panic", "z", "short", "y", "c"), JobRequest{BatchSize: 2, MaxWorkers: 3})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"A", "B", "<x>", "<x>", "<x>", "<x>", "C"}
	for i, r := range got {
		if r.Translation != want[i] {
			t.Fatalf("slot %d = %q want %q", i, r.Translation, want[i])
		}
	}
}

func TestTranslateAllRejectsBadBatchSize(t *testing.T) {
	called := false
	c := NewCoordinator(fakeBatcher(func(ctx context.Context, texts []string) []string {
		called = true
		return texts
	}), "")
	_, err := c.TranslateAll(context.Background(), units("a"), JobRequest{BatchSize: 0})
	var ce *batch.ConfigurationError
	if !errors.As(err, &ce) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestTranslateAllEmpty(t *testing.T) {
	got, err := NewCoordinator(fakeBatcher(upper), "").TranslateAll(context.Background(), nil, JobRequest{BatchSize: 5})
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v err %v", got, err)
	}
}
