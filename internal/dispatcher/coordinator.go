package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/local/doctranslate/internal/batch"
	"github.com/local/doctranslate/internal/config"
	mpkg "github.com/local/doctranslate/internal/metrics"
)

const DefaultMaxWorkers = 3

// BatchTranslator translates one batch and returns one string per input.
type BatchTranslator interface {
	TranslateBatch(ctx context.Context, texts []string, target, source string, model config.Model) []string
}

// JobRequest describes one document translation.
type JobRequest struct {
	Target     string
	Source     string
	BatchSize  int
	MaxWorkers int
	Model      config.Model
}

// Coordinator runs the batches of a job with bounded concurrency and
// reassembles the results in original order.
type Coordinator struct {
	translator BatchTranslator
	sentinel   string
}

func NewCoordinator(t BatchTranslator, sentinel string) *Coordinator {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	return &Coordinator{translator: t, sentinel: sentinel}
}

// TranslateAll returns one TranslatedUnit per input unit, at the same index.
// A failing batch only affects its own units. The returned error is non-nil
// only for invalid configuration.
func (c *Coordinator) TranslateAll(ctx context.Context, units []batch.Unit, req JobRequest) ([]batch.TranslatedUnit, error) {
	batches, err := batch.Plan(units, req.BatchSize)
	if err != nil {
		return nil, err
	}
	workers := req.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}

	l := zerolog.Ctx(ctx)
	l.Info().Int("units", len(units)).Int("batches", len(batches)).Int("batch_size", req.BatchSize).
		Int("workers", workers).Str("model", req.Model.Key).Str("target", req.Target).Msg("translation job started")

	results := make([]batch.TranslatedUnit, len(units))
	written := make([]bool, len(units))
	start := time.Now()

	// Workers never return errors; the group is only a bounded pool.
	var g errgroup.Group
	g.SetLimit(workers)
	for _, b := range batches {
		g.Go(func() error {
			c.runBatch(ctx, b, req, results, written)
			return nil
		})
	}
	_ = g.Wait()

	for i, ok := range written {
		if !ok {
			return nil, fmt.Errorf("translation slot %d was never written", i)
		}
	}
	l.Info().Int("units", len(units)).Dur("duration", time.Since(start)).Msg("translation job finished")
	return results, nil
}

// runBatch writes only results[b.StartIndex : b.StartIndex+len(b.Units)].
func (c *Coordinator) runBatch(ctx context.Context, b batch.Batch, req JobRequest, results []batch.TranslatedUnit, written []bool) {
	l := zerolog.Ctx(ctx).With().Int("batch_start", b.StartIndex).Int("units", len(b.Units)).Logger()
	start := time.Now()

	translations := c.safeTranslate(ctx, b, req, &l)
	for i, u := range b.Units {
		results[b.StartIndex+i] = batch.TranslatedUnit{Unit: u, Translation: translations[i]}
		written[b.StartIndex+i] = true
	}
	l.Info().Dur("duration", time.Since(start)).Msg("batch done")
}

func (c *Coordinator) safeTranslate(ctx context.Context, b batch.Batch, req JobRequest, l *zerolog.Logger) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("batch worker panicked")
			out = c.sentinels(len(b.Units))
		}
	}()
	out = c.translator.TranslateBatch(ctx, b.Texts(), req.Target, req.Source, req.Model)
	if len(out) != len(b.Units) {
		l.Error().Int("got", len(out)).Msg("batch returned wrong number of translations")
		return c.sentinels(len(b.Units))
	}
	return out
}

func (c *Coordinator) sentinels(n int) []string {
	mpkg.IncBatch("contained")
	mpkg.AddUnits("failed", n)
	out := make([]string, n)
	for i := range out {
		out[i] = c.sentinel
	}
	return out
}
