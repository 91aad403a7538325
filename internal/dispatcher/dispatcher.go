// Package dispatcher sends translation units to the model endpoint, one at a
// time or in batches, and degrades failed batches to per-unit calls.
package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/doctranslate/internal/ai"
	"github.com/local/doctranslate/internal/config"
	mpkg "github.com/local/doctranslate/internal/metrics"
)

const (
	DefaultSentinel      = "[翻译失败]"
	defaultSingleTimeout = 30 * time.Second
	minBatchTimeout      = 60 * time.Second
	defaultTemperature   = 0.3
)

// Options configures a Dispatcher. Zero values take the defaults.
type Options struct {
	Client        ai.Client
	Languages     config.Languages
	Sentinel      string
	SingleTimeout time.Duration
	BatchTimeout  time.Duration
	Temperature   *float64
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	client        ai.Client
	languages     config.Languages
	sentinel      string
	singleTimeout time.Duration
	batchTimeout  time.Duration
	temperature   *float64
}

func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		client:        opts.Client,
		languages:     opts.Languages,
		sentinel:      opts.Sentinel,
		singleTimeout: opts.SingleTimeout,
		batchTimeout:  opts.BatchTimeout,
		temperature:   opts.Temperature,
	}
	if d.languages == nil {
		d.languages = config.DefaultLanguages()
	}
	if d.sentinel == "" {
		d.sentinel = DefaultSentinel
	}
	if d.singleTimeout <= 0 {
		d.singleTimeout = defaultSingleTimeout
	}
	if d.batchTimeout < minBatchTimeout {
		d.batchTimeout = minBatchTimeout
	}
	if d.temperature == nil {
		d.temperature = ai.Temperature(defaultTemperature)
	}
	return d
}

// Sentinel is the text placed in slots whose translation failed.
func (d *Dispatcher) Sentinel() string { return d.sentinel }

func (d *Dispatcher) targetName(code string) string {
	return d.languages.Name(code, config.DefaultLanguageName)
}

func (d *Dispatcher) sourceName(code string) string {
	if code == "" || code == "auto" {
		return ""
	}
	return d.languages.Name(code, code)
}

// TranslateText translates one unit. Failures are returned as *TranslationError.
func (d *Dispatcher) TranslateText(ctx context.Context, text, target, source string, model config.Model) (string, error) {
	prompt := buildSinglePrompt(text, d.targetName(target), d.sourceName(source))
	resp, err := d.call(ctx, model, "single", prompt, d.singleTimeout)
	if err != nil {
		return "", newTranslationError(err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// TranslateBatch translates texts with one request and always returns
// len(texts) strings. Any batch failure falls back to per-unit calls, and
// units that still fail carry the sentinel.
func (d *Dispatcher) TranslateBatch(ctx context.Context, texts []string, target, source string, model config.Model) []string {
	if len(texts) == 0 {
		return []string{}
	}
	l := zerolog.Ctx(ctx)

	out, err := d.batchCall(ctx, texts, target, model)
	if err == nil {
		mpkg.IncBatch("ok")
		mpkg.AddUnits("translated", len(out))
		return out
	}

	l.Warn().Err(err).Int("units", len(texts)).Str("model", model.Key).
		Str("result", classify(err)).Msg("batch translation failed - falling back to per-unit calls")
	mpkg.IncBatch("fallback")
	return d.fallback(ctx, texts, target, source, model)
}

func (d *Dispatcher) batchCall(ctx context.Context, texts []string, target string, model config.Model) ([]string, error) {
	prompt, err := buildBatchPrompt(texts, d.targetName(target))
	if err != nil {
		return nil, err
	}
	resp, err := d.call(ctx, model, "batch", prompt, d.batchTimeout)
	if err != nil {
		return nil, err
	}
	return parseBatchReply(resp.Text, len(texts))
}

func (d *Dispatcher) call(ctx context.Context, model config.Model, kind, prompt string, timeout time.Duration) (ai.Response, error) {
	req := ai.Request{
		BaseURL:     model.BaseURL,
		Model:       model.ModelID,
		Messages:    []ai.Message{ai.UserText(prompt)},
		Temperature: d.temperature,
		Timeout:     timeout,
		Kind:        kind,
	}

	start := time.Now()
	resp, err := d.client.Do(ctx, req)
	dur := time.Since(start)
	result := classify(err)
	mpkg.ObserveProvider(model.Key, kind, result, dur)

	l := zerolog.Ctx(ctx)
	if err != nil {
		l.Debug().Err(err).Str("model", model.Key).Str("kind", kind).Str("result", result).
			Dur("duration", dur).Msg("model call failed")
	} else {
		l.Debug().Str("model", model.Key).Str("kind", kind).Dur("duration", dur).
			Int("tokens_in", resp.TokensIn).Int("tokens_out", resp.TokensOut).Msg("model call ok")
	}
	return resp, err
}
