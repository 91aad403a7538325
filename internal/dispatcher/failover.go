package dispatcher

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/local/doctranslate/internal/config"
	mpkg "github.com/local/doctranslate/internal/metrics"
)

// fallback translates texts one at a time, in order. A unit that fails gets
// the sentinel; the others are unaffected.
func (d *Dispatcher) fallback(ctx context.Context, texts []string, target, source string, model config.Model) []string {
	l := zerolog.Ctx(ctx)
	out := make([]string, len(texts))
	failed := 0
	for i, text := range texts {
		tr, err := d.TranslateText(ctx, text, target, source, model)
		if err != nil {
			l.Warn().Err(err).Int("unit", i).Str("model", model.Key).Msg("unit translation failed")
			out[i] = d.sentinel
			failed++
			continue
		}
		out[i] = tr
	}
	mpkg.AddUnits("translated", len(texts)-failed)
	mpkg.AddUnits("failed", failed)
	return out
}
