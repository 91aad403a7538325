// Package app builds the translation pipeline from configuration. The HTTP
// server and the CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/doctranslate/internal/ai"
	"github.com/local/doctranslate/internal/config"
	"github.com/local/doctranslate/internal/converter"
	"github.com/local/doctranslate/internal/dispatcher"
	"github.com/local/doctranslate/internal/extract"
	"github.com/local/doctranslate/internal/limiter"
	"github.com/local/doctranslate/internal/recognizer"
	"github.com/local/doctranslate/internal/server"
	"github.com/local/doctranslate/internal/statuscheck"
	"github.com/local/doctranslate/internal/storage"
)

// App holds the wired components. Store is nil unless an export bucket is
// configured.
type App struct {
	Config      config.Config
	Registry    *config.Registry
	Languages   config.Languages
	Gate        *limiter.Gate
	Dispatcher  *dispatcher.Dispatcher
	Coordinator *dispatcher.Coordinator
	Recognizer  *recognizer.Recognizer
	Converter   *converter.LibreOffice
	Extractor   *extract.Extractor
	Store       *storage.S3Store
	Checker     *statuscheck.Checker
}

// Build wires every component. Only a bad model registry, an unreachable
// Redis window or a broken AWS configuration are fatal.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	reg, err := config.LoadRegistry(cfg.API)
	if err != nil {
		return nil, err
	}
	langs := config.DefaultLanguages()

	gate, err := limiter.New(limiter.Options{
		RequestsPerSecond: cfg.Limiter.RequestsPerSecond,
		Burst:             cfg.Limiter.Burst,
		RedisURL:          cfg.Limiter.RedisURL,
		PerMinute:         cfg.Limiter.PerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	client := limiter.Wrap(ai.NewOpenAIClient(cfg.API.APIKey, nil), gate)

	temp := cfg.Translation.Temperature
	d := dispatcher.NewDispatcher(dispatcher.Options{
		Client:        client,
		Languages:     langs,
		Sentinel:      cfg.Translation.FailureSentinel,
		SingleTimeout: cfg.Translation.SingleTimeout,
		BatchTimeout:  cfg.Translation.BatchTimeout,
		Temperature:   &temp,
	})
	rec := recognizer.New(client, langs, cfg.Translation.VisionTimeout)
	conv := converter.NewLibreOffice(cfg.Converter.MaxWorkers, cfg.Converter.Timeout)

	a := &App{
		Config:      cfg,
		Registry:    reg,
		Languages:   langs,
		Gate:        gate,
		Dispatcher:  d,
		Coordinator: dispatcher.NewCoordinator(d, d.Sentinel()),
		Recognizer:  rec,
		Converter:   conv,
		Extractor: extract.New(extract.Options{
			Converter:   conv,
			Recognizer:  rec,
			VisionModel: reg.Default(),
			MaxRetries:  cfg.Translation.ImageMaxRetries,
			MaxPDFPages: cfg.Upload.MaxPDFPages,
			WorkDir:     cfg.Upload.Dir,
		}),
	}

	statusOpts := statuscheck.Options{
		LibreOffice: conv.Available,
		APIKey:      cfg.API.APIKey,
		BaseURL:     cfg.API.BaseURL,
	}
	if cfg.Limiter.RedisURL != "" && cfg.Limiter.PerMinute > 0 {
		statusOpts.Redis = gate
	}
	if cfg.Export.S3Bucket != "" {
		store, err := storage.NewS3Store(ctx, cfg.Export.S3Bucket, cfg.Export.S3Prefix)
		if err != nil {
			_ = gate.Close()
			return nil, err
		}
		a.Store = store
		statusOpts.S3 = store
	}
	a.Checker = statuscheck.New(statusOpts)

	if err := conv.Available(); err != nil {
		log.Warn().Err(err).Msg("libreoffice not found - word uploads will fail")
	}
	return a, nil
}

// Server returns the HTTP surface over the wired components.
func (a *App) Server() *server.Server {
	deps := server.Deps{
		Config:      a.Config,
		Registry:    a.Registry,
		Languages:   a.Languages,
		Dispatcher:  a.Dispatcher,
		Coordinator: a.Coordinator,
		Images:      a.Recognizer,
		Extractor:   a.Extractor,
		Checker:     a.Checker,
	}
	if a.Store != nil {
		deps.Store = a.Store
	}
	return server.New(deps)
}

// JobRequest fills the configured batch tuning for one job.
func (a *App) JobRequest(target, source, modelKey string) dispatcher.JobRequest {
	return dispatcher.JobRequest{
		Target:     target,
		Source:     source,
		BatchSize:  a.Config.Translation.BatchSize,
		MaxWorkers: a.Config.Translation.MaxWorkers,
		Model:      a.Registry.Resolve(modelKey),
	}
}

func (a *App) Close() error {
	return a.Gate.Close()
}
