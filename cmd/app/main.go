package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/doctranslate/internal/app"
	cfgpkg "github.com/local/doctranslate/internal/config"
	logpkg "github.com/local/doctranslate/internal/logger"
	mpkg "github.com/local/doctranslate/internal/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	if err := logpkg.Init(logpkg.FromConfig(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
	}
	defer logpkg.Close()
	mpkg.Init()

	a, err := app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build translation pipeline")
	}
	defer a.Close()

	mux := http.NewServeMux()
	a.Server().RegisterRoutes(mux)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Int("batch_size", cfg.Translation.BatchSize).
			Int("max_workers", cfg.Translation.MaxWorkers).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown did not finish cleanly")
	}
	log.Info().Msg("shutdown complete")
}
