package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"mailmind/config"
	"mailmind/internal/bootstrap"
	"mailmind/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env if present (local development).
	_ = godotenv.Load()

	mode := flag.String("mode", "all", "Run mode: api, worker, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Service: "mailmind",
		Pretty:  cfg.IsDevelopment(),
	})

	ctx := context.Background()
	deps, err := bootstrap.NewDependencies(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize dependencies")
	}
	defer deps.Close()

	switch *mode {
	case "api":
		runAPI(deps, log)
	case "worker":
		runWorker(deps, log)
	case "all":
		worker := startWorker(deps, log)
		defer stopWorker(worker, log)
		runAPI(deps, log)
	default:
		log.Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}

func runAPI(deps *bootstrap.Dependencies, log zerolog.Logger) {
	app := bootstrap.NewAPI(deps)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Dur("timeout", shutdownTimeout).Msg("shutting down API server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}()

	addr := ":" + deps.Config.Port
	log.Info().Str("addr", addr).Msg("starting API server")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func startWorker(deps *bootstrap.Dependencies, log zerolog.Logger) *bootstrap.Worker {
	worker, err := bootstrap.NewWorker(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start worker")
	}
	return worker
}

func stopWorker(worker *bootstrap.Worker, log zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("worker shut down gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Msg("worker shutdown timed out")
	}
}

func runWorker(deps *bootstrap.Dependencies, log zerolog.Logger) {
	worker := startWorker(deps, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down worker")
	stopWorker(worker, log)
}
