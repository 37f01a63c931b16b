package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/scene-collab-engine/internal/checkpoint"
	"github.com/example/scene-collab-engine/internal/config"
	"github.com/example/scene-collab-engine/internal/observability"
	"github.com/example/scene-collab-engine/internal/relay"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	store := buildStore(cfg, resources)
	logger.Info().Str("backend", cfg.CheckpointBackend).Msg("checkpoint store ready")

	registry := relay.NewRoomRegistry()
	var fanout relay.Fanout
	if resources.Redis != nil {
		redisFanout := relay.NewRedisFanout(resources.Redis, registry, logger)
		redisFanout.Start(ctx)
		fanout = redisFanout
		logger.Info().Str("addr", cfg.RedisAddr).Msg("redis fanout enabled")
	}

	router := mux.NewRouter()
	router.Handle("/v1/rooms/{room}", relay.NewHandler(registry, fanout, logger)).Methods(http.MethodGet)
	checkpoint.NewAPI(store, logger).Register(router)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := resources.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	httpServer := &http.Server{Addr: cfg.HTTPListenAddr, Handler: router}
	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return
	}
	logger.Info().Msg("shutdown complete")
}

func buildStore(cfg config.Config, resources *config.Resources) checkpoint.Store {
	switch cfg.CheckpointBackend {
	case config.BackendPostgres:
		return checkpoint.NewPostgresStore(resources.Postgres)
	case config.BackendObject:
		return checkpoint.NewObjectStore(resources.Object, cfg.ObjectBucket)
	case config.BackendMemory:
		return checkpoint.NewMemoryStore()
	default:
		return checkpoint.NewFileStore(cfg.ProjectsDir)
	}
}
