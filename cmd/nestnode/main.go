package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nestkit/nestkit/internal/config"
	"github.com/nestkit/nestkit/internal/domain/snapshot"
	"github.com/nestkit/nestkit/internal/infrastructure/boltstore"
	"github.com/nestkit/nestkit/internal/infrastructure/postgres"
	"github.com/nestkit/nestkit/internal/node"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	topo, err := config.LoadTopology(cfg.TopologyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("topology error")
	}

	ctx := context.Background()
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.SnapshotStore).Msg("snapshot store error")
	}
	defer closeRepo()

	n, err := node.Build(ctx, cfg, topo, repo, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build node")
	}
	if n.Cluster != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if leader, err := n.Cluster.WaitForLeader(waitCtx, 150*time.Millisecond); err == nil {
			logger.Info().Str("leader", leader).Msg("raft leader known")
		}
		cancel()
	}
	if err := n.SeedParts(ctx); err != nil {
		logger.Error().Err(err).Msg("seed catalog parts")
	}

	runCtx, stop := context.WithCancel(ctx)
	n.Start(runCtx)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      n.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Int("actors", len(n.System.Actors())).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	stop()
	n.Stop()
	logger.Info().Msg("server stopped")
}

func openRepository(ctx context.Context, cfg *config.Config) (snapshot.Repository, func(), error) {
	switch cfg.SnapshotStore {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewSnapshotRepository(pool), pool.Close, nil
	case config.StoreBolt:
		store, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
