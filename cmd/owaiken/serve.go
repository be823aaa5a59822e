package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/owaiken/os/internal/api"
	"github.com/owaiken/os/internal/config"
	"github.com/owaiken/os/internal/observability"
	"github.com/owaiken/os/internal/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rate limiting service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Msg("Starting Owaiken")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	limiter, store, pool, err := buildLimiter(cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	metrics := observability.NewMetrics()
	if fb, ok := store.(*ratelimit.FallbackStore); ok {
		fb.OnError(metrics.RecordStoreError)
	}

	if pool != nil {
		cleanupCtx, stopCleanup := context.WithCancel(context.Background())
		defer stopCleanup()
		go ratelimit.RunCleanup(cleanupCtx, ratelimit.NewPostgresStore(pool), 15*time.Minute)
	}

	server := api.NewServer(cfg, limiter, store, metrics)

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Starting Owaiken server")
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	log.Info().Msg("Server exited")
	return nil
}

// buildLimiter assembles the limiter, its shared store (nil in local
// mode) and the database pool (nil unless the postgres backend is
// selected) from configuration.
func buildLimiter(cfg *config.Config) (*ratelimit.Limiter, ratelimit.Store, *pgxpool.Pool, error) {
	var pool *pgxpool.Pool

	if cfg.RateLimit.Backend == config.BackendPostgres {
		p, err := pgxpool.New(context.Background(), cfg.Database.DSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = ratelimit.NewPostgresStore(p).EnsureTable(ctx)
		cancel()
		if err != nil {
			p.Close()
			return nil, nil, nil, fmt.Errorf("failed to ensure rate_limits table: %w", err)
		}

		pool = p
	}

	store, err := ratelimit.NewStore(&cfg.RateLimit, pool)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}

	policy, err := ratelimit.NewPolicy(&cfg.RateLimit)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, nil, nil, fmt.Errorf("invalid tier policy: %w", err)
	}

	limiter := ratelimit.NewLimiter(ratelimit.LimiterConfig{
		Store:        store,
		Policy:       policy,
		StoreTimeout: cfg.RateLimit.StoreTimeout,
	})

	return limiter, store, pool, nil
}
