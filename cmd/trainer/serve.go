package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/freeeve/endgametrainer/internal/config"
	"github.com/freeeve/endgametrainer/internal/drills"
	"github.com/freeeve/endgametrainer/internal/httpapi"
	"github.com/freeeve/endgametrainer/internal/logx"
	"github.com/freeeve/endgametrainer/internal/tablebase"
	"github.com/freeeve/endgametrainer/internal/trainer"
)

const sweepInterval = 10 * time.Minute

// trainer serve
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trainer HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Setup(cfgPath)
			if err != nil {
				return err
			}
			if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
				cfg.LogLevel = lvl
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Addr = addr
			}
			return serve(cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address override")
	return cmd
}

func serve(cfg *config.Config) error {
	logger := logx.NewLogger(cfg.LogLevel)

	client, err := tablebase.NewClient(tablebase.ClientConfig{
		BaseURL: cfg.OracleURL,
		Timeout: cfg.OracleTimeout,
		Logger:  logger.With().Str("component", "oracle").Logger(),
	})
	if err != nil {
		return err
	}

	evaluator := tablebase.NewEvaluator(tablebase.EvaluatorConfig{
		Client:        client,
		CacheCapacity: cfg.CacheCapacity,
		CacheTTL:      cfg.CacheTTL,
		Logger:        logger.With().Str("component", "evaluator").Logger(),
	})

	registry := trainer.NewRegistry(trainer.Config{
		Evaluator:  evaluator,
		Thresholds: cfg.Thresholds,
		ReplyDelay: cfg.ReplyDelay,
		Logger:     logger.With().Str("component", "trainer").Logger(),
	})

	library := drills.NewLibrary(logger.With().Str("component", "drills").Logger())
	if n, err := library.LoadDir(cfg.DrillsDir); err != nil {
		logger.Warn().Err(err).Str("dir", cfg.DrillsDir).Msg("failed to load drill packs")
	} else if n > 0 {
		logger.Info().Int("drills", n).Msg("drill library loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      httpapi.NewRouter(logger, registry, evaluator, library),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("oracle", cfg.OracleURL).Msg("trainer listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	// Idle session sweeper.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				registry.Sweep(cfg.SessionMaxIdle)
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	stats := evaluator.Stats()
	logger.Info().
		Uint64("cache_hits", stats.CacheHits).
		Uint64("cache_misses", stats.CacheMisses).
		Uint64("fetches", stats.Fetches).
		Msg("shutdown complete")
	return nil
}
