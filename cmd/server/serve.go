package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devcubo3/trabalho-mae/config"
	"github.com/devcubo3/trabalho-mae/internal/auth"
	"github.com/devcubo3/trabalho-mae/internal/janitor"
	"github.com/devcubo3/trabalho-mae/internal/pipeline"
	"github.com/devcubo3/trabalho-mae/internal/server"
)

const interruptedMessage = "Processamento interrompido."

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service, the job workers and the retention sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), g.cfg, g.logger)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}()

	// jobs that were queued or running when the last process died will never finish
	if n, err := a.db.FailUnfinishedJobs(ctx, interruptedMessage, time.Now()); err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	} else if n > 0 {
		logger.Warn("marked interrupted jobs as failed", "jobs", n)
	}

	manager, err := pipeline.NewManager(a.pipeline(), a.db, a.results, a.uploads, cfg.Pipeline, a.metrics, logger)
	if err != nil {
		return err
	}

	authorizer, err := auth.New(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("invalid shared secret: %w", err)
	}
	if cfg.SecretKey == "" {
		logger.Warn("no secret_key configured, the service is open to everyone")
	}
	if cfg.OpenAI.APIKey == "" {
		logger.Info("no server API key configured, clients must send api_key")
	}

	srv, err := server.New(cfg, server.Dependencies{
		Uploads:  a.uploads,
		Jobs:     manager,
		Results:  a.results,
		Auth:     authorizer,
		Gatherer: a.registry,
		Probes:   a.probes,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	sweeper := janitor.New(a.uploads, a.results, a.db, cfg.Retention, logger)
	if _, err := sweeper.Sweep(ctx, time.Now()); err != nil {
		logger.Warn("initial retention sweep failed", "error", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	manager.Start()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Run(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := manager.Stop(shutdownCtx); err != nil {
			logger.Warn("job workers did not drain in time", "error", err)
		}
		return nil
	})

	err = group.Wait()
	logger.Info("stopped")
	return err
}
