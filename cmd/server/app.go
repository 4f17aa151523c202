package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/devcubo3/trabalho-mae/config"
	"github.com/devcubo3/trabalho-mae/internal/extract"
	"github.com/devcubo3/trabalho-mae/internal/intake"
	"github.com/devcubo3/trabalho-mae/internal/pipeline"
	"github.com/devcubo3/trabalho-mae/internal/render"
	"github.com/devcubo3/trabalho-mae/internal/server"
	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/store/db"
	"github.com/devcubo3/trabalho-mae/internal/store/fs"
	s3store "github.com/devcubo3/trabalho-mae/internal/store/s3"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

// app holds the storage every command needs. The uploads and result directories are
// created and checked for writability even when results live in another backend.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	uploads  *intake.Intake
	local    *fs.Store
	db       *db.DB
	results  store.Results
	registry *prometheus.Registry
	metrics  *pipeline.Metrics
	probes   map[string]server.Probe
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	var err error
	if a.uploads, err = intake.New(cfg.Storage.UploadDir, cfg.Server.MaxUploadSize, logger); err != nil {
		return nil, fmt.Errorf("uploads: %w", err)
	}
	if a.local, err = fs.New(cfg.Storage.ResultDir); err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}

	if dir := filepath.Dir(cfg.Storage.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("database dir: %w", err)
		}
	}
	if a.db, err = db.New(cfg.Storage.DBPath, cfg.Storage.DBChunkSize, cfg.Storage.Litestream, logger); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	a.probes = map[string]server.Probe{
		"uploads":    func(context.Context) error { return a.uploads.CheckWritable() },
		"resultados": func(context.Context) error { return a.local.CheckWritable() },
		"jobs":       a.db.Ping,
	}

	switch cfg.Storage.Backend {
	case config.BackendFS:
		a.results = a.local
	case config.BackendSQLite:
		a.results = a.db
	case config.BackendS3:
		s3cfg := cfg.Storage.S3
		remote := s3store.New(s3store.NewClient(s3cfg), s3cfg.Bucket, s3cfg.Prefix)
		a.results = remote
		a.probes["s3"] = func(ctx context.Context) error {
			_, err := remote.Open(ctx, "healthcheck.probe")
			if err == nil || types.IsNotFound(err) {
				return nil
			}
			return err
		}
	default:
		_ = a.db.Close()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = pipeline.MustNewMetrics(a.registry)

	logger.Info("storage ready",
		"uploads", a.uploads.Dir(),
		"resultados", a.local.Dir(),
		"backend", cfg.Storage.Backend,
		"database", cfg.Storage.DBPath,
	)
	return a, nil
}

// extractorFactory binds a vision client to one job's API key.
func extractorFactory(cfg *config.Config, logger *slog.Logger) pipeline.ExtractorFactory {
	return func(apiKey string) extract.Extractor {
		return extract.NewVision(apiKey, cfg.OpenAI, cfg.Pipeline.MaxRetries,
			extract.WithLogger(logger),
			extract.WithUserAgent(cfg.Options.DefaultUserAgent),
		)
	}
}

func (a *app) pipeline() *pipeline.Pipeline {
	return pipeline.New(render.MuPDF{DPI: a.cfg.Pipeline.DPI}, extractorFactory(a.cfg, a.logger), a.results, a.metrics, a.logger)
}

func (a *app) Close() error {
	return a.db.Close()
}
