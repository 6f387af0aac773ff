// Package app wires the pipeline together from configuration. The HTTP
// server and the MCP server share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/artifact"
	"github.com/raphaelgruber/intake/internal/blob"
	"github.com/raphaelgruber/intake/internal/config"
	"github.com/raphaelgruber/intake/internal/db"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/oplog"
	"github.com/raphaelgruber/intake/internal/pipeline"
	"github.com/raphaelgruber/intake/internal/service"
	"github.com/raphaelgruber/intake/internal/store"
	"github.com/raphaelgruber/intake/internal/store/memory"
)

// App holds every long-lived component.
type App struct {
	Store     store.Store
	OpLog     store.OperationLog
	Blobs     blob.Store
	Registry  *analysis.Registry
	Validator *artifact.Validator
	Metrics   *metrics.Collector
	Jobs      *service.JobService
	Extract   *service.ExtractService

	db      *db.Client
	closers []io.Closer
}

// New builds the application. Orphaned jobs from a previous run are failed
// before New returns.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Metrics: metrics.NewCollector()}

	if err := a.openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.openOpLog(ctx, cfg); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.openBlobs(ctx, cfg); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.buildRegistry(ctx, cfg); err != nil {
		a.Close(ctx)
		return nil, err
	}
	if err := a.seed(ctx, cfg.SeedEngagements); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Validator = artifact.New(cfg.MaxUploadBytes)
	sink := service.NewSink(a.Store).WithMetrics(a.Metrics)
	orch := pipeline.New(pipeline.Config{
		Jobs:         a.Store,
		Sessions:     a.Store,
		Stages:       pipeline.DefaultStages(a.Store, sink),
		Metrics:      a.Metrics,
		StageTimeout: cfg.StageTimeout,
	})
	a.Jobs = service.NewJobService(service.JobConfig{
		Store:        a.Store,
		Blobs:        a.Blobs,
		Validator:    a.Validator,
		Registry:     a.Registry,
		Orchestrator: orch,
		Directory:    service.NewDirectory(a.Store, 0, cfg.EngagementCacheTTL),
		Metrics:      a.Metrics,
	})
	a.Extract = service.NewExtractService(a.Store, a.Registry, sink)

	// A failed scan leaves jobs in place for the next start.
	if _, err := a.Jobs.RecoverOrphaned(ctx); err != nil {
		slog.Warn("failed to recover orphaned jobs", "error", err)
	}

	slog.Info("pipeline ready",
		"store", cfg.Store,
		"blobs", cfg.BlobBackend,
		"models", a.Registry.Names(),
		"max_upload_bytes", cfg.MaxUploadBytes,
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Store {
	case "memory":
		a.Store = memory.New()
		slog.Warn("using in-memory store, nothing survives a restart")
		return nil
	case "surreal":
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, slog.Default())
		if err != nil {
			return fmt.Errorf("connect store: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return fmt.Errorf("init schema: %w", err)
		}
		a.db = client
		a.Store = client
		return nil
	default:
		return fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func (a *App) openOpLog(ctx context.Context, cfg config.Config) error {
	if cfg.OpsLogDSN == "" {
		a.OpLog = a.Store
		return nil
	}
	pg, err := oplog.Open(ctx, cfg.OpsLogDSN)
	if err != nil {
		return err
	}
	a.OpLog = pg
	a.closers = append(a.closers, pg)
	return nil
}

func (a *App) openBlobs(ctx context.Context, cfg config.Config) error {
	switch cfg.BlobBackend {
	case "local":
		local, err := blob.NewLocal(cfg.BlobRoot)
		if err != nil {
			return fmt.Errorf("open blob root: %w", err)
		}
		a.Blobs = local
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		a.Blobs = blob.NewS3(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix)
	default:
		return fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
	return nil
}

// buildRegistry registers the default analyzer under its provider name,
// then every named model.
func (a *App) buildRegistry(ctx context.Context, cfg config.Config) error {
	a.Registry = analysis.NewRegistry()

	add := func(name, provider, model string) error {
		gen, closer, err := analysis.NewGenerator(ctx, cfg, provider, model)
		if err != nil {
			return fmt.Errorf("analysis model %s: %w", name, err)
		}
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
		a.Registry.Register(name, analysis.Instrument(analysis.NewLLMAnalyzer(gen, name), a.OpLog, a.Metrics))
		return nil
	}

	if err := add(cfg.AnalysisProvider, cfg.AnalysisProvider, cfg.AnalysisModel); err != nil {
		return err
	}
	for _, m := range cfg.AnalysisModels {
		if err := add(m.Name, m.Provider, m.Model); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) seed(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := a.Store.GetEngagement(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("seed engagement %s: %w", id, err)
		}
		if err := a.Store.UpsertEngagement(ctx, &models.Engagement{ID: id, Name: id}); err != nil {
			return fmt.Errorf("seed engagement %s: %w", id, err)
		}
		slog.Info("engagement seeded", "engagement_id", id)
	}
	return nil
}

// WipeData deletes every stored record. Only the SurrealDB store supports
// it; the in-memory store starts empty anyway.
func (a *App) WipeData(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.WipeData(ctx)
}

// Shutdown lets running jobs finish until ctx is done, then cancels them.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Jobs == nil {
		return nil
	}
	return a.Jobs.Shutdown(ctx)
}

// Close releases backends. Call Shutdown first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.db != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.db.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.db = nil
	}
	return errors.Join(errs...)
}
