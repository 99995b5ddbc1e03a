// Package app wires the application dependencies and exposes one Run method
// per operational mode:
//
//   - Harvest mode: polls configured feeds and fills the task queue
//   - Pipeline mode: Stage 1, analyze, filter, resolve, persist evidence
//   - Graph mode: Stage 2, relationship extraction plus the normalization
//     sweep and hierarchy classification
//   - Snapshot mode: daily per-entity metric snapshots
//
// Each mode runs independently so deployments can scale and schedule them
// separately.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalworks/intelgraph/internal/core/llm"
	"github.com/signalworks/intelgraph/internal/ingest/harvester"
	"github.com/signalworks/intelgraph/internal/platform/config"
	"github.com/signalworks/intelgraph/internal/platform/observability"
	"github.com/signalworks/intelgraph/internal/platform/schedule"
	"github.com/signalworks/intelgraph/internal/platform/worker"
	"github.com/signalworks/intelgraph/internal/process/entities"
	"github.com/signalworks/intelgraph/internal/process/graph"
	"github.com/signalworks/intelgraph/internal/process/pipeline"
	"github.com/signalworks/intelgraph/internal/process/snapshot"
	"github.com/signalworks/intelgraph/internal/storage"
)

const (
	workerPipeline = "pipeline"
	workerGraph    = "graph"
	workerHarvest  = "harvest"
)

// App holds the application dependencies and provides one method per mode.
type App struct {
	cfg      *config.Config
	database *storage.DB
	client   llm.Client
	logger   *zerolog.Logger
}

// New creates the App. The LLM client is shared across modes so the rate
// limiter and circuit breaker see every request of the process.
func New(cfg *config.Config, database *storage.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		client:   llm.NewOpenAI(cfg, database, logger),
		logger:   logger,
	}
}

// StartHealthServer starts the health check and metrics server.
func (a *App) StartHealthServer(ctx context.Context) error {
	return observability.NewServer(a.database, a.cfg.HealthPort, a.logger).Start(ctx) //nolint:wrapcheck
}

// RunHarvest polls the configured feeds. With once set it harvests a single
// round and exits, otherwise it loops on the pipeline poll interval.
func (a *App) RunHarvest(ctx context.Context, once bool) error {
	h, err := harvester.New(a.cfg, a.database, a.logger)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if once {
		return h.Run(ctx)
	}

	return worker.Loop(ctx, worker.Config{ //nolint:wrapcheck
		Name:         workerHarvest,
		PollInterval: a.cfg.PipelinePollWait,
		Process:      h.Run,
		Logger:       a.logger,
	})
}

// RunPipeline runs Stage 1. Each iteration drains one task batch; the loop
// polls the queue until canceled.
func (a *App) RunPipeline(ctx context.Context, once bool) error {
	resolver := entities.NewResolver(a.database, a.client, a.logger)
	p := pipeline.New(a.cfg, a.database, a.client, resolver, a.logger)

	process := func(ctx context.Context) error {
		_, err := p.RunOnce(ctx)

		return err
	}

	if once {
		return process(ctx)
	}

	return worker.Loop(ctx, worker.Config{ //nolint:wrapcheck
		Name:         workerPipeline,
		PollInterval: a.cfg.PipelinePollWait,
		Process:      process,
		Logger:       a.logger,
	})
}

// RunGraph runs Stage 2: relationship extraction every iteration, plus the
// entity normalization sweep and hierarchy classification, which consume
// their own backlogs and are cheap no-ops once drained.
func (a *App) RunGraph(ctx context.Context, once bool) error {
	extractor := graph.NewExtractor(a.cfg, a.database, a.client, a.logger)
	hierarchy := graph.NewHierarchy(a.cfg, a.database, a.client, a.logger)
	sweeper := entities.NewSweeper(a.database, a.client, a.database, a.cfg.SweepBatchSize, a.logger)

	process := func(ctx context.Context) error {
		if _, err := extractor.RunOnce(ctx); err != nil {
			return err
		}

		if err := sweeper.Run(ctx); err != nil {
			return err
		}

		_, err := hierarchy.RunOnce(ctx)

		return err
	}

	if once {
		return process(ctx)
	}

	return worker.Loop(ctx, worker.Config{ //nolint:wrapcheck
		Name:         workerGraph,
		PollInterval: a.cfg.GraphPollWait,
		Process:      process,
		Logger:       a.logger,
	})
}

// RunSnapshot generates the snapshots for the lookback day. With once set it
// runs a single generation and exits; otherwise it follows the snapshot
// schedule from settings (default: daily at 00:30 UTC).
func (a *App) RunSnapshot(ctx context.Context, once bool) error {
	generator := snapshot.New(a.database, a.logger)

	generate := func(ctx context.Context, at time.Time) error {
		day := at.UTC().AddDate(0, 0, -a.cfg.SnapshotLookbackDays)

		_, err := generator.Run(ctx, day)

		return err
	}

	if once {
		return generate(ctx, time.Now())
	}

	sched := schedule.Default()
	if err := a.database.GetSetting(ctx, schedule.SettingSnapshotSchedule, &sched); err != nil {
		return fmt.Errorf("load snapshot schedule: %w", err)
	}

	if err := sched.Validate(); err != nil {
		return fmt.Errorf("snapshot schedule: %w", err)
	}

	for {
		next, err := sched.NextAfter(time.Now())
		if err != nil {
			return fmt.Errorf("snapshot schedule: %w", err)
		}

		a.logger.Info().Time("next_run", next).Msg("snapshot generation scheduled")

		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err() //nolint:wrapcheck
		case <-timer.C:
		}

		if err := generate(ctx, next); err != nil {
			a.logger.Error().Err(err).Msg("snapshot generation failed")
		}
	}
}
