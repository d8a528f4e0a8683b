package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"taxiflow/artifact"
	"taxiflow/config"
	"taxiflow/engine"
	"taxiflow/monitor"
	"taxiflow/output"
	"taxiflow/pipeline"
	"taxiflow/services"
	"taxiflow/tripdata"
)

// buildRunner loads the model and wires the optional run store and event
// publisher. The returned func releases their connections.
func buildRunner(ctx context.Context, cfg *config.Config) (*pipeline.Runner, func(), error) {
	model, err := artifact.Load(cfg.Model.Path)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(model, engine.Options{
		ChunkSize:  cfg.Batch.ChunkSize,
		MaxWorkers: cfg.Batch.MaxWorkers,
	})
	if err != nil {
		return nil, nil, err
	}
	writer, err := output.NewWriter(cfg.Batch.OutputDir, cfg.Batch.OutputFormat)
	if err != nil {
		return nil, nil, err
	}
	mon := monitor.New(
		monitor.SystemSampler{CPUWindow: cfg.Monitor.CPUSampleWindow, DiskPath: cfg.Monitor.DiskPath},
		monitor.Thresholds{
			CPUCeilingPercent:    cfg.Monitor.CPUCeilingPercent,
			MemoryCeilingPercent: cfg.Monitor.MemoryCeilingPercent,
			MinAvailableMemoryGB: cfg.Monitor.MinAvailableMemoryGB,
		},
	)

	runner := pipeline.New(eng, writer, mon, pipeline.Options{
		InputDir:     cfg.Batch.InputDir,
		ProcessedDir: cfg.Batch.ProcessedDir,
		Zones: tripdata.ZoneRange{
			Min: int64(cfg.Validation.MinLocationID),
			Max: int64(cfg.Validation.MaxLocationID),
		},
		Parallel:     cfg.Batch.Parallel,
		RunTimeout:   cfg.Batch.RunTimeout,
		SampleEvery:  cfg.Monitor.SampleDuringRun,
		ModelVersion: model.Version(),
	})
	log.Info().
		Str("model", cfg.Model.Path).
		Str("model_version", model.Version()).
		Int("chunk_size", cfg.Batch.ChunkSize).
		Int("workers", cfg.Batch.MaxWorkers).
		Msg("predictor ready")

	var closers []func()
	if cfg.Database.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Database.GetDSN())
		if err == nil {
			err = pool.Ping(ctx)
		}
		if err != nil {
			log.Warn().Err(err).Msg("run store unavailable, runs will not be recorded")
		} else {
			store := services.NewRunStore(pool)
			if err := store.EnsureSchema(ctx); err != nil {
				log.Warn().Err(err).Msg("run store schema")
			}
			runner.Recorder = store
			closers = append(closers, pool.Close)
			log.Info().Msg("run store connected")
		}
	}
	if cfg.Redis.Enabled {
		cache, err := services.NewCacheService(cfg.Redis, 3)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, run events disabled")
		} else {
			runner.Publisher = cache
			closers = append(closers, func() { _ = cache.Close() })
			log.Info().Str("addr", cfg.Redis.Addr()).Msg("redis connected")
		}
	}

	return runner, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}
