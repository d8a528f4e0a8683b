// Package pipeline composes reading, validation, inference and output into
// the unit an orchestrator calls for one input file.
package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taxiflow/engine"
	"taxiflow/errors"
	"taxiflow/metrics"
	"taxiflow/models"
	"taxiflow/monitor"
	"taxiflow/output"
	"taxiflow/tripdata"
)

// RunRecorder persists run records.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.BatchRun) error
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishRun(ctx context.Context, run *models.BatchRun) error
}

type Options struct {
	InputDir     string
	ProcessedDir string
	Zones        tripdata.ZoneRange
	// Parallel enables chunked inference for datasets larger than one chunk.
	Parallel   bool
	RunTimeout time.Duration
	// SampleEvery enables resource sampling while a run is in flight.
	SampleEvery  time.Duration
	ModelVersion string
}

type Runner struct {
	engine  *engine.Engine
	writer  *output.Writer
	monitor *monitor.Monitor
	opts    Options

	Recorder  RunRecorder
	Publisher EventPublisher

	newRunID func() string
}

// New wires a runner. mon may be nil.
func New(eng *engine.Engine, writer *output.Writer, mon *monitor.Monitor, opts Options) *Runner {
	if opts.Zones == (tripdata.ZoneRange{}) {
		opts.Zones = tripdata.DefaultZones
	}
	return &Runner{
		engine:   eng,
		writer:   writer,
		monitor:  mon,
		opts:     opts,
		newRunID: uuid.NewString,
	}
}

type RunOptions struct {
	// BatchID defaults to the input file name without its extension.
	BatchID string
	// Format overrides the writer's output format.
	Format     string
	Sequential bool
}

type Result struct {
	RunID         string               `json:"run_id"`
	BatchID       string               `json:"batch_id"`
	InputPath     string               `json:"input_path"`
	ProcessedPath string               `json:"processed_path"`
	OutputPath    string               `json:"output_path"`
	Normalized    int                  `json:"normalized"`
	Stats         models.RunStatistics `json:"stats"`
}

// RunFile processes one input file end to end. A failed run leaves the input
// in place and no output behind.
func (r *Runner) RunFile(ctx context.Context, path string, ro RunOptions) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: r.newRunID(), BatchID: ro.BatchID, InputPath: path}
	if res.BatchID == "" {
		res.BatchID = tripdata.BatchID(path)
	}
	logger := log.With().Str("run_id", res.RunID).Str("batch_id", res.BatchID).Logger()

	if r.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RunTimeout)
		defer cancel()
	}

	if r.monitor != nil {
		r.monitor.Check(ctx)
		if r.opts.SampleEvery > 0 {
			watchCtx, stop := context.WithCancel(ctx)
			defer stop()
			go r.monitor.Watch(watchCtx, r.opts.SampleEvery)
		}
	}

	err := r.run(ctx, path, ro, res, logger)
	elapsed := time.Since(start)
	metrics.RunDuration.Observe(elapsed.Seconds())

	run := r.runRecord(res, start, err)
	metrics.RunsTotal.WithLabelValues(run.Status).Inc()
	r.report(context.WithoutCancel(ctx), run)

	if err != nil {
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("batch run failed")
		return nil, err
	}
	logger.Info().
		Int("records", res.Stats.Count).
		Float64("throughput", res.Stats.Throughput).
		Str("output", res.OutputPath).
		Msg("batch run completed")
	return res, nil
}

func (r *Runner) run(ctx context.Context, path string, ro RunOptions, res *Result, logger zerolog.Logger) error {
	ds, err := tripdata.Read(path)
	if err != nil {
		return err
	}
	if err := tripdata.Validate(ds, r.opts.Zones); err != nil {
		return err
	}
	res.Normalized = tripdata.Normalize(ds, r.opts.Zones)
	logger.Info().
		Int("records", len(ds.Records)).
		Int("normalized", res.Normalized).
		Msg("input loaded")

	inferStart := time.Now()
	var results []models.PredictionResult
	if r.opts.Parallel && !ro.Sequential {
		results, err = r.engine.Predict(ctx, res.BatchID, ds.Records)
	} else {
		results, err = r.engine.PredictSequential(ctx, res.BatchID, ds.Records)
	}
	if err != nil {
		return err
	}
	if len(results) != len(ds.Records) {
		return errors.Newf("batch %s: %d predictions for %d records", res.BatchID, len(results), len(ds.Records))
	}
	inferElapsed := time.Since(inferStart)

	prov := models.Provenance{BatchID: res.BatchID, RunID: res.RunID, ModelVersion: r.opts.ModelVersion}
	format := ro.Format
	if format == "" {
		format = r.writer.Format
	}
	outPath, size, err := r.writer.WriteAs(format, results, prov)
	if err != nil {
		return err
	}
	res.OutputPath = outPath
	res.Stats = output.ComputeStatistics(results, inferElapsed, size)
	logger.Info().
		Float64("mean", res.Stats.Mean).
		Float64("std", res.Stats.Std).
		Float64("min", res.Stats.Min).
		Float64("max", res.Stats.Max).
		Msg("prediction summary")

	// The output is withdrawn when the input cannot be moved, so the retry on
	// the next cycle does not leave a second file for the same batch.
	res.ProcessedPath, err = tripdata.MoveToProcessed(path, r.opts.ProcessedDir)
	if err != nil {
		if rmErr := os.Remove(outPath); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Error().Err(rmErr).Str("output", outPath).Msg("could not remove output of failed run")
		}
		res.OutputPath = ""
		return err
	}
	return nil
}

func (r *Runner) runRecord(res *Result, start time.Time, err error) *models.BatchRun {
	finished := time.Now()
	run := &models.BatchRun{
		RunID:        res.RunID,
		BatchID:      res.BatchID,
		Status:       models.RunStatusSucceeded,
		InputPath:    res.InputPath,
		ModelVersion: r.opts.ModelVersion,
		Records:      res.Stats.Count,
		StartedAt:    start,
		FinishedAt:   &finished,
	}
	if res.OutputPath != "" {
		run.OutputPath = &res.OutputPath
	}
	if err != nil {
		msg := err.Error()
		run.Status = models.RunStatusFailed
		run.Error = &msg
		return run
	}
	run.Throughput = &res.Stats.Throughput
	run.MeanDuration = &res.Stats.Mean
	run.OutputBytes = &res.Stats.OutputBytes
	return run
}

// report hands the run to the recorder and publisher. Their failures never
// change the outcome of the run.
func (r *Runner) report(ctx context.Context, run *models.BatchRun) {
	if r.Recorder != nil {
		if err := r.Recorder.RecordRun(ctx, run); err != nil {
			log.Warn().Err(err).Str("run_id", run.RunID).Msg("record run failed")
		}
	}
	if r.Publisher != nil {
		if err := r.Publisher.PublishRun(ctx, run); err != nil {
			log.Warn().Err(err).Str("run_id", run.RunID).Msg("publish run failed")
		}
	}
}

// CycleReport summarizes one RunPending pass.
type CycleReport struct {
	Succeeded []*Result
	Failed    map[string]error
}

// RunPending processes every input file in name order. A failing file is
// logged and left in place; the cycle moves on to the next one. It stops
// early only when ctx is done.
func (r *Runner) RunPending(ctx context.Context) (CycleReport, error) {
	report := CycleReport{Failed: map[string]error{}}
	files, err := tripdata.ListPending(r.opts.InputDir)
	if err != nil {
		return report, err
	}
	if len(files) == 0 {
		log.Debug().Str("dir", r.opts.InputDir).Msg("no pending input files")
		return report, nil
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := r.RunFile(ctx, f, RunOptions{})
		if err != nil {
			report.Failed[f] = err
			continue
		}
		report.Succeeded = append(report.Succeeded, res)
	}
	log.Info().
		Int("succeeded", len(report.Succeeded)).
		Int("failed", len(report.Failed)).
		Msg("batch cycle completed")
	return report, nil
}
