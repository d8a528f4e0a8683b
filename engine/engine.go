// Package engine runs trip duration inference over a dataset, splitting it
// into fixed-size chunks scored by a bounded pool of workers.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"taxiflow/errors"
	"taxiflow/features"
	"taxiflow/metrics"
	"taxiflow/models"
)

const (
	DefaultChunkSize  = 10000
	DefaultMaxWorkers = 2
)

// Model scores feature vectors, one value per vector in the same order.
// Implementations must be safe for concurrent use.
type Model interface {
	Predict(vectors []features.Vector) ([]float64, error)
}

type Options struct {
	ChunkSize  int
	MaxWorkers int
}

// Engine holds a read-only model shared by every worker.
type Engine struct {
	model Model
	opts  Options
	now   func() time.Time
}

func New(model Model, opts Options) (*Engine, error) {
	if model == nil {
		return nil, errors.New("engine: model is required")
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.ChunkSize < 0 || opts.MaxWorkers < 0 {
		return nil, errors.Newf("engine: chunk size %d and workers %d must be positive", opts.ChunkSize, opts.MaxWorkers)
	}
	return &Engine{model: model, opts: opts, now: time.Now}, nil
}

func (e *Engine) Options() Options { return e.opts }

// PredictChunk scores one chunk: features per record, one encode and one
// predict call for the whole chunk, results in record order.
func (e *Engine) PredictChunk(trips []models.TripRecord) ([]models.PredictionResult, error) {
	if len(trips) == 0 {
		return []models.PredictionResult{}, nil
	}

	scores, err := e.model.Predict(features.PrepareAll(trips))
	if err != nil {
		return nil, err
	}
	if len(scores) != len(trips) {
		return nil, errors.Newf("model returned %d predictions for %d records", len(scores), len(trips))
	}

	ts := e.now()
	results := make([]models.PredictionResult, len(trips))
	for i := range trips {
		results[i] = models.PredictionResult{
			TripRecord:          trips[i],
			PredictedDuration:   scores[i],
			PredictionTimestamp: ts,
		}
	}
	return results, nil
}

// PredictSequential scores the whole dataset as a single chunk.
func (e *Engine) PredictSequential(ctx context.Context, batchID string, trips []models.TripRecord) ([]models.PredictionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "batch %s", batchID)
	}
	results, err := e.runChunk(batchID, 0, trips)
	if err != nil {
		return nil, err
	}
	metrics.RecordsPredicted.Add(float64(len(results)))
	return results, nil
}

// Predict splits trips into chunks of at most ChunkSize records and scores
// them on at most MaxWorkers goroutines. The first failing chunk cancels the
// run and is returned as a *errors.WorkerFailure; chunks not yet started are
// skipped. Results are in input order.
func (e *Engine) Predict(ctx context.Context, batchID string, trips []models.TripRecord) ([]models.PredictionResult, error) {
	if len(trips) <= e.opts.ChunkSize {
		return e.PredictSequential(ctx, batchID, trips)
	}

	chunks := Split(len(trips), e.opts.ChunkSize)
	slots := make([][]models.PredictionResult, len(chunks))
	var done atomic.Int64

	log.Info().
		Str("batch_id", batchID).
		Int("records", len(trips)).
		Int("chunks", len(chunks)).
		Int("workers", e.opts.MaxWorkers).
		Msg("starting parallel prediction")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxWorkers)
	for i, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			results, err := e.runChunk(batchID, i, trips[c.Start:c.End])
			if err != nil {
				return err
			}
			slots[i] = results
			n := done.Add(1)
			log.Debug().
				Str("batch_id", batchID).
				Str("chunk", fmt.Sprintf("%d/%d", n, len(chunks))).
				Int("records", len(results)).
				Msg("chunk completed")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "batch %s cancelled after %d/%d chunks", batchID, done.Load(), len(chunks))
	}

	results := make([]models.PredictionResult, 0, len(trips))
	for _, s := range slots {
		results = append(results, s...)
	}
	metrics.RecordsPredicted.Add(float64(len(results)))
	return results, nil
}

func (e *Engine) runChunk(batchID string, index int, trips []models.TripRecord) (results []models.PredictionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
		if err != nil {
			metrics.ChunksFailed.Inc()
			log.Error().Err(err).Str("batch_id", batchID).Int("chunk", index).Msg("chunk failed")
			results, err = nil, &errors.WorkerFailure{BatchID: batchID, ChunkIndex: index, Cause: err}
			return
		}
		metrics.ChunksProcessed.Inc()
	}()
	return e.PredictChunk(trips)
}
