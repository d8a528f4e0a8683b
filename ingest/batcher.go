// Package ingest turns a stream of single-trip messages into batch input
// files for the predictor.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"taxiflow/errors"
	"taxiflow/features"
	"taxiflow/metrics"
	"taxiflow/models"
	"taxiflow/tripdata"
)

// Batcher buffers trips and flushes them as taxi_batch_{id}.parquet files.
// It is safe for concurrent use.
type Batcher struct {
	dir        string
	maxRecords int
	zones      tripdata.ZoneRange

	mu  sync.Mutex
	buf []models.TripRecord

	now   func() time.Time
	newID func() string
}

func NewBatcher(dir string, maxRecords int, zones tripdata.ZoneRange) *Batcher {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &Batcher{
		dir:        dir,
		maxRecords: maxRecords,
		zones:      zones,
		now:        time.Now,
		newID:      func() string { return uuid.NewString()[:8] },
	}
}

// Pending is the number of buffered trips.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Decode parses one message. Records that would fail batch validation are
// rejected here so one bad message cannot sink a whole batch file.
func (b *Batcher) Decode(payload []byte) (models.TripRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return models.TripRecord{}, errors.Mark(errors.Wrap(err, "decode trip message"), errors.ErrSchema)
	}

	trip, err := features.ParseTrip(fields)
	if err != nil {
		return models.TripRecord{}, err
	}
	if !(trip.TripDistance > 0) {
		return models.TripRecord{}, errors.Schemaf("trip_distance must be positive, got %v", trip.TripDistance)
	}
	for _, id := range []int64{trip.PULocationID, trip.DOLocationID} {
		if id < b.zones.Min || id > b.zones.Max {
			return models.TripRecord{}, errors.Schemaf("zone id %d outside [%d, %d]", id, b.zones.Min, b.zones.Max)
		}
	}
	if s, ok := fields["pickup_datetime"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			ts = ts.UTC()
			trip.PickupDatetime = &ts
		}
	}
	return trip, nil
}

// Add decodes, normalizes and buffers one message, flushing when the
// buffer is full.
func (b *Batcher) Add(payload []byte) error {
	trip, err := b.Decode(payload)
	if err != nil {
		metrics.IngestMessages.WithLabelValues("malformed").Inc()
		return err
	}
	metrics.IngestMessages.WithLabelValues("accepted").Inc()
	if trip.SameZone() {
		trip.DOLocationID = trip.DOLocationID%b.zones.Max + 1
	}

	b.mu.Lock()
	b.buf = append(b.buf, trip)
	full := len(b.buf) >= b.maxRecords
	b.mu.Unlock()

	if full {
		if _, err := b.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered trips to a new batch file and returns its path, or
// "" when nothing was buffered. The file appears under its final name only
// once complete. On failure the trips stay buffered.
func (b *Batcher) Flush() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return "", nil
	}

	now := b.now().UTC()
	batchID := now.Format("20060102_150405") + "_" + b.newID()
	trips := make([]models.TripRecord, len(b.buf))
	copy(trips, b.buf)
	for i := range trips {
		trips[i].BatchTimestamp = &now
		if trips[i].TripID == "" {
			trips[i].TripID = fmt.Sprintf("trip_%s_%06d", batchID, i)
		}
	}

	path, err := b.write(batchID, trips)
	if err != nil {
		return "", err
	}
	b.buf = b.buf[:0]
	metrics.IngestBatchesFlushed.Inc()
	log.Info().Str("batch_id", batchID).Int("records", len(trips)).Str("path", path).Msg("batch file written")
	return path, nil
}

func (b *Batcher) write(batchID string, trips []models.TripRecord) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create input dir %s", b.dir)
	}
	final := filepath.Join(b.dir, fmt.Sprintf("taxi_batch_%s.parquet", batchID))
	tmp := filepath.Join(b.dir, "."+filepath.Base(final)+".tmp")

	f, err := os.Create(tmp)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", tmp)
	}
	err = tripdata.WriteParquet(f, trips)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, final)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrapf(err, "write batch %s", batchID)
	}
	return final, nil
}

// Run flushes every interval and once more when ctx is done.
func (b *Batcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := b.Flush(); err != nil {
				log.Error().Err(err).Msg("periodic flush failed")
			}
		case <-ctx.Done():
			if _, err := b.Flush(); err != nil {
				log.Error().Err(err).Msg("final flush failed")
			}
			return
		}
	}
}
