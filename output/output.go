// Package output persists prediction results with their provenance and
// summarizes a completed run.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"taxiflow/errors"
	"taxiflow/models"
)

const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
	FormatJSON    = "json"

	timestampLayout = "20060102_150405"
)

// Formats lists every output format a Writer accepts.
var Formats = []string{FormatParquet, FormatCSV, FormatJSON}

// Row is the persisted form of one prediction.
type Row struct {
	TripID              string     `parquet:"trip_id,optional" json:"trip_id,omitempty"`
	BatchTimestamp      *time.Time `parquet:"batch_timestamp,optional" json:"batch_timestamp,omitempty"`
	PULocationID        int64      `parquet:"PULocationID" json:"PULocationID"`
	DOLocationID        int64      `parquet:"DOLocationID" json:"DOLocationID"`
	TripDistance        float64    `parquet:"trip_distance" json:"trip_distance"`
	PickupDatetime      *time.Time `parquet:"pickup_datetime,optional" json:"pickup_datetime,omitempty"`
	PredictedDuration   float64    `parquet:"predicted_duration" json:"predicted_duration"`
	PredictionTimestamp time.Time  `parquet:"prediction_timestamp" json:"prediction_timestamp"`
	BatchID             string     `parquet:"batch_id" json:"batch_id"`
	RunID               string     `parquet:"run_id" json:"run_id"`
	ModelVersion        string     `parquet:"model_version" json:"model_version"`
}

func rowOf(r models.PredictionResult, p models.Provenance) Row {
	return Row{
		TripID:              r.TripID,
		BatchTimestamp:      r.BatchTimestamp,
		PULocationID:        r.PULocationID,
		DOLocationID:        r.DOLocationID,
		TripDistance:        r.TripDistance,
		PickupDatetime:      r.PickupDatetime,
		PredictedDuration:   r.PredictedDuration,
		PredictionTimestamp: r.PredictionTimestamp,
		BatchID:             p.BatchID,
		RunID:               p.RunID,
		ModelVersion:        p.ModelVersion,
	}
}

type Writer struct {
	Dir    string
	Format string

	now func() time.Time
}

// NewWriter checks format up front so a bad configuration fails before any
// run starts.
func NewWriter(dir, format string) (*Writer, error) {
	format = strings.ToLower(format)
	if !supported(format) {
		return nil, errors.UnsupportedFormat(format)
	}
	return &Writer{Dir: dir, Format: format, now: time.Now}, nil
}

func supported(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// FileName is predictions_{batch_id}_{YYYYMMDD_HHMMSS}.{format}. Path
// separators in the batch id become underscores so the file always lands
// directly in the output directory.
func FileName(batchID, format string, at time.Time) string {
	return fmt.Sprintf("predictions_%s_%s.%s", fileSafe(batchID), at.Format(timestampLayout), format)
}

func fileSafe(batchID string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, batchID)
}

// Write stores results in a new file under Dir and returns its path and
// size. An existing file with the same name is overwritten.
func (w *Writer) Write(results []models.PredictionResult, prov models.Provenance) (string, int64, error) {
	return w.WriteAs(w.Format, results, prov)
}

// WriteAs is Write with a per-call format.
func (w *Writer) WriteAs(format string, results []models.PredictionResult, prov models.Provenance) (string, int64, error) {
	format = strings.ToLower(format)
	if !supported(format) {
		return "", 0, errors.UnsupportedFormat(format)
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", 0, errors.Wrapf(err, "create output dir %s", w.Dir)
	}

	rows := make([]Row, len(results))
	for i := range results {
		rows[i] = rowOf(results[i], prov)
	}

	path := filepath.Join(w.Dir, FileName(prov.BatchID, format, w.now()))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, errors.Wrapf(err, "create %s", path)
	}

	switch format {
	case FormatParquet:
		err = writeParquet(f, rows)
	case FormatCSV:
		err = writeCSV(f, rows)
	case FormatJSON:
		err = writeJSON(f, rows)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, errors.Wrapf(err, "write %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", 0, errors.Wrapf(err, "stat %s", path)
	}
	return path, info.Size(), nil
}

func writeParquet(f *os.File, rows []Row) error {
	pw := parquet.NewGenericWriter[Row](f)
	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}

func writeJSON(f *os.File, rows []Row) error {
	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return err
	}
	return bw.Flush()
}
