package output

import (
	"bufio"
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

var csvHeader = []string{
	"trip_id", "batch_timestamp", "PULocationID", "DOLocationID", "trip_distance", "pickup_datetime",
	"predicted_duration", "prediction_timestamp", "batch_id", "run_id", "model_version",
}

func writeCSV(f *os.File, rows []Row) error {
	bw := bufio.NewWriter(f)
	cw := csv.NewWriter(bw)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	rec := make([]string, len(csvHeader))
	for _, r := range rows {
		rec[0] = r.TripID
		rec[1] = formatTime(r.BatchTimestamp)
		rec[2] = strconv.FormatInt(r.PULocationID, 10)
		rec[3] = strconv.FormatInt(r.DOLocationID, 10)
		rec[4] = strconv.FormatFloat(r.TripDistance, 'f', -1, 64)
		rec[5] = formatTime(r.PickupDatetime)
		rec[6] = strconv.FormatFloat(r.PredictedDuration, 'f', -1, 64)
		rec[7] = r.PredictionTimestamp.Format(time.RFC3339Nano)
		rec[8] = r.BatchID
		rec[9] = r.RunID
		rec[10] = r.ModelVersion
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
