package output

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"taxiflow/models"
)

// ComputeStatistics summarizes predicted durations. Std is the population
// standard deviation. An empty run reports zeros.
func ComputeStatistics(results []models.PredictionResult, elapsed time.Duration, outputBytes int64) models.RunStatistics {
	s := models.RunStatistics{
		Count:           len(results),
		DurationSeconds: elapsed.Seconds(),
		OutputBytes:     outputBytes,
	}
	if len(results) == 0 {
		return s
	}
	if elapsed > 0 {
		s.Throughput = float64(len(results)) / elapsed.Seconds()
	}

	d := make([]float64, len(results))
	for i := range results {
		d[i] = results[i].PredictedDuration
	}
	s.Mean, s.Std = stat.PopMeanStdDev(d, nil)
	s.Min = floats.Min(d)
	s.Max = floats.Max(d)

	sort.Float64s(d)
	mid := len(d) / 2
	if len(d)%2 == 1 {
		s.Median = d[mid]
	} else {
		s.Median = (d[mid-1] + d[mid]) / 2
	}
	return s
}
