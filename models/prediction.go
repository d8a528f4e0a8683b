package models

import "time"

// PredictionResult is a TripRecord plus the model output for it.
type PredictionResult struct {
	TripRecord
	PredictedDuration   float64   `json:"predicted_duration"`
	PredictionTimestamp time.Time `json:"prediction_timestamp"`
}

// Provenance identifies where a set of predictions came from. It is written
// next to every output row.
type Provenance struct {
	BatchID      string `json:"batch_id"`
	RunID        string `json:"run_id"`
	ModelVersion string `json:"model_version"`
}
