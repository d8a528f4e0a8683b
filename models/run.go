package models

import "time"

const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// RunStatistics summarizes the predicted durations of one completed run.
type RunStatistics struct {
	Count           int     `json:"count"`
	DurationSeconds float64 `json:"duration_seconds"`
	Throughput      float64 `json:"throughput"`
	Mean            float64 `json:"mean"`
	Median          float64 `json:"median"`
	Std             float64 `json:"std"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	OutputBytes     int64   `json:"output_bytes"`
}

// BatchRun is the record kept for every attempted run, written by the
// predictor and served by the API.
type BatchRun struct {
	RunID        string     `gorm:"column:run_id;primaryKey" json:"run_id"`
	BatchID      string     `gorm:"column:batch_id;index" json:"batch_id"`
	Status       string     `gorm:"column:status" json:"status"`
	InputPath    string     `gorm:"column:input_path" json:"input_path"`
	OutputPath   *string    `gorm:"column:output_path" json:"output_path"`
	ModelVersion string     `gorm:"column:model_version" json:"model_version"`
	Records      int        `gorm:"column:records" json:"records"`
	Throughput   *float64   `gorm:"column:throughput" json:"throughput"`
	MeanDuration *float64   `gorm:"column:mean_duration" json:"mean_duration"`
	OutputBytes  *int64     `gorm:"column:output_bytes" json:"output_bytes"`
	Error        *string    `gorm:"column:error" json:"error,omitempty"`
	StartedAt    time.Time  `gorm:"column:started_at" json:"started_at"`
	FinishedAt   *time.Time `gorm:"column:finished_at" json:"finished_at"`
}

func (BatchRun) TableName() string { return "batch_runs" }
