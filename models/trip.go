package models

import "time"

// TripRecord is one input row of a batch. Column names follow the NYC TLC
// trip record files.
type TripRecord struct {
	TripID         string     `json:"trip_id,omitempty"`
	PULocationID   int64      `json:"PULocationID"`
	DOLocationID   int64      `json:"DOLocationID"`
	TripDistance   float64    `json:"trip_distance"`
	BatchTimestamp *time.Time `json:"batch_timestamp,omitempty"`
	PickupDatetime *time.Time `json:"pickup_datetime,omitempty"`
}

// SameZone reports whether pickup and dropoff fall in the same zone.
func (t TripRecord) SameZone() bool { return t.PULocationID == t.DOLocationID }
