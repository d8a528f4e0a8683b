// Package features maps trip records onto the feature schema the duration
// model was trained on: a PU_DO composite category plus trip_distance.
package features

import (
	"encoding/json"
	"math"
	"strconv"

	"taxiflow/errors"
	"taxiflow/models"
)

const (
	PickupField   = "PULocationID"
	DropoffField  = "DOLocationID"
	DistanceField = "trip_distance"

	// CompositeField is the categorical feature built from both zones.
	CompositeField = "PU_DO"
	Separator      = "_"
)

// RequiredFields are the record fields every prediction needs.
var RequiredFields = []string{PickupField, DropoffField, DistanceField}

// Vector is the per-record model input.
type Vector struct {
	PUDO         string
	TripDistance float64
}

// CompositeKey joins the zone ids in their canonical decimal form.
func CompositeKey(pickup, dropoff int64) string {
	return strconv.FormatInt(pickup, 10) + Separator + strconv.FormatInt(dropoff, 10)
}

func Prepare(trip models.TripRecord) Vector {
	return Vector{
		PUDO:         CompositeKey(trip.PULocationID, trip.DOLocationID),
		TripDistance: trip.TripDistance,
	}
}

// PrepareAll keeps the order of trips.
func PrepareAll(trips []models.TripRecord) []Vector {
	out := make([]Vector, len(trips))
	for i := range trips {
		out[i] = Prepare(trips[i])
	}
	return out
}

// ParseTrip reads the required fields out of a decoded JSON object.
// Zone ids must be integral numbers.
func ParseTrip(fields map[string]interface{}) (models.TripRecord, error) {
	for _, name := range RequiredFields {
		if v, ok := fields[name]; !ok || v == nil {
			return models.TripRecord{}, errors.Schemaf("missing required field: %s", name)
		}
	}

	pickup, err := zoneID(fields, PickupField)
	if err != nil {
		return models.TripRecord{}, err
	}
	dropoff, err := zoneID(fields, DropoffField)
	if err != nil {
		return models.TripRecord{}, err
	}
	distance, err := number(fields, DistanceField)
	if err != nil {
		return models.TripRecord{}, err
	}

	trip := models.TripRecord{PULocationID: pickup, DOLocationID: dropoff, TripDistance: distance}
	if id, ok := fields["trip_id"].(string); ok {
		trip.TripID = id
	}
	return trip, nil
}

// PrepareFields is ParseTrip followed by Prepare.
func PrepareFields(fields map[string]interface{}) (Vector, error) {
	trip, err := ParseTrip(fields)
	if err != nil {
		return Vector{}, err
	}
	return Prepare(trip), nil
}

func zoneID(fields map[string]interface{}, name string) (int64, error) {
	f, err := number(fields, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, errors.Schemaf("field %s must be an integer zone id, got %v", name, f)
	}
	return int64(f), nil
}

func number(fields map[string]interface{}, name string) (float64, error) {
	switch v := fields[name].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, errors.Schemaf("field %s is not numeric: %q", name, v.String())
		}
		return f, nil
	default:
		return 0, errors.Schemaf("field %s is not numeric: %v", name, v)
	}
}
