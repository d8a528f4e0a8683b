package tripdata

import (
	"fmt"
	"math"

	"taxiflow/errors"
)

// ZoneRange bounds valid taxi zone ids, inclusive.
type ZoneRange struct {
	Min int64
	Max int64
}

// DefaultZones covers the NYC TLC taxi zone map.
var DefaultZones = ZoneRange{Min: 1, Max: 263}

func (z ZoneRange) contains(id int64) bool { return id >= z.Min && id <= z.Max }

// Validate checks a dataset against the input contract and returns a
// *errors.ValidationError listing every broken rule.
func Validate(ds *Dataset, zones ZoneRange) error {
	var violations []string
	for _, name := range missingColumns(ds.Columns) {
		violations = append(violations, "missing column "+name)
	}
	if len(violations) > 0 {
		return &errors.ValidationError{Source: ds.Source, Violations: violations}
	}

	var (
		badDistance, firstDistance = 0, -1
		badZone, firstZone         = 0, -1
	)
	for i, t := range ds.Records {
		if !(t.TripDistance > 0) || math.IsInf(t.TripDistance, 1) {
			if badDistance == 0 {
				firstDistance = i
			}
			badDistance++
		}
		if !zones.contains(t.PULocationID) || !zones.contains(t.DOLocationID) {
			if badZone == 0 {
				firstZone = i
			}
			badZone++
		}
	}
	if badDistance > 0 {
		violations = append(violations, fmt.Sprintf(
			"%d records with non-positive trip_distance (first at row %d)", badDistance, firstDistance))
	}
	if badZone > 0 {
		violations = append(violations, fmt.Sprintf(
			"%d records with zone id outside [%d, %d] (first at row %d)", badZone, zones.Min, zones.Max, firstZone))
	}
	if len(violations) > 0 {
		return &errors.ValidationError{Source: ds.Source, Violations: violations}
	}
	return nil
}

// Normalize remaps the dropoff of same-zone trips to the next zone id,
// wrapping Max back to 1, and returns how many records changed.
func Normalize(ds *Dataset, zones ZoneRange) int {
	changed := 0
	for i := range ds.Records {
		t := &ds.Records[i]
		if t.SameZone() {
			t.DOLocationID = t.DOLocationID%zones.Max + 1
			changed++
		}
	}
	return changed
}
