package tripdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"taxiflow/errors"
	"taxiflow/features"
	"taxiflow/models"
)

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02 15:04:05"}

func readCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return decodeCSV(path, f)
}

func decodeCSV(source string, r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return &Dataset{Source: source}, nil
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read csv header %s", source), errors.ErrSchema)
	}

	ds := &Dataset{Source: source}
	col := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		ds.Columns = append(ds.Columns, name)
		col[name] = i
	}
	if len(missingColumns(ds.Columns)) > 0 {
		return ds, nil
	}

	var bad []string
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read csv %s", source), errors.ErrSchema)
		}

		t, err := parseRow(rec, col)
		if err != nil {
			bad = append(bad, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		ds.Records = append(ds.Records, t)
	}
	if len(bad) > 0 {
		return nil, &errors.ValidationError{Source: source, Violations: bad}
	}
	return ds, nil
}

func parseRow(rec []string, col map[string]int) (models.TripRecord, error) {
	var t models.TripRecord
	var err error

	if t.PULocationID, err = parseZone(rec[col[features.PickupField]]); err != nil {
		return t, errors.Wrap(err, features.PickupField)
	}
	if t.DOLocationID, err = parseZone(rec[col[features.DropoffField]]); err != nil {
		return t, errors.Wrap(err, features.DropoffField)
	}
	if t.TripDistance, err = strconv.ParseFloat(strings.TrimSpace(rec[col[features.DistanceField]]), 64); err != nil {
		return t, errors.Wrap(err, features.DistanceField)
	}

	if i, ok := col["trip_id"]; ok {
		t.TripID = rec[i]
	}
	if i, ok := col["batch_timestamp"]; ok {
		t.BatchTimestamp = parseTime(rec[i])
	}
	if i, ok := col["pickup_datetime"]; ok {
		t.PickupDatetime = parseTime(rec[i])
	}
	return t, nil
}

// parseZone accepts "161" and the "161.0" pandas writes for float columns.
func parseZone(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, errors.Newf("zone id %q is not an integer", s)
	}
	return int64(f), nil
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return &ts
		}
	}
	return nil
}
