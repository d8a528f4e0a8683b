package tripdata

import (
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/deprecated"

	"taxiflow/errors"
	"taxiflow/models"
)

// Row is the parquet layout the collector writes batch files with.
type Row struct {
	TripID         string     `parquet:"trip_id,optional"`
	BatchTimestamp *time.Time `parquet:"batch_timestamp,optional"`
	PULocationID   int64      `parquet:"PULocationID"`
	DOLocationID   int64      `parquet:"DOLocationID"`
	TripDistance   float64    `parquet:"trip_distance"`
	PickupDatetime *time.Time `parquet:"pickup_datetime,optional"`
}

func RowOf(t models.TripRecord) Row {
	return Row{
		TripID:         t.TripID,
		BatchTimestamp: t.BatchTimestamp,
		PULocationID:   t.PULocationID,
		DOLocationID:   t.DOLocationID,
		TripDistance:   t.TripDistance,
		PickupDatetime: t.PickupDatetime,
	}
}

// inputRow is how trip files are read. Timestamp columns come in as raw
// int64 values and are converted with the unit the file declares, since
// writers disagree on milli, micro and nanosecond precision.
type inputRow struct {
	TripID         string  `parquet:"trip_id,optional"`
	BatchTimestamp *int64  `parquet:"batch_timestamp,optional"`
	PULocationID   int64   `parquet:"PULocationID"`
	DOLocationID   int64   `parquet:"DOLocationID"`
	TripDistance   float64 `parquet:"trip_distance"`
	PickupDatetime *int64  `parquet:"pickup_datetime,optional"`
}

// timeUnits holds the declared unit of each timestamp column of a file.
type timeUnits struct {
	batch  time.Duration
	pickup time.Duration
}

func (u timeUnits) record(r inputRow) models.TripRecord {
	return models.TripRecord{
		TripID:         r.TripID,
		BatchTimestamp: unixTime(r.BatchTimestamp, u.batch),
		PULocationID:   r.PULocationID,
		DOLocationID:   r.DOLocationID,
		TripDistance:   r.TripDistance,
		PickupDatetime: unixTime(r.PickupDatetime, u.pickup),
	}
}

func unixTime(v *int64, unit time.Duration) *time.Time {
	if v == nil {
		return nil
	}
	var t time.Time
	switch unit {
	case time.Millisecond:
		t = time.UnixMilli(*v)
	case time.Microsecond:
		t = time.UnixMicro(*v)
	default:
		t = time.Unix(0, *v)
	}
	t = t.UTC()
	return &t
}

// timestampUnit reports the precision of an int64 timestamp column. Columns
// that are absent or carry no unit are taken as nanoseconds.
func timestampUnit(schema *parquet.Schema, column string) (time.Duration, error) {
	leaf, ok := schema.Lookup(column)
	if !ok {
		return time.Nanosecond, nil
	}
	typ := leaf.Node.Type()
	if typ.Kind() != parquet.Int64 {
		return 0, errors.Schemaf("column %s: timestamps must be stored as INT64, got %s", column, typ.Kind())
	}
	if lt := typ.LogicalType(); lt != nil && lt.Timestamp != nil {
		switch {
		case lt.Timestamp.Unit.Millis != nil:
			return time.Millisecond, nil
		case lt.Timestamp.Unit.Micros != nil:
			return time.Microsecond, nil
		}
		return time.Nanosecond, nil
	}
	if ct := typ.ConvertedType(); ct != nil {
		switch *ct {
		case deprecated.TimestampMillis:
			return time.Millisecond, nil
		case deprecated.TimestampMicros:
			return time.Microsecond, nil
		}
	}
	return time.Nanosecond, nil
}

// WriteParquet writes trips to w as a single parquet file.
func WriteParquet(w io.Writer, trips []models.TripRecord) error {
	rows := make([]Row, len(trips))
	for i := range trips {
		rows[i] = RowOf(trips[i])
	}
	pw := parquet.NewGenericWriter[Row](w)
	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return errors.Wrap(err, "write parquet rows")
	}
	return errors.Wrap(pw.Close(), "close parquet writer")
}

func readParquet(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open parquet %s", path), errors.ErrSchema)
	}

	ds := &Dataset{Source: path}
	for _, field := range pf.Schema().Fields() {
		ds.Columns = append(ds.Columns, field.Name())
	}
	if len(missingColumns(ds.Columns)) > 0 {
		return ds, nil
	}

	var units timeUnits
	if units.batch, err = timestampUnit(pf.Schema(), "batch_timestamp"); err != nil {
		return nil, err
	}
	if units.pickup, err = timestampUnit(pf.Schema(), "pickup_datetime"); err != nil {
		return nil, err
	}

	reader := parquet.NewGenericReader[inputRow](pf)
	defer reader.Close()

	rows := make([]inputRow, 1024)
	ds.Records = make([]models.TripRecord, 0, int(pf.NumRows()))
	for {
		n, err := reader.Read(rows)
		for _, r := range rows[:n] {
			ds.Records = append(ds.Records, units.record(r))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "read parquet %s", path), errors.ErrSchema)
		}
		if n == 0 {
			break
		}
	}
	return ds, nil
}
