// Package tripdata reads batch input files and enforces the input contract
// before any inference work starts.
package tripdata

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"taxiflow/errors"
	"taxiflow/features"
	"taxiflow/models"
)

const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
)

// Dataset is one decoded input file.
type Dataset struct {
	Source  string
	Columns []string
	Records []models.TripRecord
}

// HasColumn reports whether the file carried the named column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// FormatOf maps a file extension to an input format.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return FormatParquet, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", errors.UnsupportedFormat(filepath.Ext(path))
	}
}

// Read decodes path by extension. Records are left empty when a required
// column is absent so Validate can report the file as a whole.
func Read(path string) (*Dataset, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatParquet:
		return readParquet(path)
	default:
		return readCSV(path)
	}
}

// BatchID is the default batch id of an input file: its name without the
// extension.
func BatchID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListPending returns the readable input files directly under dir, sorted
// by name. A missing directory yields no files.
func ListPending(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list input dir %s", dir)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := FormatOf(e.Name()); err != nil {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// MoveToProcessed renames path into dir and returns the new location.
func MoveToProcessed(path, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create processed dir %s", dir)
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return "", errors.Wrapf(err, "move %s to %s", path, dir)
	}
	return dst, nil
}

func missingColumns(columns []string) []string {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	var missing []string
	for _, name := range features.RequiredFields {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
