package artifact

import (
	"math"

	"taxiflow/errors"
	"taxiflow/features"
)

// DefaultSeparator joins a categorical field and its value into a feature
// name, e.g. "PU_DO=161_236".
const DefaultSeparator = "="

// Encoder turns feature vectors into sparse rows over a fixed vocabulary.
// Column i of a row corresponds to FeatureNames[i].
type Encoder struct {
	Separator    string   `json:"separator"`
	FeatureNames []string `json:"feature_names"`

	vocab map[string]int
}

// SparseRow holds the non-zero columns of one encoded record.
type SparseRow struct {
	Indices []int
	Values  []float64
}

// NewEncoder builds an encoder over names. Duplicate names are rejected.
func NewEncoder(names []string) (*Encoder, error) {
	e := &Encoder{Separator: DefaultSeparator, FeatureNames: names}
	if err := e.index(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Encoder) index() error {
	if e.Separator == "" {
		e.Separator = DefaultSeparator
	}
	e.vocab = make(map[string]int, len(e.FeatureNames))
	for i, name := range e.FeatureNames {
		if name == "" {
			return errors.Newf("feature %d has an empty name", i)
		}
		if _, dup := e.vocab[name]; dup {
			return errors.Newf("duplicate feature name %q", name)
		}
		e.vocab[name] = i
	}
	return nil
}

// Len is the number of columns a row can address.
func (e *Encoder) Len() int { return len(e.FeatureNames) }

// CategoryName is the column name of a composite zone pair.
func (e *Encoder) CategoryName(pudo string) string {
	return features.CompositeField + e.Separator + pudo
}

// Transform encodes one vector. Categories missing from the vocabulary
// contribute nothing.
func (e *Encoder) Transform(v features.Vector) (SparseRow, error) {
	if math.IsNaN(v.TripDistance) || math.IsInf(v.TripDistance, 0) {
		return SparseRow{}, errors.Transformf("%s is not finite: %v", features.DistanceField, v.TripDistance)
	}

	row := SparseRow{Indices: make([]int, 0, 2), Values: make([]float64, 0, 2)}
	if i, ok := e.vocab[e.CategoryName(v.PUDO)]; ok {
		row.Indices = append(row.Indices, i)
		row.Values = append(row.Values, 1)
	}
	if i, ok := e.vocab[features.DistanceField]; ok {
		row.Indices = append(row.Indices, i)
		row.Values = append(row.Values, v.TripDistance)
	}
	return row, nil
}

// TransformBatch encodes vectors in order and stops at the first rejection.
func (e *Encoder) TransformBatch(vectors []features.Vector) ([]SparseRow, error) {
	rows := make([]SparseRow, len(vectors))
	for i, v := range vectors {
		row, err := e.Transform(v)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		rows[i] = row
	}
	return rows, nil
}
