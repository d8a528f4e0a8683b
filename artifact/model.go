package artifact

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"taxiflow/errors"
)

// LinearModel predicts intercept + coefficients·x.
type LinearModel struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

func (m *LinearModel) check(columns int) error {
	if len(m.Coefficients) != columns {
		return errors.Newf("model has %d coefficients for %d features", len(m.Coefficients), columns)
	}
	if !finite(m.Intercept) {
		return errors.Newf("intercept is not finite: %v", m.Intercept)
	}
	for i, c := range m.Coefficients {
		if !finite(c) {
			return errors.Newf("coefficient %d is not finite: %v", i, c)
		}
	}
	return nil
}

// Predict returns one value per row, in row order.
func (m *LinearModel) Predict(rows []SparseRow) []float64 {
	out := make([]float64, len(rows))
	var coef []float64
	for r, row := range rows {
		coef = coef[:0]
		for _, idx := range row.Indices {
			coef = append(coef, m.Coefficients[idx])
		}
		out[r] = m.Intercept + floats.Dot(coef, row.Values)
	}
	return out
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
