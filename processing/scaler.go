package processing

import (
	"errors"
	"fmt"
	"math"

	"air-quality-analytics/dataset"
)

// ErrScalerNotFitted is returned when transforming with an unfitted scaler
var ErrScalerNotFitted = errors.New("scaler is not fitted")

// MinMaxScaler maps each numeric column to [0,1] using its fit-time min and max.
// Identifier and categorical columns are never scaled. Fit state is immutable.
type MinMaxScaler struct {
	Columns []string  `json:"columns"`
	Min     []float64 `json:"min"`
	Max     []float64 `json:"max"`
}

// FitMinMax fits a scaler on every numeric column of f
func FitMinMax(f *dataset.Frame) (*MinMaxScaler, error) {
	cols := f.NumericColumns()
	if len(cols) == 0 {
		return nil, fmt.Errorf("no numeric columns to fit")
	}
	if f.Len() == 0 {
		return nil, fmt.Errorf("cannot fit scaler on an empty frame")
	}

	s := &MinMaxScaler{
		Columns: cols,
		Min:     make([]float64, len(cols)),
		Max:     make([]float64, len(cols)),
	}
	for j, name := range cols {
		values, _ := f.Column(name)
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range values {
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if math.IsInf(lo, 1) {
			return nil, fmt.Errorf("column %s has no values to fit", name)
		}
		s.Min[j], s.Max[j] = lo, hi
	}
	return s, nil
}

// Transform returns a copy of f with every fitted column scaled. Values outside
// the fit range are not clipped. A missing fitted column is an error.
func (s *MinMaxScaler) Transform(f *dataset.Frame) (*dataset.Frame, error) {
	if s == nil || len(s.Columns) == 0 {
		return nil, ErrScalerNotFitted
	}

	out := f.Clone()
	for j, name := range s.Columns {
		values, err := out.Column(name)
		if err != nil {
			return nil, fmt.Errorf("scaler input: %w", err)
		}
		for i, v := range values {
			values[i] = s.scale(j, v)
		}
	}
	return out, nil
}

// InverseColumn maps scaled values of a fitted column back to original units
func (s *MinMaxScaler) InverseColumn(name string, values []float64) ([]float64, error) {
	j := s.indexOf(name)
	if j < 0 {
		return nil, fmt.Errorf("%w: %s", dataset.ErrColumnNotFound, name)
	}

	out := make([]float64, len(values))
	rng := s.Max[j] - s.Min[j]
	if rng == 0 {
		rng = 1
	}
	for i, v := range values {
		out[i] = v*rng + s.Min[j]
	}
	return out, nil
}

func (s *MinMaxScaler) scale(j int, v float64) float64 {
	rng := s.Max[j] - s.Min[j]
	if rng == 0 {
		return v - s.Min[j]
	}
	return (v - s.Min[j]) / rng
}

func (s *MinMaxScaler) indexOf(name string) int {
	for j, c := range s.Columns {
		if c == name {
			return j
		}
	}
	return -1
}
