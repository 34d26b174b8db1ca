package processing

import (
	"fmt"

	"air-quality-analytics/dataset"
)

// DefaultSequenceColumns are the features fed to the forecaster; the first one is the target
var DefaultSequenceColumns = []string{
	dataset.ColPM25, dataset.ColPM10, dataset.ColNO2, dataset.ColO3, ColPM25RollMean,
}

// CreateSequences slices the selected columns into windows of length rows. Window i
// covers rows [i, i+length) and its target is the first column at row i+length,
// giving max(0, R-length) samples for R rows.
func CreateSequences(f *dataset.Frame, cols []string, length int) ([][][]float64, []float64, error) {
	if length <= 0 {
		return nil, nil, fmt.Errorf("window length must be positive, got %d", length)
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("no columns selected")
	}

	rows, err := f.Matrix(cols)
	if err != nil {
		return nil, nil, err
	}

	count := len(rows) - length
	if count <= 0 {
		return [][][]float64{}, []float64{}, nil
	}

	windows := make([][][]float64, count)
	targets := make([]float64, count)
	for i := 0; i < count; i++ {
		windows[i] = rows[i : i+length]
		targets[i] = rows[i+length][0]
	}
	return windows, targets, nil
}
