// Package processing turns raw readings into model-ready tables: imputation,
// outlier capping, feature engineering, windowing and scaling.
package processing

import (
	"fmt"
	"math"
	"sort"

	"air-quality-analytics/dataset"
)

// ImputeMissing fills NaN cells of every numeric column with the mean of the k
// nearest rows that have the column present. Distances use the nan-euclidean
// metric over the numeric columns. Text columns pass through unchanged.
func ImputeMissing(f *dataset.Frame, k int) (*dataset.Frame, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	names := f.NumericColumns()
	data, err := f.Matrix(names)
	if err != nil {
		return nil, err
	}

	for j, name := range names {
		present := 0
		for i := range data {
			if !math.IsNaN(data[i][j]) {
				present++
			}
		}
		if present == 0 && len(data) > 0 {
			return nil, fmt.Errorf("cannot impute column %s: no values present", name)
		}
	}

	out := f.Clone()
	filled := make([][]float64, len(names))
	for j, name := range names {
		values, _ := out.Column(name)
		filled[j] = values
	}

	dist := make([]float64, len(data))
	for i, row := range data {
		if !hasNaN(row) {
			continue
		}

		for r := range data {
			if r == i {
				dist[r] = math.NaN()
				continue
			}
			dist[r] = nanEuclidean(row, data[r])
		}

		for j := range names {
			if !math.IsNaN(row[j]) {
				continue
			}

			donors := make([]int, 0, len(data))
			for r := range data {
				if r != i && !math.IsNaN(data[r][j]) && !math.IsNaN(dist[r]) {
					donors = append(donors, r)
				}
			}

			if len(donors) == 0 {
				filled[j][i] = columnMean(data, j)
				continue
			}

			sort.SliceStable(donors, func(a, b int) bool {
				return dist[donors[a]] < dist[donors[b]]
			})
			if len(donors) > k {
				donors = donors[:k]
			}

			sum := 0.0
			for _, r := range donors {
				sum += data[r][j]
			}
			filled[j][i] = sum / float64(len(donors))
		}
	}

	return out, nil
}

// nanEuclidean scales the distance over coordinates present in both rows up to
// the full dimension. It is NaN when no coordinate is shared.
func nanEuclidean(x, y []float64) float64 {
	sum := 0.0
	present := 0
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		d := x[i] - y[i]
		sum += d * d
		present++
	}
	if present == 0 {
		return math.NaN()
	}
	return math.Sqrt(float64(len(x)) / float64(present) * sum)
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func columnMean(data [][]float64, j int) float64 {
	sum, n := 0.0, 0
	for i := range data {
		if !math.IsNaN(data[i][j]) {
			sum += data[i][j]
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Range is a closed value interval
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// OutlierBounds returns [Q1 - factor*IQR, Q3 + factor*IQR] over the non-NaN values
func OutlierBounds(values []float64, factor float64) (Range, bool) {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return Range{}, false
	}
	sort.Float64s(sorted)

	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1
	return Range{Min: q1 - factor*iqr, Max: q3 + factor*iqr}, true
}

// CapOutliers clamps each named column to its outlier bounds. Row count and order
// are preserved; NaN cells stay NaN. The returned map counts clamped cells per column.
func CapOutliers(f *dataset.Frame, cols []string, factor float64) (*dataset.Frame, map[string]int, error) {
	if factor < 0 {
		return nil, nil, fmt.Errorf("outlier factor cannot be negative, got %f", factor)
	}

	out := f.Clone()
	capped := make(map[string]int, len(cols))
	for _, name := range cols {
		values, err := out.Column(name)
		if err != nil {
			return nil, nil, err
		}

		bounds, ok := OutlierBounds(values, factor)
		if !ok {
			continue
		}
		for i, v := range values {
			switch {
			case v < bounds.Min:
				values[i] = bounds.Min
				capped[name]++
			case v > bounds.Max:
				values[i] = bounds.Max
				capped[name]++
			}
		}
	}
	return out, capped, nil
}

// percentile interpolates linearly between the closest ranks of sorted data
func percentile(sortedData []float64, p float64) float64 {
	if len(sortedData) == 0 {
		return 0
	}
	if len(sortedData) == 1 {
		return sortedData[0]
	}

	index := (p / 100.0) * float64(len(sortedData)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sortedData[lower]
	}

	weight := index - float64(lower)
	return sortedData[lower]*(1-weight) + sortedData[upper]*weight
}
