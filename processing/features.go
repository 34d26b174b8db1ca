package processing

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"air-quality-analytics/dataset"
)

// Derived column names
const (
	ColHour      = "hour"
	ColDayOfWeek = "day_of_week"
	ColMonth     = "month"

	ColPM25RollMean = "pm25_roll_mean_24h"
	ColPM25RollStd  = "pm25_roll_std_24h"
)

// RollingWindow is the trailing window of the rolling statistics; it is also the
// longest lookback, so the first RollingWindow rows never survive feature engineering.
const RollingWindow = 24

// LagOffsets are the row shifts applied to every pollutant
var LagOffsets = []int{1, 24}

// LagColumn names the lag feature of a pollutant
func LagColumn(pollutant string, lag int) string {
	return fmt.Sprintf("%s_lag%d", pollutant, lag)
}

// FeatureColumns lists the numeric columns EngineerFeatures produces, in order
func FeatureColumns() []string {
	cols := append([]string{}, dataset.Pollutants...)
	cols = append(cols, ColHour, ColDayOfWeek, ColMonth)
	for _, p := range dataset.Pollutants {
		for _, lag := range LagOffsets {
			cols = append(cols, LagColumn(p, lag))
		}
	}
	return append(cols, ColPM25RollMean, ColPM25RollStd)
}

// EngineerFeatures sorts by timestamp and adds calendar parts, pollutant lags and
// trailing pm25 rolling mean/std. Rows with any undefined value are dropped, so a
// complete K-row input yields K-24 rows.
func EngineerFeatures(f *dataset.Frame) (*dataset.Frame, error) {
	out := f.SortByIndex()
	n := out.Len()
	index := out.Index()

	hour := make([]float64, n)
	dow := make([]float64, n)
	month := make([]float64, n)
	for i, ts := range index {
		hour[i] = float64(ts.Hour())
		dow[i] = float64(mondayFirst(ts.Weekday()))
		month[i] = float64(ts.Month())
	}
	if err := setAll(out, map[string][]float64{ColHour: hour, ColDayOfWeek: dow, ColMonth: month},
		ColHour, ColDayOfWeek, ColMonth); err != nil {
		return nil, err
	}

	for _, p := range dataset.Pollutants {
		values, err := out.Column(p)
		if err != nil {
			return nil, err
		}
		for _, lag := range LagOffsets {
			if err := out.SetColumn(LagColumn(p, lag), shift(values, lag)); err != nil {
				return nil, err
			}
		}
	}

	pm25, err := out.Column(dataset.ColPM25)
	if err != nil {
		return nil, err
	}
	mean, std := rolling(pm25, RollingWindow)
	if err := out.SetColumn(ColPM25RollMean, mean); err != nil {
		return nil, err
	}
	if err := out.SetColumn(ColPM25RollStd, std); err != nil {
		return nil, err
	}

	return dropUndefined(out), nil
}

// mondayFirst maps Go's Sunday-first weekday to 0=Monday..6=Sunday
func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func setAll(f *dataset.Frame, cols map[string][]float64, order ...string) error {
	for _, name := range order {
		if err := f.SetColumn(name, cols[name]); err != nil {
			return err
		}
	}
	return nil
}

// shift moves values forward by lag rows, leaving NaN at the start
func shift(values []float64, lag int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		if i < lag {
			out[i] = math.NaN()
			continue
		}
		out[i] = values[i-lag]
	}
	return out
}

// rolling computes the trailing mean and sample standard deviation over window
// rows; positions with fewer than window rows, or any NaN in the window, are NaN.
func rolling(values []float64, window int) ([]float64, []float64) {
	mean := make([]float64, len(values))
	std := make([]float64, len(values))
	for i := range values {
		if i+1 < window {
			mean[i], std[i] = math.NaN(), math.NaN()
			continue
		}
		w := values[i+1-window : i+1]
		if hasNaN(w) {
			mean[i], std[i] = math.NaN(), math.NaN()
			continue
		}
		mean[i], std[i] = stat.MeanStdDev(w, nil)
	}
	return mean, std
}

func dropUndefined(f *dataset.Frame) *dataset.Frame {
	keep := make([]bool, f.Len())
	for i := range keep {
		keep[i] = true
	}
	for _, name := range f.NumericColumns() {
		values, _ := f.Column(name)
		for i, v := range values {
			if math.IsNaN(v) {
				keep[i] = false
			}
		}
	}
	return f.Filter(keep)
}
