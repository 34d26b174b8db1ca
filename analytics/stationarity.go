package analytics

import (
	"fmt"
	"math"

	"github.com/sartorproj/goarima/stats"
	"github.com/sartorproj/goarima/timeseries"
)

// DefaultCorrelationLags covers one day of hourly readings
const DefaultCorrelationLags = 24

// TestOutcome is the result of one stationarity test
type TestOutcome struct {
	PValue     float64 `json:"p_value"`
	Stationary bool    `json:"stationary"`
}

// StationarityReport collects unit-root tests and autocorrelations of a series.
// ACF and PACF are the inputs for choosing an ARIMA order.
type StationarityReport struct {
	Observations int          `json:"observations"`
	ADF          TestOutcome  `json:"adf"`
	KPSS         *TestOutcome `json:"kpss,omitempty"`
	ACF          []float64    `json:"acf"`
	PACF         []float64    `json:"pacf"`
	Stationary   bool         `json:"stationary"` // ADF rejects a unit root
}

// CheckStationarity runs the augmented Dickey-Fuller and KPSS tests and computes
// ACF/PACF up to maxLag (DefaultCorrelationLags when <= 0, capped at n/2).
func CheckStationarity(y []float64, maxLag int) (*StationarityReport, error) {
	if len(y) < 3 {
		return nil, fmt.Errorf("need at least 3 observations, got %d", len(y))
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite value at index %d", i)
		}
	}
	if maxLag <= 0 {
		maxLag = DefaultCorrelationLags
	}
	if maxLag > len(y)/2 {
		maxLag = len(y) / 2
	}

	values := make([]float64, len(y))
	copy(values, y)
	series := &timeseries.Series{Values: values}

	adf := stats.ADF(series, 0)
	if adf == nil {
		return nil, fmt.Errorf("ADF test could not be computed for %d observations", len(y))
	}

	report := &StationarityReport{
		Observations: len(y),
		ADF:          TestOutcome{PValue: finiteOrZero(adf.PValue), Stationary: adf.IsStationary},
		ACF:          finiteValues(stats.ACF(series, maxLag)),
		PACF:         finiteValues(stats.PACF(series, maxLag)),
		Stationary:   adf.IsStationary,
	}
	if kpss := stats.KPSS(series, "c", 0); kpss != nil {
		report.KPSS = &TestOutcome{PValue: finiteOrZero(kpss.PValue), Stationary: kpss.IsStationary}
	}
	return report, nil
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// finiteValues zeroes entries JSON cannot carry
func finiteValues(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = finiteOrZero(v)
	}
	return out
}
