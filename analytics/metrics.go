package analytics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ForecastMetrics holds point forecast errors
type ForecastMetrics struct {
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	MAPE float64 `json:"mape"` // percent
}

// DMResult is a Diebold-Mariano comparison of two forecasts
type DMResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
}

func checkLengths(actual, predicted []float64) error {
	if len(actual) != len(predicted) {
		return fmt.Errorf("got %d actual and %d predicted values", len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return fmt.Errorf("no values to evaluate")
	}
	return nil
}

// Evaluate computes RMSE, MAE and MAPE
func Evaluate(actual, predicted []float64) (ForecastMetrics, error) {
	if err := checkLengths(actual, predicted); err != nil {
		return ForecastMetrics{}, err
	}
	return ForecastMetrics{
		RMSE: RMSE(actual, predicted),
		MAE:  MAE(actual, predicted),
		MAPE: MAPE(actual, predicted),
	}, nil
}

// RMSE is the root mean squared error. Inputs must have equal length.
func RMSE(actual, predicted []float64) float64 {
	return floats.Distance(actual, predicted, 2) / math.Sqrt(float64(len(actual)))
}

// MAE is the mean absolute error
func MAE(actual, predicted []float64) float64 {
	return floats.Distance(actual, predicted, 1) / float64(len(actual))
}

// MAPE is the mean absolute percentage error over non-zero actuals; NaN if there are none
func MAPE(actual, predicted []float64) float64 {
	sum := 0.0
	n := 0
	for i := range actual {
		if actual[i] == 0 {
			continue
		}
		sum += math.Abs((actual[i] - predicted[i]) / actual[i])
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return 100 * sum / float64(n)
}

// DieboldMariano tests equal squared-error accuracy of two forecasts. A negative
// statistic means the first forecast is more accurate.
func DieboldMariano(actual, first, second []float64) (DMResult, error) {
	if err := checkLengths(actual, first); err != nil {
		return DMResult{}, err
	}
	if err := checkLengths(actual, second); err != nil {
		return DMResult{}, err
	}
	if len(actual) < 2 {
		return DMResult{}, fmt.Errorf("need at least 2 observations, got %d", len(actual))
	}

	d := make([]float64, len(actual))
	for i := range actual {
		e1 := actual[i] - first[i]
		e2 := actual[i] - second[i]
		d[i] = e1*e1 - e2*e2
	}

	mean, variance := stat.MeanVariance(d, nil)
	if variance == 0 {
		return DMResult{}, fmt.Errorf("loss differential has zero variance")
	}

	dm := mean / math.Sqrt(variance/float64(len(d)))
	p := 2 * (1 - distuv.UnitNormal.CDF(math.Abs(dm)))
	return DMResult{Statistic: dm, PValue: p}, nil
}
