package ml

import (
	"fmt"
	"math"
	"sync"

	"github.com/sartorproj/goarima/arima"
	"github.com/sartorproj/goarima/timeseries"
)

// ARIMAOrder is the (p, d, q) order of an ARIMA model
type ARIMAOrder struct {
	P int `json:"p"`
	D int `json:"d"`
	Q int `json:"q"`
}

func (o ARIMAOrder) String() string {
	return fmt.Sprintf("(%d,%d,%d)", o.P, o.D, o.Q)
}

type arimaPredictor interface {
	Predict(steps int) ([]float64, error)
}

// ARIMA is a univariate ARIMA forecaster. Only the order, the fit history and the
// information criteria are serialized; a loaded model refits from its history on
// first use, which reproduces the same coefficients.
type ARIMA struct {
	Order   ARIMAOrder `json:"order"`
	History []float64  `json:"history"`
	AIC     float64    `json:"aic"`
	AICc    float64    `json:"aicc"`
	BIC     float64    `json:"bic"`

	mu    sync.Mutex
	model arimaPredictor
}

// NewARIMA creates an unfitted model of the given order
func NewARIMA(order ARIMAOrder) (*ARIMA, error) {
	if order.P < 0 || order.D < 0 || order.Q < 0 {
		return nil, fmt.Errorf("invalid ARIMA order %s", order)
	}
	return &ARIMA{Order: order}, nil
}

// minObservations is the shortest history the order can be estimated from
func (a *ARIMA) minObservations() int {
	return a.Order.P + a.Order.D + a.Order.Q + 10
}

// Fit estimates the model on history, which is copied
func (a *ARIMA) Fit(history []float64) error {
	if len(history) < a.minObservations() {
		return fmt.Errorf("ARIMA%s needs at least %d observations, got %d", a.Order, a.minObservations(), len(history))
	}
	for i, v := range history {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value at index %d", i)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.History = append([]float64(nil), history...)
	return a.fit()
}

func (a *ARIMA) fit() error {
	values := append([]float64(nil), a.History...)
	model := arima.New(a.Order.P, a.Order.D, a.Order.Q)
	if err := model.Fit(&timeseries.Series{Values: values}); err != nil {
		a.model = nil
		return fmt.Errorf("failed to fit ARIMA%s: %w", a.Order, err)
	}
	a.AIC = finiteOrZero(model.AIC)
	a.AICc = finiteOrZero(model.AICc)
	a.BIC = finiteOrZero(model.BIC)
	a.model = model
	return nil
}

// Forecast returns the next steps values after the end of the history
func (a *ARIMA) Forecast(steps int) ([]float64, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("forecast horizon must be positive, got %d", steps)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model == nil {
		if len(a.History) == 0 {
			return nil, ErrNotTrained
		}
		if err := a.fit(); err != nil {
			return nil, err
		}
	}

	forecast, err := a.model.Predict(steps)
	if err != nil {
		return nil, fmt.Errorf("ARIMA%s forecast failed: %w", a.Order, err)
	}
	if len(forecast) != steps {
		return nil, fmt.Errorf("ARIMA%s returned %d values for %d steps", a.Order, len(forecast), steps)
	}
	return forecast, nil
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
