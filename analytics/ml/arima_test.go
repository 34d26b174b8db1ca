package ml

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hourlySeries is a daily cycle around 30 with noise
func hourlySeries(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	values := make([]float64, n)
	for i := range values {
		values[i] = 30 + 10*math.Sin(2*math.Pi*float64(i)/24) + rng.NormFloat64()
	}
	return values
}

func TestARIMA_FitAndForecast(t *testing.T) {
	model, err := NewARIMA(ARIMAOrder{P: 5, D: 1, Q: 0})
	require.NoError(t, err)

	history := hourlySeries(300, 1)
	require.NoError(t, model.Fit(history))
	assert.Len(t, model.History, 300)

	forecast, err := model.Forecast(24)
	require.NoError(t, err)
	require.Len(t, forecast, 24)
	for _, v := range forecast {
		assert.False(t, math.IsNaN(v))
		assert.Greater(t, v, -20.0)
		assert.Less(t, v, 80.0)
	}

	// the history is copied
	history[0] = 1e6
	assert.NotEqual(t, 1e6, model.History[0])
}

func TestARIMA_SerializeRefits(t *testing.T) {
	model, err := NewARIMA(ARIMAOrder{P: 2, D: 1, Q: 0})
	require.NoError(t, err)
	require.NoError(t, model.Fit(hourlySeries(200, 2)))
	want, err := model.Forecast(12)
	require.NoError(t, err)

	data, err := json.Marshal(model)
	require.NoError(t, err)

	var loaded ARIMA
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, model.Order, loaded.Order)

	got, err := loaded.Forecast(12)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-9)
}

func TestARIMA_Errors(t *testing.T) {
	_, err := NewARIMA(ARIMAOrder{P: -1, D: 1})
	assert.Error(t, err)

	model, err := NewARIMA(ARIMAOrder{P: 5, D: 1, Q: 0})
	require.NoError(t, err)

	_, err = model.Forecast(5)
	assert.ErrorIs(t, err, ErrNotTrained)

	assert.Error(t, model.Fit(make([]float64, 5)))
	values := hourlySeries(100, 3)
	values[40] = math.NaN()
	assert.Error(t, model.Fit(values))

	require.NoError(t, model.Fit(hourlySeries(100, 3)))
	_, err = model.Forecast(0)
	assert.Error(t, err)
}
