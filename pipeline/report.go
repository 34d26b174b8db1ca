package pipeline

import (
	"math"
	"time"

	"air-quality-analytics/analytics"
	"air-quality-analytics/analytics/ml"
)

// ETLReport summarizes one ingestion and cleaning run
type ETLReport struct {
	RunID       string                    `json:"run_id"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
	Backend     string                    `json:"backend"`
	Seed        int64                     `json:"seed"`
	Generated   int                       `json:"generated"`
	Missing     int                       `json:"missing"`
	Injected    int                       `json:"injected_spikes"`
	Rows        int                       `json:"rows"`
	Capped      map[string]int            `json:"capped,omitempty"`
	SpikeScans  []*analytics.SpikeSummary `json:"spike_scans,omitempty"`
}

// ARIMAReport describes the statistical forecaster fitted next to the sequence model
type ARIMAReport struct {
	Order        ml.ARIMAOrder             `json:"order"`
	Observations int                       `json:"observations"`
	AIC          float64                   `json:"aic"`
	AICc         float64                   `json:"aicc"`
	BIC          float64                   `json:"bic"`
	Metrics      analytics.ForecastMetrics `json:"metrics"`
}

// ForecasterReport holds the forecaster's training history and held-out accuracy.
// DieboldMariano compares the sequence model with ARIMA; PersistenceDM with the
// last observed value.
type ForecasterReport struct {
	TrainSamples      int                       `json:"train_samples"`
	ValidationSamples int                       `json:"validation_samples"`
	History           *ml.TrainingHistory       `json:"history"`
	Metrics           analytics.ForecastMetrics `json:"metrics"`
	ARIMA             *ARIMAReport              `json:"arima,omitempty"`
	DieboldMariano    *analytics.DMResult       `json:"diebold_mariano,omitempty"`
	Baseline          analytics.ForecastMetrics `json:"persistence_baseline"`
	PersistenceDM     *analytics.DMResult       `json:"diebold_mariano_persistence,omitempty"`
}

// TrainingReport is persisted next to the model artifacts after every training run
type TrainingReport struct {
	RunID        string                          `json:"run_id"`
	StartedAt    time.Time                       `json:"started_at"`
	CompletedAt  time.Time                       `json:"completed_at"`
	Rows         int                             `json:"rows"`
	FeatureRows  int                             `json:"feature_rows"`
	Sequences    int                             `json:"sequences"`
	Stationarity *analytics.StationarityReport   `json:"stationarity,omitempty"`
	Forecaster   *ForecasterReport               `json:"forecaster"`
	Classifier   *analytics.ClassificationReport `json:"classifier"`
}

// MAPE returns the forecaster's validation MAPE, if any was recorded
func (r *TrainingReport) MAPE() (float64, bool) {
	if r == nil || r.Forecaster == nil || r.Forecaster.Metrics.MAPE == 0 {
		return 0, false
	}
	return r.Forecaster.Metrics.MAPE, true
}

// finite replaces NaN, which JSON cannot carry, with zero
func finite(m analytics.ForecastMetrics) analytics.ForecastMetrics {
	if math.IsNaN(m.MAPE) {
		m.MAPE = 0
	}
	return m
}
