package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"air-quality-analytics/analytics"
	"air-quality-analytics/analytics/ml"
	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
	"air-quality-analytics/logging"
	"air-quality-analytics/processing"
	"air-quality-analytics/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "file"
	cfg.Storage.FallbackDir = filepath.Join(dir, "raw")
	cfg.Storage.WarehouseDir = filepath.Join(dir, "processed")
	cfg.Storage.ModelDir = filepath.Join(dir, "models")
	cfg.Generator.Samples = 200
	cfg.Generator.Seed = 7
	cfg.Forecast.Hidden1 = 4
	cfg.Forecast.Hidden2 = 3
	cfg.Forecast.Epochs = 2
	cfg.Forecast.BatchSize = 16
	cfg.Classifier.Trees = 5
	require.NoError(t, cfg.Validate())
	return cfg
}

type fixture struct {
	cfg       *config.Config
	store     storage.Store
	warehouse *storage.Warehouse
	artifacts *storage.ArtifactStore
	pipeline  *Pipeline
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	logger := logging.Discard()

	store, err := storage.Open(context.Background(), cfg.Storage, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	warehouse, err := storage.NewWarehouse(cfg.Storage.WarehouseDir, logger)
	require.NoError(t, err)
	artifacts, err := storage.NewArtifactStore(cfg.Storage.ModelDir, nil, logger)
	require.NoError(t, err)

	return &fixture{
		cfg:       cfg,
		store:     store,
		warehouse: warehouse,
		artifacts: artifacts,
		pipeline:  New(cfg, store, warehouse, artifacts, logger),
	}
}

func TestRunETL(t *testing.T) {
	f := newFixture(t, testConfig(t))
	ctx := context.Background()

	report, err := f.pipeline.RunETL(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, storage.BackendFile, report.Backend)
	assert.Equal(t, int64(7), report.Seed)
	assert.Equal(t, 200, report.Generated)
	assert.Equal(t, 10, report.Missing)
	assert.Equal(t, 2, report.Injected)
	assert.Equal(t, 200, report.Rows)
	assert.Nil(t, report.Capped)
	assert.Len(t, report.SpikeScans, 2)

	docs, err := f.store.FetchAll(ctx, f.cfg.Storage.RawCollection)
	require.NoError(t, err)
	assert.Len(t, docs, 200)

	readings, err := f.warehouse.Read(f.cfg.Storage.ProcessedCollection)
	require.NoError(t, err)
	require.Len(t, readings, 200)
	assert.NoError(t, dataset.RequireNoNulls(readings))
	for i := 1; i < len(readings); i++ {
		assert.True(t, readings[i].Timestamp.After(readings[i-1].Timestamp))
	}

	var saved ETLReport
	require.NoError(t, f.artifacts.Load(storage.ArtifactETLReport, &saved))
	assert.Equal(t, report.RunID, saved.RunID)

	// a second run replaces the raw collection rather than appending to it
	_, err = f.pipeline.RunETL(ctx)
	require.NoError(t, err)
	docs, err = f.store.FetchAll(ctx, f.cfg.Storage.RawCollection)
	require.NoError(t, err)
	assert.Len(t, docs, 200)
}

func TestRunETL_CapsOutliers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.CapOutliers = true
	cfg.Processing.OutlierFactor = 1.5
	f := newFixture(t, cfg)

	report, err := f.pipeline.RunETL(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Capped)

	readings, err := f.warehouse.Read(cfg.Storage.ProcessedCollection)
	require.NoError(t, err)
	frame := dataset.FrameFromReadings(readings)
	pm25, err := frame.Column(dataset.ColPM25)
	require.NoError(t, err)
	bounds, ok := processing.OutlierBounds(pm25, 1.5)
	require.True(t, ok)
	assert.LessOrEqual(t, maxOf(pm25), bounds.Max+1e-9)
	assert.GreaterOrEqual(t, minOf(pm25), bounds.Min-1e-9)
}

func TestTrain(t *testing.T) {
	f := newFixture(t, testConfig(t))
	ctx := context.Background()

	_, err := f.pipeline.RunETL(ctx)
	require.NoError(t, err)

	report, err := f.pipeline.Train(ctx)
	require.NoError(t, err)

	assert.Equal(t, 200, report.Rows)
	assert.Equal(t, 176, report.FeatureRows)
	assert.Equal(t, 152, report.Sequences)
	require.NotNil(t, report.Forecaster)
	assert.Equal(t, 136, report.Forecaster.TrainSamples)
	assert.Equal(t, 16, report.Forecaster.ValidationSamples)
	assert.NotEmpty(t, report.Forecaster.History.Epochs)
	assert.Greater(t, report.Forecaster.Metrics.RMSE, 0.0)
	require.NotNil(t, report.Classifier)
	assert.Equal(t, 36, report.Classifier.TestSize)
	require.NotNil(t, report.Stationarity)
	assert.NotEmpty(t, report.Stationarity.ACF)
	assert.NotEmpty(t, report.Stationarity.PACF)

	require.NotNil(t, report.Forecaster.ARIMA)
	assert.Equal(t, ml.ARIMAOrder{P: 5, D: 1, Q: 0}, report.Forecaster.ARIMA.Order)
	assert.Equal(t, 136+f.cfg.Processing.SequenceLength, report.Forecaster.ARIMA.Observations)
	assert.NotNil(t, report.Forecaster.DieboldMariano)
	assert.NotNil(t, report.Forecaster.PersistenceDM)

	var scaler processing.MinMaxScaler
	require.NoError(t, f.artifacts.Load(storage.ArtifactScaler, &scaler))
	assert.ElementsMatch(t, processing.FeatureColumns(), scaler.Columns)

	var forecaster ml.Forecaster
	require.NoError(t, f.artifacts.Load(storage.ArtifactForecaster, &forecaster))
	assert.Equal(t, len(f.cfg.Processing.SequenceColumns), forecaster.Config.InputSize)

	var arimaModel ml.ARIMA
	require.NoError(t, f.artifacts.Load(storage.ArtifactARIMA, &arimaModel))
	assert.Len(t, arimaModel.History, report.Forecaster.ARIMA.Observations)
	next, err := arimaModel.Forecast(3)
	require.NoError(t, err)
	assert.Len(t, next, 3)

	var classifier analytics.RiskClassifier
	require.NoError(t, f.artifacts.Load(storage.ArtifactClassifier, &classifier))
	input := make(map[string]float64, len(classifier.Features))
	for _, name := range classifier.Features {
		input[name] = 1
	}
	level, err := classifier.Predict(input)
	require.NoError(t, err)
	assert.NotEqual(t, -1, level.Index())

	var saved TrainingReport
	require.NoError(t, f.artifacts.Load(storage.ArtifactTrainingReport, &saved))
	assert.Equal(t, report.RunID, saved.RunID)
	_, ok := saved.MAPE()
	assert.True(t, ok)
}

func TestTrain_ARIMADisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.ARIMA.Enabled = false
	f := newFixture(t, cfg)
	ctx := context.Background()

	_, err := f.pipeline.RunETL(ctx)
	require.NoError(t, err)
	report, err := f.pipeline.Train(ctx)
	require.NoError(t, err)

	assert.Nil(t, report.Forecaster.ARIMA)
	assert.Nil(t, report.Forecaster.DieboldMariano)
	assert.NotNil(t, report.Forecaster.PersistenceDM)

	var arimaModel ml.ARIMA
	assert.ErrorIs(t, f.artifacts.Load(storage.ArtifactARIMA, &arimaModel), storage.ErrArtifactNotFound)
}

func TestTrain_WithoutDataset(t *testing.T) {
	f := newFixture(t, testConfig(t))
	_, err := f.pipeline.Train(context.Background())
	assert.ErrorIs(t, err, storage.ErrDatasetNotFound)
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
