package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"air-quality-analytics/analytics"
	"air-quality-analytics/analytics/ml"
	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
	"air-quality-analytics/logging"
	"air-quality-analytics/pipeline"
	"air-quality-analytics/processing"
	"air-quality-analytics/storage"
)

// App is the read-only state shared by all handlers. It is built once at startup;
// any part whose file is missing is left nil.
type App struct {
	Readings   []dataset.Reading
	Series     *storage.SeriesIndex
	Classifier *analytics.RiskClassifier
	// Scaler and Forecaster are held for /predict/forecast, which is not served yet
	Scaler     *processing.MinMaxScaler
	Forecaster *ml.Forecaster
	Report     *pipeline.TrainingReport
	LoadedAt   time.Time
}

// LoadApp reads the processed dataset and model artifacts
func LoadApp(cfg config.StorageConfig, logger *logrus.Logger) (*App, error) {
	logger = logging.OrDefault(logger)
	app := &App{LoadedAt: time.Now()}

	warehouse, err := storage.NewWarehouse(cfg.WarehouseDir, logger)
	if err != nil {
		return nil, err
	}
	readings, err := warehouse.Read(cfg.ProcessedCollection)
	switch {
	case errors.Is(err, storage.ErrDatasetNotFound):
		logger.WithField("path", warehouse.Path(cfg.ProcessedCollection)).Warn("Processed dataset not found, run the pipeline first")
	case err != nil:
		return nil, err
	default:
		app.Readings = readings
		app.Series = storage.IndexReadings(readings)
	}

	artifacts, err := storage.NewArtifactStore(cfg.ModelDir, nil, logger)
	if err != nil {
		return nil, err
	}

	var scaler processing.MinMaxScaler
	var classifier analytics.RiskClassifier
	var forecaster ml.Forecaster
	var report pipeline.TrainingReport
	for _, a := range []struct {
		name   string
		target interface{}
		assign func()
	}{
		{storage.ArtifactScaler, &scaler, func() { app.Scaler = &scaler }},
		{storage.ArtifactClassifier, &classifier, func() {
			classifier.SetLogger(logger)
			app.Classifier = &classifier
		}},
		{storage.ArtifactForecaster, &forecaster, func() { app.Forecaster = &forecaster }},
		{storage.ArtifactTrainingReport, &report, func() { app.Report = &report }},
	} {
		err := artifacts.Load(a.name, a.target)
		if errors.Is(err, storage.ErrArtifactNotFound) {
			logger.WithField("artifact", a.name).Warn("Model artifact not found")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", a.name, err)
		}
		a.assign()
	}

	logger.WithFields(logrus.Fields{
		"rows":       len(app.Readings),
		"classifier": app.Classifier != nil,
		"forecaster": app.Forecaster != nil,
		"scaler":     app.Scaler != nil,
	}).Info("Application context loaded")
	return app, nil
}

// Latest returns the most recent reading
func (a *App) Latest() (dataset.Reading, bool) {
	if a == nil || len(a.Readings) == 0 {
		return dataset.Reading{}, false
	}
	return a.Readings[len(a.Readings)-1], true
}

// Models reports which artifacts are loaded
func (a *App) Models() map[string]bool {
	if a == nil {
		a = &App{}
	}
	return map[string]bool{
		"scaler":     a.Scaler != nil,
		"classifier": a.Classifier != nil,
		"forecaster": a.Forecaster != nil,
	}
}
