// Package pipeline runs the batch stages: generation and cleaning into the warehouse,
// then feature engineering and model training into the artifact store.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"air-quality-analytics/analytics"
	"air-quality-analytics/analytics/ml"
	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
	"air-quality-analytics/generator"
	"air-quality-analytics/logging"
	"air-quality-analytics/processing"
	"air-quality-analytics/storage"
)

// Spike scan settings for the raw pm25 diagnostics
const (
	spikeWarmup     = 48
	spikeWindow     = 168
	spikeZThreshold = 3.0
	spikeIQRFactor  = 3.0
	spikeKeep       = 5
)

// Pipeline wires the batch stages to their storage
type Pipeline struct {
	cfg       *config.Config
	store     storage.Store
	warehouse *storage.Warehouse
	artifacts *storage.ArtifactStore
	logger    *logrus.Logger
}

// New creates a pipeline over already opened storage
func New(cfg *config.Config, store storage.Store, warehouse *storage.Warehouse, artifacts *storage.ArtifactStore, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		warehouse: warehouse,
		artifacts: artifacts,
		logger:    logging.OrDefault(logger),
	}
}

// RunETL generates raw readings, replaces the raw collection with them, loads them back
// through the typed schema, cleans them and writes the processed dataset.
func (p *Pipeline) RunETL(ctx context.Context) (*ETLReport, error) {
	report := &ETLReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Backend:   p.store.Backend(),
	}
	log := p.logger.WithField("run_id", report.RunID)
	log.WithField("backend", report.Backend).Info("Starting ETL run")

	genCfg, err := generator.ConfigFrom(p.cfg.Generator)
	if err != nil {
		return nil, fmt.Errorf("invalid generator config: %w", err)
	}
	batch, err := generator.New(genCfg, p.logger).Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate readings: %w", err)
	}
	report.Seed = batch.Seed
	report.Generated = len(batch.Readings)
	report.Missing = len(batch.Missing)
	report.Injected = len(batch.Spikes)

	raw := p.cfg.Storage.RawCollection
	if err := p.store.Clear(ctx, raw); err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", raw, err)
	}
	if err := p.store.InsertMany(ctx, raw, dataset.ToDocuments(batch.Readings)); err != nil {
		return nil, fmt.Errorf("failed to store raw readings: %w", err)
	}

	docs, err := p.store.FetchAll(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw readings: %w", err)
	}
	readings, err := dataset.FromDocuments(dataset.RawSchema, docs)
	if err != nil {
		return nil, fmt.Errorf("raw readings rejected: %w", err)
	}
	log.WithField("rows", len(readings)).Info("Raw readings loaded")

	report.SpikeScans = p.scanSpikes(log, readings)

	cleaned, capped, err := p.clean(readings)
	if err != nil {
		return nil, err
	}
	report.Capped = capped
	report.Rows = len(cleaned)

	if err := p.warehouse.Write(p.cfg.Storage.ProcessedCollection, cleaned); err != nil {
		return nil, fmt.Errorf("failed to write processed dataset: %w", err)
	}

	report.CompletedAt = time.Now().UTC()
	if err := p.artifacts.Save(ctx, storage.ArtifactETLReport, report); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"rows":     report.Rows,
		"missing":  report.Missing,
		"duration": report.CompletedAt.Sub(report.StartedAt).String(),
	}).Info("ETL complete, processed dataset ready")
	return report, nil
}

func (p *Pipeline) clean(readings []dataset.Reading) ([]dataset.Reading, map[string]int, error) {
	frame := dataset.FrameFromReadings(readings).SortByIndex()

	imputed, err := processing.ImputeMissing(frame, p.cfg.Processing.KNNNeighbors)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to impute missing values: %w", err)
	}

	var capped map[string]int
	if p.cfg.Processing.CapOutliers {
		imputed, capped, err = processing.CapOutliers(imputed, []string{dataset.ColPM25}, p.cfg.Processing.OutlierFactor)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to cap outliers: %w", err)
		}
		p.logger.WithField("capped", capped).Info("Outliers capped")
	}

	cleaned, err := dataset.ReadingsFromFrame(imputed)
	if err != nil {
		return nil, nil, err
	}
	if err := dataset.RequireNoNulls(cleaned); err != nil {
		return nil, nil, err
	}
	return cleaned, capped, nil
}

// scanSpikes runs the sliding-window detectors over the raw pm25 series. It is
// diagnostic only and never fails the run.
func (p *Pipeline) scanSpikes(log *logrus.Entry, readings []dataset.Reading) []*analytics.SpikeSummary {
	index := storage.IndexReadings(readings)
	series, ok := index.Pollutant(dataset.ColPM25)
	if !ok {
		log.Warn("No pm25 series to scan for spikes")
		return nil
	}

	detectors := []analytics.SpikeDetector{
		analytics.NewZScoreDetector(spikeZThreshold, spikeWindow),
		analytics.NewIQRDetector(spikeIQRFactor, spikeWindow),
	}

	var summaries []*analytics.SpikeSummary
	for _, d := range detectors {
		summary, err := analytics.ScanSeries(d, series, spikeWarmup, spikeKeep)
		if err != nil {
			log.WithError(err).WithField("method", d.Name()).Warn("Spike scan skipped")
			continue
		}
		log.WithFields(logrus.Fields{
			"method":  summary.Method,
			"scanned": summary.Scanned,
			"spikes":  summary.Spikes,
		}).Info("Raw pm25 spike scan")
		summaries = append(summaries, summary)
	}
	return summaries
}

// Train reads the processed dataset, fits the scaler, forecaster and risk classifier
// and persists them together with a training report.
func (p *Pipeline) Train(ctx context.Context) (*TrainingReport, error) {
	report := &TrainingReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	log := p.logger.WithField("run_id", report.RunID)
	log.Info("Starting training run")

	readings, err := p.warehouse.Read(p.cfg.Storage.ProcessedCollection)
	if err != nil {
		return nil, err
	}
	report.Rows = len(readings)

	features, err := processing.EngineerFeatures(dataset.FrameFromReadings(readings))
	if err != nil {
		return nil, fmt.Errorf("failed to engineer features: %w", err)
	}
	report.FeatureRows = features.Len()
	if features.Len() == 0 {
		return nil, fmt.Errorf("no feature rows left after dropping the first %d samples", processing.RollingWindow)
	}

	pm25, err := features.Column(dataset.ColPM25)
	if err != nil {
		return nil, err
	}
	if st, err := analytics.CheckStationarity(pm25, analytics.DefaultCorrelationLags); err != nil {
		log.WithError(err).Warn("Stationarity check failed")
	} else {
		report.Stationarity = st
		log.WithFields(logrus.Fields{
			"adf_p_value": st.ADF.PValue,
			"stationary":  st.Stationary,
		}).Info("Stationarity check on pm25")
	}

	scaler, err := p.fitScaler(features)
	if err != nil {
		return nil, err
	}

	forecaster, arimaModel, fcReport, err := p.trainForecaster(log, features, scaler)
	if err != nil {
		return nil, err
	}
	report.Sequences = fcReport.TrainSamples + fcReport.ValidationSamples
	report.Forecaster = fcReport

	labels, err := analytics.DeriveLabels(features)
	if err != nil {
		return nil, err
	}
	classifier := analytics.NewRiskClassifier(p.cfg.Classifier, p.logger)
	clsReport, err := classifier.Train(features, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to train risk classifier: %w", err)
	}
	report.Classifier = clsReport

	report.CompletedAt = time.Now().UTC()
	artifacts := []struct {
		name  string
		value interface{}
	}{
		{storage.ArtifactScaler, scaler},
		{storage.ArtifactForecaster, forecaster},
		{storage.ArtifactClassifier, classifier},
	}
	if arimaModel != nil {
		artifacts = append(artifacts, struct {
			name  string
			value interface{}
		}{storage.ArtifactARIMA, arimaModel})
	}
	artifacts = append(artifacts, struct {
		name  string
		value interface{}
	}{storage.ArtifactTrainingReport, report})
	for _, a := range artifacts {
		if err := p.artifacts.Save(ctx, a.name, a.value); err != nil {
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"rmse":     fcReport.Metrics.RMSE,
		"accuracy": clsReport.Accuracy,
		"duration": report.CompletedAt.Sub(report.StartedAt).String(),
	}).Info("Training complete, artifacts saved")
	return report, nil
}

// fitScaler fits on the leading training slice only
func (p *Pipeline) fitScaler(features *dataset.Frame) (*processing.MinMaxScaler, error) {
	n := int(float64(features.Len()) * p.cfg.Processing.TrainSplit)
	if n < 1 {
		n = 1
	}
	scaler, err := processing.FitMinMax(features.Slice(0, n))
	if err != nil {
		return nil, fmt.Errorf("failed to fit scaler: %w", err)
	}
	return scaler, nil
}

func (p *Pipeline) trainForecaster(log *logrus.Entry, features *dataset.Frame, scaler *processing.MinMaxScaler) (*ml.Forecaster, *ml.ARIMA, *ForecasterReport, error) {
	scaled, err := scaler.Transform(features)
	if err != nil {
		return nil, nil, nil, err
	}

	cols := p.cfg.Processing.SequenceColumns
	x, y, err := processing.CreateSequences(scaled, cols, p.cfg.Processing.SequenceLength)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build sequences: %w", err)
	}
	split := int(float64(len(x)) * p.cfg.Processing.TrainSplit)
	if split < 1 || split >= len(x) {
		return nil, nil, nil, fmt.Errorf("%d sequences cannot be split into training and validation sets", len(x))
	}
	trainX, trainY := x[:split], y[:split]
	valX, valY := x[split:], y[split:]

	fc := p.cfg.Forecast
	forecaster, err := ml.NewForecaster(ml.ForecasterConfig{
		InputSize:    len(cols),
		Hidden1:      fc.Hidden1,
		Hidden2:      fc.Hidden2,
		Dropout:      fc.Dropout,
		Epochs:       fc.Epochs,
		BatchSize:    fc.BatchSize,
		LearningRate: fc.LearningRate,
		Patience:     fc.Patience,
		Seed:         fc.Seed,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	log.WithFields(logrus.Fields{
		"train":      len(trainX),
		"validation": len(valX),
		"window":     p.cfg.Processing.SequenceLength,
	}).Info("Training forecaster")

	history, err := forecaster.Train(trainX, trainY, valX, valY)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to train forecaster: %w", err)
	}
	for _, e := range history.Epochs {
		log.WithFields(logrus.Fields{"epoch": e.Epoch, "loss": e.Loss, "val_loss": e.ValLoss}).Debug("Forecaster epoch")
	}

	report := &ForecasterReport{
		TrainSamples:      len(trainX),
		ValidationSamples: len(valX),
		History:           history,
	}

	scaledPred, err := forecaster.Predict(valX)
	if err != nil {
		return nil, nil, nil, err
	}
	scaledBase := make([]float64, len(valX))
	for i, w := range valX {
		scaledBase[i] = w[len(w)-1][0]
	}

	target := cols[0]
	actual, err := scaler.InverseColumn(target, valY)
	if err != nil {
		return nil, nil, nil, err
	}
	predicted, _ := scaler.InverseColumn(target, scaledPred)
	baseline, _ := scaler.InverseColumn(target, scaledBase)

	metrics, err := analytics.Evaluate(actual, predicted)
	if err != nil {
		return nil, nil, nil, err
	}
	report.Metrics = finite(metrics)
	baseMetrics, _ := analytics.Evaluate(actual, baseline)
	report.Baseline = finite(baseMetrics)

	if dm, err := analytics.DieboldMariano(actual, predicted, baseline); err != nil {
		log.WithError(err).Warn("Diebold-Mariano test against persistence skipped")
	} else {
		report.PersistenceDM = &dm
	}

	var arimaModel *ml.ARIMA
	if p.cfg.ARIMA.Enabled {
		model, arimaReport, arimaPred, err := p.trainARIMA(log, features, target, split+p.cfg.Processing.SequenceLength, len(actual))
		if err != nil {
			log.WithError(err).Warn("ARIMA forecaster skipped")
		} else {
			arimaModel = model
			arimaMetrics, _ := analytics.Evaluate(actual, arimaPred)
			arimaReport.Metrics = finite(arimaMetrics)
			report.ARIMA = arimaReport
			if dm, err := analytics.DieboldMariano(actual, predicted, arimaPred); err != nil {
				log.WithError(err).Warn("Diebold-Mariano test against ARIMA skipped")
			} else {
				report.DieboldMariano = &dm
			}
		}
	}

	fields := logrus.Fields{
		"best_epoch":    history.BestEpoch,
		"stopped_early": history.StoppedEarly,
		"rmse":          report.Metrics.RMSE,
		"baseline_rmse": report.Baseline.RMSE,
	}
	if report.ARIMA != nil {
		fields["arima_rmse"] = report.ARIMA.Metrics.RMSE
	}
	log.WithFields(fields).Info("Forecaster evaluated")
	return forecaster, arimaModel, report, nil
}

// trainARIMA fits ARIMA on the unscaled target column up to the first validation
// target and forecasts the validation horizon, aligned with the sequence targets.
func (p *Pipeline) trainARIMA(log *logrus.Entry, features *dataset.Frame, target string, trainRows, horizon int) (*ml.ARIMA, *ARIMAReport, []float64, error) {
	cfg := p.cfg.ARIMA
	values, err := features.Column(target)
	if err != nil {
		return nil, nil, nil, err
	}
	if trainRows > len(values) {
		return nil, nil, nil, fmt.Errorf("training slice of %d rows exceeds %d feature rows", trainRows, len(values))
	}

	model, err := ml.NewARIMA(ml.ARIMAOrder{P: cfg.P, D: cfg.D, Q: cfg.Q})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := model.Fit(values[:trainRows]); err != nil {
		return nil, nil, nil, err
	}
	forecast, err := model.Forecast(horizon)
	if err != nil {
		return nil, nil, nil, err
	}

	log.WithFields(logrus.Fields{
		"order":   model.Order.String(),
		"aic":     model.AIC,
		"horizon": horizon,
	}).Info("ARIMA forecaster fitted")
	return model, &ARIMAReport{
		Order:        model.Order,
		Observations: trainRows,
		AIC:          model.AIC,
		AICc:         model.AICc,
		BIC:          model.BIC,
	}, forecast, nil
}
