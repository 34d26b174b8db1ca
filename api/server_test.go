package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"air-quality-analytics/analytics"
	"air-quality-analytics/analytics/ml"
	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
	"air-quality-analytics/logging"
	"air-quality-analytics/pipeline"
	"air-quality-analytics/processing"
	"air-quality-analytics/storage"
)

var testStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func testReadings(n int) []dataset.Reading {
	readings := make([]dataset.Reading, n)
	for i := range readings {
		readings[i] = dataset.Reading{
			Timestamp: testStart.Add(time.Duration(i) * time.Hour),
			PM25:      dataset.Float(40 + float64(i%10)),
			PM10:      60,
			NO2:       20 + float64(i%5),
			O3:        30,
			SensorID:  "S1",
			Location:  "Hanoi",
		}
	}
	return readings
}

func testApp(t *testing.T, n int) *App {
	t.Helper()
	readings := testReadings(n)

	frame := dataset.FrameFromReadings(readings)
	labels, err := analytics.DeriveLabels(frame)
	require.NoError(t, err)
	classifier := analytics.NewRiskClassifier(config.ClassifierConfig{Trees: 3, TestSize: 0.2, Seed: 1}, logging.Discard())
	_, err = classifier.Train(frame, labels)
	require.NoError(t, err)

	return &App{
		Readings:   readings,
		Series:     storage.IndexReadings(readings),
		Classifier: classifier,
		LoadedAt:   time.Now(),
	}
}

func newTestServer(app *App, cfg config.ServerConfig) *Server {
	return NewServer(app, cfg, logging.Discard())
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHistory(t *testing.T) {
	s := newTestServer(testApp(t, 200), config.ServerConfig{})

	rec := do(t, s, "GET", "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HistoryResponse
	decode(t, rec, &resp)
	assert.Equal(t, 24, resp.Stats.Count)
	assert.Len(t, resp.Dates, 24)
	assert.Len(t, resp.PM25, 24)
	assert.Len(t, resp.NO2, 24)
	assert.Equal(t, testStart.Add(199*time.Hour).Format("2006-01-02 15:04:05"), resp.Dates[23])
	assert.Equal(t, 24.0, resp.Stats.MaxNO2)

	rec = do(t, s, "GET", "/api/history?period=7d", "")
	decode(t, rec, &resp)
	assert.Equal(t, 168, resp.Stats.Count)

	rec = do(t, s, "GET", "/api/history?period=30d", "")
	decode(t, rec, &resp)
	assert.Equal(t, 200, resp.Stats.Count)
	assert.Equal(t, 44.5, resp.Stats.AvgPM25)

	rec = do(t, s, "GET", "/api/history?period=1y", "")
	decode(t, rec, &resp)
	assert.Equal(t, 24, resp.Stats.Count)
}

func TestHistory_NoDataset(t *testing.T) {
	s := newTestServer(&App{}, config.ServerConfig{})

	rec := do(t, s, "GET", "/api/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "Data not found", body["error"])

	rec = do(t, s, "GET", "/api/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	app := testApp(t, 100)
	s := newTestServer(app, config.ServerConfig{})

	rec := do(t, s, "GET", "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	decode(t, rec, &resp)
	assert.Equal(t, analytics.RiskSafe, resp.CurrentRisk)
	assert.Equal(t, 49.0, resp.LatestPM25)
	assert.Nil(t, resp.MAPE)
	assert.Len(t, resp.HistoryValues, 48)
	assert.Len(t, resp.HistoryDates, 48)
	require.Len(t, resp.ForecastValues, 24)
	assert.Equal(t, 49.0, resp.ForecastValues[0])
	assert.Equal(t, resp.HistoryDates[47], resp.ForecastDates[0])
	assert.Contains(t, resp.Briefing, "classified as Safe")
	assert.Contains(t, resp.Insight, "PM10")

	app.Report = &pipeline.TrainingReport{
		Forecaster: &pipeline.ForecasterReport{Metrics: analytics.ForecastMetrics{MAPE: 12.3}},
	}
	rec = do(t, s, "GET", "/api/stats", "")
	decode(t, rec, &resp)
	require.NotNil(t, resp.MAPE)
	assert.Equal(t, 12.3, *resp.MAPE)
}

func TestPlaceholderForecast(t *testing.T) {
	dates, values := placeholderForecast(100, testStart)
	require.Len(t, values, 24)
	assert.Equal(t, 100.0, values[0])
	assert.InDelta(t, 100*(1+0.1*0.8414709848), values[5], 1e-6)
	assert.Equal(t, "2024-03-01 23:00:00", dates[23])

	_, values = placeholderForecast(-5, testStart)
	for _, v := range values {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestPredictRisk(t *testing.T) {
	s := newTestServer(testApp(t, 100), config.ServerConfig{})

	rec := do(t, s, "POST", "/predict/risk", `{"pm25": 45, "pm10": 60, "no2": 20, "o3": 30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RiskResponse
	decode(t, rec, &resp)
	assert.Equal(t, analytics.RiskSafe, resp.RiskLevel)

	rec = do(t, s, "POST", "/predict/risk", `{"pm25": 45}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Contains(t, body["error"], "feature mismatch")

	rec = do(t, s, "POST", "/predict/risk", `{"pm25": 45, "pm10": 60, "no2": 20, "o3": 30, "hour": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "POST", "/predict/risk", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	noModel := newTestServer(&App{}, config.ServerConfig{})
	rec = do(t, noModel, "POST", "/predict/risk", `{"pm25": 45}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPredictRisk_ClassifierErrorIsBadRequest(t *testing.T) {
	s := newTestServer(&App{Classifier: &analytics.RiskClassifier{}}, config.ServerConfig{})

	rec := do(t, s, "POST", "/predict/risk", `{"pm25": 45, "pm10": 60, "no2": 20, "o3": 30}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, ml.ErrNotTrained.Error(), body["error"])
}

func TestPredictForecast_NotImplemented(t *testing.T) {
	s := newTestServer(&App{}, config.ServerConfig{})

	rec := do(t, s, "POST", "/predict/forecast", `{"history": []}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "forecast endpoint not implemented", body["error"])
}

func TestSeriesAndQuery(t *testing.T) {
	s := newTestServer(testApp(t, 50), config.ServerConfig{})

	rec := do(t, s, "GET", "/api/series?pollutant=pm25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Series []SeriesInfo `json:"series"`
		Count  int          `json:"count"`
	}
	decode(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "S1.pm25", list.Series[0].ID)
	assert.Equal(t, 50, list.Series[0].Points)

	rec = do(t, s, "GET", "/api/series?sensor_id=S1", "")
	decode(t, rec, &list)
	assert.Equal(t, 4, list.Count)

	rec = do(t, s, "GET", "/api/query?series=S1.no2&agg=max", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var agg map[string]interface{}
	decode(t, rec, &agg)
	assert.Equal(t, 24.0, agg["value"])

	rec = do(t, s, "GET", "/api/query?series=S1.pm25&start=2024-03-01T00:00:00&end=2024-03-01T10:00:00", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &agg)
	assert.Equal(t, 11.0, agg["count"])

	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/query", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/query?series=nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/query?series=S1.pm25&agg=median", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "GET", "/api/query?series=S1.pm25&start=yesterday", "").Code)
}

func TestHealthRootAndCORS(t *testing.T) {
	s := newTestServer(testApp(t, 30), config.ServerConfig{})

	rec := do(t, s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, true, health["dataset"])
	assert.Equal(t, map[string]interface{}{"scaler": false, "classifier": true, "forecaster": false}, health["models"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s, "GET", "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "OPTIONS", "/predict/risk", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(testApp(t, 30), config.ServerConfig{})

	do(t, s, "GET", "/health", "")
	do(t, s, "POST", "/predict/risk", `{"pm25": 45, "pm10": 60, "no2": 20, "o3": 30}`)

	rec := do(t, s, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{endpoint="/health",method="GET",status="200"} 1`)
	assert.Contains(t, body, `risk_predictions_total{risk_level="Safe"} 1`)
	assert.Contains(t, body, "http_request_duration_seconds")
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(&App{}, config.ServerConfig{RateLimit: 1, RateBurst: 1})

	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/health", "").Code)
	rec := do(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLoadApp(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig().Storage
	cfg.WarehouseDir = dir + "/processed"
	cfg.ModelDir = dir + "/models"
	logger := logging.Discard()

	app, err := LoadApp(cfg, logger)
	require.NoError(t, err)
	assert.Nil(t, app.Series)
	assert.Nil(t, app.Classifier)
	_, ok := app.Latest()
	assert.False(t, ok)

	warehouse, err := storage.NewWarehouse(cfg.WarehouseDir, logger)
	require.NoError(t, err)
	require.NoError(t, warehouse.Write(cfg.ProcessedCollection, testReadings(40)))

	artifacts, err := storage.NewArtifactStore(cfg.ModelDir, nil, logger)
	require.NoError(t, err)
	scaler, err := processing.FitMinMax(dataset.FrameFromReadings(testReadings(40)))
	require.NoError(t, err)
	require.NoError(t, artifacts.Save(context.Background(), storage.ArtifactScaler, scaler))
	require.NoError(t, artifacts.Save(context.Background(), storage.ArtifactClassifier, testApp(t, 40).Classifier))

	app, err = LoadApp(cfg, logger)
	require.NoError(t, err)
	assert.Len(t, app.Readings, 40)
	assert.Equal(t, 4, app.Series.GetSeriesCount())
	require.NotNil(t, app.Scaler)
	assert.Equal(t, scaler.Columns, app.Scaler.Columns)
	require.NotNil(t, app.Classifier)
	assert.Nil(t, app.Forecaster)
	assert.Nil(t, app.Report)

	level, err := app.Classifier.Predict(map[string]float64{"pm25": 41, "pm10": 60, "no2": 20, "o3": 30})
	require.NoError(t, err)
	assert.Equal(t, analytics.RiskSafe, level)
}
