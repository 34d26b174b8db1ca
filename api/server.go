package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"air-quality-analytics/analytics"
	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
	"air-quality-analytics/logging"
	"air-quality-analytics/narrative"
	"air-quality-analytics/storage"
)

// Dashboard sizes
const (
	statsHistoryRows = 48
	forecastPoints   = 24
	dateLayout       = "2006-01-02 15:04:05"
)

// historyPeriods maps the period parameter to a row count; anything else is 24h
var historyPeriods = map[string]int{
	"24h": 24,
	"7d":  168,
	"30d": 720,
}

var startTime = time.Now()

// Server represents the HTTP API server
type Server struct {
	router  *mux.Router
	app     *App
	metrics *Metrics
	logger  *logrus.Logger
}

// NewServer creates a new API server over a loaded application context
func NewServer(app *App, cfg config.ServerConfig, logger *logrus.Logger) *Server {
	server := &Server{
		router:  mux.NewRouter(),
		app:     app,
		metrics: NewMetrics(),
		logger:  logging.OrDefault(logger),
	}

	server.router.Use(server.instrument)
	if cfg.RateLimit > 0 {
		server.router.Use(server.rateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)))
	}
	server.setupRoutes()
	return server
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Add CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

	// Handle preflight requests
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/history", s.getHistory).Methods("GET")
	api.HandleFunc("/stats", s.getStats).Methods("GET")
	api.HandleFunc("/series", s.listSeries).Methods("GET")
	api.HandleFunc("/query", s.queryData).Methods("GET")

	predict := s.router.PathPrefix("/predict").Subrouter()
	predict.HandleFunc("/risk", s.predictRisk).Methods("POST")
	predict.HandleFunc("/forecast", s.predictForecast).Methods("POST")

	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/", s.rootHandler).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// HistoryStats summarizes a history window
type HistoryStats struct {
	AvgPM25 float64 `json:"avg_pm25"`
	MaxNO2  float64 `json:"max_no2"`
	Count   int     `json:"count"`
}

// HistoryResponse is returned by GET /api/history
type HistoryResponse struct {
	Dates []string     `json:"dates"`
	PM25  []float64    `json:"pm25"`
	PM10  []float64    `json:"pm10"`
	NO2   []float64    `json:"no2"`
	Stats HistoryStats `json:"stats"`
}

// latestPoints returns the newest limit points of each requested pollutant
func (s *Server) latestPoints(limit int, pollutants ...string) (map[string][]storage.DataPoint, bool) {
	if s.app == nil || s.app.Series == nil {
		return nil, false
	}
	out := make(map[string][]storage.DataPoint, len(pollutants))
	for _, p := range pollutants {
		series, ok := s.app.Series.Pollutant(p)
		if !ok {
			return nil, false
		}
		out[p] = series.GetLatest(limit)
	}
	return out, true
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := historyPeriods[r.URL.Query().Get("period")]
	if !ok {
		limit = historyPeriods["24h"]
	}

	points, ok := s.latestPoints(limit, dataset.ColPM25, dataset.ColPM10, dataset.ColNO2)
	if !ok {
		writeError(w, http.StatusNotFound, "Data not found")
		return
	}

	pm25 := points[dataset.ColPM25]
	dates := make([]string, len(pm25))
	for i, p := range pm25 {
		dates[i] = p.Timestamp.Format(dateLayout)
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Dates: dates,
		PM25:  storage.Values(pm25),
		PM10:  storage.Values(points[dataset.ColPM10]),
		NO2:   storage.Values(points[dataset.ColNO2]),
		Stats: HistoryStats{
			AvgPM25: round1(storage.Avg(pm25)),
			MaxNO2:  round1(storage.Max(points[dataset.ColNO2])),
			Count:   len(pm25),
		},
	})
}

// StatsResponse is returned by GET /api/stats
type StatsResponse struct {
	CurrentRisk    analytics.RiskLevel `json:"current_risk"`
	LatestPM25     float64             `json:"latest_pm25"`
	ForecastAvg    float64             `json:"forecast_avg"`
	MAPE           *float64            `json:"mape"`
	HistoryDates   []string            `json:"history_dates"`
	HistoryValues  []float64           `json:"history_values"`
	ForecastDates  []string            `json:"forecast_dates"`
	ForecastValues []float64           `json:"forecast_values"`
	Briefing       string              `json:"briefing"`
	Insight        string              `json:"insight"`
}

// placeholderForecast is a sinusoidal preview around the latest value, hourly from its timestamp
func placeholderForecast(pm25 float64, from time.Time) ([]string, []float64) {
	dates := make([]string, forecastPoints)
	values := make([]float64, forecastPoints)
	for i := range values {
		values[i] = math.Max(0, pm25*(1+math.Sin(float64(i)/5)*0.1))
		dates[i] = from.Add(time.Duration(i) * time.Hour).Format(dateLayout)
	}
	return dates, values
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.app.Latest()
	if !ok || latest.PM25 == nil {
		writeError(w, http.StatusNotFound, "Data not found. Run pipeline first.")
		return
	}
	points, ok := s.latestPoints(statsHistoryRows, dataset.ColPM25)
	if !ok {
		writeError(w, http.StatusNotFound, "Data not found. Run pipeline first.")
		return
	}

	pm25 := *latest.PM25
	risk := analytics.ClassifyPM25(pm25)
	forecastDates, forecastValues := placeholderForecast(pm25, latest.Timestamp)
	trend := forecastValues[len(forecastValues)-1] - forecastValues[0]

	history := points[dataset.ColPM25]
	historyDates := make([]string, len(history))
	for i, p := range history {
		historyDates[i] = p.Timestamp.Format(dateLayout)
	}

	avg := 0.0
	for _, v := range forecastValues {
		avg += v
	}
	avg /= float64(len(forecastValues))

	response := StatsResponse{
		CurrentRisk:    risk,
		LatestPM25:     pm25,
		ForecastAvg:    avg,
		HistoryDates:   historyDates,
		HistoryValues:  storage.Values(history),
		ForecastDates:  forecastDates,
		ForecastValues: forecastValues,
		Briefing:       narrative.Briefing(risk, trend),
		Insight:        narrative.Insight(latest),
	}
	if mape, ok := s.app.Report.MAPE(); ok {
		response.MAPE = &mape
	}
	writeJSON(w, http.StatusOK, response)
}

// SeriesInfo describes one indexed series
type SeriesInfo struct {
	ID     string            `json:"id"`
	Labels map[string]string `json:"labels"`
	Points int               `json:"points"`
}

func (s *Server) listSeries(w http.ResponseWriter, r *http.Request) {
	if s.app == nil || s.app.Series == nil {
		writeError(w, http.StatusNotFound, "Data not found")
		return
	}

	// Any query parameter is a label filter
	filters := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			filters[key] = values[0]
		}
	}

	seriesList := s.app.Series.GetSeriesByLabels(filters)
	infos := make([]SeriesInfo, 0, len(seriesList))
	for _, series := range seriesList {
		infos = append(infos, SeriesInfo{ID: series.ID, Labels: series.Labels, Points: series.Size()})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"series": infos,
		"count":  len(infos),
	})
}

var aggregations = map[string]storage.AggregationFunc{
	"avg": storage.Avg,
	"max": storage.Max,
	"min": storage.Min,
	"sum": storage.Sum,
}

func parseTime(value string, fallback time.Time) (time.Time, error) {
	if value == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return dataset.ParseTimestamp(value)
}

func (s *Server) queryData(w http.ResponseWriter, r *http.Request) {
	if s.app == nil || s.app.Series == nil {
		writeError(w, http.StatusNotFound, "Data not found")
		return
	}

	query := r.URL.Query()
	seriesID := query.Get("series")
	if seriesID == "" {
		writeError(w, http.StatusBadRequest, "Missing 'series' parameter")
		return
	}
	series, ok := s.app.Series.GetSeries(seriesID)
	if !ok {
		writeError(w, http.StatusNotFound, "Series not found")
		return
	}

	start, err := parseTime(query.Get("start"), time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid start time format: %v", err))
		return
	}
	end, err := parseTime(query.Get("end"), time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid end time format: %v", err))
		return
	}

	response := map[string]interface{}{
		"series_id": series.ID,
		"labels":    series.Labels,
	}
	if name := query.Get("agg"); name != "" {
		agg, ok := aggregations[name]
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown aggregation %q", name))
			return
		}
		value := series.Aggregate(start, end, agg)
		if math.IsNaN(value) {
			writeError(w, http.StatusNotFound, "No points in range")
			return
		}
		response["aggregation"] = name
		response["value"] = value
	} else {
		points := series.GetRange(start, end)
		response["points"] = points
		response["count"] = len(points)
	}
	writeJSON(w, http.StatusOK, response)
}

// RiskResponse is returned by POST /predict/risk
type RiskResponse struct {
	RiskLevel analytics.RiskLevel `json:"risk_level"`
}

func (s *Server) predictRisk(w http.ResponseWriter, r *http.Request) {
	if s.app == nil || s.app.Classifier == nil {
		writeError(w, http.StatusServiceUnavailable, "risk classifier is not loaded")
		return
	}

	var features map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&features); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	level, err := s.app.Classifier.Predict(features)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.metrics.riskPredictions.WithLabelValues(string(level)).Inc()
	writeJSON(w, http.StatusOK, RiskResponse{RiskLevel: level})
}

func (s *Server) predictForecast(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "forecast endpoint not implemented")
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
		"dataset":   s.app != nil && len(s.app.Readings) > 0,
		"models":    s.app.Models(),
	})
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "Air Quality Analytics",
		"version":     "0.1.0",
		"description": "Air quality history, risk classification and forecasting",
		"endpoints": map[string]string{
			"GET  /api/history?period=24h|7d|30d": "Recent pm25, pm10 and no2 readings",
			"GET  /api/stats":                     "Dashboard summary with forecast preview",
			"GET  /api/series":                    "List indexed series, filtered by labels",
			"GET  /api/query":                     "Query or aggregate one series",
			"POST /predict/risk":                  "Classify engineered features into a risk level",
			"POST /predict/forecast":              "Not implemented",
			"GET  /health":                        "Health check",
			"GET  /metrics":                       "Prometheus metrics",
		},
	})
}
