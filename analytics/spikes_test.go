package analytics

import (
	"math"
	"testing"
	"time"

	"air-quality-analytics/storage"
)

func generateTestPoints(count int, base, amplitude float64) []storage.DataPoint {
	points := make([]storage.DataPoint, count)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range points {
		points[i] = storage.DataPoint{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Value:     base + amplitude*math.Sin(float64(i)),
		}
	}
	return points
}

func TestZScoreDetector_Train(t *testing.T) {
	detector := NewZScoreDetector(3.0, 100)

	err := detector.Train(generateTestPoints(100, 50.0, 10.0))
	if err != nil {
		t.Errorf("Training failed: %v", err)
	}

	if math.Abs(detector.mean-50) > 1 {
		t.Errorf("Mean should be close to 50, got %f", detector.mean)
	}

	if detector.stdDev == 0 {
		t.Error("Standard deviation should be calculated after training")
	}

	if err := detector.Train(nil); err == nil {
		t.Error("Training on no points should fail")
	}
}

func TestZScoreDetector_Detect(t *testing.T) {
	detector := NewZScoreDetector(2.0, 50)
	detector.Train(generateTestPoints(50, 100.0, 5.0))

	result, err := detector.Detect(storage.DataPoint{Timestamp: time.Now(), Value: 102.0})
	if err != nil {
		t.Errorf("Detection failed: %v", err)
	}
	if result.IsSpike {
		t.Error("Normal point should not be detected as spike")
	}

	result, err = detector.Detect(storage.DataPoint{Timestamp: time.Now(), Value: 150.0})
	if err != nil {
		t.Errorf("Detection failed: %v", err)
	}
	if !result.IsSpike {
		t.Error("Spike should be detected")
	}
	if result.Score <= 2.0 {
		t.Errorf("Spike score should be > 2.0, got %f", result.Score)
	}
	if result.Method != "zscore" {
		t.Errorf("Expected method zscore, got %s", result.Method)
	}

	if _, err := detector.Detect(storage.DataPoint{Value: math.NaN()}); err == nil {
		t.Error("Missing values should be rejected")
	}
}

func TestIQRDetector_Detect(t *testing.T) {
	detector := NewIQRDetector(1.5, 100)
	detector.Train(generateTestPoints(100, 50.0, 10.0))

	result, err := detector.Detect(storage.DataPoint{Timestamp: time.Now(), Value: 52.0})
	if err != nil {
		t.Errorf("Detection failed: %v", err)
	}
	if result.IsSpike {
		t.Error("Normal point should not be detected as spike")
	}

	result, err = detector.Detect(storage.DataPoint{Timestamp: time.Now(), Value: 200.0})
	if err != nil {
		t.Errorf("Detection failed: %v", err)
	}
	if !result.IsSpike {
		t.Error("Spike should be detected")
	}
	if result.Score <= 0 {
		t.Errorf("Spike score should be positive, got %f", result.Score)
	}
	if result.ExpectedRange.Max >= 200 {
		t.Errorf("Expected upper fence below the spike, got %f", result.ExpectedRange.Max)
	}
}

func TestIQRDetector_WarmsUp(t *testing.T) {
	detector := NewIQRDetector(1.5, 10)

	for i, v := range []float64{1, 2, 3, 1000} {
		result, err := detector.Detect(storage.DataPoint{Value: v})
		if err != nil {
			t.Fatalf("Detection failed: %v", err)
		}
		if result.IsSpike {
			t.Errorf("Point %d should not be scored before the window fills", i)
		}
	}

	if len(detector.values) != 4 {
		t.Errorf("Expected 4 values in window, got %d", len(detector.values))
	}
}

func TestScanSeries(t *testing.T) {
	series := storage.NewSeries("S001.pm25", nil)
	for _, p := range generateTestPoints(200, 40.0, 5.0) {
		series.AddPoint(p.Timestamp, p.Value)
	}
	spikes := map[int]float64{120: 400, 150: 300, 180: 250}
	points := series.GetLatest(series.Size())
	for i, v := range spikes {
		series.AddPoint(points[i].Timestamp, v)
	}

	summary, err := ScanSeries(NewZScoreDetector(3.0, 48), series, 48, 2)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if summary.Scanned != 152 {
		t.Errorf("Expected 152 scanned points, got %d", summary.Scanned)
	}
	if summary.Spikes != 3 {
		t.Errorf("Expected 3 spikes, got %d", summary.Spikes)
	}
	if len(summary.Worst) != 2 {
		t.Fatalf("Expected 2 worst spikes, got %d", len(summary.Worst))
	}
	if summary.Worst[0].Value != 400 {
		t.Errorf("Expected worst spike 400, got %f", summary.Worst[0].Value)
	}

	if _, err := ScanSeries(NewZScoreDetector(3.0, 48), series, 500, 2); err == nil {
		t.Error("Scanning with a warmup longer than the series should fail")
	}
}
