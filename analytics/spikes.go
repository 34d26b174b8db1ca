package analytics

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"air-quality-analytics/processing"
	"air-quality-analytics/storage"
)

// SpikeDetector flags readings that break away from a sliding window of recent values
type SpikeDetector interface {
	Name() string
	Train(points []storage.DataPoint) error
	Detect(point storage.DataPoint) (SpikeResult, error)
}

// SpikeResult represents the verdict for one reading
type SpikeResult struct {
	IsSpike       bool             `json:"is_spike"`
	Score         float64          `json:"score"`
	Threshold     float64          `json:"threshold"`
	Method        string           `json:"method"`
	Timestamp     time.Time        `json:"timestamp"`
	Value         float64          `json:"value"`
	ExpectedRange processing.Range `json:"expected_range,omitempty"`
}

// ZScoreDetector flags values more than threshold standard deviations from the window mean
type ZScoreDetector struct {
	threshold  float64
	windowSize int
	mean       float64
	stdDev     float64
	values     []float64
	mu         sync.Mutex
}

// NewZScoreDetector creates a new z-score spike detector
func NewZScoreDetector(threshold float64, windowSize int) *ZScoreDetector {
	return &ZScoreDetector{
		threshold:  threshold,
		windowSize: windowSize,
		values:     make([]float64, 0, windowSize),
	}
}

func (z *ZScoreDetector) Name() string {
	return "zscore"
}

func (z *ZScoreDetector) Train(points []storage.DataPoint) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if len(points) == 0 {
		return fmt.Errorf("no data points provided for training")
	}

	values := storage.Values(points)
	if len(values) > z.windowSize {
		values = values[len(values)-z.windowSize:]
	}
	z.values = values
	z.updateStatistics()
	return nil
}

func (z *ZScoreDetector) Detect(point storage.DataPoint) (SpikeResult, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	result := SpikeResult{
		Threshold: z.threshold,
		Method:    z.Name(),
		Timestamp: point.Timestamp,
		Value:     point.Value,
	}
	if math.IsNaN(point.Value) {
		return result, fmt.Errorf("cannot score a missing value at %s", point.Timestamp)
	}
	if len(z.values) < 3 {
		z.push(point.Value)
		return result, nil
	}

	result.Score = math.Abs(point.Value-z.mean) / z.stdDev
	result.IsSpike = result.Score > z.threshold
	result.ExpectedRange = processing.Range{
		Min: z.mean - z.threshold*z.stdDev,
		Max: z.mean + z.threshold*z.stdDev,
	}

	z.push(point.Value)
	return result, nil
}

func (z *ZScoreDetector) push(v float64) {
	z.values = append(z.values, v)
	if len(z.values) > z.windowSize {
		z.values = z.values[1:]
	}
	z.updateStatistics()
}

func (z *ZScoreDetector) updateStatistics() {
	if len(z.values) < 2 {
		z.mean, z.stdDev = 0, 0
		if len(z.values) == 1 {
			z.mean = z.values[0]
		}
		return
	}
	z.mean, z.stdDev = stat.MeanStdDev(z.values, nil)

	// Prevent division by zero
	if z.stdDev == 0 {
		z.stdDev = 1e-10
	}
}

// IQRDetector flags values outside the Tukey fences of the window
type IQRDetector struct {
	multiplier float64
	windowSize int
	values     []float64
	mu         sync.Mutex
}

// NewIQRDetector creates a new IQR spike detector
func NewIQRDetector(multiplier float64, windowSize int) *IQRDetector {
	return &IQRDetector{
		multiplier: multiplier,
		windowSize: windowSize,
		values:     make([]float64, 0, windowSize),
	}
}

func (d *IQRDetector) Name() string {
	return "iqr"
}

func (d *IQRDetector) Train(points []storage.DataPoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(points) == 0 {
		return fmt.Errorf("no data points provided for training")
	}

	values := storage.Values(points)
	if len(values) > d.windowSize {
		values = values[len(values)-d.windowSize:]
	}
	d.values = values
	return nil
}

func (d *IQRDetector) Detect(point storage.DataPoint) (SpikeResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := SpikeResult{
		Threshold: d.multiplier,
		Method:    d.Name(),
		Timestamp: point.Timestamp,
		Value:     point.Value,
	}
	if math.IsNaN(point.Value) {
		return result, fmt.Errorf("cannot score a missing value at %s", point.Timestamp)
	}

	bounds, ok := processing.OutlierBounds(d.values, d.multiplier)
	if len(d.values) < 4 || !ok {
		d.push(point.Value)
		return result, nil
	}

	// Distance from the nearest fence in units of the fence width
	width := (bounds.Max - bounds.Min) / (1 + 2*d.multiplier)
	if width == 0 {
		width = 1e-10
	}
	switch {
	case point.Value < bounds.Min:
		result.Score = (bounds.Min - point.Value) / width
	case point.Value > bounds.Max:
		result.Score = (point.Value - bounds.Max) / width
	}
	result.IsSpike = point.Value < bounds.Min || point.Value > bounds.Max
	result.ExpectedRange = bounds

	d.push(point.Value)
	return result, nil
}

func (d *IQRDetector) push(v float64) {
	d.values = append(d.values, v)
	if len(d.values) > d.windowSize {
		d.values = d.values[1:]
	}
}

// SpikeSummary counts the spikes one detector found in a series
type SpikeSummary struct {
	Series  string        `json:"series"`
	Method  string        `json:"method"`
	Scanned int           `json:"scanned"`
	Spikes  int           `json:"spikes"`
	Worst   []SpikeResult `json:"worst,omitempty"`
}

// ScanSeries trains the detector on the first warmup points and scores the rest.
// At most keep of the highest-scoring spikes are returned in Worst.
func ScanSeries(detector SpikeDetector, series *storage.Series, warmup, keep int) (*SpikeSummary, error) {
	points := series.GetLatest(series.Size())
	if len(points) <= warmup {
		return nil, fmt.Errorf("series %s has %d points, need more than %d", series.ID, len(points), warmup)
	}
	if err := detector.Train(points[:warmup]); err != nil {
		return nil, err
	}

	summary := &SpikeSummary{Series: series.ID, Method: detector.Name()}
	for _, p := range points[warmup:] {
		result, err := detector.Detect(p)
		if err != nil {
			return nil, err
		}
		summary.Scanned++
		if !result.IsSpike {
			continue
		}
		summary.Spikes++
		summary.Worst = insertWorst(summary.Worst, result, keep)
	}
	return summary, nil
}

func insertWorst(worst []SpikeResult, r SpikeResult, keep int) []SpikeResult {
	if keep <= 0 {
		return worst
	}
	pos := len(worst)
	for i, w := range worst {
		if r.Score > w.Score {
			pos = i
			break
		}
	}
	if pos >= keep {
		return worst
	}
	worst = append(worst, SpikeResult{})
	copy(worst[pos+1:], worst[pos:])
	worst[pos] = r
	if len(worst) > keep {
		worst = worst[:keep]
	}
	return worst
}
