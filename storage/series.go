package storage

import (
	"math"
	"sort"
	"sync"
	"time"

	"air-quality-analytics/dataset"
)

// DataPoint is one timestamped pollutant value
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is a sorted pollutant series with metadata
type Series struct {
	ID     string
	Labels map[string]string
	Points []DataPoint
	mu     sync.RWMutex
}

// NewSeries creates a new series
func NewSeries(id string, labels map[string]string) *Series {
	if labels == nil {
		labels = make(map[string]string)
	}
	return &Series{
		ID:     id,
		Labels: labels,
		Points: make([]DataPoint, 0),
	}
}

// AddPoint inserts a point in timestamp order; an existing timestamp is overwritten
func (s *Series) AddPoint(timestamp time.Time, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Fast path for chronological loads
	n := len(s.Points)
	if n == 0 || s.Points[n-1].Timestamp.Before(timestamp) {
		s.Points = append(s.Points, DataPoint{Timestamp: timestamp, Value: value})
		return
	}

	pos := sort.Search(n, func(i int) bool {
		return s.Points[i].Timestamp.After(timestamp)
	})
	if pos > 0 && s.Points[pos-1].Timestamp.Equal(timestamp) {
		s.Points[pos-1].Value = value
		return
	}

	s.Points = append(s.Points, DataPoint{})
	copy(s.Points[pos+1:], s.Points[pos:])
	s.Points[pos] = DataPoint{Timestamp: timestamp, Value: value}
}

// GetRange returns a copy of the points within [start, end]
func (s *Series) GetRange(start, end time.Time) []DataPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startIdx := sort.Search(len(s.Points), func(i int) bool {
		return !s.Points[i].Timestamp.Before(start)
	})
	endIdx := sort.Search(len(s.Points), func(i int) bool {
		return s.Points[i].Timestamp.After(end)
	})
	if startIdx >= endIdx {
		return nil
	}

	result := make([]DataPoint, endIdx-startIdx)
	copy(result, s.Points[startIdx:endIdx])
	return result
}

// GetLatest returns a copy of the most recent count points
func (s *Series) GetLatest(count int) []DataPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if count <= 0 || len(s.Points) == 0 {
		return nil
	}

	start := len(s.Points) - count
	if start < 0 {
		start = 0
	}

	result := make([]DataPoint, len(s.Points)-start)
	copy(result, s.Points[start:])
	return result
}

// Last returns the most recent point
func (s *Series) Last() (DataPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.Points) == 0 {
		return DataPoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Size returns the number of points
func (s *Series) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Points)
}

// SeriesIndex holds one series per sensor and pollutant of a processed dataset
type SeriesIndex struct {
	series map[string]*Series
	order  []string
	mu     sync.RWMutex
}

// NewSeriesIndex creates an empty index
func NewSeriesIndex() *SeriesIndex {
	return &SeriesIndex{series: make(map[string]*Series)}
}

// IndexReadings builds an index from cleaned readings. Missing pm25 values are skipped.
func IndexReadings(readings []dataset.Reading) *SeriesIndex {
	idx := NewSeriesIndex()
	for _, r := range readings {
		values := map[string]float64{
			dataset.ColPM10: r.PM10,
			dataset.ColNO2:  r.NO2,
			dataset.ColO3:   r.O3,
		}
		if r.PM25 != nil {
			values[dataset.ColPM25] = *r.PM25
		}
		for _, pollutant := range dataset.Pollutants {
			v, ok := values[pollutant]
			if !ok {
				continue
			}
			idx.AddPoint(r.SensorID, r.Location, pollutant, r.Timestamp, v)
		}
	}
	return idx
}

// SeriesID returns the index key of a sensor's pollutant series
func SeriesID(sensorID, pollutant string) string {
	return sensorID + "." + pollutant
}

// AddPoint adds a value to the series of a sensor's pollutant
func (idx *SeriesIndex) AddPoint(sensorID, location, pollutant string, timestamp time.Time, value float64) {
	idx.mu.Lock()
	id := SeriesID(sensorID, pollutant)
	series, exists := idx.series[id]
	if !exists {
		series = NewSeries(id, map[string]string{
			dataset.ColSensorID: sensorID,
			dataset.ColLocation: location,
			"pollutant":         pollutant,
		})
		idx.series[id] = series
		idx.order = append(idx.order, id)
	}
	idx.mu.Unlock()

	series.AddPoint(timestamp, value)
}

// GetSeries returns a series by id
func (idx *SeriesIndex) GetSeries(id string) (*Series, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	series, exists := idx.series[id]
	return series, exists
}

// Pollutant returns the series of a pollutant for the first sensor indexed
func (idx *SeriesIndex) Pollutant(pollutant string) (*Series, bool) {
	matches := idx.GetSeriesByLabels(map[string]string{"pollutant": pollutant})
	if len(matches) == 0 {
		return nil, false
	}
	return matches[0], true
}

// GetSeriesByLabels returns series matching every label filter, in insertion order
func (idx *SeriesIndex) GetSeriesByLabels(labelFilters map[string]string) []*Series {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var result []*Series
	for _, id := range idx.order {
		series := idx.series[id]
		if matchesLabels(series.Labels, labelFilters) {
			result = append(result, series)
		}
	}
	return result
}

// GetSeriesCount returns the number of series
func (idx *SeriesIndex) GetSeriesCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.series)
}

// AggregationFunc reduces points to a single value
type AggregationFunc func([]DataPoint) float64

var (
	// Avg calculates the average value
	Avg AggregationFunc = func(points []DataPoint) float64 {
		if len(points) == 0 {
			return math.NaN()
		}
		return Sum(points) / float64(len(points))
	}

	// Max finds the maximum value
	Max AggregationFunc = func(points []DataPoint) float64 {
		if len(points) == 0 {
			return math.NaN()
		}
		max := points[0].Value
		for _, p := range points {
			if p.Value > max {
				max = p.Value
			}
		}
		return max
	}

	// Min finds the minimum value
	Min AggregationFunc = func(points []DataPoint) float64 {
		if len(points) == 0 {
			return math.NaN()
		}
		min := points[0].Value
		for _, p := range points {
			if p.Value < min {
				min = p.Value
			}
		}
		return min
	}

	// Sum calculates the sum of all values
	Sum AggregationFunc = func(points []DataPoint) float64 {
		sum := 0.0
		for _, p := range points {
			sum += p.Value
		}
		return sum
	}
)

// Aggregate applies an aggregation function to a time range
func (s *Series) Aggregate(start, end time.Time, aggFunc AggregationFunc) float64 {
	return aggFunc(s.GetRange(start, end))
}

// Values returns the values of points in order
func Values(points []DataPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

func matchesLabels(seriesLabels, filters map[string]string) bool {
	for key, value := range filters {
		if seriesLabels[key] != value {
			return false
		}
	}
	return true
}
