// Package generator produces synthetic air-quality readings with trend,
// daily and weekly seasonality, noise, missing values and outlier spikes.
package generator

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
	"air-quality-analytics/logging"
)

// Seasonal amplitudes of the daily (24 samples) and weekly (168 samples) cycles
const (
	DailyAmplitude  = 10.0
	WeeklyAmplitude = 5.0
	DailyPeriod     = 24.0
	WeeklyPeriod    = 168.0
)

// SeriesParams describes one pollutant series
type SeriesParams struct {
	Column string
	Base   float64
	Trend  float64
	Noise  float64 // standard deviation of the gaussian noise
}

// DefaultSeries are the pollutant profiles of the demo sensor
var DefaultSeries = []SeriesParams{
	{Column: dataset.ColPM25, Base: 30, Trend: 0.005, Noise: 5},
	{Column: dataset.ColPM10, Base: 50, Trend: 0.005, Noise: 8},
	{Column: dataset.ColNO2, Base: 20, Trend: 0.002, Noise: 4},
	{Column: dataset.ColO3, Base: 40, Trend: -0.001, Noise: 6},
}

// Config controls a generation run
type Config struct {
	Samples     int
	Start       time.Time
	Frequency   time.Duration
	Seed        int64 // 0 seeds from the clock
	SensorID    string
	Location    string
	MissingRate float64
	SpikeRate   float64
	SpikeMin    float64
	SpikeMax    float64
}

// ConfigFrom converts the application configuration
func ConfigFrom(cfg config.GeneratorConfig) (Config, error) {
	start, err := cfg.StartTime()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Samples:     cfg.Samples,
		Start:       start,
		Frequency:   cfg.Frequency.Duration,
		Seed:        cfg.Seed,
		SensorID:    cfg.SensorID,
		Location:    cfg.Location,
		MissingRate: cfg.MissingRate,
		SpikeRate:   cfg.SpikeRate,
		SpikeMin:    cfg.SpikeMin,
		SpikeMax:    cfg.SpikeMax,
	}, nil
}

// Batch is the output of one generation run
type Batch struct {
	Readings []dataset.Reading
	Missing  []int // indices whose pm25 was nulled
	Spikes   []int // indices whose pm25 was multiplied
	Seed     int64
}

// Generator produces synthetic readings
type Generator struct {
	cfg    Config
	rng    *rand.Rand
	logger *logrus.Logger
}

// New creates a generator. A zero seed is replaced by the current time.
func New(cfg Config, logger *logrus.Logger) *Generator {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logging.OrDefault(logger),
	}
}

// Series generates base + trend*t + seasonal(t) + noise(t), floored at zero
func (g *Generator) Series(p SeriesParams) []float64 {
	values := make([]float64, g.cfg.Samples)
	for t := range values {
		ft := float64(t)
		seasonal := DailyAmplitude*math.Sin(2*math.Pi*ft/DailyPeriod) +
			WeeklyAmplitude*math.Cos(2*math.Pi*ft/WeeklyPeriod)
		v := p.Base + p.Trend*ft + seasonal + g.rng.NormFloat64()*p.Noise
		values[t] = math.Max(v, 0)
	}
	return values
}

// Generate produces the full reading set
func (g *Generator) Generate() (*Batch, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"samples":   g.cfg.Samples,
		"start":     g.cfg.Start.Format(dataset.TimestampLayout),
		"frequency": g.cfg.Frequency.String(),
		"seed":      g.cfg.Seed,
	}).Info("Generating synthetic air quality data")

	series := make(map[string][]float64, len(DefaultSeries))
	for _, p := range DefaultSeries {
		series[p.Column] = g.Series(p)
	}

	n := g.cfg.Samples
	missing := g.sample(n, injectionCount(n, g.cfg.MissingRate))
	spikes := g.sample(n, injectionCount(n, g.cfg.SpikeRate))

	pm25 := series[dataset.ColPM25]
	isMissing := make([]bool, n)
	for _, i := range missing {
		isMissing[i] = true
	}
	for _, i := range spikes {
		// a nulled value stays null when it is also spiked
		pm25[i] *= g.cfg.SpikeMin + g.rng.Float64()*(g.cfg.SpikeMax-g.cfg.SpikeMin)
	}

	readings := make([]dataset.Reading, n)
	for i := 0; i < n; i++ {
		r := dataset.Reading{
			Timestamp: g.cfg.Start.Add(time.Duration(i) * g.cfg.Frequency),
			PM10:      series[dataset.ColPM10][i],
			NO2:       series[dataset.ColNO2][i],
			O3:        series[dataset.ColO3][i],
			SensorID:  g.cfg.SensorID,
			Location:  g.cfg.Location,
		}
		if !isMissing[i] {
			r.PM25 = dataset.Float(pm25[i])
		}
		readings[i] = r
	}

	g.logger.WithFields(logrus.Fields{
		"samples": n,
		"missing": len(missing),
		"spikes":  len(spikes),
	}).Info("Generated samples with simulated sensor failures")

	return &Batch{
		Readings: readings,
		Missing:  missing,
		Spikes:   spikes,
		Seed:     g.cfg.Seed,
	}, nil
}

func (g *Generator) validate() error {
	switch {
	case g.cfg.Samples <= 0:
		return fmt.Errorf("sample count must be positive, got %d", g.cfg.Samples)
	case g.cfg.Frequency <= 0:
		return fmt.Errorf("frequency must be positive, got %s", g.cfg.Frequency)
	case g.cfg.MissingRate < 0 || g.cfg.MissingRate > 1:
		return fmt.Errorf("missing rate must be in [0, 1], got %f", g.cfg.MissingRate)
	case g.cfg.SpikeRate < 0 || g.cfg.SpikeRate > 1:
		return fmt.Errorf("spike rate must be in [0, 1], got %f", g.cfg.SpikeRate)
	case g.cfg.SpikeMin > g.cfg.SpikeMax:
		return fmt.Errorf("spike range [%f, %f] is empty", g.cfg.SpikeMin, g.cfg.SpikeMax)
	}
	return nil
}

// sample draws k distinct indices from [0, n) uniformly, returned sorted
func (g *Generator) sample(n, k int) []int {
	idx := g.rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx
}

func injectionCount(n int, rate float64) int {
	k := int(math.Round(float64(n) * rate))
	if k > n {
		k = n
	}
	return k
}
