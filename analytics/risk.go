// Package analytics classifies air-quality risk and evaluates the forecasting models.
package analytics

import (
	"errors"
	"fmt"
	"math"

	"air-quality-analytics/dataset"
)

// RiskLevel is a pm25 concentration band
type RiskLevel string

// Risk levels in ascending order of concentration
const (
	RiskSafe           RiskLevel = "Safe"
	RiskNormal         RiskLevel = "Normal"
	RiskModerate       RiskLevel = "Moderate"
	RiskLightPollution RiskLevel = "Light Pollution"
	RiskHeavyPollution RiskLevel = "Heavy Pollution"
	RiskRedAlert       RiskLevel = "Red Alert"
)

// RiskLevels lists every level in band order
var RiskLevels = []RiskLevel{
	RiskSafe, RiskNormal, RiskModerate, RiskLightPollution, RiskHeavyPollution, RiskRedAlert,
}

// riskBands holds inclusive upper bounds; anything above the last is RiskRedAlert
var riskBands = []struct {
	upper float64
	level RiskLevel
}{
	{50, RiskSafe},
	{100, RiskNormal},
	{150, RiskModerate},
	{200, RiskLightPollution},
	{300, RiskHeavyPollution},
}

// ErrUndefinedConcentration is returned when a label is requested for NaN
var ErrUndefinedConcentration = errors.New("undefined pm25 concentration")

// ClassifyPM25 maps a concentration to its band; the first band whose upper bound
// is not exceeded wins.
func ClassifyPM25(pm25 float64) RiskLevel {
	for _, band := range riskBands {
		if pm25 <= band.upper {
			return band.level
		}
	}
	return RiskRedAlert
}

// Index returns the position of the level in RiskLevels, or -1
func (r RiskLevel) Index() int {
	for i, level := range RiskLevels {
		if level == r {
			return i
		}
	}
	return -1
}

// DeriveLabels labels every row of f from its pm25 column
func DeriveLabels(f *dataset.Frame) ([]RiskLevel, error) {
	pm25, err := f.Column(dataset.ColPM25)
	if err != nil {
		return nil, err
	}

	labels := make([]RiskLevel, len(pm25))
	for i, v := range pm25 {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%w at row %d", ErrUndefinedConcentration, i)
		}
		labels[i] = ClassifyPM25(v)
	}
	return labels, nil
}
