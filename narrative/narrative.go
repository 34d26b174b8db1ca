// Package narrative renders the short text stories shown next to the dashboard charts.
package narrative

import (
	"fmt"
	"strings"

	"air-quality-analytics/analytics"
	"air-quality-analytics/dataset"
)

// Briefing describes the current risk level and the direction of the forecast.
// A positive trend means concentrations are expected to rise.
func Briefing(risk analytics.RiskLevel, trend float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Air quality is currently classified as %s. ", risk)

	switch risk {
	case analytics.RiskSafe:
		b.WriteString("Conditions are optimal for outdoor activities. ")
	case analytics.RiskNormal, analytics.RiskModerate:
		b.WriteString("Sensitive individuals should consider limiting prolonged outdoor exertion. ")
	default:
		b.WriteString("Health warnings are in effect. Please stay indoors and use air purification if possible. ")
	}

	if trend > 0 {
		b.WriteString("Models predict a slight deterioration over the next 24 hours.")
	} else {
		b.WriteString("Conditions are expected to improve throughout the day.")
	}
	return b.String()
}

var pollutantNames = map[string]string{
	dataset.ColPM25: "PM2.5",
	dataset.ColPM10: "PM10",
	dataset.ColNO2:  "NO2",
	dataset.ColO3:   "Ozone",
}

// DominantPollutant returns the column with the highest concentration in the reading.
// Ties go to the earlier pollutant in dataset.Pollutants.
func DominantPollutant(r dataset.Reading) (string, float64) {
	values := map[string]*float64{
		dataset.ColPM25: r.PM25,
		dataset.ColPM10: &r.PM10,
		dataset.ColNO2:  &r.NO2,
		dataset.ColO3:   &r.O3,
	}

	best, bestValue := "", 0.0
	for _, name := range dataset.Pollutants {
		v := values[name]
		if v == nil {
			continue
		}
		if best == "" || *v > bestValue {
			best, bestValue = name, *v
		}
	}
	return best, bestValue
}

// Insight names the dominant pollutant of the reading
func Insight(r dataset.Reading) string {
	name, value := DominantPollutant(r)
	if name == "" {
		return "No pollutant readings are available."
	}
	return fmt.Sprintf("The primary driver of current AQI levels is %s (%.1f µg/m³). "+
		"This is often associated with vehicle emissions and industrial activity.",
		pollutantNames[name], value)
}
