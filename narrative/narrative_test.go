package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"air-quality-analytics/analytics"
	"air-quality-analytics/dataset"
)

func TestBriefing(t *testing.T) {
	safe := Briefing(analytics.RiskSafe, -1)
	assert.Contains(t, safe, "classified as Safe")
	assert.Contains(t, safe, "optimal for outdoor activities")
	assert.Contains(t, safe, "expected to improve")

	moderate := Briefing(analytics.RiskModerate, 2)
	assert.Contains(t, moderate, "Sensitive individuals")
	assert.Contains(t, moderate, "slight deterioration")

	alert := Briefing(analytics.RiskRedAlert, 0)
	assert.Contains(t, alert, "Health warnings are in effect")
	assert.Contains(t, alert, "expected to improve")
}

func TestDominantPollutant(t *testing.T) {
	r := dataset.Reading{PM25: dataset.Float(30), PM10: 55, NO2: 20, O3: 41}
	name, value := DominantPollutant(r)
	assert.Equal(t, dataset.ColPM10, name)
	assert.Equal(t, 55.0, value)

	r = dataset.Reading{PM10: 1, NO2: 2, O3: 3}
	name, _ = DominantPollutant(r)
	assert.Equal(t, dataset.ColO3, name)

	r = dataset.Reading{PM25: dataset.Float(10), PM10: 10}
	name, _ = DominantPollutant(r)
	assert.Equal(t, dataset.ColPM25, name)
}

func TestInsight(t *testing.T) {
	r := dataset.Reading{PM25: dataset.Float(80.24), PM10: 50, NO2: 20, O3: 40}
	assert.Contains(t, Insight(r), "PM2.5 (80.2 µg/m³)")

	r = dataset.Reading{PM25: dataset.Float(10), PM10: 12, NO2: 90, O3: 40}
	assert.Contains(t, Insight(r), "NO2 (90.0 µg/m³)")
}
