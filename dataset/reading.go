package dataset

import (
	"fmt"
	"math"
	"time"
)

// Document is a schemaless record as exchanged with the storage backends
type Document map[string]interface{}

// Reading is one timestamped observation of a sensor
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	PM25      *float64  `json:"pm25"` // nil marks a sensor failure
	PM10      float64   `json:"pm10"`
	NO2       float64   `json:"no2"`
	O3        float64   `json:"o3"`
	SensorID  string    `json:"sensor_id"`
	Location  string    `json:"location"`
}

// Float returns a pointer to v; used to build nullable readings
func Float(v float64) *float64 {
	return &v
}

// Document converts the reading to its storage form
func (r Reading) Document() Document {
	var pm25 interface{}
	if r.PM25 != nil {
		pm25 = *r.PM25
	}
	return Document{
		ColTimestamp: r.Timestamp.Format(TimestampLayout),
		ColPM25:      pm25,
		ColPM10:      r.PM10,
		ColNO2:       r.NO2,
		ColO3:        r.O3,
		ColSensorID:  r.SensorID,
		ColLocation:  r.Location,
	}
}

// ToDocuments converts readings to documents
func ToDocuments(readings []Reading) []Document {
	docs := make([]Document, len(readings))
	for i, r := range readings {
		docs[i] = r.Document()
	}
	return docs
}

// FromDocuments validates documents against schema once and converts them to readings
func FromDocuments(schema *Schema, docs []Document) ([]Reading, error) {
	if err := schema.ValidateAll(docs); err != nil {
		return nil, err
	}

	readings := make([]Reading, len(docs))
	for i, doc := range docs {
		ts, _ := ParseTimestamp(doc[ColTimestamp].(string))
		r := Reading{
			Timestamp: ts,
			SensorID:  doc[ColSensorID].(string),
			Location:  doc[ColLocation].(string),
		}
		if v := doc[ColPM25]; v != nil {
			f, _ := toFloat(v)
			r.PM25 = &f
		}
		r.PM10, _ = toFloat(doc[ColPM10])
		r.NO2, _ = toFloat(doc[ColNO2])
		r.O3, _ = toFloat(doc[ColO3])
		readings[i] = r
	}
	return readings, nil
}

// FrameFromReadings builds a frame indexed by timestamp. Missing pm25 values become NaN.
func FrameFromReadings(readings []Reading) *Frame {
	index := make([]time.Time, len(readings))
	pm25 := make([]float64, len(readings))
	pm10 := make([]float64, len(readings))
	no2 := make([]float64, len(readings))
	o3 := make([]float64, len(readings))
	sensors := make([]string, len(readings))
	locations := make([]string, len(readings))

	for i, r := range readings {
		index[i] = r.Timestamp
		if r.PM25 != nil {
			pm25[i] = *r.PM25
		} else {
			pm25[i] = math.NaN()
		}
		pm10[i] = r.PM10
		no2[i] = r.NO2
		o3[i] = r.O3
		sensors[i] = r.SensorID
		locations[i] = r.Location
	}

	f := NewFrame(index)
	f.mustSet(ColPM25, pm25)
	f.mustSet(ColPM10, pm10)
	f.mustSet(ColNO2, no2)
	f.mustSet(ColO3, o3)
	f.mustSetText(ColSensorID, sensors)
	f.mustSetText(ColLocation, locations)
	return f
}

// ReadingsFromFrame converts a frame back to readings. NaN pm25 values become nil.
func ReadingsFromFrame(f *Frame) ([]Reading, error) {
	cols := make(map[string][]float64, len(Pollutants))
	for _, name := range Pollutants {
		values, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		cols[name] = values
	}
	sensors, err := f.Text(ColSensorID)
	if err != nil {
		return nil, err
	}
	locations, err := f.Text(ColLocation)
	if err != nil {
		return nil, err
	}

	readings := make([]Reading, f.Len())
	for i, ts := range f.Index() {
		r := Reading{
			Timestamp: ts,
			PM10:      cols[ColPM10][i],
			NO2:       cols[ColNO2][i],
			O3:        cols[ColO3][i],
			SensorID:  sensors[i],
			Location:  locations[i],
		}
		if v := cols[ColPM25][i]; !math.IsNaN(v) {
			r.PM25 = Float(v)
		}
		readings[i] = r
	}
	return readings, nil
}

// RequireNoNulls reports the first row with a missing primary pollutant
func RequireNoNulls(readings []Reading) error {
	for i, r := range readings {
		if r.PM25 == nil {
			return fmt.Errorf("%w: row %d has null %s", ErrSchemaMismatch, i, ColPM25)
		}
	}
	return nil
}
