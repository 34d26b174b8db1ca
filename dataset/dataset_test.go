package dataset

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReadings() []Reading {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Reading{
		{Timestamp: start, PM25: Float(12.5), PM10: 40, NO2: 20, O3: 30, SensorID: "S1", Location: "Hanoi"},
		{Timestamp: start.Add(time.Hour), PM25: nil, PM10: 41, NO2: 21, O3: 31, SensorID: "S1", Location: "Hanoi"},
	}
}

func TestSchema_ValidateRawDocument(t *testing.T) {
	docs := ToDocuments(sampleReadings())
	require.NoError(t, RawSchema.ValidateAll(docs))

	// pm25 is nullable in raw data but not after cleaning
	err := ProcessedSchema.ValidateAll(docs)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestSchema_MissingColumn(t *testing.T) {
	doc := sampleReadings()[0].Document()
	delete(doc, ColNO2)

	err := RawSchema.Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no2")
}

func TestSchema_UnknownColumn(t *testing.T) {
	doc := sampleReadings()[0].Document()
	doc["humidity"] = 55.0

	err := RawSchema.Validate(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "humidity")
}

func TestSchema_WrongType(t *testing.T) {
	doc := sampleReadings()[0].Document()
	doc[ColPM10] = "high"
	assert.Error(t, RawSchema.Validate(doc))

	doc = sampleReadings()[0].Document()
	doc[ColTimestamp] = "not a time"
	assert.Error(t, RawSchema.Validate(doc))
}

func TestDocumentsRoundTrip(t *testing.T) {
	readings := sampleReadings()
	docs := ToDocuments(readings)

	assert.Nil(t, docs[1][ColPM25], "missing pm25 must be a native null")
	assert.Equal(t, "2023-01-01T01:00:00", docs[1][ColTimestamp])

	back, err := FromDocuments(RawSchema, docs)
	require.NoError(t, err)
	assert.Equal(t, readings, back)
}

func TestFrameFromReadings(t *testing.T) {
	f := FrameFromReadings(sampleReadings())

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, Pollutants, f.NumericColumns())
	assert.Equal(t, []string{ColSensorID, ColLocation}, f.TextColumns())

	pm25, err := f.Column(ColPM25)
	require.NoError(t, err)
	assert.Equal(t, 12.5, pm25[0])
	assert.True(t, math.IsNaN(pm25[1]))

	back, err := ReadingsFromFrame(f)
	require.NoError(t, err)
	assert.Equal(t, sampleReadings(), back)
	assert.Error(t, RequireNoNulls(back))
}

func TestFrame_SortAndSlice(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFrame([]time.Time{start.Add(2 * time.Hour), start, start.Add(time.Hour)})
	require.NoError(t, f.SetColumn("v", []float64{3, 1, 2}))
	require.NoError(t, f.SetText("id", []string{"c", "a", "b"}))

	sorted := f.SortByIndex()
	v, _ := sorted.Column("v")
	ids, _ := sorted.Text("id")
	assert.Equal(t, []float64{1, 2, 3}, v)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	// original is untouched
	orig, _ := f.Column("v")
	assert.Equal(t, []float64{3, 1, 2}, orig)

	tail := sorted.Tail(2)
	v, _ = tail.Column("v")
	assert.Equal(t, []float64{2, 3}, v)

	assert.Equal(t, 3, sorted.Tail(10).Len())
}

func TestFrame_SelectAndMatrix(t *testing.T) {
	f := FrameFromReadings(sampleReadings())

	sel, err := f.Select(ColNO2, ColPM10)
	require.NoError(t, err)
	assert.Equal(t, []string{ColNO2, ColPM10}, sel.NumericColumns())

	m, err := f.Matrix([]string{ColNO2, ColO3})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{20, 30}, {21, 31}}, m)

	_, err = f.Select("missing")
	assert.True(t, errors.Is(err, ErrColumnNotFound))
}

func TestFrame_SetColumnLengthMismatch(t *testing.T) {
	f := NewFrame(make([]time.Time, 3))
	assert.Error(t, f.SetColumn("x", []float64{1}))
	require.NoError(t, f.SetText("name", []string{"a", "b", "c"}))
	assert.Error(t, f.SetColumn("name", []float64{1, 2, 3}))
}
