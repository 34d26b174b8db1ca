package dataset

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Column names shared by every stage of the pipeline
const (
	ColTimestamp = "timestamp"
	ColPM25      = "pm25"
	ColPM10      = "pm10"
	ColNO2       = "no2"
	ColO3        = "o3"
	ColSensorID  = "sensor_id"
	ColLocation  = "location"
)

// TimestampLayout is the wire format of reading timestamps
const TimestampLayout = "2006-01-02T15:04:05"

// Pollutants lists the measured pollutant columns; the first one is the primary pollutant.
var Pollutants = []string{ColPM25, ColPM10, ColNO2, ColO3}

// IdentifierColumns are never scaled or fed to models
var IdentifierColumns = []string{ColTimestamp, ColSensorID, ColLocation}

// ErrSchemaMismatch is returned when a document does not match its schema
var ErrSchemaMismatch = errors.New("schema mismatch")

// Kind is the semantic type of a column
type Kind string

const (
	KindTimestamp       Kind = "timestamp"
	KindNumeric         Kind = "numeric"
	KindNullableNumeric Kind = "nullable_numeric"
	KindCategorical     Kind = "categorical"
)

// Column is one entry of a schema
type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema is an explicit, ordered list of column names and kinds
type Schema struct {
	Name    string
	Columns []Column
	index   map[string]Kind
}

// NewSchema creates a schema from its columns
func NewSchema(name string, columns ...Column) *Schema {
	s := &Schema{
		Name:    name,
		Columns: columns,
		index:   make(map[string]Kind, len(columns)),
	}
	for _, c := range columns {
		s.index[c.Name] = c.Kind
	}
	return s
}

// RawSchema describes readings as produced by the generator
var RawSchema = NewSchema("raw_readings",
	Column{ColTimestamp, KindTimestamp},
	Column{ColPM25, KindNullableNumeric},
	Column{ColPM10, KindNumeric},
	Column{ColNO2, KindNumeric},
	Column{ColO3, KindNumeric},
	Column{ColSensorID, KindCategorical},
	Column{ColLocation, KindCategorical},
)

// ProcessedSchema describes cleaned readings; pm25 is no longer nullable
var ProcessedSchema = NewSchema("processed_readings",
	Column{ColTimestamp, KindTimestamp},
	Column{ColPM25, KindNumeric},
	Column{ColPM10, KindNumeric},
	Column{ColNO2, KindNumeric},
	Column{ColO3, KindNumeric},
	Column{ColSensorID, KindCategorical},
	Column{ColLocation, KindCategorical},
)

// Kind returns the kind of a column
func (s *Schema) Kind(name string) (Kind, bool) {
	k, ok := s.index[name]
	return k, ok
}

// Names returns the column names in schema order
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks a single document against the schema
func (s *Schema) Validate(doc Document) error {
	for _, c := range s.Columns {
		value, exists := doc[c.Name]
		if !exists {
			return fmt.Errorf("%w: %s: required column '%s' missing", ErrSchemaMismatch, s.Name, c.Name)
		}
		if err := checkKind(c, value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSchemaMismatch, s.Name, err)
		}
	}

	var unknown []string
	for name := range doc {
		if _, ok := s.index[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s: unknown columns %s", ErrSchemaMismatch, s.Name, strings.Join(unknown, ", "))
	}

	return nil
}

// ValidateAll checks every document and reports the first failing row
func (s *Schema) ValidateAll(docs []Document) error {
	for i, doc := range docs {
		if err := s.Validate(doc); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

func checkKind(c Column, value interface{}) error {
	switch c.Kind {
	case KindTimestamp:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("column '%s' must be a timestamp string, got %T", c.Name, value)
		}
		if _, err := ParseTimestamp(str); err != nil {
			return fmt.Errorf("column '%s': %v", c.Name, err)
		}
	case KindNumeric, KindNullableNumeric:
		if value == nil {
			if c.Kind == KindNullableNumeric {
				return nil
			}
			return fmt.Errorf("column '%s' cannot be null", c.Name)
		}
		if _, ok := toFloat(value); !ok {
			return fmt.Errorf("column '%s' must be numeric, got %T", c.Name, value)
		}
	case KindCategorical:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("column '%s' must be a string, got %T", c.Name, value)
		}
	default:
		return fmt.Errorf("column '%s' has unknown kind %q", c.Name, c.Kind)
	}
	return nil
}

// ParseTimestamp accepts the wire layout and RFC 3339
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}
