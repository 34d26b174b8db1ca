package dataset

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrColumnNotFound is returned when a frame lacks a requested column
var ErrColumnNotFound = errors.New("column not found")

// Frame is a column-oriented table indexed by timestamp. Numeric columns use
// NaN for undefined values; text columns hold identifiers and categories.
type Frame struct {
	index   []time.Time
	numeric []string
	values  map[string][]float64
	text    []string
	texts   map[string][]string
}

// NewFrame creates an empty frame with the given index
func NewFrame(index []time.Time) *Frame {
	return &Frame{
		index:  index,
		values: make(map[string][]float64),
		texts:  make(map[string][]string),
	}
}

// Len returns the number of rows
func (f *Frame) Len() int {
	return len(f.index)
}

// Index returns the row timestamps
func (f *Frame) Index() []time.Time {
	return f.index
}

// NumericColumns returns numeric column names in insertion order
func (f *Frame) NumericColumns() []string {
	out := make([]string, len(f.numeric))
	copy(out, f.numeric)
	return out
}

// TextColumns returns text column names in insertion order
func (f *Frame) TextColumns() []string {
	out := make([]string, len(f.text))
	copy(out, f.text)
	return out
}

// HasColumn reports whether a numeric or text column exists
func (f *Frame) HasColumn(name string) bool {
	if _, ok := f.values[name]; ok {
		return true
	}
	_, ok := f.texts[name]
	return ok
}

// Column returns the values of a numeric column
func (f *Frame) Column(name string) ([]float64, error) {
	values, ok := f.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return values, nil
}

// SetColumn adds or replaces a numeric column
func (f *Frame) SetColumn(name string, values []float64) error {
	if len(values) != len(f.index) {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(values), len(f.index))
	}
	if _, exists := f.texts[name]; exists {
		return fmt.Errorf("column %s already exists as text", name)
	}
	if _, exists := f.values[name]; !exists {
		f.numeric = append(f.numeric, name)
	}
	f.values[name] = values
	return nil
}

// Text returns the values of a text column
func (f *Frame) Text(name string) ([]string, error) {
	values, ok := f.texts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return values, nil
}

// SetText adds or replaces a text column
func (f *Frame) SetText(name string, values []string) error {
	if len(values) != len(f.index) {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(values), len(f.index))
	}
	if _, exists := f.values[name]; exists {
		return fmt.Errorf("column %s already exists as numeric", name)
	}
	if _, exists := f.texts[name]; !exists {
		f.text = append(f.text, name)
	}
	f.texts[name] = values
	return nil
}

func (f *Frame) mustSet(name string, values []float64) {
	if err := f.SetColumn(name, values); err != nil {
		panic(err)
	}
}

func (f *Frame) mustSetText(name string, values []string) {
	if err := f.SetText(name, values); err != nil {
		panic(err)
	}
}

// Select returns a frame with only the named numeric columns, in the given order
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := NewFrame(f.index)
	for _, name := range names {
		values, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		out.mustSet(name, values)
	}
	return out, nil
}

// Clone returns a deep copy
func (f *Frame) Clone() *Frame {
	return f.Slice(0, f.Len())
}

// Slice returns a copy of rows [start, end)
func (f *Frame) Slice(start, end int) *Frame {
	if start < 0 {
		start = 0
	}
	if end > f.Len() {
		end = f.Len()
	}
	if start > end {
		start = end
	}

	index := make([]time.Time, end-start)
	copy(index, f.index[start:end])
	out := NewFrame(index)
	for _, name := range f.numeric {
		values := make([]float64, end-start)
		copy(values, f.values[name][start:end])
		out.mustSet(name, values)
	}
	for _, name := range f.text {
		values := make([]string, end-start)
		copy(values, f.texts[name][start:end])
		out.mustSetText(name, values)
	}
	return out
}

// Tail returns a copy of the last n rows
func (f *Frame) Tail(n int) *Frame {
	return f.Slice(f.Len()-n, f.Len())
}

// Filter returns a copy containing only rows where keep is true
func (f *Frame) Filter(keep []bool) *Frame {
	rows := make([]int, 0, len(keep))
	for i, k := range keep {
		if k {
			rows = append(rows, i)
		}
	}
	return f.take(rows)
}

// SortByIndex returns a copy sorted by timestamp; ties keep their order
func (f *Frame) SortByIndex() *Frame {
	rows := make([]int, f.Len())
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return f.index[rows[a]].Before(f.index[rows[b]])
	})
	return f.take(rows)
}

func (f *Frame) take(rows []int) *Frame {
	index := make([]time.Time, len(rows))
	for i, r := range rows {
		index[i] = f.index[r]
	}
	out := NewFrame(index)
	for _, name := range f.numeric {
		src := f.values[name]
		values := make([]float64, len(rows))
		for i, r := range rows {
			values[i] = src[r]
		}
		out.mustSet(name, values)
	}
	for _, name := range f.text {
		src := f.texts[name]
		values := make([]string, len(rows))
		for i, r := range rows {
			values[i] = src[r]
		}
		out.mustSetText(name, values)
	}
	return out
}

// Matrix returns the named numeric columns as row-major data
func (f *Frame) Matrix(names []string) ([][]float64, error) {
	cols := make([][]float64, len(names))
	for j, name := range names {
		values, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		cols[j] = values
	}

	rows := make([][]float64, f.Len())
	for i := range rows {
		row := make([]float64, len(names))
		for j := range names {
			row[j] = cols[j][i]
		}
		rows[i] = row
	}
	return rows, nil
}
