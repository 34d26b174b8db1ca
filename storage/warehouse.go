package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"

	"air-quality-analytics/dataset"
)

// processedRow is the parquet layout of a cleaned reading
type processedRow struct {
	Timestamp time.Time `parquet:"timestamp"`
	PM25      float64   `parquet:"pm25"`
	PM10      float64   `parquet:"pm10"`
	NO2       float64   `parquet:"no2"`
	O3        float64   `parquet:"o3"`
	SensorID  string    `parquet:"sensor_id,dict"`
	Location  string    `parquet:"location,dict"`
}

// Warehouse stores processed datasets as parquet files
type Warehouse struct {
	dir    string
	logger *logrus.Logger
}

// NewWarehouse creates a warehouse rooted at dir
func NewWarehouse(dir string, logger *logrus.Logger) (*Warehouse, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create warehouse directory: %w", err)
	}
	return &Warehouse{dir: dir, logger: logger}, nil
}

// Path returns the parquet file of a dataset
func (w *Warehouse) Path(name string) string {
	return filepath.Join(w.dir, name+".parquet")
}

// Exists reports whether the dataset has been written
func (w *Warehouse) Exists(name string) bool {
	_, err := os.Stat(w.Path(name))
	return err == nil
}

// Write replaces the dataset with the given readings, which must not contain nulls
func (w *Warehouse) Write(name string, readings []dataset.Reading) error {
	if err := validateCollection(name); err != nil {
		return err
	}
	if err := dataset.RequireNoNulls(readings); err != nil {
		return err
	}

	rows := make([]processedRow, len(readings))
	for i, r := range readings {
		rows[i] = processedRow{
			Timestamp: r.Timestamp.UTC(),
			PM25:      *r.PM25,
			PM10:      r.PM10,
			NO2:       r.NO2,
			O3:        r.O3,
			SensorID:  r.SensorID,
			Location:  r.Location,
		}
	}

	path := w.Path(name)
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write dataset %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace dataset %s: %w", name, err)
	}

	w.logger.WithFields(logrus.Fields{
		"dataset": name,
		"rows":    len(rows),
		"path":    path,
	}).Info("Wrote processed dataset")
	return nil
}

// Read loads the dataset; a missing file yields ErrDatasetNotFound
func (w *Warehouse) Read(name string) ([]dataset.Reading, error) {
	if err := validateCollection(name); err != nil {
		return nil, err
	}

	path := w.Path(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
	}

	rows, err := parquet.ReadFile[processedRow](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", name, err)
	}

	readings := make([]dataset.Reading, len(rows))
	for i, row := range rows {
		readings[i] = dataset.Reading{
			Timestamp: row.Timestamp.UTC(),
			PM25:      dataset.Float(row.PM25),
			PM10:      row.PM10,
			NO2:       row.NO2,
			O3:        row.O3,
			SensorID:  row.SensorID,
			Location:  row.Location,
		}
	}
	return readings, nil
}
