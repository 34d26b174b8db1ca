package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"air-quality-analytics/dataset"
)

// FileStore keeps one JSON array file per collection
type FileStore struct {
	dir    string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewFileStore creates a file store rooted at dir
func NewFileStore(dir string, logger *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create fallback directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Backend returns the backend name
func (fs *FileStore) Backend() string {
	return BackendFile
}

// Path returns the file backing a collection
func (fs *FileStore) Path(collection string) string {
	return filepath.Join(fs.dir, collection+".json")
}

// InsertMany appends documents to the collection file
func (fs *FileStore) InsertMany(ctx context.Context, collection string, docs []dataset.Document) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	existing, err := fs.read(collection)
	if err != nil {
		return err
	}
	if err := fs.write(collection, append(existing, docs...)); err != nil {
		return err
	}

	fs.logger.WithFields(logrus.Fields{
		"collection": collection,
		"records":    len(docs),
		"path":       fs.Path(collection),
	}).Info("Saved records to local data lake")
	return nil
}

// FetchAll reads every document of a collection; a missing file is an empty collection
func (fs *FileStore) FetchAll(ctx context.Context, collection string) ([]dataset.Document, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	docs, err := fs.read(collection)
	if err != nil {
		return nil, err
	}
	fs.logger.WithFields(logrus.Fields{
		"collection": collection,
		"records":    len(docs),
	}).Debug("Loaded records from local data lake")
	return docs, nil
}

// Clear deletes the collection file if present
func (fs *FileStore) Clear(ctx context.Context, collection string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.Path(collection)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear collection %s: %w", collection, err)
	}
	return nil
}

// Close is a no-op for the file store
func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) read(collection string) ([]dataset.Document, error) {
	data, err := os.ReadFile(fs.Path(collection))
	if os.IsNotExist(err) {
		return []dataset.Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}

	var docs []dataset.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse collection %s: %w", collection, err)
	}
	return docs, nil
}

func (fs *FileStore) write(collection string, docs []dataset.Document) error {
	data, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to marshal collection %s: %w", collection, err)
	}
	return writeFileAtomic(fs.Path(collection), data)
}

// writeFileAtomic writes to a temporary file in the same directory and renames it
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
