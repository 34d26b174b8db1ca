// Package storage persists raw readings, the processed dataset and model artifacts.
//
// Raw collections go through a Store, which is either remote (SQL or Redis) or a
// local JSON file per collection. The variant is decided once, when Open dials the
// remote backend; an unreachable backend degrades to files for the process lifetime.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
	"air-quality-analytics/logging"
)

// Backend names
const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
	BackendFile  = "file"
)

// internalIDField is the backend identifier stripped from fetched documents
const internalIDField = "_id"

var (
	// ErrDatasetNotFound is returned when the processed dataset has not been written yet
	ErrDatasetNotFound = errors.New("processed dataset not found")
	// ErrArtifactNotFound is returned when a model artifact is missing
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Store persists collections of documents
type Store interface {
	InsertMany(ctx context.Context, collection string, docs []dataset.Document) error
	FetchAll(ctx context.Context, collection string) ([]dataset.Document, error)
	Clear(ctx context.Context, collection string) error
	Backend() string
	Close() error
}

type dialFunc func(ctx context.Context) (Store, error)

// Open connects to the configured backend. Connectivity failures are logged once
// and answered with a file store; the returned error only reports a fallback that
// could not be created.
func Open(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger) (Store, error) {
	logger = logging.OrDefault(logger)

	var dial dialFunc
	switch cfg.Backend {
	case BackendFile:
		return NewFileStore(cfg.FallbackDir, logger)
	case BackendSQL:
		dial = func(ctx context.Context) (Store, error) {
			return NewSQLStore(ctx, cfg.SQL, logger)
		}
	case BackendRedis:
		dial = func(ctx context.Context) (Store, error) {
			return NewRedisStore(ctx, cfg.Redis, cfg.ConnectTimeout.Duration, logger)
		}
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}

	return openWithFallback(ctx, cfg, logger, dial)
}

func openWithFallback(ctx context.Context, cfg config.StorageConfig, logger *logrus.Logger, dial dialFunc) (Store, error) {
	dialCtx := ctx
	if timeout := cfg.ConnectTimeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	store, err := dial(dialCtx)
	if err == nil {
		logger.WithField("backend", store.Backend()).Info("Connected to storage backend")
		return store, nil
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"backend":      cfg.Backend,
		"fallback_dir": cfg.FallbackDir,
	}).Warn("Could not reach storage backend, switching to local JSON fallback")

	return NewFileStore(cfg.FallbackDir, logger)
}

func validateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("collection name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

func stripInternal(doc dataset.Document) dataset.Document {
	delete(doc, internalIDField)
	return doc
}
