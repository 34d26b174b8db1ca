package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"air-quality-analytics/config"
)

// Artifact names
const (
	ArtifactScaler         = "scaler.json"
	ArtifactClassifier     = "classifier.json"
	ArtifactForecaster     = "forecaster.json"
	ArtifactARIMA          = "arima.json"
	ArtifactTrainingReport = "training_report.json"
	ArtifactETLReport      = "etl_report.json"
)

// Mirror receives a copy of every saved artifact
type Mirror interface {
	Upload(ctx context.Context, name string, data []byte) error
}

// ArtifactStore keeps one JSON file per artifact, overwritten on every save
type ArtifactStore struct {
	dir    string
	mirror Mirror
	logger *logrus.Logger
}

// NewArtifactStore creates an artifact store rooted at dir; mirror may be nil
func NewArtifactStore(dir string, mirror Mirror, logger *logrus.Logger) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	return &ArtifactStore{dir: dir, mirror: mirror, logger: logger}, nil
}

// Path returns the file of an artifact
func (a *ArtifactStore) Path(name string) string {
	return filepath.Join(a.dir, name)
}

// Save serializes v to the named artifact. Mirror failures are logged only.
func (a *ArtifactStore) Save(ctx context.Context, name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", name, err)
	}
	if err := writeFileAtomic(a.Path(name), data); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"artifact": name,
		"bytes":    len(data),
	}).Info("Saved artifact")

	if a.mirror != nil {
		if err := a.mirror.Upload(ctx, name, data); err != nil {
			a.logger.WithError(err).WithField("artifact", name).Warn("Failed to mirror artifact to object storage")
		}
	}
	return nil
}

// Load decodes the named artifact into v
func (a *ArtifactStore) Load(name string, v interface{}) error {
	data, err := os.ReadFile(a.Path(name))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode artifact %s: %w", name, err)
	}
	return nil
}

// ObjectMirror uploads artifacts to an S3-compatible bucket
type ObjectMirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectMirror connects to the object store and creates the bucket if needed
func NewObjectMirror(ctx context.Context, cfg config.ObjectStoreConfig) (*ObjectMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &ObjectMirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key of an artifact
func (m *ObjectMirror) Key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Upload puts the artifact in the bucket
func (m *ObjectMirror) Upload(ctx context.Context, name string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.Key(name), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}
