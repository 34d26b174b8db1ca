package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
	"air-quality-analytics/logging"
)

func sampleReadings(n int) []dataset.Reading {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	readings := make([]dataset.Reading, n)
	for i := range readings {
		readings[i] = dataset.Reading{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			PM25:      dataset.Float(30 + float64(i)),
			PM10:      50 + float64(i),
			NO2:       20,
			O3:        40,
			SensorID:  "VN_HANOI_001",
			Location:  "Hanoi, Vietnam",
		}
	}
	return readings
}

func TestFileStore_RoundTripAndAppend(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	readings := sampleReadings(3)
	readings[1].PM25 = nil

	require.NoError(t, fs.InsertMany(ctx, "raw_readings", dataset.ToDocuments(readings)))
	require.NoError(t, fs.InsertMany(ctx, "raw_readings", dataset.ToDocuments(sampleReadings(2))))

	docs, err := fs.FetchAll(ctx, "raw_readings")
	require.NoError(t, err)
	require.Len(t, docs, 5)
	assert.Nil(t, docs[1][dataset.ColPM25])

	back, err := dataset.FromDocuments(dataset.RawSchema, docs)
	require.NoError(t, err)
	assert.Equal(t, readings[0].Timestamp, back[0].Timestamp)
	assert.Nil(t, back[1].PM25)
	assert.InDelta(t, 32.0, *back[2].PM25, 1e-9)
}

func TestFileStore_MissingCollectionIsEmpty(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	docs, err := fs.FetchAll(context.Background(), "nothing_here")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFileStore_ClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	require.NoError(t, fs.Clear(ctx, "raw_readings"))
	require.NoError(t, fs.InsertMany(ctx, "raw_readings", dataset.ToDocuments(sampleReadings(2))))
	require.FileExists(t, fs.Path("raw_readings"))

	require.NoError(t, fs.Clear(ctx, "raw_readings"))
	assert.NoFileExists(t, fs.Path("raw_readings"))
	require.NoError(t, fs.Clear(ctx, "raw_readings"))
}

func TestFileStore_EmptyInsertWritesNothing(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	require.NoError(t, fs.InsertMany(context.Background(), "raw_readings", nil))
	assert.NoFileExists(t, fs.Path("raw_readings"))
}

func TestFileStore_RejectsBadCollectionNames(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape", "a/b"} {
		_, err := fs.FetchAll(context.Background(), name)
		assert.Error(t, err, name)
	}
}

func TestOpen_FileBackend(t *testing.T) {
	cfg := config.DefaultConfig().Storage
	cfg.Backend = BackendFile
	cfg.FallbackDir = t.TempDir()

	store, err := Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, BackendFile, store.Backend())
}

func TestOpen_UnreachableRedisFallsBackToFiles(t *testing.T) {
	cfg := config.DefaultConfig().Storage
	cfg.Backend = BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.ConnectTimeout = config.Duration{Duration: 500 * time.Millisecond}
	cfg.FallbackDir = t.TempDir()

	start := time.Now()
	store, err := Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, BackendFile, store.Backend())
	assert.Less(t, time.Since(start), 5*time.Second)

	require.NoError(t, store.InsertMany(context.Background(), "raw_readings", dataset.ToDocuments(sampleReadings(1))))
	assert.FileExists(t, filepath.Join(cfg.FallbackDir, "raw_readings.json"))
}

func TestOpenWithFallback_DialErrorIsNotReturned(t *testing.T) {
	cfg := config.DefaultConfig().Storage
	cfg.FallbackDir = t.TempDir()

	dialed := 0
	store, err := openWithFallback(context.Background(), cfg, logging.Discard(), func(ctx context.Context) (Store, error) {
		dialed++
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil, errors.New("connection refused")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dialed)
	assert.Equal(t, BackendFile, store.Backend())
}

func TestOpen_UnsupportedBackend(t *testing.T) {
	cfg := config.DefaultConfig().Storage
	cfg.Backend = "cassandra"

	_, err := Open(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestWarehouse_RoundTrip(t *testing.T) {
	wh, err := NewWarehouse(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	assert.False(t, wh.Exists("processed_features"))

	readings := sampleReadings(30)
	require.NoError(t, wh.Write("processed_features", readings))
	assert.True(t, wh.Exists("processed_features"))

	back, err := wh.Read("processed_features")
	require.NoError(t, err)
	require.Len(t, back, 30)
	for i := range readings {
		assert.True(t, readings[i].Timestamp.Equal(back[i].Timestamp))
		assert.Equal(t, *readings[i].PM25, *back[i].PM25)
		assert.Equal(t, readings[i].PM10, back[i].PM10)
		assert.Equal(t, readings[i].SensorID, back[i].SensorID)
	}
}

func TestWarehouse_MissingDataset(t *testing.T) {
	wh, err := NewWarehouse(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	_, err = wh.Read("processed_features")
	assert.True(t, errors.Is(err, ErrDatasetNotFound))
}

func TestWarehouse_RejectsNulls(t *testing.T) {
	wh, err := NewWarehouse(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	readings := sampleReadings(3)
	readings[2].PM25 = nil
	err = wh.Write("processed_features", readings)
	assert.True(t, errors.Is(err, dataset.ErrSchemaMismatch))
}

type recordingMirror struct {
	uploads map[string][]byte
	err     error
}

func (m *recordingMirror) Upload(ctx context.Context, name string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.uploads[name] = data
	return nil
}

func TestArtifactStore_SaveLoadAndMirror(t *testing.T) {
	mirror := &recordingMirror{uploads: make(map[string][]byte)}
	store, err := NewArtifactStore(t.TempDir(), mirror, logging.Discard())
	require.NoError(t, err)

	in := map[string]float64{"pm25": 1.5}
	require.NoError(t, store.Save(context.Background(), ArtifactScaler, in))

	var out map[string]float64
	require.NoError(t, store.Load(ArtifactScaler, &out))
	assert.Equal(t, in, out)
	assert.Contains(t, mirror.uploads, ArtifactScaler)
}

func TestArtifactStore_MirrorFailureIsNotFatal(t *testing.T) {
	mirror := &recordingMirror{err: errors.New("bucket unavailable")}
	store, err := NewArtifactStore(t.TempDir(), mirror, logging.Discard())
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), ArtifactClassifier, []int{1, 2}))
	_, statErr := os.Stat(store.Path(ArtifactClassifier))
	assert.NoError(t, statErr)
}

func TestArtifactStore_Missing(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir(), nil, logging.Discard())
	require.NoError(t, err)

	var out map[string]interface{}
	err = store.Load(ArtifactForecaster, &out)
	assert.True(t, errors.Is(err, ErrArtifactNotFound))
}

func TestObjectMirror_Key(t *testing.T) {
	m := &ObjectMirror{prefix: "models/air-quality"}
	assert.Equal(t, "models/air-quality/scaler.json", m.Key(ArtifactScaler))

	m.prefix = ""
	assert.Equal(t, "scaler.json", m.Key(ArtifactScaler))
}
