package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "AQ_"

// Config represents the complete system configuration
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Generator  GeneratorConfig  `json:"generator" yaml:"generator"`
	Processing ProcessingConfig `json:"processing" yaml:"processing"`
	Forecast   ForecastConfig   `json:"forecast" yaml:"forecast"`
	ARIMA      ARIMAConfig      `json:"arima" yaml:"arima"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         string   `json:"port" yaml:"port"`
	ReadTimeout  Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout" yaml:"idle_timeout"`
	RateLimit    float64  `json:"rate_limit_rps" yaml:"rate_limit_rps"` // 0 disables limiting
	RateBurst    int      `json:"rate_burst" yaml:"rate_burst"`
}

// StorageConfig contains storage layer settings
type StorageConfig struct {
	Backend             string            `json:"backend" yaml:"backend"` // "sql", "redis", "file"
	ConnectTimeout      Duration          `json:"connect_timeout" yaml:"connect_timeout"`
	FallbackDir         string            `json:"fallback_dir" yaml:"fallback_dir"`
	WarehouseDir        string            `json:"warehouse_dir" yaml:"warehouse_dir"`
	ModelDir            string            `json:"model_dir" yaml:"model_dir"`
	RawCollection       string            `json:"raw_collection" yaml:"raw_collection"`
	ProcessedCollection string            `json:"processed_collection" yaml:"processed_collection"`
	SQL                 SQLConfig         `json:"sql" yaml:"sql"`
	Redis               RedisConfig       `json:"redis" yaml:"redis"`
	ObjectStore         ObjectStoreConfig `json:"object_store" yaml:"object_store"`
}

// SQLConfig holds the relational backend settings
type SQLConfig struct {
	Driver          string   `json:"driver" yaml:"driver"` // "postgres", "mysql", "sqlite"
	DSN             string   `json:"dsn" yaml:"dsn"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RedisConfig holds the redis backend settings
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// ObjectStoreConfig configures the optional S3-compatible artifact mirror
type ObjectStoreConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Prefix    string `json:"prefix" yaml:"prefix"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
}

// GeneratorConfig contains synthetic data settings
type GeneratorConfig struct {
	Samples     int      `json:"samples" yaml:"samples"`
	StartDate   string   `json:"start_date" yaml:"start_date"`
	Frequency   Duration `json:"frequency" yaml:"frequency"`
	Seed        int64    `json:"seed" yaml:"seed"` // 0 seeds from the clock
	SensorID    string   `json:"sensor_id" yaml:"sensor_id"`
	Location    string   `json:"location" yaml:"location"`
	MissingRate float64  `json:"missing_rate" yaml:"missing_rate"`
	SpikeRate   float64  `json:"spike_rate" yaml:"spike_rate"`
	SpikeMin    float64  `json:"spike_min" yaml:"spike_min"`
	SpikeMax    float64  `json:"spike_max" yaml:"spike_max"`
}

// ProcessingConfig contains cleaning and feature settings
type ProcessingConfig struct {
	KNNNeighbors    int      `json:"knn_neighbors" yaml:"knn_neighbors"`
	CapOutliers     bool     `json:"cap_outliers" yaml:"cap_outliers"`
	OutlierFactor   float64  `json:"outlier_factor" yaml:"outlier_factor"`
	SequenceLength  int      `json:"sequence_length" yaml:"sequence_length"`
	SequenceColumns []string `json:"sequence_columns" yaml:"sequence_columns"`
	TrainSplit      float64  `json:"train_split" yaml:"train_split"`
}

// ForecastConfig contains sequence regressor settings
type ForecastConfig struct {
	Hidden1      int     `json:"hidden1" yaml:"hidden1"`
	Hidden2      int     `json:"hidden2" yaml:"hidden2"`
	Dropout      float64 `json:"dropout" yaml:"dropout"`
	Epochs       int     `json:"epochs" yaml:"epochs"`
	BatchSize    int     `json:"batch_size" yaml:"batch_size"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Patience     int     `json:"patience" yaml:"patience"`
	Seed         int64   `json:"seed" yaml:"seed"`
}

// ARIMAConfig is the statistical forecaster the sequence model is compared against
type ARIMAConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	P       int  `json:"p" yaml:"p"`
	D       int  `json:"d" yaml:"d"`
	Q       int  `json:"q" yaml:"q"`
}

// ClassifierConfig contains risk classifier settings
type ClassifierConfig struct {
	Trees           int     `json:"trees" yaml:"trees"`
	MaxDepth        int     `json:"max_depth" yaml:"max_depth"` // 0 grows until pure
	MinSamplesSplit int     `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	TestSize        float64 `json:"test_size" yaml:"test_size"`
	Seed            int64   `json:"seed" yaml:"seed"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
	File   string `json:"file" yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":5000",
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
			IdleTimeout:  Duration{120 * time.Second},
			RateLimit:    0,
			RateBurst:    20,
		},
		Storage: StorageConfig{
			Backend:             "sql",
			ConnectTimeout:      Duration{2 * time.Second},
			FallbackDir:         "./data/raw",
			WarehouseDir:        "./data/processed",
			ModelDir:            "./models",
			RawCollection:       "raw_readings",
			ProcessedCollection: "processed_features",
			SQL: SQLConfig{
				Driver:          "postgres",
				DSN:             "host=localhost port=5432 user=postgres password=postgres dbname=air_quality_db sslmode=disable connect_timeout=2",
				MaxIdleConns:    2,
				MaxOpenConns:    10,
				ConnMaxLifetime: Duration{time.Hour},
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "air_quality",
			},
			ObjectStore: ObjectStoreConfig{
				Enabled:  false,
				Endpoint: "localhost:9000",
				Bucket:   "air-quality-models",
			},
		},
		Generator: GeneratorConfig{
			Samples:     5000,
			StartDate:   "2023-01-01",
			Frequency:   Duration{time.Hour},
			Seed:        0,
			SensorID:    "VN_HANOI_001",
			Location:    "Hanoi, Vietnam",
			MissingRate: 0.05,
			SpikeRate:   0.01,
			SpikeMin:    3,
			SpikeMax:    5,
		},
		Processing: ProcessingConfig{
			KNNNeighbors:    5,
			CapOutliers:     false,
			OutlierFactor:   5.0,
			SequenceLength:  24,
			SequenceColumns: []string{"pm25", "pm10", "no2", "o3", "pm25_roll_mean_24h"},
			TrainSplit:      0.9,
		},
		Forecast: ForecastConfig{
			Hidden1:      64,
			Hidden2:      32,
			Dropout:      0.2,
			Epochs:       10,
			BatchSize:    32,
			LearningRate: 0.001,
			Patience:     5,
			Seed:         42,
		},
		ARIMA: ARIMAConfig{
			Enabled: true,
			P:       5,
			D:       1,
			Q:       0,
		},
		Classifier: ClassifierConfig{
			Trees:           100,
			MaxDepth:        0,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
			TestSize:        0.2,
			Seed:            42,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return config, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	config := DefaultConfig()
	config.ApplyEnv()
	return config
}

// ApplyEnv overrides fields from AQ_* environment variables
func (c *Config) ApplyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if val, err := strconv.Atoi(v); err == nil {
				*dst = val
			}
		}
	}

	setString("PORT", &c.Server.Port)
	setString("STORAGE_BACKEND", &c.Storage.Backend)
	setString("SQL_DRIVER", &c.Storage.SQL.Driver)
	setString("SQL_DSN", &c.Storage.SQL.DSN)
	setString("REDIS_ADDR", &c.Storage.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Storage.Redis.Password)
	setInt("REDIS_DB", &c.Storage.Redis.DB)
	setString("FALLBACK_DIR", &c.Storage.FallbackDir)
	setString("WAREHOUSE_DIR", &c.Storage.WarehouseDir)
	setString("MODEL_DIR", &c.Storage.ModelDir)
	setString("S3_ENDPOINT", &c.Storage.ObjectStore.Endpoint)
	setString("S3_ACCESS_KEY", &c.Storage.ObjectStore.AccessKey)
	setString("S3_SECRET_KEY", &c.Storage.ObjectStore.SecretKey)
	setString("S3_BUCKET", &c.Storage.ObjectStore.Bucket)
	setInt("SAMPLES", &c.Generator.Samples)
	setInt("EPOCHS", &c.Forecast.Epochs)
	setInt("TREES", &c.Classifier.Trees)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FORMAT", &c.Logging.Format)
	setString("LOG_FILE", &c.Logging.File)

	if v := os.Getenv(EnvPrefix + "SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Generator.Seed = seed
		}
	}
	if v := os.Getenv(EnvPrefix + "S3_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Storage.ObjectStore.Enabled = enabled
		}
	}
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}

	switch c.Storage.Backend {
	case "sql":
		switch c.Storage.SQL.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			return fmt.Errorf("unsupported sql driver: %s", c.Storage.SQL.Driver)
		}
		if c.Storage.SQL.DSN == "" {
			return fmt.Errorf("sql dsn cannot be empty")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("redis addr cannot be empty")
		}
	case "file":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	if c.Storage.FallbackDir == "" || c.Storage.WarehouseDir == "" || c.Storage.ModelDir == "" {
		return fmt.Errorf("storage directories cannot be empty")
	}
	if c.Storage.ObjectStore.Enabled && (c.Storage.ObjectStore.Endpoint == "" || c.Storage.ObjectStore.Bucket == "") {
		return fmt.Errorf("object store endpoint and bucket are required when enabled")
	}

	if c.Generator.Samples <= 0 {
		return fmt.Errorf("generator samples must be positive")
	}
	if c.Generator.Frequency.Duration <= 0 {
		return fmt.Errorf("generator frequency must be positive")
	}
	if _, err := c.Generator.StartTime(); err != nil {
		return err
	}
	if c.Generator.MissingRate < 0 || c.Generator.MissingRate > 1 {
		return fmt.Errorf("missing rate must be between 0 and 1")
	}
	if c.Generator.SpikeRate < 0 || c.Generator.SpikeRate > 1 {
		return fmt.Errorf("spike rate must be between 0 and 1")
	}
	if c.Generator.SpikeMin > c.Generator.SpikeMax {
		return fmt.Errorf("spike min cannot exceed spike max")
	}

	if c.Processing.KNNNeighbors <= 0 {
		return fmt.Errorf("knn neighbors must be positive")
	}
	if c.Processing.SequenceLength <= 0 {
		return fmt.Errorf("sequence length must be positive")
	}
	if len(c.Processing.SequenceColumns) == 0 {
		return fmt.Errorf("sequence columns cannot be empty")
	}
	if c.Processing.TrainSplit <= 0 || c.Processing.TrainSplit >= 1 {
		return fmt.Errorf("train split must be between 0 and 1")
	}

	if c.Forecast.Hidden1 <= 0 || c.Forecast.Hidden2 <= 0 {
		return fmt.Errorf("forecast hidden sizes must be positive")
	}
	if c.Forecast.Dropout < 0 || c.Forecast.Dropout >= 1 {
		return fmt.Errorf("forecast dropout must be in [0, 1)")
	}
	if c.Forecast.Epochs <= 0 || c.Forecast.BatchSize <= 0 {
		return fmt.Errorf("forecast epochs and batch size must be positive")
	}

	if c.ARIMA.P < 0 || c.ARIMA.D < 0 || c.ARIMA.Q < 0 {
		return fmt.Errorf("arima order cannot be negative")
	}
	if c.ARIMA.D > 2 {
		return fmt.Errorf("arima differencing order above 2 is not supported")
	}

	if c.Classifier.Trees <= 0 {
		return fmt.Errorf("classifier trees must be positive")
	}
	if c.Classifier.TestSize <= 0 || c.Classifier.TestSize >= 1 {
		return fmt.Errorf("classifier test size must be between 0 and 1")
	}

	return nil
}

// StartTime parses the generator start date
func (g GeneratorConfig) StartTime() (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, g.StartDate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid generator start date %q", g.StartDate)
}

// GetStorageDataPaths returns all configured data paths
func (c *Config) GetStorageDataPaths() []string {
	return []string{c.Storage.FallbackDir, c.Storage.WarehouseDir, c.Storage.ModelDir}
}

// EnsureDataDirectories creates necessary data directories
func (c *Config) EnsureDataDirectories() error {
	for _, path := range c.GetStorageDataPaths() {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}

	return nil
}

// ConfigManager handles configuration loading and reloading
type ConfigManager struct {
	config   *Config
	filename string
	watchers []func(*Config)
}

// NewConfigManager creates a new configuration manager. The file is optional;
// environment overrides are applied on top of whichever source was used.
func NewConfigManager(filename string) (*ConfigManager, error) {
	var config *Config
	var err error

	if filename != "" && fileExists(filename) {
		config, err = LoadFromFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		config.ApplyEnv()
	} else {
		config = LoadFromEnv()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.EnsureDataDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create data directories: %w", err)
	}

	return &ConfigManager{
		config:   config,
		filename: filename,
		watchers: make([]func(*Config), 0),
	}, nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}

// AddWatcher adds a function to be called when configuration changes
func (cm *ConfigManager) AddWatcher(fn func(*Config)) {
	cm.watchers = append(cm.watchers, fn)
}

// Reload reloads the configuration from file
func (cm *ConfigManager) Reload() error {
	if cm.filename == "" || !fileExists(cm.filename) {
		return fmt.Errorf("no config file to reload")
	}

	newConfig, err := LoadFromFile(cm.filename)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	newConfig.ApplyEnv()

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = newConfig

	for _, watcher := range cm.watchers {
		watcher(newConfig)
	}

	return nil
}

// fileExists checks if a file exists
func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}
