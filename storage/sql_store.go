package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
)

const insertBatchSize = 500

// documentRow stores one document of a collection
type documentRow struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	Collection string         `gorm:"size:128;index;not null"`
	Payload    datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time
}

func (documentRow) TableName() string {
	return "documents"
}

// SQLStore keeps documents in a relational table through gorm
type SQLStore struct {
	db     *gorm.DB
	driver string
	logger *logrus.Logger
}

// NewSQLStore opens the database, pings it within ctx and migrates the documents table
func NewSQLStore(ctx context.Context, cfg config.SQLConfig, logger *logrus.Logger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&documentRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate documents table: %w", err)
	}

	return &SQLStore{db: db, driver: cfg.Driver, logger: logger}, nil
}

// Backend returns the backend name
func (s *SQLStore) Backend() string {
	return BackendSQL + "/" + s.driver
}

// InsertMany inserts documents in batches; an empty slice is a no-op
func (s *SQLStore) InsertMany(ctx context.Context, collection string, docs []dataset.Document) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	rows := make([]documentRow, len(docs))
	for i, doc := range docs {
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document %d: %w", i, err)
		}
		rows[i] = documentRow{Collection: collection, Payload: datatypes.JSON(payload)}
	}

	if err := s.db.WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}

	s.logger.WithFields(logrus.Fields{
		"collection": collection,
		"records":    len(rows),
	}).Info("Inserted records")
	return nil
}

// FetchAll returns the documents of a collection in insertion order
func (s *SQLStore) FetchAll(ctx context.Context, collection string) ([]dataset.Document, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", collection, err)
	}

	docs := make([]dataset.Document, 0, len(rows))
	for _, row := range rows {
		var doc dataset.Document
		if err := json.Unmarshal(row.Payload, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %d of %s: %w", row.ID, collection, err)
		}
		docs = append(docs, stripInternal(doc))
	}
	return docs, nil
}

// Clear removes every document of a collection
func (s *SQLStore) Clear(ctx context.Context, collection string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Where("collection = ?", collection).Delete(&documentRow{})
	if result.Error != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"collection": collection,
		"deleted":    result.RowsAffected,
	}).Info("Cleared collection")
	return nil
}

// Close closes the connection pool
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
