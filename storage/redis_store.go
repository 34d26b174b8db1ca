package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"air-quality-analytics/config"
	"air-quality-analytics/dataset"
)

const redisPushChunk = 1000

// RedisStore keeps each collection as a redis list of JSON documents
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

// NewRedisStore connects and pings redis within ctx
func NewRedisStore(ctx context.Context, cfg config.RedisConfig, timeout time.Duration, logger *logrus.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStore{client: client, prefix: cfg.KeyPrefix, logger: logger}, nil
}

// Backend returns the backend name
func (rs *RedisStore) Backend() string {
	return BackendRedis
}

func (rs *RedisStore) key(collection string) string {
	if rs.prefix == "" {
		return "collection:" + collection
	}
	return rs.prefix + ":collection:" + collection
}

// InsertMany appends documents to the collection list; an empty slice is a no-op
func (rs *RedisStore) InsertMany(ctx context.Context, collection string, docs []dataset.Document) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	values := make([]interface{}, len(docs))
	for i, doc := range docs {
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal document %d: %w", i, err)
		}
		values[i] = payload
	}

	key := rs.key(collection)
	_, err := rs.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for start := 0; start < len(values); start += redisPushChunk {
			end := start + redisPushChunk
			if end > len(values) {
				end = len(values)
			}
			pipe.RPush(ctx, key, values[start:end]...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}

	rs.logger.WithFields(logrus.Fields{
		"collection": collection,
		"records":    len(docs),
	}).Info("Inserted records")
	return nil
}

// FetchAll returns the documents of a collection in insertion order
func (rs *RedisStore) FetchAll(ctx context.Context, collection string) ([]dataset.Document, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}

	raw, err := rs.client.LRange(ctx, rs.key(collection), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", collection, err)
	}

	docs := make([]dataset.Document, 0, len(raw))
	for i, item := range raw {
		var doc dataset.Document
		if err := json.Unmarshal([]byte(item), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %d of %s: %w", i, collection, err)
		}
		docs = append(docs, stripInternal(doc))
	}
	return docs, nil
}

// Clear deletes the collection list
func (rs *RedisStore) Clear(ctx context.Context, collection string) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if err := rs.client.Del(ctx, rs.key(collection)).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}
	rs.logger.WithField("collection", collection).Info("Cleared collection")
	return nil
}

// Close closes the client
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
