package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/kkuzar/pos_hub/internal/cache"
	"github.com/kkuzar/pos_hub/internal/cache/redis"
	"github.com/kkuzar/pos_hub/internal/config"
	"github.com/kkuzar/pos_hub/internal/database"
	"github.com/kkuzar/pos_hub/internal/database/dynamodb"
	"github.com/kkuzar/pos_hub/internal/database/firestore"
	"github.com/kkuzar/pos_hub/internal/database/mongodb"
	"github.com/kkuzar/pos_hub/internal/database/sqlstore"
	"github.com/kkuzar/pos_hub/internal/storage"
	"github.com/kkuzar/pos_hub/internal/storage/s3"
	"go.uber.org/zap"
)

// openDatabase creates the database adapter selected by cfg.Type.
func openDatabase(ctx context.Context, cfg *config.DBConfig, logger *zap.Logger) (database.DBAdapter, error) {
	switch cfg.Type {
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("%w: POSTGRES_DSN is required", database.ErrDBConfig)
		}
		return sqlstore.NewClient(ctx, sqlstore.DriverPostgres, cfg.PostgresDSN, logger)
	case "sqlite":
		return sqlstore.NewClient(ctx, sqlstore.DriverSQLite, cfg.SQLitePath, logger)
	case "mongodb":
		if cfg.MongoURI == "" || cfg.MongoDBName == "" {
			return nil, fmt.Errorf("%w: MONGO_URI and MONGO_DB_NAME are required", database.ErrDBConfig)
		}
		return mongodb.NewMongoClient(ctx, cfg.MongoURI, cfg.MongoDBName, logger)
	case "dynamodb":
		if cfg.DynamoRegion == "" || cfg.DynamoTable == "" {
			return nil, fmt.Errorf("%w: AWS_REGION and DYNAMO_TABLE_NAME are required", database.ErrDBConfig)
		}
		return dynamodb.NewDynamoDBClient(ctx, cfg.DynamoRegion, cfg.DynamoTable, logger)
	case "firestore":
		if cfg.FirestoreProjectID == "" {
			return nil, fmt.Errorf("%w: FIRESTORE_PROJECT_ID is required", database.ErrDBConfig)
		}
		return firestore.NewFirestoreClient(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentials, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported DB_TYPE %q", database.ErrDBConfig, cfg.Type)
	}
}

// openStorage returns a nil adapter when receipt archiving is disabled.
func openStorage(ctx context.Context, cfg *config.StorageConfig, logger *zap.Logger) (storage.StorageAdapter, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "s3":
		client, err := s3.NewS3Client(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unsupported STORAGE_TYPE %q", storage.ErrStorageConfig, cfg.Type)
	}
}

// openCache prefers Redis and falls back to the in-process cache. The
// in-process cache keeps metrics buckets local to this instance.
func openCache(cfg *config.RedisConfig, logger *zap.Logger) cache.Cache {
	redisCache, err := redis.NewRedisCache(cfg, logger)
	if err == nil {
		return redisCache
	}
	if errors.Is(err, redis.ErrDisabled) {
		logger.Info("Redis disabled, using in-memory cache")
	} else {
		logger.Warn("Failed to initialize Redis, falling back to in-memory cache", zap.Error(err))
	}
	return cache.NewMemoryCache()
}
