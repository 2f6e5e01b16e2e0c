// Package setup builds the configured backend implementations. Both
// binaries wire their dependencies through these constructors so the
// config-to-implementation mapping lives in one place.
package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/z-wentao/capflow/pkg/config"
	"github.com/z-wentao/capflow/pkg/queue"
	"github.com/z-wentao/capflow/pkg/storage"
	"github.com/z-wentao/capflow/pkg/store"
)

// NewQueue builds the configured bus implementation.
func NewQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Type {
	case "memory":
		return queue.NewMemoryQueue(cfg.Queue.BufferSize), nil
	case "rabbitmq":
		return queue.NewRabbitMQQueue(
			cfg.Queue.RabbitMQ.URL,
			cfg.Queue.RabbitMQ.JobsQueue,
			cfg.Queue.RabbitMQ.ResultsQueue,
			cfg.Queue.Workers,
		)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Queue.Type)
	}
}

// NewSessionStore builds the configured session/chunk persistence backend.
func NewSessionStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "redis":
		return storage.NewRedisStore(
			cfg.Storage.Redis.Addr,
			cfg.Storage.Redis.Password,
			cfg.Storage.Redis.DB,
			time.Duration(cfg.Storage.Redis.TTLHours)*time.Hour,
		)
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.Postgres.ConnString)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// NewObjectStore builds the configured blob storage backend.
func NewObjectStore(ctx context.Context, cfg *config.Config) (store.ObjectStore, error) {
	switch cfg.ObjectStore.Type {
	case "local":
		return store.NewLocalStore(cfg.ObjectStore.Local.BaseDir, cfg.ObjectStore.Local.BaseURL)
	case "minio":
		return store.NewMinIOStore(ctx, store.MinIOOptions{
			Endpoint:  cfg.ObjectStore.MinIO.Endpoint,
			AccessKey: cfg.ObjectStore.MinIO.AccessKey,
			SecretKey: cfg.ObjectStore.MinIO.SecretKey,
			Bucket:    cfg.ObjectStore.MinIO.Bucket,
			UseSSL:    cfg.ObjectStore.MinIO.UseSSL,
			BaseURL:   cfg.ObjectStore.MinIO.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported object store type: %s", cfg.ObjectStore.Type)
	}
}
