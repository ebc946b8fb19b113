package main

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/redis/go-redis/v9"
)

func openBackend(ctx context.Context, c config.StoreConfig) (store.Backend, error) {
	switch c.Driver {
	case "bolt":
		return store.NewBoltBackend(c.Path)
	case store.DriverSQLite, store.DriverPostgres:
		backend, err := store.NewSQLBackend(c.Driver, c.DSN)
		if err != nil {
			return nil, err
		}
		if err := backend.RunMigrations(); err != nil {
			_ = backend.Close()
			return nil, err
		}
		return backend, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return store.NewRedisBackend(client), nil
	case "mongo":
		db, err := store.ConnectMongoDB(ctx, c.MongoURI, c.MongoDB)
		if err != nil {
			return nil, err
		}
		return store.NewMongoBackend(db), nil
	case "memory":
		return store.NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", c.Driver)
}
