package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/geocoder89/userhub/internal/cache"
	"github.com/geocoder89/userhub/internal/config"
	"github.com/geocoder89/userhub/internal/db"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/geocoder89/userhub/internal/repo/memory"
	mongorepo "github.com/geocoder89/userhub/internal/repo/mongo"
	"github.com/geocoder89/userhub/internal/repo/postgres"
	"github.com/geocoder89/userhub/internal/service/users"
)

// closers run in reverse order on shutdown
type closers []func(context.Context) error

func (c closers) closeAll(ctx context.Context, log *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](ctx); err != nil {
			log.Error("close failed", "err", err)
		}
	}
}

func openStore(ctx context.Context, cfg config.Config, prom *observability.Prom, log *slog.Logger) (users.Store, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		connect := db.NewPool
		if cfg.DBMigrate {
			connect = db.ConnectAndMigrate
		}

		pool, err := connect(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}

		log.Info("postgres connected", "migrated", cfg.DBMigrate)
		return postgres.NewUsersRepo(pool, prom), func(context.Context) error {
			pool.Close()
			return nil
		}, nil

	case config.StoreMongo:
		client, err := mongorepo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}

		repo := mongorepo.NewUsersRepo(client.Database(cfg.MongoDB), prom)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}

		log.Info("mongo connected", "db", cfg.MongoDB)
		return repo, client.Disconnect, nil

	case config.StoreMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return memory.NewUsersRepo(), nil, nil
	}

	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func openCache(ctx context.Context, cfg config.Config, log *slog.Logger) (cache.Store, error) {
	switch cfg.CacheDriver {
	case config.CacheRedis:
		rdb := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		// an unreachable redis is not fatal; lookups degrade to misses
		if err := rdb.Ping(ctx); err != nil {
			log.Warn("redis unreachable at startup, serving from store", "addr", cfg.RedisAddr, "err", err)
		} else {
			log.Info("redis connected", "addr", cfg.RedisAddr)
		}
		return rdb, nil

	case config.CacheMemory:
		return cache.NewMemorySized(cfg.MemoryCacheEntries, nil), nil

	case config.CacheNone:
		return cache.Noop{}, nil
	}

	return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
}
