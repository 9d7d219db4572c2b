package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/peerplot/peerplot/internal/config"
	"github.com/peerplot/peerplot/internal/database"
)

// OpenRepository builds the repository selected by cfg.Store.Backend.
func OpenRepository(ctx context.Context, cfg *config.Config) (Repository, error) {
	switch cfg.Store.Backend {
	case "memory":
		return NewMemoryRepo(), nil
	case "", "sqlite":
		return OpenSQLiteRepo(cfg.Store.SQLitePath)
	case "mongo":
		// Retry/backoff when connecting to MongoDB to tolerate startup races
		const maxAttempts = 5
		backoff := time.Second
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			client, err := database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if err == nil {
				col := client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection)
				return NewMongoRepo(col), nil
			}
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
			}
		}
		return nil, fmt.Errorf("could not connect to MongoDB after %d attempts: %w", maxAttempts, lastErr)
	case "redis":
		client, err := database.ConnectRedis(ctx, cfg.Redis.Host+":"+cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return NewRedisRepo(client, cfg.Redis.Prefix), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// Open builds the configured repository and wraps it in a Store identified by
// the sync peer id.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	repo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(repo, cfg.Sync.PeerID), nil
}
