package app

import (
	"context"
	"fmt"

	"github.com/gogotex/document-service/internal/config"
	"github.com/gogotex/document-service/internal/database"
	"github.com/gogotex/document-service/internal/document/repository"
	"github.com/gogotex/document-service/internal/storage"
)

// OpenStore connects the configured revision store. The returned cleanup
// releases the store and any client it owns; it is never nil.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	noop := func() {}
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return repository.NewMemoryStore(), noop, nil

	case config.BackendBolt:
		s, err := repository.OpenBoltStore(cfg.Bolt.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil

	case config.BackendSQLite:
		s, err := repository.OpenSQLiteStore(cfg.SQLite.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil

	case config.BackendPostgres:
		pool, err := database.ConnectPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, connectTimeout)
		if err != nil {
			return nil, noop, err
		}
		s, err := repository.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		return s, func() { s.Close() }, nil

	case config.BackendMongo:
		client, err := database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if err != nil {
			return nil, noop, err
		}
		disconnect := func() { client.Disconnect(context.Background()) }
		s, err := repository.NewMongoStore(ctx, client.Database(cfg.MongoDB.Database), cfg.MongoDB.Collection)
		if err != nil {
			disconnect()
			return nil, noop, err
		}
		return s, disconnect, nil

	case config.BackendMinIO:
		objects, err := storage.NewMinIOStorage(ctx, &cfg.MinIO)
		if err != nil {
			return nil, noop, err
		}
		return repository.NewObjectStore(objects), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
