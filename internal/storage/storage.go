// Package storage opens the store selected by STORE_BACKEND.
package storage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-ticketing/internal/adapters/crdb"
	"github.com/robertarktes/event-ticketing/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/event-ticketing/internal/adapters/mongo"
	"github.com/robertarktes/event-ticketing/internal/catalog"
	"github.com/robertarktes/event-ticketing/internal/config"
	"github.com/robertarktes/event-ticketing/internal/identity"
	"github.com/robertarktes/event-ticketing/internal/ledger"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/reconcile"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Store is everything the services need from a backend.
type Store interface {
	ledger.Store
	catalog.Store
	identity.Store
	reconcile.Store
}

type Backend struct {
	Store Store
	Ping  func(ctx context.Context) error
	Close func()
}

func Open(ctx context.Context, cfg *config.Config, logger observability.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using the in-memory store; data is lost on restart")
		return &Backend{
			Store: memory.NewStore(),
			Ping:  func(context.Context) error { return nil },
			Close: func() {},
		}, nil

	case config.BackendCRDB:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			return nil, errors.Wrap(err, "connect to crdb")
		}
		store := crdb.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &Backend{Store: store, Ping: pool.Ping, Close: pool.Close}, nil

	default:
		client, db, err := ConnectMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := mongoadapter.NewStore(db, logger)
		if err := store.EnsureIndexes(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}
		return &Backend{
			Store: store,
			Ping:  func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
			Close: func() { client.Disconnect(context.Background()) },
		}, nil
	}
}

// ConnectMongo connects and pings, returning the configured database.
func ConnectMongo(ctx context.Context, cfg *config.Config) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, nil, errors.Wrap(err, "ping mongo")
	}
	return client, client.Database(cfg.MongoDB), nil
}
