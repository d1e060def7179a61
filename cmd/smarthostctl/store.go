package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/smarthost-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/smarthost-reservations/internal/adapters/mongo"
	"github.com/robertarktes/smarthost-reservations/internal/config"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
)

type env struct {
	cfg    *config.Config
	logger observability.Logger
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: observability.NewLoggerWithLevel(cfg.LogLevel)}, nil
}

func (e *env) openStore(ctx context.Context) (*pgxpool.Pool, *crdb.Repository, error) {
	pool, err := crdb.Open(ctx, e.cfg.CRDBDSN)
	if err != nil {
		return nil, nil, err
	}
	return pool, crdb.NewRepository(pool, crdb.WithMaxRetries(e.cfg.TxMaxRetries)), nil
}

func (e *env) openMongo(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	client, err := mongoadapter.Connect(ctx, e.cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Database(e.cfg.MongoDB), nil
}
