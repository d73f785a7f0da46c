// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/config"
	"github.com/gatherline/gatherline/internal/docstore"
	"github.com/gatherline/gatherline/internal/model"
)

// openStore connects to the configured document store. Tests override this
// to inject an in-memory store.
var openStore = func(ctx context.Context, cfg config.Config) (docstore.Store, error) {
	if cfg.Database.URL == "" {
		slog.Warn("no database configured, using in-memory store")
		return docstore.NewMemoryStore(), nil
	}

	store, err := docstore.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	return store, nil
}

// newCache builds an object cache with every domain schema registered.
func newCache(store docstore.Store) *cache.Cache {
	return cache.New(store, model.NewRegistry(), cache.Options{Logger: slog.Default()})
}
