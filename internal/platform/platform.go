// Package platform connects the configured stores and builds the document
// service on top of them. The API server and the seeder share it.
package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"nallo/api/internal/app"
	"nallo/api/internal/cache"
	"nallo/api/internal/config"
	"nallo/api/internal/graph"
	"nallo/api/internal/logger"
	"nallo/api/internal/search"
	"nallo/api/internal/storage"
	"nallo/api/internal/store"
)

type Stack struct {
	DB      *sql.DB
	Graph   *graph.Store
	Content *store.PostgresStore
	Blobs   *storage.MinioStore
	Meili   *search.Meili
	Search  *search.Service
	Cache   *cache.RedisCache
	Service *app.Service
}

// Open connects PostgreSQL and Neo4j, which are required, then the optional
// object storage, Meilisearch and Redis. PostgreSQL migrations are applied.
// Neo4j constraints and the storage bucket are best effort; failures are
// logged and the service starts anyway.
func Open(ctx context.Context, cfg config.Config) (*Stack, error) {
	s := &Stack{}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	s.DB = db
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	s.Content = store.NewPostgresStore(db)

	graphStore, err := graph.New(graph.Config{
		URI:      cfg.GraphURI,
		User:     cfg.GraphUser,
		Password: cfg.GraphPassword,
		Database: cfg.GraphDatabase,
	})
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("graph connection failed: %w", err)
	}
	s.Graph = graphStore
	if err := graphStore.EnsureConstraints(ctx); err != nil {
		logger.Sugar.Warnw("graph constraints not applied, will retry on next restart", "error", err)
	}

	deps := app.Dependencies{Graph: s.Graph, Content: s.Content}

	if strings.TrimSpace(cfg.StorageEndpoint) != "" {
		blobs, err := storage.NewMinioStore(storage.Config{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			Region:    cfg.StorageRegion,
			UseSSL:    cfg.StorageUseSSL,
		})
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			logger.Sugar.Warnw("storage bucket not ready", "bucket", blobs.Bucket(), "error", err)
		}
		s.Blobs = blobs
		deps.Blobs = blobs
	} else {
		logger.Log.Info("object storage not configured, content mirroring disabled")
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		s.Meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	s.Search = search.NewService(s.Meili, search.NewPgFTS(s.Content, s.Graph))
	deps.Search = s.Search

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		s.Cache = redisCache
		deps.Cache = redisCache
	}

	s.Service = app.New(cfg, deps)
	return s, nil
}

// Close releases every connection that was opened.
func (s *Stack) Close(ctx context.Context) {
	var errs []error
	if s.Cache != nil {
		errs = append(errs, s.Cache.Close())
	}
	if s.Meili != nil {
		s.Meili.Close()
	}
	if s.Graph != nil {
		errs = append(errs, s.Graph.Close(ctx))
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Sugar.Warnw("closing connections", "error", err)
	}
}
