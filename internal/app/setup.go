// Package app wires the storage, provider and generation components shared
// by the server and worker processes.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"forkchat/internal/capabilities"
	"forkchat/internal/config"
	"forkchat/internal/domain/repositories"
	chatRepo "forkchat/internal/domain/repositories/chat"
	chatService "forkchat/internal/domain/services/chat"
	"forkchat/internal/repository/memory"
	"forkchat/internal/repository/postgres"
	postgresChat "forkchat/internal/repository/postgres/chat"
	"forkchat/internal/repository/redis"
	"forkchat/internal/service/chat/generation"
	"forkchat/internal/service/chat/providers"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Storage holds the repositories and the transaction manager
type Storage struct {
	Threads   chatRepo.ThreadRepository
	Messages  chatRepo.MessageRepository
	TxManager repositories.TransactionManager
	Pool      *pgxpool.Pool // nil for the in-memory store
}

// Close releases the database pool if there is one
func (s *Storage) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// SetupStorage connects to Postgres, or falls back to the in-memory store
// when no DATABASE_URL is configured.
func SetupStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set - using in-memory store (data is lost on restart)")
		store := memory.NewStore()
		return &Storage{
			Threads:   store.Threads(),
			Messages:  store.Messages(),
			TxManager: store.TxManager(),
		}, nil
	}

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	tables := postgres.NewTableNames(cfg.TablePrefix)
	if err := postgres.EnsureSchema(ctx, pool, tables); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logger.Info("database connected", "table_prefix", cfg.TablePrefix)

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	return &Storage{
		Threads:   postgresChat.NewThreadRepository(repoConfig),
		Messages:  postgresChat.NewMessageRepository(repoConfig),
		TxManager: postgres.NewTransactionManager(pool, logger),
		Pool:      pool,
	}, nil
}

// SetupProviders loads the model catalog and builds the provider registry
func SetupProviders(cfg *config.Config, logger *slog.Logger) (*capabilities.Registry, *providers.Registry, error) {
	caps, err := capabilities.NewRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("load capability registry: %w", err)
	}

	registry := providers.NewRegistry(caps, providers.Keys{
		Anthropic:  cfg.AnthropicAPIKey,
		OpenRouter: cfg.OpenRouterAPIKey,
	})

	if cfg.AnthropicAPIKey == "" {
		logger.Warn("ANTHROPIC_API_KEY not set - Anthropic models not available")
	}
	if cfg.OpenRouterAPIKey == "" {
		logger.Warn("OPENROUTER_API_KEY not set - OpenRouter models not available")
	}
	logger.Info("provider registry initialized", "default_model", cfg.DefaultModel)
	return caps, registry, nil
}

// SetupStreams connects the resumable stream store
func SetupStreams(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.StreamStore, func(), error) {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("stream store connected", "key_prefix", cfg.StreamKeyPrefix)
	return redis.NewStreamStore(client, cfg.StreamKeyPrefix, logger), func() { client.Close() }, nil
}

// NewRunner builds the generation runner. relay may be nil in processes
// that serve no live connections.
func NewRunner(cfg *config.Config, storage *Storage, resolver chatService.ProviderResolver, streams chatService.StreamStore, relay chatService.Relay, aux *generation.Auxiliary, logger *slog.Logger) *generation.Runner {
	return generation.NewRunner(generation.Config{
		Threads:      storage.Threads,
		Messages:     storage.Messages,
		Providers:    resolver,
		Streams:      streams,
		Relay:        relay,
		Auxiliary:    aux,
		FlushModulus: cfg.SnapshotFlushModulus,
		Logger:       logger,
	})
}
