package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendDatabase = "database"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend string
	Redis   RedisOptions
	DSN     string
}

// Open builds the Store named by opts.Backend.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", opts.Backend)

	switch opts.Backend {
	case BackendRedis, "":
		return NewRedisStore(ctx, opts.Redis, logger)
	case BackendMemory:
		logger.Info("memory store ready")
		return NewMemoryStore(), nil
	case BackendDatabase:
		return NewDatabaseStore(opts.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
