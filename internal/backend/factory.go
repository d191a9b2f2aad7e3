package backend

import (
	"context"
	"fmt"
	"log/slog"

	"wade/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewCredentialRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite credential store: %w", err)
	}

	f.logger.Info("Initialized SQLite session backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Backend: repo,
		Cleaner: repo,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store := NewMemoryStore(config.MaxSessions, config.TTL)

	f.logger.Info("Initialized memory session backend", "max_sessions", store.maxSize, "ttl", store.ttl)

	return &BackendResult{
		Backend: store,
		Cleaner: store,
	}, nil
}
