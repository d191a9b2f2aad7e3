package backend

import (
	"context"
	"time"

	"wade/internal/session"
)

// Backend is where session credentials are kept.
type Backend interface {
	session.TokenStore
	// Ping reports whether the store is usable. Used by readiness checks.
	Ping(ctx context.Context) error
}

// CleanupFunc releases the resources held by a backend.
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend Backend
	// Cleaner, when non-nil, purges expired credentials and should be
	// registered with a cache.Manager.
	Cleaner interface{ CleanExpired() int }
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Memory specific
	MaxSessions int
	TTL         time.Duration
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
