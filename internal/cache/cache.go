// Package cache provides the size-bounded TTL cache that holds sessions
// and in-memory credentials, plus a manager that purges expired entries in
// the background.
package cache

import (
	"log/slog"
	"sync"
	"time"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by anything holding expirable entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager runs periodic cleanup over registered cleaners.
type Manager struct {
	mu          sync.Mutex
	cleaners    map[string]Cleaner
	logger      *slog.Logger
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	started     bool
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cleaners:    make(map[string]Cleaner),
		logger:      logger,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a named cleaner. Registering a name again replaces it.
func (m *Manager) Register(name string, c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaners[name] = c
}

// CleanNow runs every cleaner once and returns the removed count per name.
func (m *Manager) CleanNow() map[string]int {
	m.mu.Lock()
	cleaners := make(map[string]Cleaner, len(m.cleaners))
	for name, c := range m.cleaners {
		cleaners[name] = c
	}
	m.mu.Unlock()

	removed := make(map[string]int, len(cleaners))
	for name, c := range cleaners {
		removed[name] = c.CleanExpired()
	}
	return removed
}

// StartCleanup begins periodic cleanup. It is a no-op when already started.
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for name, n := range m.CleanNow() {
				if n > 0 {
					m.logger.Debug("Cache cleanup completed", "component", "cache", "cache", name, "removed", n)
				}
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop ends the cleanup loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()
	if !started {
		return
	}
	close(m.stopCleanup)
	<-m.cleanupDone
}
