package backend

import (
	"context"
	"time"

	"wade/internal/cache"
	"wade/internal/session"
)

// MemoryStore keeps credentials in process memory. They are lost on
// restart, which signs every user out.
type MemoryStore struct {
	creds   *cache.LRUCache[session.Credential]
	maxSize int
	ttl     time.Duration
}

func NewMemoryStore(maxSize int, ttl time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		creds:   cache.NewLRUCache[session.Credential](maxSize, ttl),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (m *MemoryStore) Save(_ context.Context, sessionID string, cred session.Credential) error {
	m.creds.Set(sessionID, cred)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (session.Credential, error) {
	cred, ok := m.creds.Get(sessionID)
	if !ok {
		return session.Credential{}, session.ErrNoCredential
	}
	return cred, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.creds.Delete(sessionID)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// CleanExpired implements cache.Cleaner.
func (m *MemoryStore) CleanExpired() int {
	return m.creds.CleanExpired()
}
