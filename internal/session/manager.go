package session

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"wade/internal/cache"
)

// CookieName is the cookie carrying the opaque session id.
const CookieName = "wade_session"

// ManagerConfig configures cookies and in-memory session retention.
type ManagerConfig struct {
	TTL          time.Duration
	MaxSessions  int
	CookieDomain string
	CookieSecure bool
}

// Manager maps session cookies to Session objects.
type Manager struct {
	deps     *Deps
	cfg      ManagerConfig
	sessions *cache.LRUCache[*Session]
}

// NewManager creates a manager. deps.Auth and deps.Store are required.
func NewManager(deps Deps, cfg ManagerConfig) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10000
	}
	return &Manager{
		deps:     &deps,
		cfg:      cfg,
		sessions: cache.NewLRUCache[*Session](cfg.MaxSessions, cfg.TTL),
	}
}

// Cleaner exposes the session cache for registration with a cache.Manager.
func (m *Manager) Cleaner() cache.Cleaner {
	return m.sessions
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	return m.sessions.Size()
}

// Get returns the session for the request cookie, or nil.
func (m *Manager) Get(r *http.Request) *Session {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return nil
	}
	if s, ok := m.sessions.Get(c.Value); ok {
		return s
	}
	// Unknown but well-formed id: the process may have restarted while a
	// persistent store still holds the credential. Probe decides.
	s := newSession(c.Value, m.deps)
	m.sessions.Set(c.Value, s)
	return s
}

// Ensure returns the request's session, starting a new one with a fresh
// cookie when there is none.
func (m *Manager) Ensure(w http.ResponseWriter, r *http.Request) *Session {
	if s := m.Get(r); s != nil {
		m.writeCookie(w, s.id)
		return s
	}
	s := newSession(uuid.NewString(), m.deps)
	m.sessions.Set(s.id, s)
	m.writeCookie(w, s.id)
	return s
}

// Rotate moves s to a fresh id after a sign-in, writes the new cookie and
// drops the old id from memory and from the token store. The returned
// session replaces s for the rest of the request.
func (m *Manager) Rotate(ctx context.Context, w http.ResponseWriter, s *Session) (*Session, error) {
	n, err := s.moveTo(ctx, uuid.NewString())
	if err != nil {
		return nil, err
	}
	m.sessions.Delete(s.id)
	m.sessions.Set(n.id, n)
	m.writeCookie(w, n.id)
	return n, nil
}

// End signs the session out and expires its cookie.
func (m *Manager) End(ctx context.Context, w http.ResponseWriter, s *Session) {
	if s == nil {
		return
	}
	s.Logout(ctx)
	m.sessions.Delete(s.id)
	dropCookie(w)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) writeCookie(w http.ResponseWriter, id string) {
	dropCookie(w)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		Domain:   m.cfg.CookieDomain,
		MaxAge:   int(m.cfg.TTL / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// dropCookie removes a session cookie already queued on w, so a response
// never carries two.
func dropCookie(w http.ResponseWriter) {
	h := w.Header()
	var kept []string
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, CookieName+"=") {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
}

type ctxKey struct{}

// NewContext stores s on ctx.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by NewContext, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// Middleware ensures every request has a session, probes it and stores it
// on the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Ensure(w, r)
		s.Probe(r.Context())
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}
