// Package session holds the signed-in identity of one browser session and
// the login, logout and registration flows that change it.
//
// A Session is created per browser by the Manager. It starts unprobed; the
// first request probes the stored credential, and until the probe finishes
// other requests see Loading. Logout always ends with local state cleared,
// whatever the server answered.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/badoux/checkmail"

	"wade/internal/core"
	"wade/internal/directus"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// Authenticator is the part of the Directus client a session needs.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*directus.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context) (*directus.User, error)
	CreateUser(ctx context.Context, nu directus.NewUser) (*directus.User, error)
}

// Roles holds the Directus role ids the sites authorize on.
type Roles struct {
	Pending string
	Basic   string
	Admin   string
}

// Registration is the main-site sign-up form.
type Registration struct {
	FirstName string
	Email     string
	Password  string
	Confirm   string
}

// Validate checks presence of every field, the email format and that both
// passwords match.
func (r Registration) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"first_name", r.FirstName},
		{"email", r.Email},
		{"password", r.Password},
		{"confirm", r.Confirm},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &core.FieldError{Field: f.name, Err: core.ErrMissingField}
		}
	}
	if err := checkmail.ValidateFormat(strings.TrimSpace(r.Email)); err != nil {
		return &core.FieldError{Field: "email", Err: ErrInvalidEmail}
	}
	if r.Password != r.Confirm {
		return &core.FieldError{Field: "confirm", Err: ErrPasswordMismatch}
	}
	return nil
}

// Registered describes a completed sign-up for notification consumers.
type Registered struct {
	UserID    string
	Email     string
	FirstName string
	Role      string
	At        time.Time
}

// Notifier is told about new registrations. Failures are logged only.
type Notifier interface {
	NotifyRegistration(ctx context.Context, r Registered) error
}

// Snapshot is a consistent read of a session.
type Snapshot struct {
	User            *directus.User
	IsAuthenticated bool
	Role            string
	IsAdmin         bool
	IsPending       bool
	Loading         bool
}

// Invalidator is implemented by values attached to a session that must be
// reset when the session signs out.
type Invalidator interface {
	Invalidate()
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Auth  Authenticator
	Store TokenStore
	// Notifier is optional.
	Notifier Notifier
	Roles    Roles
	// RegistrationToken, when set, authorizes POST /users.
	RegistrationToken string
	Logger            *slog.Logger
	Now               func() time.Time
}

type Session struct {
	id   string
	deps *Deps

	mu      sync.Mutex
	user    *directus.User
	cred    Credential
	derived Snapshot
	probed  bool
	probing bool
	// version changes on login and logout so a slow probe never overwrites
	// a newer sign-in state.
	version  uint64
	attached map[string]any
}

func newSession(id string, deps *Deps) *Session {
	return &Session{id: id, deps: deps, attached: map[string]any{}}
}

// ID returns the opaque session id carried by the cookie.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) logger() *slog.Logger {
	return s.deps.Logger.With("session", shortID(s.id))
}

func (s *Session) now() time.Time {
	if s.deps.Now != nil {
		return s.deps.Now()
	}
	return time.Now()
}

// Probe resolves a stored credential into a user once per session. Any
// failure leaves the session signed out and drops the stored credential.
// Callers arriving while a probe runs return immediately and observe
// Loading.
func (s *Session) Probe(ctx context.Context) {
	s.mu.Lock()
	if s.probed || s.probing {
		s.mu.Unlock()
		return
	}
	s.probing = true
	version := s.version
	s.mu.Unlock()

	user, cred := s.resolve(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.probing = false
	s.probed = true
	if version != s.version {
		return
	}
	s.cred = cred
	s.setUser(user)
}

func (s *Session) resolve(ctx context.Context) (*directus.User, Credential) {
	cred, err := s.deps.Store.Load(ctx, s.id)
	if errors.Is(err, ErrNoCredential) {
		return nil, Credential{}
	}
	if err != nil {
		s.logger().WarnContext(ctx, "Failed to load stored credential", "error", err)
		return nil, Credential{}
	}
	if cred.Expired(s.now()) {
		s.forget(ctx)
		return nil, Credential{}
	}
	user, err := s.deps.Auth.Me(directus.WithToken(ctx, cred.AccessToken))
	if err != nil {
		s.logger().InfoContext(ctx, "Stored credential rejected, signing out", "error", err)
		s.forget(ctx)
		return nil, Credential{}
	}
	return user, cred
}

// forget removes the stored credential, logging failures.
func (s *Session) forget(ctx context.Context) {
	if err := s.deps.Store.Delete(ctx, s.id); err != nil {
		s.logger().WarnContext(ctx, "Failed to delete stored credential", "error", err)
	}
}

// Login exchanges email and password for a credential, stores it and
// fetches the user. On any failure the session is left signed out.
func (s *Session) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.signOutLocal()
		return &core.FieldError{Field: "email", Err: core.ErrMissingField}
	}

	res, err := s.deps.Auth.Login(ctx, email, password)
	if err != nil {
		s.signOutLocal()
		return fmt.Errorf("login: %w", err)
	}
	cred := credentialFrom(res, s.now())

	if err := s.deps.Store.Save(ctx, s.id, cred); err != nil {
		s.signOutLocal()
		return fmt.Errorf("store credential: %w", err)
	}

	user, err := s.deps.Auth.Me(directus.WithToken(ctx, cred.AccessToken))
	if err != nil {
		s.forget(ctx)
		s.signOutLocal()
		return fmt.Errorf("fetch user: %w", err)
	}

	s.mu.Lock()
	s.version++
	s.probed = true
	s.cred = cred
	s.setUser(user)
	s.mu.Unlock()

	s.logger().InfoContext(ctx, "User signed in", "user_id", user.ID, "role", user.Role.ID)
	return nil
}

// Register creates a pending user and signs them in.
func (s *Session) Register(ctx context.Context, r Registration) error {
	if err := r.Validate(); err != nil {
		return err
	}
	email := strings.TrimSpace(r.Email)

	createCtx := ctx
	if s.deps.RegistrationToken != "" {
		createCtx = directus.WithToken(ctx, s.deps.RegistrationToken)
	}
	user, err := s.deps.Auth.CreateUser(createCtx, directus.NewUser{
		FirstName: strings.TrimSpace(r.FirstName),
		Email:     email,
		Password:  r.Password,
		Role:      s.deps.Roles.Pending,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	s.logger().InfoContext(ctx, "User registered", "user_id", user.ID)

	if s.deps.Notifier != nil {
		note := Registered{
			UserID:    user.ID,
			Email:     email,
			FirstName: strings.TrimSpace(r.FirstName),
			Role:      s.deps.Roles.Pending,
			At:        s.now().UTC(),
		}
		if err := s.deps.Notifier.NotifyRegistration(ctx, note); err != nil {
			s.logger().WarnContext(ctx, "Failed to publish registration", "user_id", user.ID, "error", err)
		}
	}

	return s.Login(ctx, email, r.Password)
}

// Logout invalidates the refresh token on the server when possible, then
// clears the session, its stored credential and everything attached to it.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	if cred.AccessToken != "" || cred.RefreshToken != "" {
		if err := s.deps.Auth.Logout(directus.WithToken(ctx, cred.AccessToken), cred.RefreshToken); err != nil {
			s.logger().WarnContext(ctx, "Server logout failed, clearing local session anyway", "error", err)
		}
	}

	s.forget(ctx)
	s.signOutLocal()
	s.logger().InfoContext(ctx, "User signed out")
}

// moveTo copies the signed-in state of s to a new session under id and
// re-saves the credential there. s is then signed out locally and its stored
// credential removed, so the old id carries nothing. On failure s is signed
// out as well.
func (s *Session) moveTo(ctx context.Context, id string) (*Session, error) {
	n := newSession(id, s.deps)

	s.mu.Lock()
	cred := s.cred
	n.user, n.cred, n.derived = s.user, s.cred, s.derived
	n.probed = true
	s.mu.Unlock()

	if cred.AccessToken != "" || cred.RefreshToken != "" {
		if err := s.deps.Store.Save(ctx, id, cred); err != nil {
			s.forget(ctx)
			s.signOutLocal()
			return nil, fmt.Errorf("store credential: %w", err)
		}
	}
	s.forget(ctx)
	s.signOutLocal()
	return n, nil
}

// signOutLocal clears identity and attachments.
func (s *Session) signOutLocal() {
	s.mu.Lock()
	attached := s.attached
	s.attached = map[string]any{}
	s.version++
	s.probed = true
	s.cred = Credential{}
	s.setUser(nil)
	s.mu.Unlock()

	for _, v := range attached {
		if inv, ok := v.(Invalidator); ok {
			inv.Invalidate()
		}
	}
}

// setUser updates the user and the fields derived from it. Callers hold mu.
func (s *Session) setUser(u *directus.User) {
	s.user = u
	d := Snapshot{User: u}
	if u != nil {
		d.IsAuthenticated = true
		d.Role = u.Role.ID
		roles := s.deps.Roles
		d.IsAdmin = (roles.Admin != "" && u.Role.ID == roles.Admin) || u.Role.Name == "Admin"
		d.IsPending = (roles.Pending != "" && u.Role.ID == roles.Pending) || u.Status == "pending"
	}
	s.derived = d
}

// Snapshot returns the current identity and derived flags.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.derived
	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	snap.Loading = s.probing || !s.probed
	return snap
}

// WithToken returns ctx carrying the session's access token for gateway
// calls. A signed-out session yields ctx unchanged.
func (s *Session) WithToken(ctx context.Context) context.Context {
	s.mu.Lock()
	token := s.cred.AccessToken
	s.mu.Unlock()
	if token == "" {
		return ctx
	}
	return directus.WithToken(ctx, token)
}

// Attached returns the value stored under key, creating it on first use.
// Attachments live until the session signs out.
func Attached[V any](s *Session, key string, create func() V) V {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.attached[key].(V); ok {
		return v
	}
	v := create()
	s.attached[key] = v
	return v
}

// InvalidateAttached resets every attachment implementing Invalidator
// without signing out.
func (s *Session) InvalidateAttached() {
	s.mu.Lock()
	values := make([]any, 0, len(s.attached))
	for _, v := range s.attached {
		values = append(values, v)
	}
	s.mu.Unlock()
	for _, v := range values {
		if inv, ok := v.(Invalidator); ok {
			inv.Invalidate()
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
