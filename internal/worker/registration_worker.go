// Package worker reacts to registration messages published by the main site.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"wade/internal/amqp"
	"wade/internal/directus"
)

// UserLookup reads a user record. *directus.Client implements it.
type UserLookup interface {
	User(ctx context.Context, id string) (*directus.User, error)
}

// Pending is a registration still waiting for an administrator.
type Pending struct {
	UserID    string
	Email     string
	FirstName string
	Received  time.Time
}

// RegistrationWorker confirms that announced users are still pending and
// keeps the list of accounts awaiting approval.
type RegistrationWorker struct {
	users       UserLookup
	token       string
	pendingRole string
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[string]Pending
}

// NewRegistrationWorker creates a worker. token authorizes reading
// directus_users; pendingRole is the role id new accounts receive.
func NewRegistrationWorker(users UserLookup, token, pendingRole string, logger *slog.Logger) *RegistrationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationWorker{
		users:       users,
		token:       token,
		pendingRole: pendingRole,
		logger:      logger.With("component", "registration_worker"),
		pending:     make(map[string]Pending),
	}
}

// HandleRegistration processes one message. Returning an error requeues it,
// so only transient lookup failures are reported.
func (w *RegistrationWorker) HandleRegistration(ctx context.Context, msg *amqp.RegistrationMessage) error {
	if strings.TrimSpace(msg.UserID) == "" {
		w.logger.WarnContext(ctx, "Discarding registration without user id", "email", msg.Email)
		return nil
	}

	if w.token != "" {
		ctx = directus.WithToken(ctx, w.token)
	}
	user, err := w.users.User(ctx, msg.UserID)
	switch {
	case directus.IsNotFound(err):
		w.forget(msg.UserID)
		w.logger.InfoContext(ctx, "Registered user no longer exists", "user_id", msg.UserID)
		return nil
	case directus.IsAuthError(err):
		// Retrying cannot fix missing permissions.
		w.logger.ErrorContext(ctx, "Not allowed to read registered user", "user_id", msg.UserID, "error", err)
		return nil
	case err != nil:
		return fmt.Errorf("look up user %s: %w", msg.UserID, err)
	}

	if !w.isPending(user) {
		w.forget(msg.UserID)
		w.logger.InfoContext(ctx, "Registration already approved",
			"user_id", msg.UserID,
			"role", user.Role.Name)
		return nil
	}

	received := msg.Timestamp
	if received.IsZero() {
		received = time.Now().UTC()
	}
	w.mu.Lock()
	w.pending[msg.UserID] = Pending{
		UserID:    msg.UserID,
		Email:     user.Email,
		FirstName: user.FirstName,
		Received:  received,
	}
	count := len(w.pending)
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Registration awaiting approval",
		"user_id", msg.UserID,
		"email", user.Email,
		"pending_total", count)
	return nil
}

// Pending returns the accounts awaiting approval, oldest first.
func (w *RegistrationWorker) Pending() []Pending {
	w.mu.Lock()
	out := make([]Pending, 0, len(w.pending))
	for _, p := range w.pending {
		out = append(out, p)
	}
	w.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Received.Before(out[j].Received) })
	return out
}

// Run consumes registrations until ctx is cancelled.
func (w *RegistrationWorker) Run(ctx context.Context, client *amqp.Client) error {
	w.logger.InfoContext(ctx, "Registration worker started")
	err := client.ConsumeRegistrations(ctx, w.HandleRegistration)
	if ctx.Err() != nil {
		w.logger.InfoContext(ctx, "Registration worker stopped", "pending_total", len(w.Pending()))
		return nil
	}
	return err
}

func (w *RegistrationWorker) isPending(u *directus.User) bool {
	if w.pendingRole != "" && u.Role.ID == w.pendingRole {
		return true
	}
	return strings.EqualFold(u.Status, "pending") || strings.EqualFold(u.Role.Name, "pending")
}

func (w *RegistrationWorker) forget(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}
