// Package panel implements the list-editing state machine behind the
// category and entry tables: a fetched list, an add form and at most one
// row in inline edit.
//
// Every successful mutation is followed by a full re-fetch; rows are never
// patched locally. A panel allows one mutation in flight at a time and
// discards any completion that belongs to an invalidated generation.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"wade/internal/directus"
)

// State is the edit state of a panel.
type State int

const (
	Viewing State = iota
	EditingRow
)

func (s State) String() string {
	switch s {
	case Viewing:
		return "viewing"
	case EditingRow:
		return "editing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrValidation wraps the validator's error when a form is rejected
	// before any gateway call.
	ErrValidation = errors.New("validation failed")
	// ErrBusy is returned when another mutation is still in flight.
	ErrBusy = errors.New("another change is in progress")
	// ErrStale is returned when the panel was invalidated while the call
	// was running; its result has been discarded.
	ErrStale = errors.New("result discarded: panel was reset")
	// ErrNotEditing is returned by Save, SaveRow and UpdateDraft when the
	// row is not the one in edit.
	ErrNotEditing = errors.New("no row is being edited")
	// ErrRowNotFound is returned by BeginEdit for an id not in the list.
	ErrRowNotFound = errors.New("row not found")
)

// Record is a row with a stable primary key.
type Record interface {
	RecordID() string
}

// Gateway is the remote collection a panel edits. *directus.Collection
// satisfies it.
type Gateway[T any] interface {
	List(ctx context.Context, q directus.Query) ([]T, error)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, id string, item T) (T, error)
	Delete(ctx context.Context, id string) error
}

// Options configures a Panel.
type Options[T any] struct {
	// Name identifies the panel in logs and notices, e.g. "categories".
	Name string
	// Query is used for every list call.
	Query directus.Query
	// Validate checks the add form and the edit draft. Nil accepts all.
	Validate func(T) error
	Logger   *slog.Logger
}

type Panel[T Record] struct {
	name     string
	gateway  Gateway[T]
	query    directus.Query
	validate func(T) error
	logger   *slog.Logger

	mu        sync.Mutex
	rows      []T
	loaded    bool
	editingID string
	draft     T
	addForm   T
	notice    Notice
	busy      bool
	// gen changes on Invalidate; completions from an older gen are dropped.
	gen uint64
	// issued and applied order list results so an older fetch never
	// overwrites a newer one.
	issued  uint64
	applied uint64
}

// New creates a panel in Viewing with an empty list.
func New[T Record](gw Gateway[T], opts Options[T]) *Panel[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "panel"
	}
	return &Panel[T]{
		name:     name,
		gateway:  gw,
		query:    opts.Query,
		validate: opts.Validate,
		logger:   logger.With("panel", name),
	}
}

// Name returns the configured panel name.
func (p *Panel[T]) Name() string {
	return p.name
}

// Refresh reloads the list. It does not take the mutation slot.
func (p *Panel[T]) Refresh(ctx context.Context) error {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	return p.reload(ctx, gen, "load")
}

// reload fetches the list and applies it if gen is still current and no
// newer fetch has been applied meanwhile.
func (p *Panel[T]) reload(ctx context.Context, gen uint64, op string) error {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return ErrStale
	}
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	rows, err := p.gateway.List(ctx, p.query)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		p.logger.DebugContext(ctx, "Discarded list result from reset panel", "operation", op)
		return ErrStale
	}
	if err != nil {
		p.notice = failureNotice(p.name, op, err)
		p.logger.WarnContext(ctx, "List failed", "operation", op, "error", err)
		return err
	}
	if seq < p.applied {
		return nil
	}
	p.applied = seq
	p.rows = rows
	p.loaded = true
	if p.editingID != "" && p.indexOf(p.editingID) < 0 {
		p.clearEdit()
	}
	return nil
}

// BeginEdit enters EditingRow(id) with a snapshot of the row as the draft.
// A draft for another row is dropped without confirmation.
func (p *Panel[T]) BeginEdit(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%s %q: %w", p.name, id, ErrRowNotFound)
	}
	p.editingID = id
	p.draft = p.rows[i]
	p.notice = Notice{}
	return nil
}

// UpdateDraft replaces the draft of the row being edited.
func (p *Panel[T]) UpdateDraft(draft T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.editingID == "" {
		return ErrNotEditing
	}
	p.draft = draft
	return nil
}

// Cancel drops the draft and returns to Viewing. No gateway call is made.
func (p *Panel[T]) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearEdit()
	p.notice = Notice{}
}

// Save sends the draft to the gateway. On success the list is re-fetched
// and the panel returns to Viewing. On failure it stays in EditingRow with
// the draft untouched.
func (p *Panel[T]) Save(ctx context.Context) error {
	p.mu.Lock()
	if p.editingID == "" {
		p.mu.Unlock()
		return ErrNotEditing
	}
	return p.saveLocked(ctx)
}

// SaveRow replaces the draft and saves it, provided id is still the row in
// edit. The check, the draft update and taking the mutation slot happen
// under one lock, so a concurrent BeginEdit can never redirect the draft to
// another row.
func (p *Panel[T]) SaveRow(ctx context.Context, id string, draft T) error {
	p.mu.Lock()
	if id == "" || p.editingID != id {
		p.mu.Unlock()
		return ErrNotEditing
	}
	p.draft = draft
	return p.saveLocked(ctx)
}

// saveLocked is entered with p.mu held and releases it.
func (p *Panel[T]) saveLocked(ctx context.Context) error {
	if err := p.check(p.draft); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.busy {
		p.mu.Unlock()
		return ErrBusy
	}
	p.busy = true
	p.notice = Notice{}
	gen, id, draft := p.gen, p.editingID, p.draft
	p.mu.Unlock()

	_, err := p.gateway.Update(ctx, id, draft)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		p.busy = false
		p.notice = failureNotice(p.name, "save", err)
		p.mu.Unlock()
		p.logger.WarnContext(ctx, "Update failed", "record_id", id, "error", err)
		return err
	}
	if p.editingID == id {
		p.clearEdit()
	}
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "Record updated", "record_id", id)
	return p.finish(ctx, gen, "saved")
}

// Delete removes the row from any state. On failure the state is unchanged.
func (p *Panel[T]) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return ErrBusy
	}
	p.busy = true
	p.notice = Notice{}
	gen := p.gen
	p.mu.Unlock()

	err := p.gateway.Delete(ctx, id)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		p.busy = false
		p.notice = failureNotice(p.name, "delete", err)
		p.mu.Unlock()
		p.logger.WarnContext(ctx, "Delete failed", "record_id", id, "error", err)
		return err
	}
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "Record deleted", "record_id", id)
	return p.finish(ctx, gen, "deleted")
}

// UpdateAddForm replaces the add form contents.
func (p *Panel[T]) UpdateAddForm(form T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addForm = form
}

// SubmitAdd validates the add form and creates the record. An invalid form
// makes no gateway call. On success the form is cleared and the list
// re-fetched; on failure the form is kept.
func (p *Panel[T]) SubmitAdd(ctx context.Context) error {
	p.mu.Lock()
	if err := p.check(p.addForm); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.busy {
		p.mu.Unlock()
		return ErrBusy
	}
	p.busy = true
	p.notice = Notice{}
	gen, form := p.gen, p.addForm
	p.mu.Unlock()

	created, err := p.gateway.Create(ctx, form)

	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		p.busy = false
		p.notice = failureNotice(p.name, "add", err)
		p.mu.Unlock()
		p.logger.WarnContext(ctx, "Create failed", "error", err)
		return err
	}
	var zero T
	p.addForm = zero
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "Record created", "record_id", created.RecordID())
	return p.finish(ctx, gen, "added")
}

// finish re-fetches after a successful mutation and releases the mutation
// slot. A failed re-fetch keeps the previous rows and reports it; the
// mutation itself is not undone.
func (p *Panel[T]) finish(ctx context.Context, gen uint64, done string) error {
	err := p.reload(ctx, gen, "reload")

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return ErrStale
	}
	p.busy = false
	if err != nil {
		p.notice = Notice{
			Kind:    failureNotice(p.name, "reload", err).Kind,
			Message: fmt.Sprintf("Record %s, but the list could not be reloaded. Refresh to see it.", done),
		}
		return nil
	}
	p.notice = Notice{Kind: NoticeSuccess, Message: fmt.Sprintf("Record %s.", done)}
	return nil
}

// Invalidate resets the panel to an empty Viewing state and bumps its
// generation. Results of calls still running are dropped on arrival.
func (p *Panel[T]) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	var zero T
	p.rows = nil
	p.loaded = false
	p.clearEdit()
	p.addForm = zero
	p.notice = Notice{}
	p.busy = false
}

// check runs the validator with the lock held. It records a notice on
// failure.
func (p *Panel[T]) check(item T) error {
	if p.validate == nil {
		return nil
	}
	if err := p.validate(item); err != nil {
		p.notice = Notice{Kind: NoticeValidation, Message: validationMessage(err)}
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func (p *Panel[T]) clearEdit() {
	var zero T
	p.editingID = ""
	p.draft = zero
}

func (p *Panel[T]) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, r := range p.rows {
		if r.RecordID() == id {
			return i
		}
	}
	return -1
}
