package panel

import (
	"errors"
	"fmt"

	"wade/internal/core"
	"wade/internal/directus"
)

// NoticeKind classifies the message shown above a panel.
type NoticeKind string

const (
	NoticeNone       NoticeKind = ""
	NoticeSuccess    NoticeKind = "success"
	NoticeValidation NoticeKind = "validation"
	NoticeNetwork    NoticeKind = "network"
	NoticeAuth       NoticeKind = "auth"
)

type Notice struct {
	Kind    NoticeKind
	Message string
}

func (n Notice) IsZero() bool {
	return n.Kind == NoticeNone
}

// IsError reports whether the notice describes a failure.
func (n Notice) IsError() bool {
	return n.Kind != NoticeNone && n.Kind != NoticeSuccess
}

// View is a consistent copy of the panel taken under its lock.
type View[T Record] struct {
	Name      string
	Rows      []T
	Loaded    bool
	State     State
	EditingID string
	Draft     T
	AddForm   T
	Notice    Notice
	Busy      bool
}

// IsEditing reports whether id is the row in inline edit.
func (v View[T]) IsEditing(id string) bool {
	return v.State == EditingRow && v.EditingID == id
}

// View returns a snapshot for rendering.
func (p *Panel[T]) View() View[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := View[T]{
		Name:      p.name,
		Rows:      append([]T(nil), p.rows...),
		Loaded:    p.loaded,
		State:     Viewing,
		EditingID: p.editingID,
		Draft:     p.draft,
		AddForm:   p.addForm,
		Notice:    p.notice,
		Busy:      p.busy,
	}
	if p.editingID != "" {
		v.State = EditingRow
	}
	return v
}

func failureNotice(name, op string, err error) Notice {
	if directus.IsAuthError(err) {
		return Notice{Kind: NoticeAuth, Message: "Your session has expired. Please log in again."}
	}
	return Notice{Kind: NoticeNetwork, Message: fmt.Sprintf("Could not %s %s. Please try again.", op, name)}
}

func validationMessage(err error) string {
	var fe *core.FieldError
	if errors.As(err, &fe) {
		switch {
		case errors.Is(fe.Err, core.ErrMissingField):
			return fmt.Sprintf("Please fill in the %s field.", fe.Field)
		case errors.Is(fe.Err, core.ErrInvalidAmount):
			return "Amount must be a non-negative number."
		case errors.Is(fe.Err, core.ErrInvalidType):
			return "Type must be Income or Expense."
		}
	}
	return err.Error()
}
