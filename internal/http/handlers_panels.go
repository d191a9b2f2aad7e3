package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"wade/internal/core"
	"wade/internal/directus"
	"wade/internal/log"
	"wade/internal/panel"
	"wade/internal/session"
)

// panelHandlers serves one list-editing panel as htmx partials. Responses
// are always 200 so htmx swaps the panel; failures show as notices.
type panelHandlers[T panel.Record] struct {
	s     *Server
	name  string
	base  string
	get   func(*session.Session) *panel.Panel[T]
	parse func(*RequestBodyParser) T
	// render writes the panel partial.
	render func(w http.ResponseWriter, r *http.Request, sess *session.Session, p *panel.Panel[T])
}

func (h *panelHandlers[T]) mount(sr *mux.Router) {
	prefix := h.base + "/ui/" + h.name
	sr.HandleFunc(prefix, h.list).Methods(http.MethodGet)
	sr.HandleFunc(prefix, h.add).Methods(http.MethodPost)
	sr.HandleFunc(prefix+"/{id}/edit", h.edit).Methods(http.MethodGet)
	sr.HandleFunc(prefix+"/{id}/cancel", h.cancel).Methods(http.MethodPost)
	sr.HandleFunc(prefix+"/{id}", h.save).Methods(http.MethodPost, http.MethodPut)
	sr.HandleFunc(prefix+"/{id}", h.remove).Methods(http.MethodDelete)
}

func (h *panelHandlers[T]) list(w http.ResponseWriter, r *http.Request) {
	sess, p, ctx := h.resolve(r)
	err := p.Refresh(ctx)
	h.respond(w, r, sess, p, "", "", err)
}

func (h *panelHandlers[T]) add(w http.ResponseWriter, r *http.Request) {
	sess, p, ctx := h.resolve(r)
	form, ok := h.form(w, r)
	if !ok {
		return
	}
	p.UpdateAddForm(form)
	err := p.SubmitAdd(ctx)
	h.respond(w, r, sess, p, log.OpCreate, "", err)
}

func (h *panelHandlers[T]) edit(w http.ResponseWriter, r *http.Request) {
	sess, p, _ := h.resolve(r)
	err := p.BeginEdit(mux.Vars(r)["id"])
	h.respond(w, r, sess, p, "", "", err)
}

func (h *panelHandlers[T]) cancel(w http.ResponseWriter, r *http.Request) {
	sess, p, _ := h.resolve(r)
	p.Cancel()
	h.respond(w, r, sess, p, "", "", nil)
}

func (h *panelHandlers[T]) save(w http.ResponseWriter, r *http.Request) {
	sess, p, ctx := h.resolve(r)
	id := mux.Vars(r)["id"]
	draft, ok := h.form(w, r)
	if !ok {
		return
	}
	err := p.SaveRow(ctx, id, draft)
	h.respond(w, r, sess, p, log.OpUpdate, id, err)
}

func (h *panelHandlers[T]) remove(w http.ResponseWriter, r *http.Request) {
	sess, p, ctx := h.resolve(r)
	id := mux.Vars(r)["id"]
	err := p.Delete(ctx, id)
	h.respond(w, r, sess, p, log.OpDelete, id, err)
}

func (h *panelHandlers[T]) resolve(r *http.Request) (*session.Session, *panel.Panel[T], context.Context) {
	sess := session.FromContext(r.Context())
	return sess, h.get(sess), sess.WithToken(r.Context())
}

func (h *panelHandlers[T]) form(w http.ResponseWriter, r *http.Request) (T, bool) {
	var zero T
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		BadRequestError("Invalid request.").Write(w)
		return zero, false
	}
	return h.parse(p), true
}

// respond maps the outcome to HX-Trigger notifications and re-renders the
// panel. op is empty for non-mutating calls.
func (h *panelHandlers[T]) respond(w http.ResponseWriter, r *http.Request, sess *session.Session, p *panel.Panel[T], op, id string, err error) {
	ctx := r.Context()
	b := NewHTMXResponse()

	if op != "" && !errors.Is(err, panel.ErrValidation) {
		h.s.events.LogMutation(ctx, h.name, op, id, err)
	}

	switch {
	case err == nil && op != "":
		b.TriggerRecordsChanged(h.name)
		if n := p.View().Notice; n.IsError() {
			b.TriggerNotification(NotificationWarning, n.Message, 5000)
		} else if !n.IsZero() {
			b.TriggerSuccessNotification(n.Message)
		}
		if op == log.OpCreate {
			b.TriggerFormReset()
		}
	case errors.Is(err, panel.ErrBusy):
		b.TriggerNotification(NotificationWarning, "Another change is still being saved.", 3000)
	case errors.Is(err, panel.ErrStale):
		b.TriggerNotification(NotificationInfo, "The list was reset. Please try again.", 3000)
	case errors.Is(err, panel.ErrNotEditing), errors.Is(err, panel.ErrRowNotFound):
		b.TriggerNotification(NotificationWarning, "That row is no longer available.", 3000)
	case directus.IsAuthError(err):
		b.TriggerErrorNotification("Your session has expired. Please log in again.")
	}

	b.ApplyHeaders(w)
	h.render(w, r, sess, p)
}

type categoriesData struct {
	Base string
	View panel.View[core.BudgetCategory]
}

type entriesData struct {
	Base       string
	View       panel.View[core.BudgetEntry]
	Categories []string
	// Unknown marks category names with no matching category.
	Unknown map[string]bool
	Totals  core.Totals
}

const (
	categoriesKey = "panel:categories"
	entriesKey    = "panel:entries"
)

func (s *Server) categoriesPanel(sess *session.Session) *panel.Panel[core.BudgetCategory] {
	return session.Attached(sess, categoriesKey, func() *panel.Panel[core.BudgetCategory] {
		return panel.New[core.BudgetCategory](s.categories, panel.Options[core.BudgetCategory]{
			Name:     "categories",
			Query:    allRows("category"),
			Validate: core.BudgetCategory.Validate,
			Logger:   s.logger.WithComponent(log.ComponentPanel).Slog(),
		})
	})
}

func (s *Server) entriesPanel(sess *session.Session) *panel.Panel[core.BudgetEntry] {
	return session.Attached(sess, entriesKey, func() *panel.Panel[core.BudgetEntry] {
		return panel.New[core.BudgetEntry](s.entries, panel.Options[core.BudgetEntry]{
			Name:     "entries",
			Query:    allRows("-id"),
			Validate: core.BudgetEntry.Validate,
			Logger:   s.logger.WithComponent(log.ComponentPanel).Slog(),
		})
	})
}

func (s *Server) categoryHandlers(base string) *panelHandlers[core.BudgetCategory] {
	return &panelHandlers[core.BudgetCategory]{
		s:     s,
		name:  "categories",
		base:  base,
		get:   s.categoriesPanel,
		parse: (*RequestBodyParser).Category,
		render: func(w http.ResponseWriter, r *http.Request, _ *session.Session, p *panel.Panel[core.BudgetCategory]) {
			s.renderPartial(w, r, "categories_panel", categoriesData{Base: base, View: p.View()})
		},
	}
}

func (s *Server) entryHandlers(base string) *panelHandlers[core.BudgetEntry] {
	return &panelHandlers[core.BudgetEntry]{
		s:     s,
		name:  "entries",
		base:  base,
		get:   s.entriesPanel,
		parse: (*RequestBodyParser).Entry,
		render: func(w http.ResponseWriter, r *http.Request, sess *session.Session, p *panel.Panel[core.BudgetEntry]) {
			s.renderPartial(w, r, "entries_panel", s.entriesData(r, sess, base, p.View()))
		},
	}
}

// entriesData pairs the entries view with the category names for the
// dropdowns, loading the categories panel on first use.
func (s *Server) entriesData(r *http.Request, sess *session.Session, base string, v panel.View[core.BudgetEntry]) entriesData {
	cp := s.categoriesPanel(sess)
	cv := cp.View()
	if !cv.Loaded {
		if err := cp.Refresh(sess.WithToken(r.Context())); err != nil && !errors.Is(err, panel.ErrStale) {
			log.FromContext(r.Context()).DebugContext(r.Context(), "Category names unavailable", log.FieldError, err)
		}
		cv = cp.View()
	}

	data := entriesData{
		Base:       base,
		View:       v,
		Categories: core.CategoryNames(cv.Rows),
		Totals:     core.Summarize(v.Rows),
	}
	if cv.Loaded {
		data.Unknown = map[string]bool{}
		for _, name := range core.UnknownCategories(v.Rows, cv.Rows) {
			data.Unknown[name] = true
		}
	}
	return data
}
