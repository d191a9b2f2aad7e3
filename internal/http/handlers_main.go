package http

import (
	"context"
	"errors"
	"net/http"

	"wade/internal/core"
	"wade/internal/directus"
	"wade/internal/guard"
	"wade/internal/log"
	"wade/internal/session"
)

// pageData is shared by every full page.
type pageData struct {
	Title   string
	Session session.Snapshot
	// Base is the budget site path prefix ("" on the budget host).
	Base string
	// MainURL links back to the main site from either host.
	MainURL string
	// BudgetURL links from the main site to the budget site.
	BudgetURL string
	Tab       string
	Tabs      []tabLink
	Error     string
	From      string
	Email     string
	FirstName string
}

func (s *Server) page(r *http.Request, title string) pageData {
	d := pageData{
		Title:     title,
		MainURL:   mainURL(r),
		BudgetURL: "/budget/",
	}
	if sess := session.FromContext(r.Context()); sess != nil {
		d.Session = sess.Snapshot()
	}
	return d
}

// mainURL is the main-site root as seen from the request host.
func mainURL(r *http.Request) string {
	if guard.IsSubdomain(r.Host) {
		return "//" + guard.RootDomain(r.Host) + "/"
	}
	return "/"
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	if err := s.renderer.Page(w, status, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldTemplate, name,
			log.FieldError, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) renderPartial(w http.ResponseWriter, r *http.Request, name string, data any) {
	if err := s.renderer.Partial(w, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldTemplate, name,
			log.FieldError, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "home", s.page(r, "Wade"))
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	data := s.page(r, "Log in")
	data.From = safeRedirect(r.URL.Query().Get("from"), "")
	s.render(w, r, http.StatusOK, "login", data)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	data := s.page(r, "Log in")

	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		data.Error = "Invalid request."
		s.render(w, r, http.StatusBadRequest, "login", data)
		return
	}
	data.Email = p.Get("email")
	data.From = safeRedirect(p.Get("from"), "")

	err := sess.Login(ctx, data.Email, p.Secret("password"))
	if err == nil {
		sess, err = s.rotate(ctx, w, sess)
	}
	if err != nil {
		s.events.LogAuthEvent(ctx, log.OpLogin, "", "", err)
		status, msg := loginFailure(err)
		data.Session = sess.Snapshot()
		data.Error = msg
		s.render(w, r, status, "login", data)
		return
	}

	snap := sess.Snapshot()
	s.events.LogAuthEvent(ctx, log.OpLogin, snap.User.ID, snap.Role, nil)
	dest := safeRedirect(data.From, "/")
	if snap.IsPending {
		dest = "/pending"
	}
	guard.Redirect(w, r, dest)
}

// rotate moves a freshly signed-in session to a new id. On failure the
// original session, now signed out, is returned with the error.
func (s *Server) rotate(ctx context.Context, w http.ResponseWriter, sess *session.Session) (*session.Session, error) {
	n, err := s.sessions.Rotate(ctx, w, sess)
	if err != nil {
		return sess, err
	}
	return n, nil
}

func loginFailure(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrMissingField):
		return http.StatusUnprocessableEntity, "Please enter your email and password."
	case directus.IsAuthError(err):
		return http.StatusUnauthorized, "Failed to log in. Please check your credentials."
	default:
		return http.StatusBadGateway, "The login service is unavailable. Please try again."
	}
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register", s.page(r, "Register"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	data := s.page(r, "Register")

	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		data.Error = "Invalid request."
		s.render(w, r, http.StatusBadRequest, "register", data)
		return
	}
	reg := p.Registration()
	data.Email = reg.Email
	data.FirstName = reg.FirstName

	err := sess.Register(ctx, reg)
	if err == nil {
		sess, err = s.rotate(ctx, w, sess)
	}
	if err != nil {
		s.events.LogAuthEvent(ctx, log.OpRegister, "", "", err)
		status, msg := registerFailure(err)
		data.Session = sess.Snapshot()
		data.Error = msg
		s.render(w, r, status, "register", data)
		return
	}

	snap := sess.Snapshot()
	s.events.LogAuthEvent(ctx, log.OpRegister, snap.User.ID, snap.Role, nil)
	dest := "/"
	if snap.IsPending {
		dest = "/pending"
	}
	guard.Redirect(w, r, dest)
}

var fieldLabels = map[string]string{
	"first_name": "first name",
	"email":      "email",
	"password":   "password",
	"confirm":    "password confirmation",
}

func registerFailure(err error) (int, string) {
	var fe *core.FieldError
	if errors.As(err, &fe) {
		switch {
		case errors.Is(err, session.ErrInvalidEmail):
			return http.StatusUnprocessableEntity, "Please enter a valid email address."
		case errors.Is(err, session.ErrPasswordMismatch):
			return http.StatusUnprocessableEntity, "Passwords do not match."
		default:
			return http.StatusUnprocessableEntity, "Please fill in the " + fieldLabels[fe.Field] + " field."
		}
	}
	var de *directus.Error
	if errors.As(err, &de) && de.StatusCode == http.StatusBadRequest {
		return http.StatusConflict, "Could not create the account. The email may already be registered."
	}
	if directus.IsAuthError(err) {
		return http.StatusForbidden, "Registration is currently closed."
	}
	return http.StatusBadGateway, "Registration failed. Please try again."
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.FromContext(ctx)
	var userID, role string
	if sess != nil {
		snap := sess.Snapshot()
		role = snap.Role
		if snap.User != nil {
			userID = snap.User.ID
		}
	}
	s.sessions.End(ctx, w, sess)
	s.events.LogAuthEvent(ctx, log.OpLogout, userID, role, nil)
	guard.Redirect(w, r, mainURL(r))
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	data := s.page(r, "Account pending")
	if !data.Session.IsAuthenticated && !data.Session.Loading {
		guard.Redirect(w, r, "/login")
		return
	}
	s.render(w, r, http.StatusOK, "pending", data)
}

func (s *Server) handleUnauthorized(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusForbidden, "unauthorized", s.page(r, "Unauthorized"))
}

// handleLoading is shown by the guard while the session probe runs.
func (s *Server) handleLoading(w http.ResponseWriter, r *http.Request) {
	if isHTMX(r) {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.render(w, r, http.StatusOK, "loading", s.page(r, "Loading"))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if isHTMX(r) {
		NotFoundError("Not found").Write(w)
		return
	}
	data := pageData{Title: "Not found", MainURL: mainURL(r), BudgetURL: "/budget/"}
	s.render(w, r, http.StatusNotFound, "notfound", data)
}
