package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wade/internal/backend"
	"wade/internal/config"
	"wade/internal/directus"
	"wade/internal/log"
	"wade/internal/session"
)

// fakeDirectus serves the subset of the Directus REST API the sites use.
type fakeDirectus struct {
	mu      sync.Mutex
	cats    []map[string]any
	entries []map[string]any
	nextID  int
	creates int
	updates int
	deletes int
	logouts int
}

var fakeUsers = map[string]map[string]any{
	"tok-basic":   {"id": "u-basic", "email": "basic@example.com", "first_name": "Ada", "status": "active", "role": map[string]any{"id": "role-basic", "name": "Basic"}},
	"tok-pending": {"id": "u-pending", "email": "pending@example.com", "first_name": "Bo", "status": "active", "role": map[string]any{"id": "role-pending", "name": "Pending"}},
}

var fakePasswords = map[string]string{
	"basic@example.com":   "pw",
	"pending@example.com": "pw",
}

func newFakeDirectus() *fakeDirectus {
	return &fakeDirectus{
		cats: []map[string]any{
			{"id": 1, "category": "Food", "note": ""},
			{"id": 2, "category": "Work", "note": "job"},
		},
		entries: []map[string]any{
			{"id": 1, "item": "Salary", "amount": "200.00", "type": "Income", "category": "Work"},
			{"id": 2, "item": "Lunch", "amount": "50", "type": "Expense", "category": "Food"},
			{"id": 3, "item": "Taxi", "amount": "abc", "type": "Expense", "category": "Travel"},
		},
		nextID: 10,
	}
}

func writeData(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeErr(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []any{map[string]any{"message": code, "extensions": map[string]any{"code": code}}},
	})
}

func (f *fakeDirectus) authorized(r *http.Request) bool {
	_, ok := fakeUsers[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	return ok
}

func (f *fakeDirectus) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/server/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if pw, ok := fakePasswords[body["email"]]; !ok || pw != body["password"] {
			writeErr(w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
			return
		}
		token := "tok-basic"
		if strings.HasPrefix(body["email"], "pending") {
			token = "tok-pending"
		}
		writeData(w, http.StatusOK, map[string]any{"access_token": token, "refresh_token": "r-" + token, "expires": 900000})
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logouts++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		u, ok := fakeUsers[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		if !ok {
			writeErr(w, http.StatusUnauthorized, "INVALID_CREDENTIALS")
			return
		}
		writeData(w, http.StatusOK, u)
	})
	mux.HandleFunc("/items/budget_categories", f.items(&f.cats))
	mux.HandleFunc("/items/budget_categories/", f.item(&f.cats))
	mux.HandleFunc("/items/budget_entries", f.items(&f.entries))
	mux.HandleFunc("/items/budget_entries/", f.item(&f.entries))
	return mux
}

func (f *fakeDirectus) items(rows *[]map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeErr(w, http.StatusForbidden, "FORBIDDEN")
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			writeData(w, http.StatusOK, *rows)
		case http.MethodPost:
			var rec map[string]any
			_ = json.NewDecoder(r.Body).Decode(&rec)
			f.nextID++
			f.creates++
			rec["id"] = f.nextID
			*rows = append(*rows, rec)
			writeData(w, http.StatusOK, rec)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func (f *fakeDirectus) item(rows *[]map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeErr(w, http.StatusForbidden, "FORBIDDEN")
			return
		}
		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, rec := range *rows {
			if fmt.Sprint(rec["id"]) != id {
				continue
			}
			switch r.Method {
			case http.MethodPatch:
				var patch map[string]any
				_ = json.NewDecoder(r.Body).Decode(&patch)
				for k, v := range patch {
					if k == "id" {
						continue
					}
					rec[k] = v
				}
				f.updates++
				writeData(w, http.StatusOK, rec)
			case http.MethodDelete:
				*rows = append((*rows)[:i], (*rows)[i+1:]...)
				f.deletes++
				w.WriteHeader(http.StatusNoContent)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
			return
		}
		writeErr(w, http.StatusNotFound, "RECORD_NOT_FOUND")
	}
}

func (f *fakeDirectus) counts() (creates, updates, deletes, logouts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates, f.deletes, f.logouts
}

// browser replays the session cookie between requests.
type browser struct {
	h      http.Handler
	cookie *http.Cookie
}

type reqOption func(*http.Request)

func htmx(r *http.Request) { r.Header.Set("HX-Request", "true") }

func onHost(host string) reqOption {
	return func(r *http.Request) { r.Host = host }
}

func (b *browser) do(method, target string, form url.Values, opts ...reqOption) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	b.h.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name != session.CookieName {
			continue
		}
		if c.MaxAge < 0 {
			b.cookie = nil
		} else {
			b.cookie = c
		}
	}
	return rec
}

func newTestServer(t *testing.T) (*fakeDirectus, *browser) {
	t.Helper()
	fake := newFakeDirectus()
	api := httptest.NewServer(fake.handler())
	t.Cleanup(api.Close)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := directus.New(api.URL, directus.WithLogger(quiet))
	require.NoError(t, err)

	cfg := &config.Config{
		PendingRole:        "role-pending",
		BasicRole:          "role-basic",
		AdminRole:          "role-admin",
		RootDomain:         "example.com",
		BudgetSubdomain:    "budget",
		RateLimitPerMinute: 10000,
		RateLimitBurst:     1000,
	}
	store := backend.NewMemoryStore(100, time.Hour)
	logger := log.New(log.Config{Level: slog.LevelError, Output: io.Discard})
	sessions := session.NewManager(session.Deps{
		Auth:   client,
		Store:  store,
		Roles:  session.Roles{Pending: cfg.PendingRole, Basic: cfg.BasicRole, Admin: cfg.AdminRole},
		Logger: quiet,
	}, session.ManagerConfig{TTL: time.Hour, MaxSessions: 100})

	s, err := NewServer(":0", Deps{
		Config:   cfg,
		Directus: client,
		Sessions: sessions,
		Backend:  store,
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return fake, &browser{h: s.Handler}
}

func login(t *testing.T, b *browser, email, from string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"email": {email}, "password": {"pw"}}
	if from != "" {
		form.Set("from", from)
	}
	return b.do(http.MethodPost, "/login", form)
}

func TestHealthAndReadiness(t *testing.T) {
	_, b := newTestServer(t)

	rec := b.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = b.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ready readiness
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, "ok", ready.Checks["directus"])
	assert.Equal(t, "ok", ready.Checks["sessions"])

	rec = b.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"requests"`)
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	_, b := newTestServer(t)

	rec := b.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), "Log in")
}

func TestGuardRedirectsAnonymousUsers(t *testing.T) {
	_, b := newTestServer(t)

	rec := b.do(http.MethodGet, "/budget/", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?from=%2Fbudget%2F", rec.Header().Get("Location"))

	rec = b.do(http.MethodGet, "/budget/ui/categories", nil, htmx)
	assert.Equal(t, "/login?from=%2Fbudget%2Fui%2Fcategories", rec.Header().Get("HX-Redirect"))

	// On the budget sub-domain the login page lives on the root domain.
	rec = b.do(http.MethodGet, "/", nil, onHost("budget.example.com"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "//example.com/login", rec.Header().Get("Location"))
}

func TestLoginRedirectsBackAndServesBudget(t *testing.T) {
	_, b := newTestServer(t)

	rec := login(t, b, "basic@example.com", "/budget/categories")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/budget/categories", rec.Header().Get("Location"))

	rec = b.do(http.MethodGet, "/budget/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Ada")
	assert.Contains(t, body, "/budget/ui/categories")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	// Same session on the budget host.
	rec = b.do(http.MethodGet, "/ui/categories", nil, htmx, onHost("budget.example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hx-post="/ui/categories"`)
}

func TestLoginIssuesFreshSessionID(t *testing.T) {
	_, victim := newTestServer(t)

	victim.do(http.MethodGet, "/", nil)
	planted := victim.cookie
	require.NotNil(t, planted)

	rec := login(t, victim, "basic@example.com", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	require.NotNil(t, victim.cookie)
	assert.NotEqual(t, planted.Value, victim.cookie.Value)
	assert.Len(t, rec.Result().Cookies(), 1)

	rec = victim.do(http.MethodGet, "/budget/categories", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Whoever still holds the pre-login id is not signed in.
	other := &browser{h: victim.h, cookie: planted}
	rec = other.do(http.MethodGet, "/budget/categories", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/login")
}

func TestLoginRejectsOpenRedirect(t *testing.T) {
	_, b := newTestServer(t)
	rec := login(t, b, "basic@example.com", "//evil.example/")
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestLoginFailureShowsError(t *testing.T) {
	_, b := newTestServer(t)

	rec := b.do(http.MethodPost, "/login", url.Values{"email": {"basic@example.com"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to log in")
	assert.Contains(t, rec.Body.String(), `value="basic@example.com"`)

	rec = b.do(http.MethodGet, "/budget/", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestPendingUserIsNotAuthorized(t *testing.T) {
	_, b := newTestServer(t)

	rec := login(t, b, "pending@example.com", "/budget/")
	assert.Equal(t, "/pending", rec.Header().Get("Location"))

	rec = b.do(http.MethodGet, "/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pending approval")

	rec = b.do(http.MethodGet, "/budget/", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/unauthorized", rec.Header().Get("Location"))
}

func TestCategoryPanelLifecycle(t *testing.T) {
	fake, b := newTestServer(t)
	login(t, b, "basic@example.com", "")

	rec := b.do(http.MethodGet, "/budget/ui/categories", nil, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Food")
	assert.Contains(t, rec.Body.String(), "job")

	// add
	rec = b.do(http.MethodPost, "/budget/ui/categories", url.Values{"category": {"Travel"}, "note": {"trips"}}, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Travel")
	assert.Contains(t, rec.Header().Get("HX-Trigger"), "records:changed")
	creates, _, _, _ := fake.counts()
	assert.Equal(t, 1, creates)

	// invalid add makes no call and keeps the form
	rec = b.do(http.MethodPost, "/budget/ui/categories", url.Values{"category": {"  "}, "note": {"kept"}}, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please fill in the category field.")
	assert.Contains(t, rec.Body.String(), `value="kept"`)
	creates, _, _, _ = fake.counts()
	assert.Equal(t, 1, creates)

	// edit then save
	rec = b.do(http.MethodGet, "/budget/ui/categories/1/edit", nil, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hx-post="/budget/ui/categories/1"`)

	rec = b.do(http.MethodPost, "/budget/ui/categories/1", url.Values{"category": {"Groceries"}, "note": {""}}, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Groceries")
	assert.NotContains(t, rec.Body.String(), `hx-post="/budget/ui/categories/1"`)
	_, updates, _, _ := fake.counts()
	assert.Equal(t, 1, updates)

	// save without an edit in progress makes no call
	rec = b.do(http.MethodPost, "/budget/ui/categories/2", url.Values{"category": {"Nope"}}, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), "no longer available")
	_, updates, _, _ = fake.counts()
	assert.Equal(t, 1, updates)

	// delete
	rec = b.do(http.MethodDelete, "/budget/ui/categories/2", nil, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "job")
	_, _, deletes, _ := fake.counts()
	assert.Equal(t, 1, deletes)
}

func TestCancelLeavesRowUntouched(t *testing.T) {
	fake, b := newTestServer(t)
	login(t, b, "basic@example.com", "")

	b.do(http.MethodGet, "/budget/ui/categories", nil, htmx)
	b.do(http.MethodGet, "/budget/ui/categories/1/edit", nil, htmx)
	rec := b.do(http.MethodPost, "/budget/ui/categories/1/cancel", nil, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `hx-post="/budget/ui/categories/1"`)
	assert.Contains(t, rec.Body.String(), "Food")
	_, updates, _, _ := fake.counts()
	assert.Zero(t, updates)
}

func TestTabSwitchResetsPanels(t *testing.T) {
	fake, b := newTestServer(t)
	login(t, b, "basic@example.com", "")

	b.do(http.MethodGet, "/budget/ui/categories", nil, htmx)
	b.do(http.MethodGet, "/budget/ui/categories/1/edit", nil, htmx)

	rec := b.do(http.MethodGet, "/budget/dashboard", nil, htmx, func(r *http.Request) { r.Header.Set("HX-Target", "viewport") })
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dashboard")
	assert.NotContains(t, rec.Body.String(), "<html")

	rec = b.do(http.MethodPost, "/budget/ui/categories/1", url.Values{"category": {"Late"}}, htmx)
	assert.Contains(t, rec.Header().Get("HX-Trigger"), "no longer available")
	_, updates, _, _ := fake.counts()
	assert.Zero(t, updates)
}

func TestEntriesPanelFlagsBadData(t *testing.T) {
	_, b := newTestServer(t)
	login(t, b, "basic@example.com", "")

	rec := b.do(http.MethodGet, "/budget/ui/entries", nil, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Salary")
	assert.Contains(t, body, "missing")
	assert.Contains(t, body, "invalid")
	assert.Contains(t, body, "150.00")
	assert.Contains(t, body, `<option value="Food"`)
}

func TestEntryAddRejectsMalformedAmount(t *testing.T) {
	fake, b := newTestServer(t)
	login(t, b, "basic@example.com", "")

	form := url.Values{"item": {"Book"}, "amount": {"ten"}, "type": {"Expense"}, "category": {"Food"}}
	rec := b.do(http.MethodPost, "/budget/ui/entries", form, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Amount must be a non-negative number.")
	creates, _, _, _ := fake.counts()
	assert.Zero(t, creates)

	form.Set("amount", "12,50")
	rec = b.do(http.MethodPost, "/budget/ui/entries", form, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Book")
	creates, _, _, _ = fake.counts()
	assert.Equal(t, 1, creates)
}

func TestSummaryTotals(t *testing.T) {
	_, b := newTestServer(t)
	login(t, b, "basic@example.com", "")

	rec := b.do(http.MethodGet, "/budget/ui/summary", nil, htmx)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "200.00")
	assert.Contains(t, body, "50.00")
	assert.Contains(t, body, "150.00")
	assert.Contains(t, body, "Travel")
	assert.Contains(t, body, "1 transaction(s) have an unreadable amount")
}

func TestLogoutClearsSession(t *testing.T) {
	fake, b := newTestServer(t)
	login(t, b, "basic@example.com", "")
	oldCookie := b.cookie
	require.NotNil(t, oldCookie)

	rec := b.do(http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Nil(t, b.cookie)
	_, _, _, logouts := fake.counts()
	assert.Equal(t, 1, logouts)

	// The old cookie no longer carries a credential.
	b.cookie = oldCookie
	rec = b.do(http.MethodGet, "/budget/", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/login")
}

func TestUnknownBudgetPathIsNotFound(t *testing.T) {
	_, b := newTestServer(t)
	rec := b.do(http.MethodGet, "/budget/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
