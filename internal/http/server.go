package http

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"wade/internal/backend"
	"wade/internal/cache"
	"wade/internal/config"
	"wade/internal/core"
	"wade/internal/directus"
	"wade/internal/guard"
	"wade/internal/log"
	"wade/internal/middleware/ratelimit"
	"wade/internal/middleware/security"
	"wade/internal/middleware/trace"
	"wade/internal/session"
	appweb "wade/web"
)

// Collection names in Directus.
const (
	CategoriesCollection = "budget_categories"
	EntriesCollection    = "budget_entries"
)

const readHeaderTimeout = 10 * time.Second

// Deps are the collaborators a Server is built from. Caches is optional.
type Deps struct {
	Config   *config.Config
	Directus *directus.Client
	Sessions *session.Manager
	Backend  backend.Backend
	Logger   *log.Logger
	Caches   *cache.Manager
}

// Server serves the main site on the root domain and the budget site on
// its sub-domain and under /budget.
type Server struct {
	http.Server

	cfg      *config.Config
	directus *directus.Client
	sessions *session.Manager
	backend  backend.Backend
	logger   *log.Logger
	events   *log.StructuredLogger
	caches   *cache.Manager
	renderer *Renderer

	categories *directus.Collection[core.BudgetCategory]
	entries    *directus.Collection[core.BudgetEntry]

	detector *security.Detector
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer parses templates and wires routes and middleware, returning a
// ready-to-run server.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Directus == nil || deps.Sessions == nil || deps.Backend == nil {
		return nil, errors.New("http server: config, directus, sessions and backend are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	renderer, err := NewRenderer(appweb.TemplatesFS)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        deps.Config,
		directus:   deps.Directus,
		sessions:   deps.Sessions,
		backend:    deps.Backend,
		logger:     logger,
		events:     log.NewStructuredLogger(logger),
		caches:     deps.Caches,
		renderer:   renderer,
		categories: directus.NewCollection[core.BudgetCategory](deps.Directus, CategoriesCollection),
		entries:    directus.NewCollection[core.BudgetEntry](deps.Directus, EntriesCollection),
		detector:   security.NewDetector(),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: deps.Config.RateLimitPerMinute,
			Burst:             deps.Config.RateLimitBurst,
		}),
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.StrictSlash(false)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	r.Use(s.tracer.Middleware, headers.Middleware, s.detector.Middleware,
		s.limiter.Middleware(s.detector.ExtractClientIP, isUnlimited, s.handleRateLimited))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		r.PathPrefix("/static/").Handler(security.StaticAssetMiddleware(3600)(static)).Methods(http.MethodGet, http.MethodHead)
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	budgetHost := r.Host(s.cfg.BudgetHost()).Subrouter()
	s.mountBudget(budgetHost, "")
	budgetHost.PathPrefix("/").HandlerFunc(s.handleNotFound)

	budgetPath := r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return req.URL.Path == "/budget" || strings.HasPrefix(req.URL.Path, "/budget/")
	}).Subrouter()
	s.mountBudget(budgetPath, "/budget")

	s.mountMain(r.NewRoute().Subrouter())

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "Method not allowed").Write(w)
	})
	return r
}

// mountBudget registers the budget site under base ("" on the budget host).
func (s *Server) mountBudget(sr *mux.Router, base string) {
	allowed := []string{s.cfg.BasicRole, s.cfg.AdminRole}
	loading := http.HandlerFunc(s.handleLoading)
	sr.Use(s.sessions.Middleware, security.NoStore)

	// Logout must work for any signed-in role, including pending users.
	sr.HandleFunc(base+"/logout", s.handleLogout).Methods(http.MethodPost)

	protected := sr.NewRoute().Subrouter()
	protected.Use(guard.Middleware(allowed, loading))

	pages := func(w http.ResponseWriter, r *http.Request) { s.handleBudgetPage(w, r, base) }
	protected.HandleFunc(base+"/", pages).Methods(http.MethodGet)
	if base != "" {
		protected.HandleFunc(base, pages).Methods(http.MethodGet)
	}
	protected.HandleFunc(base+"/{tab:"+tabPattern()+"}", pages).Methods(http.MethodGet)
	protected.HandleFunc(base+"/ui/summary", func(w http.ResponseWriter, r *http.Request) {
		s.handleSummary(w, r, base)
	}).Methods(http.MethodGet)

	s.categoryHandlers(base).mount(protected)
	s.entryHandlers(base).mount(protected)
}

func (s *Server) mountMain(sr *mux.Router) {
	sr.Use(s.sessions.Middleware)

	sr.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	sr.Handle("/login", security.NoStore(http.HandlerFunc(s.handleLoginPage))).Methods(http.MethodGet)
	sr.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	sr.Handle("/register", security.NoStore(http.HandlerFunc(s.handleRegisterPage))).Methods(http.MethodGet)
	sr.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	sr.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	sr.HandleFunc("/pending", s.handlePending).Methods(http.MethodGet)
	sr.HandleFunc("/unauthorized", s.handleUnauthorized).Methods(http.MethodGet)
}

// isUnlimited exempts probes and static assets from rate limiting.
func isUnlimited(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/static/")
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	if isHTMX(r) {
		NewHTMXResponse().
			Status(http.StatusTooManyRequests).
			TriggerErrorNotification("Too many requests. Please wait a moment.").
			Write(w)
		return
	}
	http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
}

// Shutdown stops background cleanup and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		if s.caches != nil {
			s.caches.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
