package guard

import (
	"log/slog"
	"net/http"

	"wade/internal/session"
)

// Middleware protects next with the session on the request context (see
// session.Manager.Middleware). loading renders the placeholder page.
func Middleware(allowedRoles []string, loading http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in := Input{
				AllowedRoles: allowedRoles,
				Host:         r.Host,
				Path:         r.URL.RequestURI(),
			}
			if s := session.FromContext(r.Context()); s != nil {
				snap := s.Snapshot()
				in.Loading = snap.Loading
				in.IsAuthenticated = snap.IsAuthenticated
				in.Role = snap.Role
			}

			d := Decide(in)
			switch d.Kind {
			case Render:
				next.ServeHTTP(w, r)
			case Loading:
				w.Header().Set("Retry-After", "1")
				loading.ServeHTTP(w, r)
			default:
				slog.DebugContext(r.Context(), "Access denied",
					"component", "guard",
					"decision", d.Kind.String(),
					"path", r.URL.Path,
					"role", in.Role)
				Redirect(w, r, d.Location)
			}
		})
	}
}

// Redirect sends a 303, or an HX-Redirect header for htmx requests so the
// whole page navigates instead of swapping a fragment.
func Redirect(w http.ResponseWriter, r *http.Request, location string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
