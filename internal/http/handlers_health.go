package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"wade/internal/log"
)

const readyTimeout = 3 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleReady checks Directus and the credential store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	res := readiness{Status: "ready", Checks: map[string]string{}}
	status := http.StatusOK
	check := func(name string, err error) {
		if err != nil {
			res.Checks[name] = err.Error()
			res.Status = "unavailable"
			status = http.StatusServiceUnavailable
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed",
				"check", name,
				log.FieldError, err)
			return
		}
		res.Checks[name] = "ok"
	}
	check("directus", s.directus.Ping(ctx))
	check("sessions", s.backend.Ping(ctx))

	writeJSON(w, status, res)
}

type serverMetrics struct {
	Requests struct {
		Total           int64 `json:"total"`
		Errors          int64 `json:"errors"`
		AvgResponseUsec int64 `json:"avg_response_us"`
	} `json:"requests"`
	RateLimit struct {
		Clients int64 `json:"clients"`
		Hits    int64 `json:"hits"`
	} `json:"rate_limit"`
	Security struct {
		Suspicious int64 `json:"suspicious"`
		Blocked    int64 `json:"blocked"`
	} `json:"security"`
	Sessions int `json:"sessions"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m serverMetrics
	tm := s.tracer.GetMetrics()
	m.Requests.Total = tm.TotalRequests
	m.Requests.Errors = tm.TotalErrors
	m.Requests.AvgResponseUsec = tm.AverageResponseTime
	rl := s.limiter.GetMetrics()
	m.RateLimit.Clients = rl.ClientCount
	m.RateLimit.Hits = rl.TotalHits
	dm := s.detector.GetMetrics()
	m.Security.Suspicious = dm.SuspiciousRequests
	m.Security.Blocked = dm.BlockedRequests
	m.Sessions = s.sessions.Len()

	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
