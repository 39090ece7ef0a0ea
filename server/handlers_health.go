package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/heraldbot/announcer/telemetry"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the database answers and the schema is in place.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.deps.DB.PingContext(r.Context()) }},
		{"schema", func() error {
			var n int
			return h.deps.DB.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM guilds").Scan(&n)
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusDoc struct {
	Version     string `json:"version,omitempty"`
	Uptime      string `json:"uptime"`
	Jobs        any    `json:"jobs"`
	Credentials []any  `json:"credentials"`
	Degraded    bool   `json:"degraded"`
	Tracing     bool   `json:"tracing"`
}

// HandleStatus reports the job table and credential state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	doc := statusDoc{
		Version:     h.deps.Version,
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		Jobs:        []any{},
		Credentials: []any{},
		Tracing:     telemetry.IsTracingEnabled(),
	}
	if h.deps.Jobs != nil {
		doc.Jobs = h.deps.Jobs.Snapshot()
	}
	for _, c := range h.deps.Credentials {
		st := c.Status()
		if st.State == "failed" {
			doc.Degraded = true
		}
		doc.Credentials = append(doc.Credentials, st)
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
