// Package server exposes the operational HTTP surface: liveness, readiness,
// a JSON status document, and Prometheus metrics.
package server

import (
	"database/sql"
	"time"

	"github.com/heraldbot/announcer/oauth"
	"github.com/heraldbot/announcer/scheduler"
)

// JobLister reports scheduled jobs.
type JobLister interface {
	Snapshot() []scheduler.JobInfo
}

// CredentialReporter reports one platform's credential state.
type CredentialReporter interface {
	Status() oauth.Status
}

// Deps are the components the handlers read from.
type Deps struct {
	DB          *sql.DB
	Jobs        JobLister
	Credentials []CredentialReporter
	Version     string
	// StatusToken, when set, guards /status.
	StatusToken string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps    Deps
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, started: time.Now()}
}
