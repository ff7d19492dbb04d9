// Package httpapi is the HTTP surface over the trust and access core.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"trustcore.org/internal/audit"
	"trustcore.org/internal/auth"
	"trustcore.org/internal/obs"
	"trustcore.org/internal/rbac"
	"trustcore.org/internal/session"
	"trustcore.org/internal/twofactor"
)

// ReadyProbe checks dependencies before the service reports ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires handlers over the domain services.
type API struct {
	mux          *http.ServeMux
	engine       *auth.Engine
	authz        *rbac.Engine
	sessions     *session.Store
	secondFactor *twofactor.Service
	log          *audit.Log
	readyProbe   ReadyProbe
	version      string
}

func New(
	engine *auth.Engine,
	authz *rbac.Engine,
	sessions *session.Store,
	secondFactor *twofactor.Service,
	log *audit.Log,
	rp ReadyProbe,
	version string,
) *API {
	a := &API{
		mux:          http.NewServeMux(),
		engine:       engine,
		authz:        authz,
		sessions:     sessions,
		secondFactor: secondFactor,
		log:          log,
		readyProbe:   rp,
		version:      version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("/v1/auth/session", a.handleSession)
	a.mux.HandleFunc("/v1/auth/sessions", a.handleSessions)

	// second factor
	a.mux.HandleFunc("/v1/auth/2fa/setup", a.handleTwoFactorSetup)
	a.mux.HandleFunc("/v1/auth/2fa/confirm", a.handleTwoFactorConfirm)
	a.mux.HandleFunc("/v1/auth/2fa/disable", a.handleTwoFactorDisable)

	// authorization
	a.mux.HandleFunc("/v1/authz/check", a.handleAuthzCheck)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissions)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/principals/", a.handlePrincipalResource)

	// audit (admin)
	a.mux.HandleFunc("/v1/audit/events", a.handleAuditEvents)
	a.mux.HandleFunc("/v1/audit/checks", a.handleAuditChecks)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
