package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"carelink.org/internal/audit"
	"carelink.org/internal/auth"
	"carelink.org/internal/authz"
	"carelink.org/internal/guard"
	"carelink.org/internal/obs"
	"carelink.org/internal/patient"
	"carelink.org/internal/session"
)

const serviceName = "carelink-api"

// ReadyProbe reports readiness by pinging the database when one is attached.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Config carries the services the HTTP layer fronts.
type Config struct {
	Ready    ReadyProbe
	Version  string
	Auth     *auth.Service
	Sessions *session.Manager
	RBAC     *authz.Service
	Patients *patient.Service
}

// API is the HTTP layer. Every protected route declares its admission rule as
// a guard.Requirement evaluated before the handler body runs.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	auth       *auth.Service
	sessions   *session.Manager
	rbac       *authz.Service
	patients   *patient.Service
	guard      *guard.Pipeline
}

func New(cfg Config) (*API, error) {
	if cfg.RBAC == nil {
		return nil, errors.New("rbac service is required")
	}
	registry := guard.NewRegistry()
	if cfg.Patients != nil {
		registry.Register("patients", "access", cfg.Patients.CanUserAccessPatient)
	}
	pipeline, err := guard.NewPipeline(cfg.RBAC, registry)
	if err != nil {
		return nil, err
	}

	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.Ready,
		version:    cfg.Version,
		auth:       cfg.Auth,
		sessions:   cfg.Sessions,
		rbac:       cfg.RBAC,
		patients:   cfg.Patients,
		guard:      pipeline,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth flows
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	// sessions
	a.mux.HandleFunc("/v1/sessions", a.handleSessionsCollection)
	a.mux.HandleFunc("/v1/sessions/", a.handleSessionResource)

	// rbac
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/permissions", a.handlePermissionsCollection)
	a.mux.HandleFunc("/v1/permissions/", a.handlePermissionResource)

	// patients
	a.mux.HandleFunc("/v1/patients", a.handlePatientsCollection)
	a.mux.HandleFunc("/v1/patients/", a.handlePatientResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a, nil
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// authorize runs the guard pipeline for the request and writes the HTTP error
// when the request is not admitted.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, req guard.Requirement, params map[string]string) bool {
	principal, _ := auth.PrincipalFromContext(r.Context())
	err := a.guard.Authorize(r.Context(), principal, req, params)
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, guard.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, guard.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "authorization error")
	}
	return false
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, meta map[string]string) {
	fields := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}

// --- Handlers ---

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
