package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"carelink.org/internal/auth"
	"carelink.org/internal/guard"
	"carelink.org/internal/session"
)

func (a *API) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "session service unavailable")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.authorize(w, r, guard.Requirement{}, nil) {
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	sessions, err := a.sessions.ActiveSessions(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session lookup failed")
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "session service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"), "/")
	switch path {
	case "":
		writeError(w, r, http.StatusNotFound, "resource not found")
	case "stats":
		a.sessionStats(w, r)
	case "cleanup":
		a.sessionCleanup(w, r)
	default:
		if strings.Contains(path, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.invalidateSession(w, r, path)
	}
}

func (a *API) sessionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.authorize(w, r, guard.Requirement{}, nil) {
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	stats, err := a.sessions.Stats(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) sessionCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.authorize(w, r, guard.Requirement{Roles: []string{"admin"}}, nil) {
		return
	}
	count, err := a.sessions.CleanupExpired(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session cleanup failed")
		return
	}
	a.audit(r.Context(), "session.cleanup", "session", "", map[string]string{
		"expired": strconv.Itoa(count),
	})
	writeJSON(w, http.StatusOK, map[string]int{"cleaned": count})
}

func (a *API) invalidateSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.authorize(w, r, guard.Requirement{}, nil) {
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.sessions.InvalidateByID(r.Context(), sessionID, principal.UserID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "session invalidation failed")
		return
	}
	a.audit(r.Context(), "session.invalidate", "session", sessionID, nil)
	w.WriteHeader(http.StatusNoContent)
}
