package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"carelink.org/internal/auth"
)

const (
	authHeader         = "Authorization"
	bearer             = "Bearer "
	sessionTokenHeader = "X-Session-Token"
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth resolves the caller's identity before routing. Two credentials are
// accepted: a bearer access JWT, or an opaque session token (which also
// touches the session's activity timestamp). Requests without either pass
// through anonymously; the guard pipeline rejects them on protected routes.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
			claims, err := auth.ParseAndValidate(token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			principal := auth.Principal{UserID: claims.Subject, Role: claims.Role}
			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			ctx = auth.ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if token := strings.TrimSpace(r.Header.Get(sessionTokenHeader)); token != "" {
			principal, err := a.auth.PrincipalFromSession(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidToken) {
					writeError(w, r, http.StatusUnauthorized, "invalid session")
				} else {
					writeError(w, r, http.StatusInternalServerError, "authentication error")
				}
				return
			}
			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			ctx = auth.ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// Anonymous; protected routes deny via the guard pipeline.
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
