package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"trustcore.org/internal/auth"
	"trustcore.org/internal/rbac"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth resolves the bearer token to a live session and attaches the
// identity to the request context. The session store decides validity; a
// signed token over a terminated session does not pass.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, sess, err := a.engine.AuthenticateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidSession):
				writeError(w, r, http.StatusUnauthorized, "invalid or expired credentials")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), claims, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission runs a live permission check for the authenticated
// principal. Returns false after writing the response.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, permissionID string) bool {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	decision, err := a.authz.Check(r.Context(), sess.PrincipalID, permissionID, rbac.RequestContext{
		Origin:      clientIP(r),
		Fingerprint: sess.Fingerprint,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authorization error")
		return false
	}
	if !decision.Granted {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return false
	}
	return true
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
