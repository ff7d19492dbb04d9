package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"trustcore.org/internal/auth"
	"trustcore.org/internal/rbac"
	"trustcore.org/internal/twofactor"
)

type authzCheckRequest struct {
	PrincipalID string            `json:"principal_id,omitempty"`
	Permission  string            `json:"permission"`
	Location    string            `json:"location,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// handleAuthzCheck evaluates a permission for the caller (or, with the
// manage permission, for another principal).
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req authzCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Permission) == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}
	target := sess.PrincipalID
	if req.PrincipalID != "" && req.PrincipalID != sess.PrincipalID {
		if !a.requirePermission(w, r, rbac.PermAdminRBAC) {
			return
		}
		target = req.PrincipalID
	}

	decision, err := a.authz.Check(r.Context(), target, req.Permission, rbac.RequestContext{
		Timestamp:   time.Now().UTC(),
		Origin:      clientIP(r),
		Fingerprint: sess.Fingerprint,
		Location:    req.Location,
		Attributes:  req.Attributes,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authorization error")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		perms, err := a.authz.Permissions(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPost:
		if !a.requirePermission(w, r, rbac.PermAdminRBAC) {
			return
		}
		var p rbac.Permission
		if err := decodeJSON(w, r, &p); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.authz.DefinePermission(r.Context(), p); err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		roles, err := a.authz.Roles(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		if !a.requirePermission(w, r, rbac.PermAdminRBAC) {
			return
		}
		var role rbac.Role
		if err := decodeJSON(w, r, &role); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.authz.DefineRole(r.Context(), role); err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

type grantRequest struct {
	Permission string          `json:"permission"`
	ExpiresAt  time.Time       `json:"expires_at,omitempty"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// handlePrincipalResource routes /v1/principals/{id}/grants and
// /v1/principals/{id}/roles plus session revocation.
func (a *API) handlePrincipalResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/principals/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	principalID, resource := parts[0], parts[1]

	switch resource {
	case "grants":
		a.handlePrincipalGrants(w, r, principalID)
	case "roles":
		a.handlePrincipalRoles(w, r, principalID)
	case "sessions":
		a.handlePrincipalSessions(w, r, principalID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handlePrincipalGrants(w http.ResponseWriter, r *http.Request, principalID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, rbac.PermAdminRBAC) {
			return
		}
		grants, err := a.authz.GrantsFor(r.Context(), principalID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": grants})
	case http.MethodPost:
		if !a.requirePermission(w, r, rbac.PermAdminRBAC) {
			return
		}
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		conds, err := rbac.UnmarshalConditions(req.Conditions)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		actor, _ := auth.SessionFromContext(r.Context())
		grant, err := a.authz.Grant(r.Context(), rbac.GrantRequest{
			PrincipalID:  principalID,
			PermissionID: req.Permission,
			GrantedBy:    actor.PrincipalID,
			ExpiresAt:    req.ExpiresAt,
			Conditions:   conds,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, grant)
	case http.MethodDelete:
		if !a.requirePermission(w, r, rbac.PermAdminRBAC) {
			return
		}
		permission := strings.TrimSpace(r.URL.Query().Get("permission"))
		if permission == "" {
			writeError(w, r, http.StatusBadRequest, "permission query parameter is required")
			return
		}
		actor, _ := auth.SessionFromContext(r.Context())
		if err := a.authz.Revoke(r.Context(), principalID, permission, actor.PrincipalID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handlePrincipalRoles(w http.ResponseWriter, r *http.Request, principalID string) {
	if !a.requirePermission(w, r, rbac.PermAdminRBAC) {
		return
	}
	actor, _ := auth.SessionFromContext(r.Context())
	switch r.Method {
	case http.MethodPost:
		var req roleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.authz.AssignRole(r.Context(), principalID, req.Role, actor.PrincipalID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"status": "assigned"})
	case http.MethodDelete:
		role := strings.TrimSpace(r.URL.Query().Get("role"))
		if role == "" {
			writeError(w, r, http.StatusBadRequest, "role query parameter is required")
			return
		}
		if err := a.authz.RemoveRole(r.Context(), principalID, role, actor.PrincipalID); err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

// handlePrincipalSessions lets an admin terminate all sessions of a
// principal (credential-compromise response).
func (a *API) handlePrincipalSessions(w http.ResponseWriter, r *http.Request, principalID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.requirePermission(w, r, rbac.PermAdminSessions) {
		return
	}
	n := a.engine.LogoutAll(r.Context(), principalID, "admin_revocation")
	writeJSON(w, http.StatusOK, map[string]any{"status": "terminated", "count": n})
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rbac.ErrMissingDependency),
		errors.Is(err, rbac.ErrInheritanceCycle),
		errors.Is(err, rbac.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrPermissionExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rbac.ErrUnknownPermission),
		errors.Is(err, rbac.ErrUnknownRole),
		errors.Is(err, rbac.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleTwoFactorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, twofactor.ErrInvalidCode),
		errors.Is(err, twofactor.ErrNotConfirmed):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, twofactor.ErrAlreadyEnabled):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, twofactor.ErrNotEnrolled):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, twofactor.ErrUnsupportedMethod):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
