package httpapi

import (
	"net/http"
	"strings"
	"time"

	"trustcore.org/internal/audit"
	"trustcore.org/internal/rbac"
)

func (a *API) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, rbac.PermAdminAudit) {
		return
	}
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.log.Query(filter),
	})
}

func (a *API) handleAuditChecks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requirePermission(w, r, rbac.PermAdminAudit) {
		return
	}
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.log.Checks(filter),
	})
}

func auditFilterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		PrincipalID: strings.TrimSpace(q.Get("principal_id")),
		Kind:        strings.TrimSpace(q.Get("kind")),
		MinSeverity: audit.Severity(strings.TrimSpace(q.Get("min_severity"))),
		Limit:       500,
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.Since = ts
	}
	if raw := strings.TrimSpace(q.Get("until")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, err
		}
		filter.Until = ts
	}
	return filter, nil
}
