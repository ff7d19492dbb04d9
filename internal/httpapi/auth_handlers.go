package httpapi

import (
	"net/http"
	"strings"

	"trustcore.org/internal/auth"
	"trustcore.org/internal/session"
	"trustcore.org/internal/twofactor"
)

type loginRequest struct {
	Identifier       string `json:"identifier"`
	Password         string `json:"password"`
	SecondFactorCode string `json:"second_factor_code,omitempty"`
	DeviceID         string `json:"device_id,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "identifier and password are required")
		return
	}

	result, err := a.engine.Login(r.Context(), auth.LoginRequest{
		Identifier:       req.Identifier,
		Password:         req.Password,
		SecondFactorCode: req.SecondFactorCode,
		Device: session.DeviceInfo{
			DeviceID:  req.DeviceID,
			Origin:    clientIP(r),
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	switch result.Status {
	case auth.StatusSuccess:
		writeJSON(w, http.StatusOK, result)
	case auth.StatusSecondFactorRequired:
		writeJSON(w, http.StatusUnauthorized, result)
	default:
		code := http.StatusUnauthorized
		if result.Reason == auth.ReasonBlocked || result.Reason == auth.ReasonTooManyAttempts {
			code = http.StatusTooManyRequests
		}
		writeJSON(w, code, result)
	}
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	a.engine.Logout(r.Context(), sess.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	n := a.engine.LogoutAll(r.Context(), sess.PrincipalID, "logout_all")
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out", "terminated": n})
}

// handleSession returns the caller's current session.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleSessions lists every session of the caller, newest first.
func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.sessions.List(sess.PrincipalID),
	})
}

type twoFactorSetupRequest struct {
	Method string `json:"method"`
}

func (a *API) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req twoFactorSetupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Method == "" {
		req.Method = twofactor.MethodTOTP
	}
	enrollment, err := a.secondFactor.Setup(r.Context(), sess.PrincipalID, sess.PrincipalID, req.Method)
	if err != nil {
		handleTwoFactorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollment)
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

func (a *API) handleTwoFactorConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req twoFactorCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.secondFactor.Confirm(r.Context(), sess.PrincipalID, req.Code); err != nil {
		handleTwoFactorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "enabled"})
}

func (a *API) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req twoFactorCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Disabling requires a fresh valid code.
	if err := a.secondFactor.Verify(r.Context(), sess.PrincipalID, req.Code); err != nil {
		handleTwoFactorError(w, r, err)
		return
	}
	if err := a.secondFactor.Disable(r.Context(), sess.PrincipalID, sess.PrincipalID); err != nil {
		handleTwoFactorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "disabled"})
}
