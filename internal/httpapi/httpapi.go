// Package httpapi exposes the auth engine over HTTP. Handlers stay thin:
// decode, call the engine, map the error, encode. All policy lives in the
// engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	authcore "github.com/itrimble/securewatch-auth"
	"github.com/itrimble/securewatch-auth/metrics"
	"github.com/itrimble/securewatch-auth/mfa"
	"github.com/itrimble/securewatch-auth/middleware"
	"github.com/itrimble/securewatch-auth/password"
	"github.com/itrimble/securewatch-auth/rbac"
)

// API wires the engine into an http.Handler.
type API struct {
	engine *authcore.Engine
	logger *slog.Logger
}

func New(engine *authcore.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{engine: engine, logger: logger}
}

// Handler builds the route table. Protected routes go through the bearer
// guard; role management additionally requires the roles.manage
// permission.
func (a *API) Handler(reg prometheus.Registerer) http.Handler {
	mux := http.NewServeMux()

	guard := middleware.Guard(a.engine)
	manageRoles := middleware.RequirePermissions(a.engine, "roles.manage")

	mux.HandleFunc("POST /register", a.handleRegister)
	mux.HandleFunc("GET /verify/{token}", a.handleVerifyEmail)
	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("POST /mfa/verify", a.handleMFAVerify)
	mux.HandleFunc("POST /refresh", a.handleRefresh)
	mux.HandleFunc("POST /logout", a.handleLogout)
	mux.HandleFunc("POST /verify/resend", a.handleResendVerification)
	mux.HandleFunc("POST /password/reset", a.handlePasswordReset)
	mux.HandleFunc("POST /password/reset/confirm", a.handlePasswordResetConfirm)

	mux.Handle("POST /password/change", guard(http.HandlerFunc(a.handleChangePassword)))
	mux.Handle("POST /mfa/setup", guard(http.HandlerFunc(a.handleMFASetup)))
	mux.Handle("POST /mfa/setup/verify", guard(http.HandlerFunc(a.handleMFASetupVerify)))
	mux.Handle("DELETE /mfa/disable", guard(http.HandlerFunc(a.handleMFADisable)))
	mux.Handle("POST /mfa/backup-codes", guard(http.HandlerFunc(a.handleBackupCodes)))

	mux.Handle("GET /sessions", guard(http.HandlerFunc(a.handleListSessions)))
	mux.Handle("DELETE /sessions", guard(http.HandlerFunc(a.handleRevokeAll)))
	mux.Handle("DELETE /sessions/{id}", guard(http.HandlerFunc(a.handleRevokeSession)))

	mux.Handle("GET /roles", manageRoles(http.HandlerFunc(a.handleListRoles)))
	mux.Handle("POST /roles", manageRoles(http.HandlerFunc(a.handleCreateRole)))
	mux.Handle("PUT /roles/{id}", manageRoles(http.HandlerFunc(a.handleUpdateRole)))
	mux.Handle("DELETE /roles/{id}", manageRoles(http.HandlerFunc(a.handleDeleteRole)))
	mux.Handle("PUT /roles/{id}/permissions", manageRoles(http.HandlerFunc(a.handleReplaceRolePermissions)))
	mux.Handle("POST /roles/{id}/assign", manageRoles(http.HandlerFunc(a.handleAssignRole)))
	mux.Handle("DELETE /roles/{id}/assign/{userID}", manageRoles(http.HandlerFunc(a.handleUnassignRole)))

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return metrics.Instrument(reg, mux)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeError(w, r, authcore.ErrValidation)
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps engine error tags to HTTP statuses. The mapping
// switches on error identity only, never on message text.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, authcore.ErrValidation),
		errors.Is(err, password.ErrPolicy),
		errors.Is(err, rbac.ErrInvalidInput),
		errors.Is(err, authcore.ErrVerificationInvalid),
		errors.Is(err, authcore.ErrResetTokenInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrTokenInvalid),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrTokenRevoked),
		errors.Is(err, authcore.ErrMFAChallengeInvalid),
		errors.Is(err, mfa.ErrCodeInvalid):
		status = http.StatusUnauthorized
	case errors.Is(err, authcore.ErrAccountUnverified),
		errors.Is(err, authcore.ErrAccountDisabled),
		errors.Is(err, authcore.ErrPermissionDenied),
		errors.Is(err, rbac.ErrSystemRole):
		status = http.StatusForbidden
	case errors.Is(err, authcore.ErrUserNotFound),
		errors.Is(err, rbac.ErrNotFound),
		errors.Is(err, mfa.ErrNotConfigured),
		errors.Is(err, mfa.ErrNoPendingSetup):
		status = http.StatusNotFound
	case errors.Is(err, authcore.ErrEmailTaken),
		errors.Is(err, rbac.ErrConflict),
		errors.Is(err, mfa.ErrAlreadyEnabled):
		status = http.StatusConflict
	case errors.Is(err, authcore.ErrAccountLocked):
		status = http.StatusLocked
	case errors.Is(err, authcore.ErrRateLimited),
		errors.Is(err, mfa.ErrAttemptsExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, authcore.ErrNotImplemented),
		errors.Is(err, mfa.ErrNotImplemented):
		status = http.StatusNotImplemented
	}

	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		a.writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *API) authResult(w http.ResponseWriter, r *http.Request) (*authcore.AuthResult, bool) {
	res, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		a.writeError(w, r, authcore.ErrTokenInvalid)
		return nil, false
	}
	return res, true
}
