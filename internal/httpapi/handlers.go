package httpapi

import (
	"net/http"
	"strings"
	"time"

	authcore "github.com/itrimble/securewatch-auth"
	"github.com/itrimble/securewatch-auth/middleware"
	"github.com/itrimble/securewatch-auth/rbac"
)

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

func pairResponse(res *authcore.LoginResult) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
		SessionID:        res.SessionID,
	}
}

func rawBearer(r *http.Request) string {
	const prefix = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, prefix) {
		return ""
	}
	return value[len(prefix):]
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email          string `json:"email"`
		Password       string `json:"password"`
		OrganizationID string `json:"organization_id"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	ctx := middleware.WithRequestContext(r.Context(), r)
	res, err := a.engine.Register(ctx, authcore.RegisterInput{
		Email:          req.Email,
		Password:       req.Password,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// The verification token goes back to the gateway, which owns mail
	// delivery. It is never persisted in the clear.
	a.writeJSON(w, http.StatusCreated, map[string]string{
		"user_id":            res.User.ID,
		"verification_token": res.VerificationToken,
	})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.WithRequestContext(r.Context(), r)
	if err := a.engine.VerifyEmail(ctx, r.PathValue("token")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	ctx := middleware.WithRequestContext(r.Context(), r)
	res, err := a.engine.Login(ctx, authcore.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if res.MFARequired {
		a.writeJSON(w, http.StatusAccepted, map[string]any{
			"mfa_required": true,
			"challenge_id": res.ChallengeID,
		})
		return
	}
	a.writeJSON(w, http.StatusOK, pairResponse(res))
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID string `json:"challenge_id"`
		Code        string `json:"code"`
		Method      string `json:"method"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	ctx := middleware.WithRequestContext(r.Context(), r)
	res, err := a.engine.CompleteMFALogin(ctx, req.ChallengeID, req.Code, req.Method)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, pairResponse(res))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	ctx := middleware.WithRequestContext(r.Context(), r)
	res, err := a.engine.Refresh(ctx, req.RefreshToken)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, pairResponse(res))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := middleware.WithRequestContext(r.Context(), r)
	if err := a.engine.Logout(ctx, rawBearer(r)); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	ctx := middleware.WithRequestContext(r.Context(), r)
	token, err := a.engine.RequestPasswordReset(ctx, req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	// Uniform response whether or not the email exists; the token (when
	// any) goes to the gateway for delivery.
	body := map[string]string{"status": "accepted"}
	if token != "" {
		body["reset_token"] = token
	}
	a.writeJSON(w, http.StatusAccepted, body)
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	ctx := middleware.WithRequestContext(r.Context(), r)
	if err := a.engine.ConfirmPasswordReset(ctx, req.Token, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	ctx := middleware.WithRequestContext(r.Context(), r)
	token, err := a.engine.ResendVerification(ctx, req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	body := map[string]string{"status": "accepted"}
	if token != "" {
		body["verification_token"] = token
	}
	a.writeJSON(w, http.StatusAccepted, body)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	ctx := middleware.WithRequestContext(r.Context(), r)
	if err := a.engine.ChangePassword(ctx, auth.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}

	enrollment, err := a.engine.BeginMFASetup(r.Context(), auth.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"secret":       enrollment.Secret,
		"otpauth_url":  enrollment.URL,
		"backup_codes": enrollment.BackupCodes,
	})
}

func (a *API) handleMFASetupVerify(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	if err := a.engine.CompleteMFASetup(r.Context(), auth.UserID, req.Code); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	if err := a.engine.DisableMFA(r.Context(), auth.UserID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	var req struct {
		TOTPCode string `json:"totp_code"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	codes, err := a.engine.RegenerateBackupCodes(r.Context(), auth.UserID, req.TOTPCode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	sessions, err := a.engine.ListSessions(r.Context(), auth.UserID, auth.SessionID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (a *API) handleRevokeAll(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	removed, err := a.engine.RevokeAllForUser(r.Context(), auth.UserID, rawBearer(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"revoked": removed})
}

func (a *API) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	if err := a.engine.RevokeSession(r.Context(), auth.UserID, r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	roles, err := a.engine.RBAC().ListRoles(r.Context(), auth.OrganizationID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Priority    int    `json:"priority"`
		IsDefault   bool   `json:"is_default"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	role := &rbac.Role{
		OrganizationID: auth.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		Priority:       req.Priority,
		IsDefault:      req.IsDefault,
	}
	if err := a.engine.RBAC().CreateRole(r.Context(), role); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Priority    int    `json:"priority"`
		IsDefault   bool   `json:"is_default"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	role := &rbac.Role{
		ID:          r.PathValue("id"),
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		IsDefault:   req.IsDefault,
	}
	if err := a.engine.RBAC().UpdateRole(r.Context(), role); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RBAC().DeleteRole(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PermissionIDs []string `json:"permission_ids"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	if err := a.engine.RBAC().AssignPermissionsToRole(r.Context(), r.PathValue("id"), req.PermissionIDs); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	auth, ok := a.authResult(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID    string     `json:"user_id"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	err := a.engine.RBAC().AssignRoleToUser(r.Context(), req.UserID, r.PathValue("id"), auth.UserID, req.ExpiresAt)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUnassignRole(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.RBAC().RemoveRoleFromUser(r.Context(), r.PathValue("userID"), r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
