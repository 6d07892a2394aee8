package httpapi

import (
	"net/http"

	"github.com/onixbyte/helix/internal/audit"
)

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

type roleAuthoritiesRequest struct {
	Codes []string `json:"codes"`
}

func (a *API) rolesAvailable(w http.ResponseWriter) bool {
	if a.roles == nil {
		writeError(w, http.StatusServiceUnavailable, "Role management is unavailable.")
		return false
	}
	return true
}

type userAuthoritiesResponse struct {
	UserID      int64    `json:"user_id"`
	Authorities []string `json:"authorities"`
}

func (a *API) handleUserAuthorities(w http.ResponseWriter, r *http.Request) {
	if !a.rolesAvailable(w) {
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	codes, err := a.roles.AuthoritiesOf(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userAuthoritiesResponse{UserID: userID, Authorities: codes})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	if !a.rolesAvailable(w) {
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.roles.AssignRole(r.Context(), userID, req.RoleID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "rbac.role.assigned", map[string]any{
		"target_user_id": userID,
		"role_id":        req.RoleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	if !a.rolesAvailable(w) {
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.roles.RevokeRole(r.Context(), userID, roleID); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "rbac.role.revoked", map[string]any{
		"target_user_id": userID,
		"role_id":        roleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetRoleAuthorities(w http.ResponseWriter, r *http.Request) {
	if !a.rolesAvailable(w) {
		return
	}
	roleID, err := pathID(r, "roleID")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req roleAuthoritiesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.roles.SetRoleAuthorities(r.Context(), roleID, req.Codes); err != nil {
		a.fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), a.logger, "rbac.role.authorities.replaced", map[string]any{
		"role_id":     roleID,
		"authorities": req.Codes,
	})
	w.WriteHeader(http.StatusNoContent)
}
