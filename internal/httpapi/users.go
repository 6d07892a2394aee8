package httpapi

import (
	"net/http"

	"github.com/onixbyte/helix/internal/auth"
)

type meResponse struct {
	User        auth.User `json:"user"`
	Authorities []string  `json:"authorities"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		unauthenticated(w)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:        principal.User,
		Authorities: principal.AuthorityCodes(),
	})
}
