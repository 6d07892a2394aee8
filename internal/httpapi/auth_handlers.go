package httpapi

import (
	"net/http"
	"time"

	"github.com/onixbyte/helix/internal/audit"
	"github.com/onixbyte/helix/internal/auth"
)

type passwordLoginRequest struct {
	Username string      `json:"username"`
	Password auth.Secret `json:"password"`
}

type entraLoginRequest struct {
	Token auth.Secret `json:"token"`
}

type weComLoginRequest struct {
	Code auth.Secret `json:"code"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      auth.User `json:"user"`
}

func (a *API) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req passwordLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		req.Password.Erase()
		a.fail(w, r, err)
		return
	}
	a.login(w, r, &auth.PasswordCredential{Username: req.Username, Password: req.Password})
}

func (a *API) handleEntraLogin(w http.ResponseWriter, r *http.Request) {
	var req entraLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		req.Token.Erase()
		a.fail(w, r, err)
		return
	}
	a.login(w, r, &auth.EntraTokenCredential{Token: req.Token})
}

func (a *API) handleWeComLogin(w http.ResponseWriter, r *http.Request) {
	var req weComLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		req.Code.Erase()
		a.fail(w, r, err)
		return
	}
	a.login(w, r, &auth.WeComCodeCredential{Code: req.Code})
}

// login runs the credential through the service, which erases it.
func (a *API) login(w http.ResponseWriter, r *http.Request, cred auth.Credential) {
	provider, _ := auth.ProviderOf(cred)
	session, err := a.auth.Login(r.Context(), cred)
	if err != nil {
		_ = audit.LogEvent(r.Context(), a.logger, "auth.login.failed", map[string]any{
			"provider": string(provider),
			"kind":     auth.KindOf(err).String(),
		})
		a.fail(w, r, err)
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), session.Principal)
	_ = audit.LogEvent(ctx, a.logger, "auth.login.succeeded", map[string]any{
		"provider":   string(provider),
		"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
	})

	w.Header().Set(authHeader, session.Token)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      session.Principal.User,
	})
}
