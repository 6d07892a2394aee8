package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/onixbyte/helix/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type filteredKey struct{}

// withAuth installs the principal of a valid bearer token. Requests without a
// bearer token continue anonymously; an invalid token is rejected here. The
// filter applies at most once per request.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Value(filteredKey{}) != nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), filteredKey{}, true)

		token, ok := bearerToken(r.Header.Get(authHeader))
		if !ok {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		principal, claims, err := a.auth.AuthenticateToken(ctx, token)
		if err != nil {
			a.fail(w, r.WithContext(ctx), err)
			return
		}
		ctx = auth.ContextWithPrincipal(ctx, principal)
		ctx = auth.ContextWithClaims(ctx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	return token, token != ""
}

func unauthenticated(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="helix"`)
	writeError(w, http.StatusUnauthorized, msgAuthRequired)
}

// requireAuthenticated rejects anonymous requests.
func requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			unauthenticated(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuthority rejects requests whose principal lacks code.
func requireAuthority(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				unauthenticated(w)
				return
			}
			if !principal.HasAuthority(code) {
				writeError(w, http.StatusForbidden, msgAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
