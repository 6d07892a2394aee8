package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/onixbyte/helix/internal/auth"
	"github.com/onixbyte/helix/internal/obs"
)

const (
	readyTimeout      = 2 * time.Second
	maxLoginBodyBytes = 64 << 10
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeError names the dependency that failed a readiness check.
type ProbeError struct {
	Dependency string
	Err        error
}

func (e *ProbeError) Error() string { return e.Dependency + ": " + e.Err.Error() }

func (e *ProbeError) Unwrap() error { return e.Err }

// ReadyProbe checks the database and the shared cache. Nil dependencies are
// skipped.
type ReadyProbe struct {
	DB    Pinger
	Cache Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			return &ProbeError{Dependency: "database", Err: err}
		}
	}
	if rp.Cache != nil {
		if err := rp.Cache.Ping(ctx); err != nil {
			return &ProbeError{Dependency: "cache", Err: err}
		}
	}
	return nil
}

// Options wires the API.
type Options struct {
	Auth           *auth.Service
	Roles          *auth.RoleAssignments
	Ready          ReadyProbe
	Limiter        *RateLimiter
	Logger         *zap.Logger
	Version        string
	AllowedOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
}

// API is the HTTP layer.
type API struct {
	router  chi.Router
	auth    *auth.Service
	roles   *auth.RoleAssignments
	ready   ReadyProbe
	limiter *RateLimiter
	logger  *zap.Logger
	version string
}

func New(opts Options) (*API, error) {
	if opts.Auth == nil {
		return nil, errors.New("httpapi: auth service is required")
	}
	a := &API{
		auth:    opts.Auth,
		roles:   opts.Roles,
		ready:   opts.Ready,
		limiter: opts.Limiter,
		logger:  opts.Logger,
		version: opts.Version,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.limiter == nil {
		a.limiter = NewRateLimiter(10, 5)
	}

	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestID)
	r.Use(AccessLog(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(opts.AllowedOrigins))
	r.Use(obs.Instrument)
	r.Use(a.withAuth)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, msgNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(a.limiter.Middleware)
		r.Use(MaxBodyBytes(maxLoginBodyBytes))
		r.Post("/username-password", a.handlePasswordLogin)
		r.Post("/msal", a.handleEntraLogin)
		r.Post("/wecom", a.handleWeComLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireAuthenticated)
		r.Get("/users/me", a.handleMe)
	})

	r.With(requireAuthority(auth.AuthorityUserRead)).
		Get("/users/{userID}/authorities", a.handleUserAuthorities)

	r.Group(func(r chi.Router) {
		r.Use(requireAuthority(auth.AuthorityUserRoleAssign))
		r.Post("/users/{userID}/roles", a.handleAssignRole)
		r.Delete("/users/{userID}/roles/{roleID}", a.handleRevokeRole)
	})

	r.With(requireAuthority(auth.AuthorityRoleAuthorityAssign)).
		Put("/roles/{roleID}/authorities", a.handleSetRoleAuthorities)

	a.router = r
	return a, nil
}

// Handler returns the router.
func (a *API) Handler() http.Handler {
	return a.router
}

// Limiter exposes the login rate limiter so its janitor can be run.
func (a *API) Limiter() *RateLimiter { return a.limiter }

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		a.logger.Warn("readiness check failed", zap.Error(err))
		body := map[string]any{"status": "not_ready"}
		var pe *ProbeError
		if errors.As(err, &pe) {
			body["dependency"] = pe.Dependency
		}
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, auth.BadRequest(fmt.Sprintf("Invalid %s.", name), err)
	}
	return id, nil
}
