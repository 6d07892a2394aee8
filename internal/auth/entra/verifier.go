package entra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/onixbyte/helix/internal/audit"
	"github.com/onixbyte/helix/internal/auth"
)

const (
	msgMissingKeyID = "Missing key ID."
	msgInvalidToken = "Microsoft Entra ID identification invalid."
	msgInactiveUser = "Account is not active."
	msgProvision    = "Cannot create an account for this Microsoft Entra ID user."
)

// Claims are the Entra ID token claims the verifier consumes.
type Claims struct {
	ObjectID          string `json:"oid"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	jwt.RegisteredClaims
}

// Config identifies the Entra ID application.
type Config struct {
	TenantID string
	ClientID string
}

// Verifier authenticates Entra ID tokens and provisions unseen accounts.
type Verifier struct {
	keys     KeySource
	users    auth.UserStore
	clientID string
	issuer   string
	now      func() time.Time
	logger   *zap.Logger
}

var _ auth.Verifier = (*Verifier)(nil)

// VerifierOption configures Verifier behavior.
type VerifierOption func(*Verifier)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewVerifier constructs a Verifier for the configured application.
func NewVerifier(cfg Config, keys KeySource, users auth.UserStore, opts ...VerifierOption) (*Verifier, error) {
	if strings.TrimSpace(cfg.TenantID) == "" || strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("entra: tenant id and client id are required")
	}
	v := &Verifier{
		keys:     keys,
		users:    users,
		clientID: cfg.ClientID,
		issuer:   Issuer(cfg.TenantID),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Issuer is the v2.0 issuer of tokens minted for tenantID.
func Issuer(tenantID string) string {
	return "https://login.microsoftonline.com/" + tenantID + "/v2.0"
}

func (v *Verifier) Supports(cred auth.Credential) bool {
	_, ok := cred.(*auth.EntraTokenCredential)
	return ok
}

func (v *Verifier) Authenticate(ctx context.Context, cred auth.Credential) (auth.User, error) {
	ec, ok := cred.(*auth.EntraTokenCredential)
	if !ok || ec == nil {
		return auth.User{}, auth.Internal("Cannot perform login due to server crashes.", fmt.Errorf("unexpected credential %T", cred))
	}
	defer ec.Erase()
	if ec.Token.Empty() {
		return auth.User{}, auth.BadRequest(msgInvalidToken, nil)
	}
	raw := string(ec.Token)

	unverified, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	if err != nil {
		return auth.User{}, auth.BadRequest(msgInvalidToken, err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return auth.User{}, auth.BadRequest(msgMissingKeyID, nil)
	}

	key, err := v.keys.PublicKey(ctx, kid)
	if errors.Is(err, ErrKeyNotFound) {
		return auth.User{}, auth.Unauthorized(msgInvalidToken, err)
	}
	if err != nil {
		return auth.User{}, err
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		v.logger.Error("entra token verification failed", zap.String("kid", kid), zap.Error(err))
		return auth.User{}, auth.BadRequest(msgInvalidToken, err)
	}
	if strings.TrimSpace(claims.ObjectID) == "" {
		return auth.User{}, auth.BadRequest(msgInvalidToken, errors.New("oid claim missing"))
	}

	user, err := v.users.FindByIdentity(ctx, auth.ProviderEntra, claims.ObjectID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		return v.provision(ctx, claims)
	case err != nil:
		return auth.User{}, fmt.Errorf("find entra identity: %w", err)
	}
	if !user.Active() {
		return auth.User{}, auth.Unauthorized(msgInactiveUser, nil)
	}
	return user.Sanitized(), nil
}

// provision creates the local account and identity link for a first login.
// A taken display name falls back to the sign-in name as username.
func (v *Verifier) provision(ctx context.Context, claims *Claims) (auth.User, error) {
	name := strings.TrimSpace(claims.Name)
	email := strings.TrimSpace(claims.PreferredUsername)
	username := name
	if username == "" {
		username = email
	}
	if username == "" {
		return auth.User{}, auth.BadRequest(msgInvalidToken, errors.New("name and preferred_username claims missing"))
	}

	now := v.now().UTC()
	identity := auth.UserIdentity{
		Provider:   auth.ProviderEntra,
		ExternalID: claims.ObjectID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	user := auth.User{
		Username:  username,
		FullName:  name,
		Email:     email,
		Status:    auth.UserActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := v.users.RegisterFederated(ctx, user, identity)
	if errors.Is(err, auth.ErrConflict) {
		// A concurrent first login may have linked the identity already.
		if existing, ferr := v.users.FindByIdentity(ctx, auth.ProviderEntra, claims.ObjectID); ferr == nil {
			if !existing.Active() {
				return auth.User{}, auth.Unauthorized(msgInactiveUser, nil)
			}
			return existing.Sanitized(), nil
		}
		if email != "" && email != username {
			user.Username = email
			created, err = v.users.RegisterFederated(ctx, user, identity)
		}
	}
	if errors.Is(err, auth.ErrConflict) {
		return auth.User{}, auth.Internal(msgProvision, fmt.Errorf("username of entra user %s taken: %w", claims.ObjectID, err))
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("provision entra user: %w", err)
	}
	_ = audit.LogEvent(ctx, v.logger, "auth.user.provisioned", map[string]any{
		"provider":       string(auth.ProviderEntra),
		"target_user_id": created.ID,
	})
	return created.Sanitized(), nil
}
