package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/onixbyte/helix/internal/obs"
)

// MsgTokenInvalid is the client message for every rejected bearer token.
const MsgTokenInvalid = "User token invalid."

// Verifier checks one kind of credential.
type Verifier interface {
	// Supports reports whether the verifier handles the credential variant.
	Supports(cred Credential) bool
	// Authenticate returns the local user the credential proves.
	Authenticate(ctx context.Context, cred Credential) (User, error)
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Principal Principal
}

// Service dispatches credentials to verifiers, resolves authorities and
// issues session tokens.
type Service struct {
	users     UserStore
	resolver  *AuthorityResolver
	tokens    *TokenCodec
	verifiers []Verifier
	logger    *zap.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithVerifiers appends verifiers. Order is preserved and the first verifier
// that supports a credential handles it.
func WithVerifiers(vs ...Verifier) ServiceOption {
	return func(s *Service) error {
		for _, v := range vs {
			if v == nil {
				return errors.New("auth: nil verifier")
			}
			s.verifiers = append(s.verifiers, v)
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, resolver *AuthorityResolver, tokens *TokenCodec, opts ...ServiceOption) (*Service, error) {
	if users == nil || resolver == nil || tokens == nil {
		return nil, errors.New("auth: users, resolver and tokens are required")
	}
	svc := &Service{
		users:    users,
		resolver: resolver,
		tokens:   tokens,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Authenticate runs the first supporting verifier and resolves the
// principal's authorities. The credential is erased on every path.
func (s *Service) Authenticate(ctx context.Context, cred Credential) (Principal, error) {
	if cred == nil {
		return Principal{}, Internal("Cannot perform login due to server crashes.", errors.New("nil credential"))
	}
	defer cred.Erase()

	provider, _ := ProviderOf(cred)
	verifier := s.verifierFor(cred)
	if verifier == nil {
		obs.AuthAttempt(string(provider), "unsupported")
		return Principal{}, Internal("Cannot perform login due to server crashes.",
			fmt.Errorf("no verifier supports %T", cred))
	}

	user, err := verifier.Authenticate(ctx, cred)
	if err != nil {
		obs.AuthAttempt(string(provider), outcome(err))
		return Principal{}, err
	}

	codes, err := s.resolver.AuthoritiesOf(ctx, user.ID)
	if err != nil {
		obs.AuthAttempt(string(provider), "error")
		return Principal{}, fmt.Errorf("resolve authorities of user %d: %w", user.ID, err)
	}
	obs.AuthAttempt(string(provider), "success")
	return NewPrincipal(user, provider, codes), nil
}

// Login authenticates the credential and issues a session token.
func (s *Service) Login(ctx context.Context, cred Credential) (Session, error) {
	principal, err := s.Authenticate(ctx, cred)
	if err != nil {
		return Session{}, err
	}
	token, expiresAt, err := s.tokens.Issue(principal.User)
	if err != nil {
		return Session{}, Internal("Cannot perform login due to server crashes.", err)
	}
	s.logger.Info("user logged in",
		zap.Int64("user_id", principal.User.ID),
		zap.String("provider", string(principal.Provider)))
	return Session{Token: token, ExpiresAt: expiresAt, Principal: principal}, nil
}

// AuthenticateToken verifies a bearer token and reloads its user and
// authorities.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (Principal, *Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Principal{}, nil, Unauthorized(MsgTokenInvalid, err)
	}
	user, err := s.users.FindByUsername(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, nil, Unauthorized(MsgTokenInvalid, err)
	}
	if err != nil {
		return Principal{}, nil, fmt.Errorf("load user %q: %w", claims.Subject, err)
	}
	if !user.Active() {
		return Principal{}, nil, Unauthorized(MsgTokenInvalid, fmt.Errorf("user %d is %s", user.ID, user.Status))
	}
	codes, err := s.resolver.AuthoritiesOf(ctx, user.ID)
	if err != nil {
		return Principal{}, nil, fmt.Errorf("resolve authorities of user %d: %w", user.ID, err)
	}
	return NewPrincipal(user, "", codes), claims, nil
}

func (s *Service) verifierFor(cred Credential) Verifier {
	for _, v := range s.verifiers {
		if v.Supports(cred) {
			return v
		}
	}
	return nil
}

func outcome(err error) string {
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
