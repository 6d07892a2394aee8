package auth

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/onixbyte/helix/internal/cache"
)

type stubVerifier struct {
	supports func(Credential) bool
	user     User
	err      error
	calls    int
}

func (s *stubVerifier) Supports(c Credential) bool { return s.supports(c) }

func (s *stubVerifier) Authenticate(context.Context, Credential) (User, error) {
	s.calls++
	return s.user, s.err
}

func newTestService(t *testing.T, store *fakeStore, verifiers ...Verifier) *Service {
	t.Helper()
	codec, err := NewTokenCodec(TokenConfig{Secret: testSecret, ValidTime: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	svc, err := NewService(store, NewAuthorityResolver(store, cache.NewMemory()), codec, WithVerifiers(verifiers...))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestLoginEndToEnd(t *testing.T) {
	store := newFakeStore()
	alice := store.addUser(User{Username: "alice", PasswordHash: mustHash(t, "secret")})
	ctx := context.Background()
	_ = store.AssignRole(ctx, alice.ID, 1)
	_ = store.SetRoleAuthorities(ctx, 1, []string{AuthorityUserRead})

	svc := newTestService(t, store, NewLocalVerifier(store, nil))
	session, err := svc.Login(ctx, &PasswordCredential{Username: "alice", Password: Secret("secret")})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.Principal.User.PasswordHash != "" {
		t.Fatal("password hash leaked into principal")
	}
	if !session.Principal.HasAuthority(AuthorityUserRead) {
		t.Fatalf("expected authority, got %v", session.Principal.AuthorityCodes())
	}

	principal, claims, err := svc.AuthenticateToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("AuthenticateToken: %v", err)
	}
	if claims.Subject != "alice" || principal.User.ID != alice.ID {
		t.Fatalf("unexpected token principal: %+v / %+v", claims, principal.User)
	}
}

func TestAuthenticateFirstMatchWins(t *testing.T) {
	store := newFakeStore()
	first := &stubVerifier{supports: func(Credential) bool { return true }, user: User{ID: 1, Username: "first"}}
	second := &stubVerifier{supports: func(Credential) bool { return true }, user: User{ID: 2, Username: "second"}}
	svc := newTestService(t, store, first, second)

	p, err := svc.Authenticate(context.Background(), &WeComCodeCredential{Code: Secret("c")})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.User.Username != "first" || first.calls != 1 || second.calls != 0 {
		t.Fatalf("expected first verifier to win, got %+v (calls %d/%d)", p.User, first.calls, second.calls)
	}
	if p.Provider != ProviderWeCom {
		t.Fatalf("unexpected provider %q", p.Provider)
	}
}

func TestAuthenticateUnsupportedCredential(t *testing.T) {
	svc := newTestService(t, newFakeStore(), NewLocalVerifier(newFakeStore(), nil))
	_, err := svc.Authenticate(context.Background(), &EntraTokenCredential{Token: Secret("x")})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}

func TestAuthenticateErasesCredentialOnFailure(t *testing.T) {
	failing := &stubVerifier{supports: func(Credential) bool { return true }, err: Unauthorized("no", nil)}
	svc := newTestService(t, newFakeStore(), failing)
	cred := &EntraTokenCredential{Token: Secret("raw-token")}

	if _, err := svc.Authenticate(context.Background(), cred); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if !reflect.DeepEqual([]byte(cred.Token), make([]byte, len("raw-token"))) {
		t.Fatal("token not erased after failure")
	}
}

func TestAuthenticateTokenRejectsUnknownAndInactiveUsers(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	codec := svc.tokens

	ghost, _, _ := codec.Issue(User{Username: "ghost"})
	if _, _, err := svc.AuthenticateToken(context.Background(), ghost); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for unknown user, got %v", err)
	}

	store.addUser(User{Username: "locked", Status: UserLocked})
	locked, _, _ := codec.Issue(User{Username: "locked"})
	_, _, err := svc.AuthenticateToken(context.Background(), locked)
	if msg, _ := PublicMessage(err); msg != MsgTokenInvalid {
		t.Fatalf("expected %q, got %v", MsgTokenInvalid, err)
	}

	if _, _, err := svc.AuthenticateToken(context.Background(), "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for garbage, got %v", err)
	}
}
