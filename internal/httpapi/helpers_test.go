package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/onixbyte/helix/internal/auth"
	"github.com/onixbyte/helix/internal/cache"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type memStore struct {
	mu        sync.Mutex
	users     map[string]auth.User
	userRoles map[int64][]int64
	roleAuths map[int64][]string
	finds     int
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[string]auth.User{},
		userRoles: map[int64][]int64{},
		roleAuths: map[int64][]string{},
	}
}

func (s *memStore) FindByUsername(_ context.Context, username string) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	u, ok := s.users[username]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (s *memStore) FindByIdentity(context.Context, auth.Provider, string) (auth.User, error) {
	return auth.User{}, auth.ErrNotFound
}

func (s *memStore) RegisterFederated(context.Context, auth.User, auth.UserIdentity) (auth.User, error) {
	return auth.User{}, auth.ErrInvalidInput
}

func (s *memStore) AuthorityCodes(_ context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var codes []string
	for _, role := range s.userRoles[userID] {
		codes = append(codes, s.roleAuths[role]...)
	}
	return codes, nil
}

func (s *memStore) AssignRole(_ context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roleAuths[roleID]; !ok {
		return auth.ErrNotFound
	}
	s.userRoles[userID] = append(s.userRoles[userID], roleID)
	return nil
}

func (s *memStore) RevokeRole(_ context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := s.userRoles[userID]
	for i, r := range roles {
		if r == roleID {
			s.userRoles[userID] = append(roles[:i], roles[i+1:]...)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s *memStore) SetRoleAuthorities(_ context.Context, roleID int64, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roleAuths[roleID]; !ok {
		return auth.ErrNotFound
	}
	s.roleAuths[roleID] = append([]string(nil), codes...)
	return nil
}

func (s *memStore) UsersWithRole(_ context.Context, roleID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for user, roles := range s.userRoles {
		for _, r := range roles {
			if r == roleID {
				ids = append(ids, user)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memStore) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

type fixture struct {
	t     *testing.T
	store *memStore
	api   *API
	srv   *httptest.Server
}

// newFixture seeds alice (roles 1 and 2 granting A, B, C) and admin (role 9
// granting the user read and RBAC management authorities). Both use the password "secret".
func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := newMemStore()
	store.users["alice"] = auth.User{ID: 1, Username: "alice", FullName: "Alice", Status: auth.UserActive, PasswordHash: string(hash)}
	store.users["admin"] = auth.User{ID: 2, Username: "admin", FullName: "Admin", Status: auth.UserActive, PasswordHash: string(hash)}
	store.roleAuths[1] = []string{"A", "B"}
	store.roleAuths[2] = []string{"B", "C"}
	store.roleAuths[3] = []string{"D"}
	store.roleAuths[9] = []string{auth.AuthorityUserRead, auth.AuthorityUserRoleAssign, auth.AuthorityRoleAuthorityAssign}
	store.userRoles[1] = []int64{1, 2}
	store.userRoles[2] = []int64{9}

	tokens, err := auth.NewTokenCodec(auth.TokenConfig{Secret: testSecret, ValidTime: time.Hour})
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	resolver := auth.NewAuthorityResolver(store, cache.NewMemory())
	svc, err := auth.NewService(store, resolver, tokens,
		auth.WithVerifiers(auth.NewLocalVerifier(store, nil)))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	opts.Auth = svc
	opts.Roles = auth.NewRoleAssignments(store, resolver, nil)
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(100, 100)
	}
	api, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &fixture{t: t, store: store, api: api, srv: srv}
}

func (f *fixture) do(method, path string, body any, headers map[string]string) *http.Response {
	f.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		f.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		f.t.Fatalf("do request: %v", err)
	}
	f.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) login(username, password string) string {
	f.t.Helper()
	resp := f.do(http.MethodPost, "/auth/username-password", map[string]string{"username": username, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		f.t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var body loginResponse
	decodeBody(f.t, resp, &body)
	return body.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}
