package auth

import (
	"context"
	"sort"
	"sync"
)

// fakeStore is an in-memory UserStore/AuthorityStore/RoleStore.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]User
	identities  map[string]int64
	userRoles   map[int64][]int64
	roleAuths   map[int64][]string
	authQueries int
	nextID      int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[string]User{},
		identities: map[string]int64{},
		userRoles:  map[int64][]int64{},
		roleAuths:  map[int64][]string{},
		nextID:     100,
	}
}

func (s *fakeStore) addUser(u User) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.nextID++
		u.ID = s.nextID
	}
	if u.Status == "" {
		u.Status = UserActive
	}
	s.users[u.Username] = u
	return u
}

func (s *fakeStore) FindByUsername(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) FindByIdentity(_ context.Context, provider Provider, externalID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[string(provider)+"/"+externalID]
	if !ok {
		return User{}, ErrNotFound
	}
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *fakeStore) RegisterFederated(_ context.Context, u User, identity UserIdentity) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return User{}, ErrConflict
	}
	s.nextID++
	u.ID = s.nextID
	s.users[u.Username] = u
	s.identities[string(identity.Provider)+"/"+identity.ExternalID] = u.ID
	return u, nil
}

func (s *fakeStore) AuthorityCodes(_ context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authQueries++
	var out []string
	for _, r := range s.userRoles[userID] {
		out = append(out, s.roleAuths[r]...)
	}
	return out, nil
}

func (s *fakeStore) AssignRole(_ context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles[userID] = append(s.userRoles[userID], roleID)
	return nil
}

func (s *fakeStore) RevokeRole(_ context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := s.userRoles[userID][:0]
	for _, r := range s.userRoles[userID] {
		if r != roleID {
			roles = append(roles, r)
		}
	}
	s.userRoles[userID] = roles
	return nil
}

func (s *fakeStore) SetRoleAuthorities(_ context.Context, roleID int64, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleAuths[roleID] = append([]string(nil), codes...)
	return nil
}

func (s *fakeStore) UsersWithRole(_ context.Context, roleID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for u, roles := range s.userRoles {
		for _, r := range roles {
			if r == roleID {
				out = append(out, u)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *fakeStore) queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authQueries
}

const testSecret = "0123456789abcdef0123456789abcdef"

func mustHash(t interface{ Fatalf(string, ...any) }, plain string) string {
	h, err := BcryptHasher{}.Hash([]byte(plain))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}
