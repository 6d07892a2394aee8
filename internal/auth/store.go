package auth

import "context"

// UserStore reads users and provisions federated accounts.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByIdentity(ctx context.Context, provider Provider, externalID string) (User, error)
	// RegisterFederated creates the user and its identity link in one
	// transaction. ErrConflict is returned when the username is taken.
	RegisterFederated(ctx context.Context, user User, identity UserIdentity) (User, error)
}

// AuthorityStore resolves the RBAC graph for a user.
type AuthorityStore interface {
	// AuthorityCodes returns the distinct codes of active authorities granted
	// to the user through active roles.
	AuthorityCodes(ctx context.Context, userID int64) ([]string, error)
}

// RoleStore mutates role memberships and grants.
type RoleStore interface {
	AssignRole(ctx context.Context, userID, roleID int64) error
	RevokeRole(ctx context.Context, userID, roleID int64) error
	// SetRoleAuthorities replaces the authorities granted to a role. Unknown
	// codes yield ErrInvalidInput.
	SetRoleAuthorities(ctx context.Context, roleID int64, codes []string) error
	UsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
}
