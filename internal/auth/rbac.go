package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RoleAssignments applies role membership and grant changes and evicts the
// cached authorities of every affected user.
type RoleAssignments struct {
	roles    RoleStore
	resolver *AuthorityResolver
	logger   *zap.Logger
}

// NewRoleAssignments constructs the write side of the RBAC graph.
func NewRoleAssignments(roles RoleStore, resolver *AuthorityResolver, logger *zap.Logger) *RoleAssignments {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleAssignments{roles: roles, resolver: resolver, logger: logger}
}

// AuthoritiesOf returns the effective authority codes of userID.
func (s *RoleAssignments) AuthoritiesOf(ctx context.Context, userID int64) ([]string, error) {
	if userID <= 0 {
		return nil, ErrInvalidInput
	}
	return s.resolver.AuthoritiesOf(ctx, userID)
}

// AssignRole grants roleID to userID.
func (s *RoleAssignments) AssignRole(ctx context.Context, userID, roleID int64) error {
	if userID <= 0 || roleID <= 0 {
		return ErrInvalidInput
	}
	if err := s.roles.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.evict(ctx, userID)
	return nil
}

// RevokeRole removes roleID from userID.
func (s *RoleAssignments) RevokeRole(ctx context.Context, userID, roleID int64) error {
	if userID <= 0 || roleID <= 0 {
		return ErrInvalidInput
	}
	if err := s.roles.RevokeRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.evict(ctx, userID)
	return nil
}

// SetRoleAuthorities replaces the authorities of roleID and evicts every
// member of the role.
func (s *RoleAssignments) SetRoleAuthorities(ctx context.Context, roleID int64, codes []string) error {
	if roleID <= 0 {
		return ErrInvalidInput
	}
	codes = dedupe(codes)
	if err := s.roles.SetRoleAuthorities(ctx, roleID, codes); err != nil {
		return err
	}
	members, err := s.roles.UsersWithRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("list members of role %d: %w", roleID, err)
	}
	s.evict(ctx, members...)
	return nil
}

func (s *RoleAssignments) evict(ctx context.Context, userIDs ...int64) {
	if err := s.resolver.Invalidate(ctx, userIDs...); err != nil {
		s.logger.Warn("authority cache eviction failed", zap.Int64s("user_ids", userIDs), zap.Error(err))
	}
}
