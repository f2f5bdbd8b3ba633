package rbac

import (
	"context"
	"fmt"
)

// Service resolves effective permissions and manages role assignments.
type Service struct {
	repo  Repository
	cache *Cache
}

// NewService constructs a Service. cache may be nil to resolve straight from
// the repository on every call.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Resolve returns the user's effective permission set: the union of
// permissions across all assigned roles. Results are cached for at most one
// access-token lifetime.
func (s *Service) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	return s.cache.Fetch(ctx, userID, func(ctx context.Context) (PermissionSet, error) {
		perms, err := s.repo.ResolvePermissions(ctx, userID)
		if err != nil {
			return PermissionSet{}, err
		}
		return NewPermissionSet(perms), nil
	})
}

// Has reports whether the user holds (action, subject), honoring the
// (manage, all) wildcard.
func (s *Service) Has(ctx context.Context, userID int64, action, subject string) (bool, error) {
	set, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(action, subject), nil
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// AssignRole grants roleName to userID and invalidates cached permissions.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleName, assignedBy string) error {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, userID, role.ID, assignedBy); err != nil {
		return err
	}
	return s.bump(ctx)
}

// RemoveRole revokes roleName from userID and invalidates cached permissions.
func (s *Service) RemoveRole(ctx context.Context, userID int64, roleName string) error {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveRole(ctx, userID, role.ID); err != nil {
		return err
	}
	return s.bump(ctx)
}

// SetRolePermissions replaces a role's grant set and invalidates cached
// permissions.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := s.repo.SetRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	return s.bump(ctx)
}

func (s *Service) bump(ctx context.Context) error {
	if err := s.cache.Bump(ctx); err != nil {
		return fmt.Errorf("rbac: invalidate cache: %w", err)
	}
	return nil
}
