package users

import (
	"context"
	"strings"

	"github.com/loomhub/loomhub/internal/shared"
)

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetProfile returns the public projection of a user with its roles.
func (s *Service) GetProfile(ctx context.Context, id int64) (Profile, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	roles, err := s.repo.RoleNames(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return ProfileOf(*user, roles), nil
}

// ListProfiles returns a page of users with their roles.
func (s *Service) ListProfiles(ctx context.Context, page, perPage int) ([]Profile, shared.Pagination, error) {
	total, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	pagination := shared.NewPagination(page, perPage, total)

	users, err := s.repo.ListUsers(ctx, pagination.PerPage, (pagination.Page-1)*pagination.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	profiles := make([]Profile, 0, len(users))
	for _, u := range users {
		roles, err := s.repo.RoleNames(ctx, u.ID)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		profiles = append(profiles, ProfileOf(u, roles))
	}
	return profiles, pagination, nil
}

// UpdateName changes the user's display name.
func (s *Service) UpdateName(ctx context.Context, id int64, name string) (Profile, error) {
	user, err := s.repo.UpdateProfile(ctx, id, strings.TrimSpace(name))
	if err != nil {
		return Profile{}, err
	}
	roles, err := s.repo.RoleNames(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return ProfileOf(*user, roles), nil
}

// Deactivate soft-disables the account. Deactivation does not revoke access
// tokens already in flight; login and refresh reject the account from the
// next attempt on.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, false)
}

// Activate re-enables the account.
func (s *Service) Activate(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, true)
}
