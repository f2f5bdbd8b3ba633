package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomhub/loomhub/internal/shared"
)

type memoryUsersRepo struct {
	users map[int64]*User
	roles map[int64][]string
}

func newMemoryUsersRepo(count int) *memoryUsersRepo {
	repo := &memoryUsersRepo{
		users: make(map[int64]*User),
		roles: make(map[int64][]string),
	}
	for i := 1; i <= count; i++ {
		id := int64(i)
		repo.users[id] = &User{
			ID:        id,
			Email:     fmt.Sprintf("user%d@example.com", i),
			Name:      fmt.Sprintf("User %d", i),
			IsActive:  true,
			CreatedAt: time.Now().UTC(),
		}
		repo.roles[id] = []string{shared.RoleUser}
	}
	return repo
}

func (r *memoryUsersRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *memoryUsersRepo) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	return append([]string(nil), r.roles[userID]...), nil
}

func (r *memoryUsersRepo) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	var out []User
	for i := int64(1); i <= int64(len(r.users)); i++ {
		if user, ok := r.users[i]; ok {
			out = append(out, *user)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryUsersRepo) CountUsers(ctx context.Context) (int, error) {
	return len(r.users), nil
}

func (r *memoryUsersRepo) SetActive(ctx context.Context, id int64, active bool) error {
	user, ok := r.users[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.IsActive = active
	return nil
}

func (r *memoryUsersRepo) UpdateProfile(ctx context.Context, id int64, name string) (*User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	user.Name = name
	copied := *user
	return &copied, nil
}

var _ RepositoryPort = (*memoryUsersRepo)(nil)

func TestListProfilesPaginates(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryUsersRepo(45))

	profiles, pagination, err := svc.ListProfiles(ctx, 1, 20)
	require.NoError(t, err)
	require.Len(t, profiles, 20)
	require.Equal(t, 45, pagination.Total)
	require.Equal(t, 3, pagination.TotalPages)

	profiles, pagination, err = svc.ListProfiles(ctx, 3, 20)
	require.NoError(t, err)
	require.Len(t, profiles, 5)
	require.Equal(t, 3, pagination.Page)

	// Out-of-range defaults clamp to the first page of twenty.
	profiles, pagination, err = svc.ListProfiles(ctx, 0, -5)
	require.NoError(t, err)
	require.Len(t, profiles, 20)
	require.Equal(t, 1, pagination.Page)
	require.Equal(t, 20, pagination.PerPage)
}

func TestUpdateNameTrimsInput(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryUsersRepo(1))

	profile, err := svc.UpdateName(ctx, 1, "  Grace Hopper  ")
	require.NoError(t, err)
	require.Equal(t, "Grace Hopper", profile.Name)
}

func TestDeactivateUnknownUser(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryUsersRepo(1))

	require.NoError(t, svc.Deactivate(ctx, 1))
	require.ErrorIs(t, svc.Deactivate(ctx, 99), shared.ErrNotFound)

	profile, err := svc.GetProfile(ctx, 1)
	require.NoError(t, err)
	require.False(t, profile.IsActive)

	require.NoError(t, svc.Activate(ctx, 1))
	profile, err = svc.GetProfile(ctx, 1)
	require.NoError(t, err)
	require.True(t, profile.IsActive)
}
