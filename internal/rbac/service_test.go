package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/loomhub/loomhub/internal/shared"
)

type memoryRBACRepo struct {
	permsByUser map[int64][]Permission
	roles       map[string]Role
	assigned    map[[2]int64]string
	resolves    int
}

func newMemoryRBACRepo() *memoryRBACRepo {
	return &memoryRBACRepo{
		permsByUser: make(map[int64][]Permission),
		roles:       make(map[string]Role),
		assigned:    make(map[[2]int64]string),
	}
}

func (r *memoryRBACRepo) ResolvePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	r.resolves++
	return r.permsByUser[userID], nil
}

func (r *memoryRBACRepo) ListRoles(ctx context.Context) ([]Role, error) {
	var out []Role
	for _, role := range r.roles {
		out = append(out, role)
	}
	return out, nil
}

func (r *memoryRBACRepo) FindRoleByName(ctx context.Context, name string) (Role, error) {
	role, ok := r.roles[name]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return role, nil
}

func (r *memoryRBACRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	return nil, nil
}

func (r *memoryRBACRepo) AssignRole(ctx context.Context, userID, roleID int64, assignedBy string) error {
	r.assigned[[2]int64{userID, roleID}] = assignedBy
	return nil
}

func (r *memoryRBACRepo) RemoveRole(ctx context.Context, userID, roleID int64) error {
	delete(r.assigned, [2]int64{userID, roleID})
	return nil
}

func (r *memoryRBACRepo) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return nil
}

func TestResolveUnionAcrossRoles(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.permsByUser[1] = []Permission{
		{Action: shared.ActionRead, Subject: shared.SubjectPost},
		{Action: shared.ActionCreate, Subject: shared.SubjectPost},
		{Action: shared.ActionRead, Subject: shared.SubjectPost}, // duplicate via second role
	}
	svc := NewService(repo, nil)

	set, err := svc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	require.True(t, set.Has(shared.ActionRead, shared.SubjectPost))
	require.True(t, set.Has(shared.ActionCreate, shared.SubjectPost))
	require.False(t, set.Has(shared.ActionDelete, shared.SubjectPost))
}

func TestWildcardMatchesEverything(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.permsByUser[1] = []Permission{
		{Action: shared.ActionManage, Subject: shared.SubjectAll},
	}
	svc := NewService(repo, nil)

	for _, pair := range [][2]string{
		{shared.ActionDelete, shared.SubjectPost},
		{shared.ActionUpdateAny, shared.SubjectUser},
		{shared.ActionJoin, shared.SubjectChatRoom},
		{"anything", "whatsoever"},
	} {
		ok, err := svc.Has(context.Background(), 1, pair[0], pair[1])
		require.NoError(t, err)
		require.True(t, ok, "wildcard should grant (%s, %s)", pair[0], pair[1])
	}
}

func TestEmptySetDeniesAll(t *testing.T) {
	svc := NewService(newMemoryRBACRepo(), nil)
	ok, err := svc.Has(context.Background(), 9, shared.ActionRead, shared.SubjectPost)
	require.NoError(t, err)
	require.False(t, ok)
}

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
}

func TestResolveUsesCache(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.permsByUser[1] = []Permission{{Action: shared.ActionRead, Subject: shared.SubjectPost}}
	svc := NewService(repo, newTestCache(t, time.Minute))

	for i := 0; i < 3; i++ {
		set, err := svc.Resolve(context.Background(), 1)
		require.NoError(t, err)
		require.True(t, set.Has(shared.ActionRead, shared.SubjectPost))
	}
	require.Equal(t, 1, repo.resolves, "repeated resolves should hit the cache")
}

func TestRoleMutationInvalidatesCache(t *testing.T) {
	repo := newMemoryRBACRepo()
	repo.roles[shared.RoleAdmin] = Role{ID: 10, Name: shared.RoleAdmin}
	repo.permsByUser[1] = []Permission{{Action: shared.ActionRead, Subject: shared.SubjectPost}}
	svc := NewService(repo, newTestCache(t, time.Minute))

	_, err := svc.Resolve(context.Background(), 1)
	require.NoError(t, err)

	// Granting a role bumps the cache version; the next resolve reloads.
	repo.permsByUser[1] = append(repo.permsByUser[1], Permission{Action: shared.ActionManage, Subject: shared.SubjectAll})
	require.NoError(t, svc.AssignRole(context.Background(), 1, shared.RoleAdmin, "test"))

	set, err := svc.Resolve(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, set.Has(shared.ActionDeleteAny, shared.SubjectUser))
	require.Equal(t, 2, repo.resolves)
}

func TestAssignUnknownRole(t *testing.T) {
	svc := NewService(newMemoryRBACRepo(), nil)
	err := svc.AssignRole(context.Background(), 1, "GHOST", "test")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
