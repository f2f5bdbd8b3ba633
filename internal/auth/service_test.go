package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomhub/loomhub/internal/password"
	"github.com/loomhub/loomhub/internal/session"
	"github.com/loomhub/loomhub/internal/shared"
	"github.com/loomhub/loomhub/internal/token"
)

// memoryRepo mirrors the persistence contract against in-process maps,
// sharing a session.MemoryStore with the service under test so registration
// and rotation see the same chains.
type memoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	byEmail  map[string]*User
	byID     map[int64]*User
	roles    map[int64][]string
	sessions *session.MemoryStore
}

func newMemoryRepo(store *session.MemoryStore) *memoryRepo {
	return &memoryRepo{
		byEmail:  make(map[string]*User),
		byID:     make(map[int64]*User),
		roles:    make(map[int64][]string),
		sessions: store,
	}
}

func (r *memoryRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byEmail[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *memoryRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *memoryRepo) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roles[userID]...), nil
}

func (r *memoryRepo) Register(ctx context.Context, params RegisterParams, mint MintRefreshFunc) (*User, error) {
	r.mu.Lock()
	if _, taken := r.byEmail[params.Email]; taken {
		r.mu.Unlock()
		return nil, shared.ErrEmailTaken
	}
	r.nextID++
	user := &User{
		ID:           r.nextID,
		Email:        params.Email,
		Name:         params.Name,
		PasswordHash: params.PasswordHash,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	r.byEmail[user.Email] = user
	r.byID[user.ID] = user
	r.roles[user.ID] = []string{params.DefaultRole}
	r.mu.Unlock()

	if _, err := r.sessions.CreateWithID(ctx, params.SessionID, user.ID); err != nil {
		return nil, err
	}
	fingerprint, expiresAt, err := mint(user.ID, params.SessionID)
	if err != nil {
		return nil, err
	}
	if _, err := r.sessions.RecordRefresh(ctx, params.SessionID, fingerprint, expiresAt); err != nil {
		return nil, err
	}
	copied := *user
	return &copied, nil
}

func (r *memoryRepo) setActive(userID int64, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.byID[userID]; ok {
		user.IsActive = active
	}
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	repo := newMemoryRepo(store)
	hasher := password.NewHasher(password.Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	issuer := token.NewIssuer([]byte("test-secret-test-secret-test-set"), "loomhub-test", 15*time.Minute, 24*time.Hour)
	return NewService(repo, store, hasher, issuer, nil), repo, store
}

func TestRegisterIssuesTokenPair(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)

	result, err := svc.Register(ctx, "Ada@Example.com ", "Ada", "correct horse battery")
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", result.User.Email)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.RefreshToken)
	require.NotEqual(t, result.AccessToken, result.RefreshToken)

	roles, err := repo.RoleNames(ctx, result.User.ID)
	require.NoError(t, err)
	require.Equal(t, []string{shared.RoleUser}, roles)
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Register(ctx, "ada@example.com", "Ada", "correct horse battery")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "ADA@example.com", "Other Ada", "another passphrase")
	require.Error(t, err)
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestLoginSucceedsWithFreshSession(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	registered, err := svc.Register(ctx, "ada@example.com", "Ada", "correct horse battery")
	require.NoError(t, err)

	logged, err := svc.Login(ctx, "ada@example.com", "correct horse battery")
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, logged.User.ID)
	require.NotEqual(t, registered.SessionID, logged.SessionID)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(t)

	result, err := svc.Register(ctx, "ada@example.com", "Ada", "correct horse battery")
	require.NoError(t, err)

	_, unknownErr := svc.Login(ctx, "nobody@example.com", "correct horse battery")
	_, wrongErr := svc.Login(ctx, "ada@example.com", "wrong password here")

	repo.setActive(result.User.ID, false)
	_, inactiveErr := svc.Login(ctx, "ada@example.com", "correct horse battery")

	for _, err := range []error{unknownErr, wrongErr, inactiveErr} {
		require.Error(t, err)
		require.Equal(t, shared.KindUnauthorized, shared.KindOf(err))
		require.Equal(t, "invalid credentials", shared.PublicMessage(err))
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	registered, err := svc.Register(ctx, "ada@example.com", "Ada", "correct horse battery")
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, registered.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, registered.SessionID, rotated.SessionID)
	require.NotEqual(t, registered.RefreshToken, rotated.RefreshToken)

	// The retired token is dead, and replaying it burns the whole chain.
	_, err = svc.Refresh(ctx, registered.RefreshToken)
	require.Error(t, err)
	require.Equal(t, shared.KindUnauthorized, shared.KindOf(err))

	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	require.Error(t, err)
	require.Equal(t, shared.KindUnauthorized, shared.KindOf(err))
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	registered, err := svc.Register(ctx, "ada@example.com", "Ada", "correct horse battery")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, registered.AccessToken)
	require.Error(t, err)
	require.Equal(t, shared.KindUnauthorized, shared.KindOf(err))
}

func TestRefreshRejectsInactiveAccount(t *testing.T) {
	ctx := context.Background()
	svc, repo, store := newTestService(t)

	registered, err := svc.Register(ctx, "ada@example.com", "Ada", "correct horse battery")
	require.NoError(t, err)

	repo.setActive(registered.User.ID, false)
	_, err = svc.Refresh(ctx, registered.RefreshToken)
	require.Error(t, err)
	require.Equal(t, shared.KindUnauthorized, shared.KindOf(err))

	// The chain is revoked, so reactivating the account does not revive it.
	repo.setActive(registered.User.ID, true)
	_, err = svc.Refresh(ctx, registered.RefreshToken)
	require.Error(t, err)
	_, err = store.Validate(ctx, registered.SessionID, token.Fingerprint(registered.RefreshToken))
	require.ErrorIs(t, err, session.ErrTokenRevoked)
}

func TestLogoutEndsSession(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	registered, err := svc.Register(ctx, "ada@example.com", "Ada", "correct horse battery")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, registered.SessionID))

	_, err = svc.Refresh(ctx, registered.RefreshToken)
	require.Error(t, err)
	require.Equal(t, shared.KindUnauthorized, shared.KindOf(err))

	// Logout is idempotent, including for unknown sessions.
	require.NoError(t, svc.Logout(ctx, registered.SessionID))
	require.NoError(t, svc.Logout(ctx, "no-such-session"))
}

func TestMeReturnsProfileWithRoles(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	registered, err := svc.Register(ctx, "ada@example.com", "Ada", "correct horse battery")
	require.NoError(t, err)

	user, roles, err := svc.Me(ctx, registered.User.ID)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", user.Email)
	require.Contains(t, roles, shared.RoleUser)
	require.False(t, strings.Contains(user.PasswordHash, "plaintext"))
}
