package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRotateHappyPath(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess, err := store.Create(ctx, 1)
	require.NoError(t, err)

	first, err := store.RecordRefresh(ctx, sess.ID, "fp-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Nil(t, first.ReplacedBy)

	second, err := store.Rotate(ctx, sess.ID, "fp-1", "fp-2", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// The new record is now the only one that validates.
	got, err := store.Validate(ctx, sess.ID, "fp-2")
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
}

func TestRotateReuseDetectionRevokesChain(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess, err := store.Create(ctx, 1)
	require.NoError(t, err)
	_, err = store.RecordRefresh(ctx, sess.ID, "fp-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = store.Rotate(ctx, sess.ID, "fp-1", "fp-2", time.Now().Add(time.Hour))
	require.NoError(t, err)

	// Replaying the retired fingerprint trips reuse detection.
	_, err = store.Rotate(ctx, sess.ID, "fp-1", "fp-3", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrTokenReuse)

	// The legitimate holder of fp-2 is locked out too.
	_, err = store.Rotate(ctx, sess.ID, "fp-2", "fp-4", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess, err := store.Create(ctx, 1)
	require.NoError(t, err)
	_, err = store.RecordRefresh(ctx, sess.ID, "fp-stale", time.Now().Add(time.Hour))
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Rotate(ctx, sess.ID, "fp-stale", "fp-new", time.Now().Add(time.Hour))
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	require.Equal(t, 1, wins, "exactly one concurrent rotation may succeed")
}

func TestValidateExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()
	store.SetClock(func() time.Time { return base })

	sess, err := store.Create(ctx, 1)
	require.NoError(t, err)
	_, err = store.RecordRefresh(ctx, sess.ID, "fp", base.Add(time.Minute))
	require.NoError(t, err)

	store.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	_, err = store.Validate(ctx, sess.ID, "fp")
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestRevokeBlocksFurtherRotation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess, err := store.Create(ctx, 1)
	require.NoError(t, err)
	_, err = store.RecordRefresh(ctx, sess.ID, "fp", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, sess.ID))

	_, err = store.Rotate(ctx, sess.ID, "fp", "fp2", time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrTokenRevoked)
}

func TestValidateUnknownSession(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Validate(context.Background(), "missing", "fp")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()
	store.SetClock(func() time.Time { return base })

	old, err := store.Create(ctx, 1)
	require.NoError(t, err)
	_, err = store.RecordRefresh(ctx, old.ID, "fp-old", base.Add(time.Minute))
	require.NoError(t, err)

	fresh, err := store.Create(ctx, 2)
	require.NoError(t, err)
	_, err = store.RecordRefresh(ctx, fresh.ID, "fp-fresh", base.Add(time.Hour))
	require.NoError(t, err)

	removed, err := store.DeleteExpired(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, err = store.Validate(ctx, old.ID, "fp-old")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Validate(ctx, fresh.ID, "fp-fresh")
	require.NoError(t, err)
}
