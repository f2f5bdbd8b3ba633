package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/loomhub/loomhub/internal/jobs"
	"github.com/loomhub/loomhub/internal/session"
)

func TestSessionsCleanupReapsExpiredRecords(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	sess, err := store.Create(ctx, 1)
	require.NoError(t, err)
	_, err = store.RecordRefresh(ctx, sess.ID, "fp-stale", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	live, err := store.Create(ctx, 2)
	require.NoError(t, err)
	_, err = store.RecordRefresh(ctx, live.ID, "fp-live", time.Now().Add(time.Hour))
	require.NoError(t, err)

	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	handler := NewSessionsCleanupHandler(store, metrics, nil)

	task, err := NewSessionsCleanupTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, handler(ctx, task))

	// The live chain still rotates; the stale one is gone entirely.
	_, err = store.Validate(ctx, live.ID, "fp-live")
	require.NoError(t, err)
	_, err = store.Validate(ctx, sess.ID, "fp-stale")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSessionsCleanupSkipsMalformedPayload(t *testing.T) {
	store := session.NewMemoryStore()
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	handler := NewSessionsCleanupHandler(store, metrics, nil)

	err := handler(context.Background(), asynq.NewTask(TaskSessionsCleanup, []byte("{not json")))
	require.Error(t, err)
}
