package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/loomhub/loomhub/internal/jobs"
	"github.com/loomhub/loomhub/internal/session"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionsCleanup removes expired refresh records and their sessions.
	TaskSessionsCleanup = "sessions:cleanup"
)

// SessionsCleanupPayload carries scheduling metadata.
type SessionsCleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSessionsCleanupTask constructs an Asynq task for session cleanup.
func NewSessionsCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SessionsCleanupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewSessionsCleanupHandler builds the handler that reaps expired refresh
// records. Revoked chains age out the same way once their records expire.
func NewSessionsCleanupHandler(store session.Store, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SessionsCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track(TaskSessionsCleanup)
		removed, err := store.DeleteExpired(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("sessions cleanup", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddReaped(removed)
		logger.Info("sessions cleanup", slog.Int64("removed", removed))
		return tracker.End(nil)
	}
}
