package session

import (
	"context"
	"time"
)

// Store persists session chains and their refresh records.
//
// Rotate is the only operation allowed to retire an active record against a
// presented fingerprint, and implementations must make it atomic: two
// concurrent rotations with the same stale token yield exactly one success.
type Store interface {
	// Create allocates a new session chain for userID.
	Create(ctx context.Context, userID int64) (Session, error)

	// RecordRefresh inserts the active record for a session, atomically
	// marking any prior active record as replaced. Used at login and
	// registration, when no fingerprint is being consumed.
	RecordRefresh(ctx context.Context, sessionID, fingerprint string, expiresAt time.Time) (RefreshRecord, error)

	// Validate checks that fingerprint matches the currently active record.
	// A mismatch against a chain that has already rotated revokes the whole
	// chain and returns ErrTokenReuse.
	Validate(ctx context.Context, sessionID, fingerprint string) (RefreshRecord, error)

	// Rotate validates the presented fingerprint and, in the same critical
	// section, retires the matched record and installs the new one.
	Rotate(ctx context.Context, sessionID, presentedFingerprint, newFingerprint string, expiresAt time.Time) (RefreshRecord, error)

	// Revoke marks the session's active record revoked; used on logout.
	Revoke(ctx context.Context, sessionID string) error

	// DeleteExpired garbage-collects records and sessions whose expiry
	// passed before cutoff. Returns the number of records removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
