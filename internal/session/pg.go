package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	platformdb "github.com/loomhub/loomhub/internal/platform/db"
)

// PGStore implements Store on PostgreSQL. The session row is locked for the
// duration of every chain mutation, so concurrent rotations of the same
// chain serialize on the database.
type PGStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGStore constructs a PostgreSQL backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, now: time.Now}
}

// Create allocates a new session chain.
func (s *PGStore) Create(ctx context.Context, userID int64) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, created_at) VALUES ($1, $2, $3)`,
		sess.ID, sess.UserID, sess.CreatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// RecordRefresh installs the active record for a session, retiring any prior
// active record in the same transaction.
func (s *PGStore) RecordRefresh(ctx context.Context, sessionID, fingerprint string, expiresAt time.Time) (RefreshRecord, error) {
	var record RefreshRecord
	err := platformdb.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := s.lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		rec, err := s.insertRecord(ctx, tx, sessionID, fingerprint, expiresAt)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return RefreshRecord{}, err
	}
	return record, nil
}

// Validate checks the presented fingerprint against the active record
// without rotating. Reuse detection still revokes the chain.
func (s *PGStore) Validate(ctx context.Context, sessionID, fingerprint string) (RefreshRecord, error) {
	return s.check(ctx, sessionID, fingerprint, "", time.Time{})
}

// Rotate validates and rotates in one transaction.
func (s *PGStore) Rotate(ctx context.Context, sessionID, presentedFingerprint, newFingerprint string, expiresAt time.Time) (RefreshRecord, error) {
	return s.check(ctx, sessionID, presentedFingerprint, newFingerprint, expiresAt)
}

// check is the shared critical section. When newFingerprint is non-empty the
// matched record is retired and replaced before commit.
func (s *PGStore) check(ctx context.Context, sessionID, fingerprint, newFingerprint string, expiresAt time.Time) (RefreshRecord, error) {
	var (
		record  RefreshRecord
		outcome error
		now     = s.now().UTC()
	)
	err := platformdb.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sess, err := s.lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.RevokedAt != nil {
			outcome = ErrTokenRevoked
			return nil
		}

		active, err := s.activeRecord(ctx, tx, sessionID)
		if errors.Is(err, pgx.ErrNoRows) {
			outcome = ErrTokenRevoked
			return nil
		}
		if err != nil {
			return err
		}

		if active.Fingerprint != fingerprint {
			// A fingerprint that does not match the active record on a chain
			// that has rotated means the old token was replayed. Revoke the
			// entire chain; the revocation must commit even though the
			// caller's request fails.
			if err := s.revokeChain(ctx, tx, sessionID, now); err != nil {
				return err
			}
			outcome = ErrTokenReuse
			return nil
		}
		if now.After(active.ExpiresAt) {
			outcome = ErrTokenExpired
			return nil
		}

		if newFingerprint == "" {
			record = active
			return nil
		}
		rec, err := s.insertRecord(ctx, tx, sessionID, newFingerprint, expiresAt)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return RefreshRecord{}, err
	}
	if outcome != nil {
		return RefreshRecord{}, outcome
	}
	return record, nil
}

// Revoke marks the session chain revoked.
func (s *PGStore) Revoke(ctx context.Context, sessionID string) error {
	now := s.now().UTC()
	return platformdb.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := s.lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		return s.revokeChain(ctx, tx, sessionID, now)
	})
}

// DeleteExpired removes refresh records whose expiry passed before cutoff,
// then prunes session rows left with no records.
func (s *PGStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("session: delete expired: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`DELETE FROM sessions s WHERE NOT EXISTS (
			SELECT 1 FROM refresh_tokens rt WHERE rt.session_id = s.id
		)`)
	if err != nil {
		return tag.RowsAffected(), fmt.Errorf("session: prune sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) lockSession(ctx context.Context, tx pgx.Tx, sessionID string) (Session, error) {
	var sess Session
	err := tx.QueryRow(ctx,
		`SELECT id, user_id, created_at, revoked_at FROM sessions WHERE id = $1 FOR UPDATE`,
		sessionID).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: lock: %w", err)
	}
	return sess, nil
}

func (s *PGStore) activeRecord(ctx context.Context, tx pgx.Tx, sessionID string) (RefreshRecord, error) {
	var rec RefreshRecord
	err := tx.QueryRow(ctx,
		`SELECT id, session_id, token_fingerprint, issued_at, expires_at, revoked_at, replaced_by
		 FROM refresh_tokens
		 WHERE session_id = $1 AND revoked_at IS NULL AND replaced_by IS NULL`,
		sessionID).Scan(&rec.ID, &rec.SessionID, &rec.Fingerprint, &rec.IssuedAt, &rec.ExpiresAt, &rec.RevokedAt, &rec.ReplacedBy)
	if err != nil {
		return RefreshRecord{}, err
	}
	return rec, nil
}

func (s *PGStore) insertRecord(ctx context.Context, tx pgx.Tx, sessionID, fingerprint string, expiresAt time.Time) (RefreshRecord, error) {
	rec := RefreshRecord{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Fingerprint: fingerprint,
		IssuedAt:    s.now().UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}
	if _, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET replaced_by = $1
		 WHERE session_id = $2 AND revoked_at IS NULL AND replaced_by IS NULL`,
		rec.ID, sessionID); err != nil {
		return RefreshRecord{}, fmt.Errorf("session: retire active record: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO refresh_tokens (id, session_id, token_fingerprint, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.SessionID, rec.Fingerprint, rec.IssuedAt, rec.ExpiresAt); err != nil {
		return RefreshRecord{}, fmt.Errorf("session: insert record: %w", err)
	}
	return rec, nil
}

func (s *PGStore) revokeChain(ctx context.Context, tx pgx.Tx, sessionID string, now time.Time) error {
	if _, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE session_id = $2 AND revoked_at IS NULL`,
		now, sessionID); err != nil {
		return fmt.Errorf("session: revoke records: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		now, sessionID); err != nil {
		return fmt.Errorf("session: revoke session: %w", err)
	}
	return nil
}

var _ Store = (*PGStore)(nil)
