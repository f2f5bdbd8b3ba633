package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with an in-process map. It backs tests and
// single-node development runs; the mutex gives it the same one-winner
// guarantee under concurrent rotation that the database store gets from row
// locks.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	records  map[string][]*RefreshRecord
	now      func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		records:  make(map[string][]*RefreshRecord),
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create allocates a new session chain.
func (s *MemoryStore) Create(ctx context.Context, userID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	s.sessions[sess.ID] = sess
	return *sess, nil
}

// CreateWithID installs a session chain under a caller-chosen ID. Used when
// the session row is persisted elsewhere (the registration transaction) and
// the in-memory view has to agree on the identifier.
func (s *MemoryStore) CreateWithID(ctx context.Context, id string, userID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	s.sessions[sess.ID] = sess
	return *sess, nil
}

// RecordRefresh installs the active record, retiring any prior one.
func (s *MemoryStore) RecordRefresh(ctx context.Context, sessionID, fingerprint string, expiresAt time.Time) (RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return RefreshRecord{}, ErrSessionNotFound
	}
	return s.insertLocked(sessionID, fingerprint, expiresAt), nil
}

// Validate checks the fingerprint without rotating.
func (s *MemoryStore) Validate(ctx context.Context, sessionID, fingerprint string) (RefreshRecord, error) {
	return s.check(sessionID, fingerprint, "", time.Time{})
}

// Rotate validates and rotates under one lock acquisition.
func (s *MemoryStore) Rotate(ctx context.Context, sessionID, presentedFingerprint, newFingerprint string, expiresAt time.Time) (RefreshRecord, error) {
	return s.check(sessionID, presentedFingerprint, newFingerprint, expiresAt)
}

func (s *MemoryStore) check(sessionID, fingerprint, newFingerprint string, expiresAt time.Time) (RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return RefreshRecord{}, ErrSessionNotFound
	}
	now := s.now().UTC()
	if sess.RevokedAt != nil {
		return RefreshRecord{}, ErrTokenRevoked
	}

	active := s.activeLocked(sessionID)
	if active == nil {
		return RefreshRecord{}, ErrTokenRevoked
	}
	if active.Fingerprint != fingerprint {
		s.revokeLocked(sessionID, now)
		return RefreshRecord{}, ErrTokenReuse
	}
	if now.After(active.ExpiresAt) {
		return RefreshRecord{}, ErrTokenExpired
	}

	if newFingerprint == "" {
		return *active, nil
	}
	return s.insertLocked(sessionID, newFingerprint, expiresAt), nil
}

// Revoke marks the chain revoked.
func (s *MemoryStore) Revoke(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	s.revokeLocked(sessionID, s.now().UTC())
	return nil
}

// DeleteExpired removes records expired before cutoff and empty sessions.
func (s *MemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for sessionID, records := range s.records {
		kept := records[:0]
		for _, rec := range records {
			if rec.ExpiresAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(s.records, sessionID)
			delete(s.sessions, sessionID)
			continue
		}
		s.records[sessionID] = kept
	}
	return removed, nil
}

func (s *MemoryStore) activeLocked(sessionID string) *RefreshRecord {
	for _, rec := range s.records[sessionID] {
		if rec.RevokedAt == nil && rec.ReplacedBy == nil {
			return rec
		}
	}
	return nil
}

func (s *MemoryStore) insertLocked(sessionID, fingerprint string, expiresAt time.Time) RefreshRecord {
	rec := &RefreshRecord{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Fingerprint: fingerprint,
		IssuedAt:    s.now().UTC(),
		ExpiresAt:   expiresAt.UTC(),
	}
	if active := s.activeLocked(sessionID); active != nil {
		active.ReplacedBy = &rec.ID
	}
	s.records[sessionID] = append(s.records[sessionID], rec)
	return *rec
}

func (s *MemoryStore) revokeLocked(sessionID string, now time.Time) {
	for _, rec := range s.records[sessionID] {
		if rec.RevokedAt == nil {
			revoked := now
			rec.RevokedAt = &revoked
		}
	}
	if sess, ok := s.sessions[sessionID]; ok && sess.RevokedAt == nil {
		revoked := now
		sess.RevokedAt = &revoked
	}
}

var _ Store = (*MemoryStore)(nil)
