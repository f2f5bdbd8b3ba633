package session

import (
	"errors"
	"time"
)

// Session is one login chain. A user may hold several concurrent sessions,
// one per device.
type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	RevokedAt *time.Time
}

// RefreshRecord is the persisted state of one refresh token. Only the
// fingerprint of the raw token is ever stored.
type RefreshRecord struct {
	ID          string
	SessionID   string
	Fingerprint string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
	ReplacedBy  *string
}

// Active reports whether the record may still authorize a rotation.
func (r RefreshRecord) Active(now time.Time) bool {
	return r.RevokedAt == nil && r.ReplacedBy == nil && now.Before(r.ExpiresAt)
}

var (
	// ErrSessionNotFound indicates an unknown or revoked session chain.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrTokenExpired indicates the active record's expiry has passed.
	ErrTokenExpired = errors.New("session: refresh token expired")
	// ErrTokenRevoked indicates the chain was revoked by logout or reuse detection.
	ErrTokenRevoked = errors.New("session: refresh token revoked")
	// ErrTokenReuse indicates an already-rotated fingerprint was presented,
	// implying token theft. Detection revokes the whole chain.
	ErrTokenReuse = errors.New("session: refresh token reuse detected")
)
