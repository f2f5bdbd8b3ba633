package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomhub/loomhub/internal/password"
	"github.com/loomhub/loomhub/internal/session"
	"github.com/loomhub/loomhub/internal/shared"
	"github.com/loomhub/loomhub/internal/token"
)

// Metrics receives auth outcome counters. Satisfied by
// observability.Metrics; a nil value disables recording.
type Metrics interface {
	RecordLogin(result string)
	RecordRotation(result string)
}

// Service owns the security-critical control flow: credential verification,
// token issuance and rotation, and session termination.
type Service struct {
	repo     Repository
	sessions session.Store
	hasher   *password.Hasher
	issuer   *token.Issuer
	logger   *slog.Logger
	metrics  Metrics
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions session.Store, hasher *password.Hasher, issuer *token.Issuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		hasher:   hasher,
		issuer:   issuer,
		logger:   logger,
	}
}

// SetMetrics attaches outcome counters; safe to skip in tests.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

func (s *Service) countLogin(result string) {
	if s.metrics != nil {
		s.metrics.RecordLogin(result)
	}
}

func (s *Service) countRotation(result string) {
	if s.metrics != nil {
		s.metrics.RecordRotation(result)
	}
}

// Register creates a new account with the default USER role, opens a session
// and issues a token pair. Returns Conflict if the email is taken.
func (s *Service) Register(ctx context.Context, email, name, plaintext string) (*Result, error) {
	email = normalizeEmail(email)

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, shared.E(shared.KindInfrastructure, "", err)
	}

	// The refresh token is minted inside the registration transaction so the
	// session chain and its first record land atomically with the user row.
	sessionID := uuid.NewString()
	var (
		refreshRaw string
		refreshExp time.Time
	)
	user, err := s.repo.Register(ctx, RegisterParams{
		Email:           email,
		Name:            strings.TrimSpace(name),
		PasswordHash:    hash,
		DefaultRole:     shared.RoleUser,
		AssignedBy:      "system_registration",
		SessionID:       sessionID,
		RefreshRecordID: uuid.NewString(),
	}, func(userID int64, sessionID string) (string, time.Time, error) {
		raw, exp, err := s.issuer.IssueRefreshToken(userID, sessionID)
		if err != nil {
			return "", time.Time{}, err
		}
		refreshRaw, refreshExp = raw, exp
		return token.Fingerprint(raw), exp, nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrEmailTaken) {
			return nil, shared.E(shared.KindConflict, "email already registered", err)
		}
		return nil, err
	}

	s.logger.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("session_id", sessionID))

	return s.buildResult(user, sessionID, refreshRaw, refreshExp)
}

// Login verifies credentials and opens a fresh session, supporting
// concurrent sessions across devices. Unknown email, wrong password and
// deactivated accounts are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, plaintext string) (*Result, error) {
	email = normalizeEmail(email)

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// Audit trail keeps the real reason; the response does not.
			s.logger.Warn("login failed", slog.String("reason", "unknown email"))
			s.countLogin("failure")
			return nil, shared.E(shared.KindUnauthorized, "invalid credentials", shared.ErrInvalidCredentials)
		}
		return nil, err
	}
	if !user.IsActive {
		s.logger.Warn("login failed", slog.Int64("user_id", user.ID), slog.String("reason", "inactive account"))
		s.countLogin("failure")
		return nil, shared.E(shared.KindUnauthorized, "invalid credentials", shared.ErrInvalidCredentials)
	}
	ok, err := s.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		// A malformed stored digest is treated exactly like a mismatch.
		s.logger.Warn("login failed", slog.Int64("user_id", user.ID), slog.String("reason", "password mismatch"))
		s.countLogin("failure")
		return nil, shared.E(shared.KindUnauthorized, "invalid credentials", shared.ErrInvalidCredentials)
	}

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	refreshRaw, refreshExp, err := s.issuer.IssueRefreshToken(user.ID, sess.ID)
	if err != nil {
		return nil, shared.E(shared.KindInfrastructure, "", err)
	}
	if _, err := s.sessions.RecordRefresh(ctx, sess.ID, token.Fingerprint(refreshRaw), refreshExp); err != nil {
		return nil, err
	}

	s.logger.Info("login succeeded",
		slog.Int64("user_id", user.ID),
		slog.String("session_id", sess.ID))
	s.countLogin("success")

	return s.buildResult(user, sess.ID, refreshRaw, refreshExp)
}

// Refresh rotates a refresh token: the presented token is retired and a new
// pair is issued in one atomic step. Replay of a retired token revokes the
// whole chain and fails Unauthorized.
func (s *Service) Refresh(ctx context.Context, presentedRefresh string) (*Result, error) {
	claims, err := s.issuer.Verify(presentedRefresh, token.TypeRefresh)
	if err != nil {
		return nil, shared.E(shared.KindUnauthorized, "unauthorized", err)
	}
	userID, err := claims.UserID()
	if err != nil || claims.SessionID == "" {
		return nil, shared.E(shared.KindUnauthorized, "unauthorized", token.ErrTokenInvalid)
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.E(shared.KindUnauthorized, "unauthorized", err)
		}
		return nil, err
	}
	if !user.IsActive {
		// A deactivated account must not keep rotating; kill the chain.
		if err := s.sessions.Revoke(ctx, claims.SessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}
		s.logger.Warn("refresh rejected", slog.Int64("user_id", userID), slog.String("reason", "inactive account"))
		return nil, shared.E(shared.KindUnauthorized, "unauthorized", shared.ErrUnauthorized)
	}

	newRefresh, newExp, err := s.issuer.IssueRefreshToken(userID, claims.SessionID)
	if err != nil {
		return nil, shared.E(shared.KindInfrastructure, "", err)
	}
	_, err = s.sessions.Rotate(ctx, claims.SessionID,
		token.Fingerprint(presentedRefresh), token.Fingerprint(newRefresh), newExp)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTokenReuse):
			s.logger.Warn("refresh token reuse detected",
				slog.Int64("user_id", userID),
				slog.String("session_id", claims.SessionID))
			s.countRotation("reuse")
			return nil, shared.E(shared.KindUnauthorized, "unauthorized", err)
		case errors.Is(err, session.ErrTokenExpired),
			errors.Is(err, session.ErrTokenRevoked),
			errors.Is(err, session.ErrSessionNotFound):
			s.countRotation("rejected")
			return nil, shared.E(shared.KindUnauthorized, "unauthorized", err)
		}
		return nil, err
	}
	s.countRotation("success")

	return s.buildResult(user, claims.SessionID, newRefresh, newExp)
}

// Logout revokes the session's active refresh record. Access tokens already
// issued ride out their short TTL.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	err := s.sessions.Revoke(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("logout", slog.String("session_id", sessionID))
	return nil
}

// Me returns the user and its role names for the me endpoint.
func (s *Service) Me(ctx context.Context, userID int64) (*User, []string, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	roles, err := s.repo.RoleNames(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, roles, nil
}

func (s *Service) buildResult(user *User, sessionID, refreshRaw string, refreshExp time.Time) (*Result, error) {
	access, accessExp, err := s.issuer.IssueAccessToken(user.ID)
	if err != nil {
		return nil, shared.E(shared.KindInfrastructure, "", err)
	}
	return &Result{
		User:             user,
		SessionID:        sessionID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshRaw,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
