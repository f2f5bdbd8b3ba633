package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	platformdb "github.com/loomhub/loomhub/internal/platform/db"
	"github.com/loomhub/loomhub/internal/shared"
)

// RegisterParams carries everything the registration transaction persists.
// The session and refresh record are written in the same transaction as the
// user and its default role, so a partial failure leaves nothing behind.
type RegisterParams struct {
	Email           string
	Name            string
	PasswordHash    string
	DefaultRole     string
	AssignedBy      string
	SessionID       string
	RefreshRecordID string
}

// MintRefreshFunc is called inside the registration transaction once the
// user row exists, so the first refresh token can carry the real user ID.
// It returns the fingerprint to persist; the raw token stays with the caller.
type MintRefreshFunc func(userID int64, sessionID string) (fingerprint string, expiresAt time.Time, err error)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	RoleNames(ctx context.Context, userID int64) ([]string, error)
	Register(ctx context.Context, params RegisterParams, mint MintRefreshFunc) (*User, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, is_active, created_at, updated_at
		 FROM users WHERE email = $1`, email))
}

// GetByID fetches a user by ID.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.scanUser(r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, is_active, created_at, updated_at
		 FROM users WHERE id = $1`, id))
}

// RoleNames returns role names currently assigned to the user.
func (r *PGRepository) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ro.name FROM user_roles ur
		 JOIN roles ro ON ro.id = ur.role_id
		 WHERE ur.user_id = $1 ORDER BY ro.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("auth: role names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Register creates the user, its default role assignment, the session chain
// and the initial refresh record in one transaction.
func (r *PGRepository) Register(ctx context.Context, params RegisterParams, mint MintRefreshFunc) (*User, error) {
	var user User
	err := platformdb.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO users (email, name, password_hash, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, TRUE, NOW(), NOW())
			 RETURNING id, email, name, password_hash, is_active, created_at, updated_at`,
			params.Email, params.Name, params.PasswordHash).
			Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return shared.ErrEmailTaken
			}
			return fmt.Errorf("auth: insert user: %w", err)
		}

		var roleID int64
		err = tx.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, params.DefaultRole).Scan(&roleID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("auth: default role %q not seeded", params.DefaultRole)
		}
		if err != nil {
			return fmt.Errorf("auth: find default role: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at)
			 VALUES ($1, $2, $3, NOW())`,
			user.ID, roleID, params.AssignedBy); err != nil {
			return fmt.Errorf("auth: assign default role: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO sessions (id, user_id, created_at) VALUES ($1, $2, NOW())`,
			params.SessionID, user.ID); err != nil {
			return fmt.Errorf("auth: create session: %w", err)
		}

		fingerprint, expiresAt, err := mint(user.ID, params.SessionID)
		if err != nil {
			return fmt.Errorf("auth: mint refresh token: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO refresh_tokens (id, session_id, token_fingerprint, issued_at, expires_at)
			 VALUES ($1, $2, $3, NOW(), $4)`,
			params.RefreshRecordID, params.SessionID, fingerprint, expiresAt.UTC()); err != nil {
			return fmt.Errorf("auth: record refresh: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *PGRepository) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: scan user: %w", err)
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
