package users

import "time"

// User represents a user account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public projection of a user, as returned by the me and
// admin listing endpoints. The password hash never leaves the package.
type Profile struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileOf builds a Profile from a user and its role names.
func ProfileOf(u User, roles []string) Profile {
	if roles == nil {
		roles = []string{}
	}
	return Profile{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		IsActive:  u.IsActive,
		Roles:     roles,
		CreatedAt: u.CreatedAt,
	}
}
