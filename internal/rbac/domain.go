package rbac

import (
	"time"

	"github.com/loomhub/loomhub/internal/shared"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is an atomic capability: a verb applied to a resource kind.
// (Action, Subject) pairs are unique.
type Permission struct {
	ID          int64
	Action      string
	Subject     string
	Description string
}

// Assignment ties a permission to a role.
type Assignment struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// UserRole links a user to a role. AssignedBy is an audit field, not a
// foreign key.
type UserRole struct {
	UserID     int64
	RoleID     int64
	AssignedBy string
	AssignedAt time.Time
}

type permKey struct {
	action  string
	subject string
}

// PermissionSet is a user's effective, deduplicated permission set.
type PermissionSet struct {
	pairs map[permKey]struct{}
}

// NewPermissionSet builds a set from permissions.
func NewPermissionSet(perms []Permission) PermissionSet {
	set := PermissionSet{pairs: make(map[permKey]struct{}, len(perms))}
	for _, p := range perms {
		set.pairs[permKey{action: p.Action, subject: p.Subject}] = struct{}{}
	}
	return set
}

// Has reports whether the exact (action, subject) pair is held, or the
// (manage, all) wildcard. The wildcard is the single special case; every
// other match is exact.
func (s PermissionSet) Has(action, subject string) bool {
	if _, ok := s.pairs[permKey{action: shared.ActionManage, subject: shared.SubjectAll}]; ok {
		return true
	}
	_, ok := s.pairs[permKey{action: action, subject: subject}]
	return ok
}

// Len returns the number of distinct pairs.
func (s PermissionSet) Len() int { return len(s.pairs) }

// Pairs returns the pairs as [action, subject] tuples for serialization.
func (s PermissionSet) Pairs() [][2]string {
	out := make([][2]string, 0, len(s.pairs))
	for k := range s.pairs {
		out = append(out, [2]string{k.action, k.subject})
	}
	return out
}
