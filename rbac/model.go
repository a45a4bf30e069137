package rbac

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for missing roles, permissions, or users.
	ErrNotFound = errors.New("rbac: not found")
	// ErrConflict is returned for duplicate role names within a scope.
	ErrConflict = errors.New("rbac: conflict")
	// ErrSystemRole is returned for any attempt to mutate or delete a
	// system-defined role.
	ErrSystemRole = errors.New("rbac: system role is immutable")
	// ErrInvalidInput is returned for malformed role or permission input.
	ErrInvalidInput = errors.New("rbac: invalid input")
)

// Role is a named grouping of permissions, scoped to an organization or
// global when OrganizationID is empty. Priority orders roles for
// admin-threshold detection.
type Role struct {
	ID             string
	OrganizationID string
	Name           string
	Description    string
	Priority       int
	IsSystem       bool
	IsDefault      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Permission is a (resource, action) pair.
type Permission struct {
	ID       string
	Resource string
	Action   string
	IsSystem bool
}

// Key returns the canonical `resource.action` string.
func (p Permission) Key() string {
	return p.Resource + "." + p.Action
}

// Assignment is the user-to-role edge. A nil ExpiresAt never expires;
// expired edges are excluded from every resolution query at read time.
type Assignment struct {
	UserID         string
	RoleID         string
	OrganizationID string
	AssignedBy     string
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

// Store is the relational persistence contract for roles, permissions, and
// assignments. Every *ForUser query must already exclude expired
// assignments and scope to the organization plus global roles.
type Store interface {
	GetRole(ctx context.Context, roleID string) (*Role, error)
	CreateRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, roleID string) error
	ListRoles(ctx context.Context, organizationID string) ([]Role, error)

	ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error

	UpsertAssignment(ctx context.Context, a *Assignment) error
	DeleteAssignment(ctx context.Context, userID, roleID string) error

	RolesForUser(ctx context.Context, userID, organizationID string) ([]Role, error)
	PermissionsForUser(ctx context.Context, userID, organizationID string) ([]string, error)
}

// Matches reports whether a granted permission string covers a required
// one: exact match, `resource.*` wildcard, or the global `*`.
func Matches(granted, required string) bool {
	if granted == "*" || granted == required {
		return true
	}
	if resource, ok := strings.CutSuffix(granted, ".*"); ok && resource != "" {
		return strings.HasPrefix(required, resource+".")
	}
	return false
}

// CoversAll reports whether every required permission is covered by at
// least one granted permission. AND semantics: one uncovered requirement
// fails the whole check.
func CoversAll(granted, required []string) bool {
	for _, req := range required {
		covered := false
		for _, g := range granted {
			if Matches(g, req) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}
