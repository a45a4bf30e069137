package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/itrimble/securewatch-auth/internal/random"
)

const defaultAdminPriority = 100

// Resolver computes effective permissions and guards role mutation rules.
// It is stateless per request; all authority lives in the Store.
type Resolver struct {
	store         Store
	adminPriority int
}

// NewResolver returns a Resolver over the given store. adminPriority is the
// role priority at or above which a principal is treated as administrative;
// zero selects the default threshold.
func NewResolver(store Store, adminPriority int) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if adminPriority <= 0 {
		adminPriority = defaultAdminPriority
	}
	return &Resolver{store: store, adminPriority: adminPriority}, nil
}

// GetPermissions returns the deduplicated, sorted union of permission keys
// reachable through the user's live role assignments in the organization
// (global roles included).
func (r *Resolver) GetPermissions(ctx context.Context, userID, organizationID string) ([]string, error) {
	perms, err := r.store.PermissionsForUser(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}
	slices.Sort(perms)
	return slices.Compact(perms), nil
}

// GetRoles returns the names of the user's live roles in the organization.
func (r *Resolver) GetRoles(ctx context.Context, userID, organizationID string) ([]string, error) {
	roles, err := r.store.RolesForUser(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// GetEffectivePermissions is GetPermissions broadened by the administrative
// threshold: when any assigned role's priority reaches it, the global `*`
// is injected.
func (r *Resolver) GetEffectivePermissions(ctx context.Context, userID, organizationID string) ([]string, error) {
	perms, err := r.GetPermissions(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}

	roles, err := r.store.RolesForUser(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if role.Priority >= r.adminPriority {
			if !slices.Contains(perms, "*") {
				perms = append([]string{"*"}, perms...)
			}
			break
		}
	}
	return perms, nil
}

// CheckAll reports whether the user holds every required permission.
// Deny-by-default: an empty grant set fails any non-empty requirement.
func (r *Resolver) CheckAll(ctx context.Context, userID, organizationID string, required []string) (bool, error) {
	if len(required) == 0 {
		return true, nil
	}
	granted, err := r.GetEffectivePermissions(ctx, userID, organizationID)
	if err != nil {
		return false, err
	}
	return CoversAll(granted, required), nil
}

// ListRoles returns the organization's roles plus global roles.
func (r *Resolver) ListRoles(ctx context.Context, organizationID string) ([]Role, error) {
	return r.store.ListRoles(ctx, organizationID)
}

// CreateRole persists a new role. System roles cannot be created through
// this path; they are seeded by migration.
func (r *Resolver) CreateRole(ctx context.Context, role *Role) error {
	if role == nil || strings.TrimSpace(role.Name) == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	if role.ID == "" {
		role.ID = random.EntityID()
	}
	role.Name = strings.TrimSpace(role.Name)
	now := time.Now()
	role.CreatedAt = now
	role.UpdatedAt = now
	return r.store.CreateRole(ctx, role)
}

// UpdateRole applies name/description/priority/default changes. Mutating a
// system role fails with ErrSystemRole regardless of the requested change.
func (r *Resolver) UpdateRole(ctx context.Context, role *Role) error {
	if role == nil || role.ID == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	current, err := r.store.GetRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if current.IsSystem {
		return ErrSystemRole
	}
	if strings.TrimSpace(role.Name) == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role.Name = strings.TrimSpace(role.Name)
	role.IsSystem = false
	role.UpdatedAt = time.Now()
	return r.store.UpdateRole(ctx, role)
}

// DeleteRole removes a role and its permission edges. System roles are
// non-deletable.
func (r *Resolver) DeleteRole(ctx context.Context, roleID string) error {
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	return r.store.DeleteRole(ctx, roleID)
}

// AssignPermissionsToRole replaces the role's permission set wholesale.
// Callers pass the complete desired set; there is no incremental merge.
func (r *Resolver) AssignPermissionsToRole(ctx context.Context, roleID string, permissionIDs []string) error {
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	return r.store.ReplaceRolePermissions(ctx, roleID, permissionIDs)
}

// AssignRoleToUser creates or refreshes the assignment edge. Re-assigning
// an already-assigned role updates the assigner and expiry rather than
// erroring.
func (r *Resolver) AssignRoleToUser(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) error {
	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return fmt.Errorf("%w: assignment expiry must be in the future", ErrInvalidInput)
	}
	return r.store.UpsertAssignment(ctx, &Assignment{
		UserID:         userID,
		RoleID:         role.ID,
		OrganizationID: role.OrganizationID,
		AssignedBy:     assignedBy,
		ExpiresAt:      expiresAt,
		CreatedAt:      time.Now(),
	})
}

// RemoveRoleFromUser deletes the assignment edge. Removing an absent
// assignment is not an error.
func (r *Resolver) RemoveRoleFromUser(ctx context.Context, userID, roleID string) error {
	return r.store.DeleteAssignment(ctx, userID, roleID)
}
