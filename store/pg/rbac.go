package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/itrimble/securewatch-auth/rbac"
)

var _ rbac.Store = (*Store)(nil)

func (s *Store) GetRole(ctx context.Context, roleID string) (*rbac.Role, error) {
	return s.scanRole(s.db.QueryRowContext(ctx, `
		select id, coalesce(organization_id, ''), name, coalesce(description, ''), priority, is_system, is_default, created_at, updated_at
		from roles
		where id = $1
	`, roleID))
}

func (s *Store) CreateRole(ctx context.Context, role *rbac.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, organization_id, name, description, priority, is_system, is_default, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, role.ID, nullIfEmpty(role.OrganizationID), role.Name, nullIfEmpty(role.Description),
		role.Priority, role.IsSystem, role.IsDefault, role.CreatedAt, role.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) UpdateRole(ctx context.Context, role *rbac.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update roles
		set name = $2, description = $3, priority = $4, is_default = $5, updated_at = now()
		where id = $1
	`, role.ID, role.Name, nullIfEmpty(role.Description), role.Priority, role.IsDefault)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	return checkAffected(res)
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, roleID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) ListRoles(ctx context.Context, organizationID string) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, coalesce(organization_id, ''), name, coalesce(description, ''), priority, is_system, is_default, created_at, updated_at
		from roles
		where organization_id = $1 or organization_id is null
		order by priority desc, name
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.OrganizationID, &role.Name, &role.Description,
			&role.Priority, &role.IsSystem, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ReplaceRolePermissions swaps the role's permission set wholesale:
// delete-all-then-insert inside one transaction.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
		`, roleID, permID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return rbac.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

// UpsertAssignment refreshes assigner and expiry when the edge already
// exists instead of erroring.
func (s *Store) UpsertAssignment(ctx context.Context, a *rbac.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, organization_id, assigned_by, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (user_id, role_id) do update
		set assigned_by = excluded.assigned_by, expires_at = excluded.expires_at
	`, a.UserID, a.RoleID, a.OrganizationID, nullIfEmpty(a.AssignedBy), nullTime(a.ExpiresAt), a.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return rbac.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) DeleteAssignment(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2
	`, userID, roleID)
	return err
}

// RolesForUser returns the user's roles in the organization plus global
// roles, excluding expired assignments at read time.
func (s *Store) RolesForUser(ctx context.Context, userID, organizationID string) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, coalesce(r.organization_id, ''), r.name, coalesce(r.description, ''), r.priority, r.is_system, r.is_default, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		  and (r.organization_id = $2 or r.organization_id is null)
		  and (ur.expires_at is null or ur.expires_at > now())
		order by r.priority desc, r.name
	`, userID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.OrganizationID, &role.Name, &role.Description,
			&role.Priority, &role.IsSystem, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// PermissionsForUser returns the distinct permission keys reachable
// through the user's live assignments, with the same scope and expiry
// filtering as RolesForUser.
func (s *Store) PermissionsForUser(ctx context.Context, userID, organizationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.resource || '.' || p.action
		from user_roles ur
		join roles r on r.id = ur.role_id
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		  and (r.organization_id = $2 or r.organization_id is null)
		  and (ur.expires_at is null or ur.expires_at > now())
	`, userID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		perms = append(perms, key)
	}
	return perms, rows.Err()
}

// CreatePermission registers a (resource, action) pair.
func (s *Store) CreatePermission(ctx context.Context, p *rbac.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, resource, action, is_system)
		values ($1, $2, $3, $4)
	`, p.ID, p.Resource, p.Action, p.IsSystem)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, resource, action, is_system
		from permissions
		order by resource, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.IsSystem); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *Store) scanRole(row *sql.Row) (*rbac.Role, error) {
	var role rbac.Role
	err := row.Scan(&role.ID, &role.OrganizationID, &role.Name, &role.Description,
		&role.Priority, &role.IsSystem, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func checkAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}
