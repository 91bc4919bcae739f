package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Permission represents a row in the global permission catalog.
type Permission struct {
	PermissionID uuid.UUID `db:"permission_id"`
	Name         string    `db:"name"`
	Guard        string    `db:"guard"`
	CreatedAt    time.Time `db:"created_at"`
}

// Role represents a row in the roles table together with its permission grants.
type Role struct {
	RoleID      uuid.UUID `db:"role_id"`
	TenantID    uuid.UUID `db:"tenant_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Guard       string    `db:"guard"`
	IsSystem    bool      `db:"is_system"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	Permissions []string
}

// RoleStore exposes persistence helpers for the permission catalog and the
// tenant-scoped roles table.
type RoleStore struct {
	pool *pgxpool.Pool
}

// NewRoleStore returns a store instance bound to the shared pool.
func NewRoleStore(pool *pgxpool.Pool) (*RoleStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RoleStore{pool: pool}, nil
}

// EnsurePermission idempotently upserts one catalog entry. Seeding only; the
// catalog is not mutated by tenant admins at runtime.
func (s *RoleStore) EnsurePermission(ctx context.Context, name, guard string) (Permission, error) {
	row := s.pool.QueryRow(ctx, `
        INSERT INTO permissions (permission_id, name, guard)
        VALUES ($1, $2, $3)
        ON CONFLICT ON CONSTRAINT permissions_name_guard_unique
        DO UPDATE SET name = EXCLUDED.name
        RETURNING permission_id, name, guard, created_at
    `, uuid.New(), strings.TrimSpace(name), guard)

	var p Permission
	if err := row.Scan(&p.PermissionID, &p.Name, &p.Guard, &p.CreatedAt); err != nil {
		return Permission{}, fmt.Errorf("ensure permission: %w", err)
	}
	return p, nil
}

// ListPermissions returns the catalog for one guard ordered by name.
func (s *RoleStore) ListPermissions(ctx context.Context, guard string) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT permission_id, name, guard, created_at
        FROM permissions WHERE guard = $1 ORDER BY name
    `, guard)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()

	permissions := make([]Permission, 0)
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.PermissionID, &p.Name, &p.Guard, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return permissions, nil
}

// ResolvePermissionIDs maps permission names to catalog ids for one guard.
// Unknown names surface as ErrPermissionNotFound naming the first offender.
func (s *RoleStore) ResolvePermissionIDs(ctx context.Context, names []string, guard string) (map[string]uuid.UUID, error) {
	resolved := make(map[string]uuid.UUID, len(names))
	if len(names) == 0 {
		return resolved, nil
	}

	rows, err := s.pool.Query(ctx, `
        SELECT permission_id, name FROM permissions WHERE guard = $1 AND name = ANY($2)
    `, guard, names)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan permission id: %w", err)
		}
		resolved[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission ids: %w", err)
	}

	for _, name := range names {
		if _, ok := resolved[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrPermissionNotFound, name)
		}
	}
	return resolved, nil
}

// CreateRoleParams captures the fields required to insert a role with grants.
type CreateRoleParams struct {
	RoleID        uuid.UUID
	TenantID      uuid.UUID
	Name          string
	Description   string
	Guard         string
	IsSystem      bool
	PermissionIDs []uuid.UUID
}

// CreateRole inserts the role and its grants in one transaction.
func (s *RoleStore) CreateRole(ctx context.Context, params CreateRoleParams) (Role, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Role{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `
        INSERT INTO roles (role_id, tenant_id, name, description, guard, is_system)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING role_id, tenant_id, name, description, guard, is_system, created_at, updated_at
    `, params.RoleID, params.TenantID, strings.TrimSpace(params.Name), params.Description, params.Guard, params.IsSystem)

	role, err := scanRole(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, ErrRoleConflict
		}
		return Role{}, fmt.Errorf("insert role: %w", err)
	}

	if err := replaceGrantsTx(ctx, tx, role.RoleID, params.PermissionIDs); err != nil {
		return Role{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Role{}, fmt.Errorf("commit role: %w", err)
	}

	role.Permissions, err = s.rolePermissionNames(ctx, role.RoleID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// GetRole returns a role within the tenant, including its permission names.
func (s *RoleStore) GetRole(ctx context.Context, tenantID, roleID uuid.UUID) (Role, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT role_id, tenant_id, name, description, guard, is_system, created_at, updated_at
        FROM roles WHERE tenant_id = $1 AND role_id = $2
    `, tenantID, roleID)

	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, err
	}

	role.Permissions, err = s.rolePermissionNames(ctx, role.RoleID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// FindRoleByName returns a role by tenant, name, and guard.
func (s *RoleStore) FindRoleByName(ctx context.Context, tenantID uuid.UUID, name, guard string) (Role, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT role_id, tenant_id, name, description, guard, is_system, created_at, updated_at
        FROM roles WHERE tenant_id = $1 AND name = $2 AND guard = $3
    `, tenantID, strings.TrimSpace(name), guard)

	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, err
	}

	role.Permissions, err = s.rolePermissionNames(ctx, role.RoleID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles of a tenant ordered by name, grants included.
func (s *RoleStore) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT r.role_id, r.tenant_id, r.name, r.description, r.guard, r.is_system,
               r.created_at, r.updated_at,
               COALESCE(ARRAY_AGG(p.name ORDER BY p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
        FROM roles r
        LEFT JOIN role_permissions rp ON rp.role_id = r.role_id
        LEFT JOIN permissions p ON p.permission_id = rp.permission_id
        WHERE r.tenant_id = $1
        GROUP BY r.role_id
        ORDER BY r.name
    `, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0)
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.RoleID, &r.TenantID, &r.Name, &r.Description, &r.Guard,
			&r.IsSystem, &r.CreatedAt, &r.UpdatedAt, &r.Permissions); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// UpdateRoleParams carries the full replacement state for a role. The grant
// set is synced, not merged: permissions absent from PermissionIDs are revoked.
type UpdateRoleParams struct {
	Name          string
	Description   string
	PermissionIDs []uuid.UUID
}

// UpdateRole applies the replacement state in one transaction.
func (s *RoleStore) UpdateRole(ctx context.Context, tenantID, roleID uuid.UUID, params UpdateRoleParams) (Role, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Role{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `
        UPDATE roles
        SET name = $1, description = $2, updated_at = NOW()
        WHERE tenant_id = $3 AND role_id = $4
        RETURNING role_id, tenant_id, name, description, guard, is_system, created_at, updated_at
    `, strings.TrimSpace(params.Name), params.Description, tenantID, roleID)

	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		if isUniqueViolation(err) {
			return Role{}, ErrRoleConflict
		}
		return Role{}, fmt.Errorf("update role: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return Role{}, fmt.Errorf("clear grants: %w", err)
	}
	if err := replaceGrantsTx(ctx, tx, roleID, params.PermissionIDs); err != nil {
		return Role{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Role{}, fmt.Errorf("commit role update: %w", err)
	}

	role.Permissions, err = s.rolePermissionNames(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// DeleteRole removes a role. A restricting membership foreign key turns into
// ErrRoleInUse so callers can reject deletion of assigned roles.
func (s *RoleStore) DeleteRole(ctx context.Context, tenantID, roleID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
        DELETE FROM roles WHERE tenant_id = $1 AND role_id = $2
    `, tenantID, roleID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrRoleInUse
		}
		return fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// CountMembershipsWithRole reports how many memberships reference the role.
func (s *RoleStore) CountMembershipsWithRole(ctx context.Context, tenantID, roleID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
        SELECT COUNT(*) FROM memberships WHERE tenant_id = $1 AND role_id = $2
    `, tenantID, roleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count memberships with role: %w", err)
	}
	return count, nil
}

func (s *RoleStore) rolePermissionNames(ctx context.Context, roleID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT p.name
        FROM role_permissions rp
        JOIN permissions p ON p.permission_id = rp.permission_id
        WHERE rp.role_id = $1
        ORDER BY p.name
    `, roleID)
	if err != nil {
		return nil, fmt.Errorf("role permissions: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan permission name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission names: %w", err)
	}
	return names, nil
}

func replaceGrantsTx(ctx context.Context, tx pgx.Tx, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	for _, permID := range permissionIDs {
		if _, err := tx.Exec(ctx, `
            INSERT INTO role_permissions (role_id, permission_id)
            VALUES ($1, $2)
            ON CONFLICT DO NOTHING
        `, roleID, permID); err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
	}
	return nil
}

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	if err := row.Scan(&r.RoleID, &r.TenantID, &r.Name, &r.Description, &r.Guard,
		&r.IsSystem, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Role{}, err
	}
	return r, nil
}
