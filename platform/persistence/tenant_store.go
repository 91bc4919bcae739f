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

// Tenant represents a row in the tenants table.
type Tenant struct {
	TenantID  uuid.UUID `db:"tenant_id"`
	Slug      string    `db:"slug"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// TenantStore exposes persistence helpers for the tenants table and the
// all-or-nothing provisioning transaction.
type TenantStore struct {
	pool *pgxpool.Pool
}

// NewTenantStore returns a store instance bound to the shared pool.
func NewTenantStore(pool *pgxpool.Pool) (*TenantStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &TenantStore{pool: pool}, nil
}

// SeedPermission names one catalog entry ensured during provisioning.
type SeedPermission struct {
	Name  string
	Guard string
}

// SeedRole defines one system role created during provisioning together with
// its permission grants (by permission name within the tenant guard).
type SeedRole struct {
	Name        string
	Description string
	IsSystem    bool
	Permissions []string
}

// ProvisionTenantParams captures everything created when a tenant is born:
// the tenant row, the permission catalog, the seeded roles, and the initial
// owner membership for the provisioning user.
type ProvisionTenantParams struct {
	TenantID uuid.UUID
	Slug     string
	Name     string
	Guard    string

	Permissions []SeedPermission
	Roles       []SeedRole
	// OwnerRole names the seeded role assigned to the initial membership.
	OwnerRole string

	OwnerUserID       uuid.UUID
	OwnerEmail        string
	OwnerFullName     string
	OwnerPasswordHash string
	OwnerMembershipID uuid.UUID
}

// ProvisionTenantResult reports the rows created by ProvisionTenant.
type ProvisionTenantResult struct {
	Tenant          Tenant
	OwnerMembership Membership
	RoleIDs         map[string]uuid.UUID
}

// ProvisionTenant creates the tenant, ensures the permission catalog, seeds
// the roles with their grants, finds-or-creates the owner user, and creates
// the owner membership, all in a single transaction so a half-provisioned
// tenant is never observable.
func (s *TenantStore) ProvisionTenant(ctx context.Context, params ProvisionTenantParams) (ProvisionTenantResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ProvisionTenantResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var result ProvisionTenantResult

	row := tx.QueryRow(ctx, `
        INSERT INTO tenants (tenant_id, slug, name)
        VALUES ($1, $2, $3)
        RETURNING tenant_id, slug, name, created_at
    `, params.TenantID, strings.TrimSpace(params.Slug), strings.TrimSpace(params.Name))
	if err := row.Scan(&result.Tenant.TenantID, &result.Tenant.Slug, &result.Tenant.Name, &result.Tenant.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ProvisionTenantResult{}, ErrTenantConflict
		}
		return ProvisionTenantResult{}, fmt.Errorf("insert tenant: %w", err)
	}

	permissionIDs := make(map[string]uuid.UUID, len(params.Permissions))
	for _, perm := range params.Permissions {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `
            INSERT INTO permissions (permission_id, name, guard)
            VALUES ($1, $2, $3)
            ON CONFLICT ON CONSTRAINT permissions_name_guard_unique
            DO UPDATE SET name = EXCLUDED.name
            RETURNING permission_id
        `, uuid.New(), perm.Name, perm.Guard).Scan(&id)
		if err != nil {
			return ProvisionTenantResult{}, fmt.Errorf("ensure permission %q: %w", perm.Name, err)
		}
		permissionIDs[perm.Name] = id
	}

	result.RoleIDs = make(map[string]uuid.UUID, len(params.Roles))
	for _, role := range params.Roles {
		roleID := uuid.New()
		_, err := tx.Exec(ctx, `
            INSERT INTO roles (role_id, tenant_id, name, description, guard, is_system)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, roleID, params.TenantID, role.Name, role.Description, params.Guard, role.IsSystem)
		if err != nil {
			if isUniqueViolation(err) {
				return ProvisionTenantResult{}, ErrRoleConflict
			}
			return ProvisionTenantResult{}, fmt.Errorf("insert role %q: %w", role.Name, err)
		}
		result.RoleIDs[role.Name] = roleID

		for _, permName := range role.Permissions {
			permID, ok := permissionIDs[permName]
			if !ok {
				return ProvisionTenantResult{}, fmt.Errorf("seed role %q: %w: %s", role.Name, ErrPermissionNotFound, permName)
			}
			if _, err := tx.Exec(ctx, `
                INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
            `, roleID, permID); err != nil {
				return ProvisionTenantResult{}, fmt.Errorf("grant %q to %q: %w", permName, role.Name, err)
			}
		}
	}

	ownerRoleID, ok := result.RoleIDs[params.OwnerRole]
	if !ok {
		return ProvisionTenantResult{}, fmt.Errorf("owner role %q: %w", params.OwnerRole, ErrRoleNotFound)
	}

	ownerUserID, _, err := findOrCreateUserTx(ctx, tx, findOrCreateUserParams{
		UserID:       params.OwnerUserID,
		Email:        params.OwnerEmail,
		FullName:     params.OwnerFullName,
		PasswordHash: params.OwnerPasswordHash,
	})
	if err != nil {
		return ProvisionTenantResult{}, err
	}

	membership, err := insertMembershipTx(ctx, tx, insertMembershipParams{
		MembershipID: params.OwnerMembershipID,
		TenantID:     params.TenantID,
		UserID:       ownerUserID,
		RoleID:       ownerRoleID,
	})
	if err != nil {
		return ProvisionTenantResult{}, err
	}
	result.OwnerMembership = membership

	if err := tx.Commit(ctx); err != nil {
		return ProvisionTenantResult{}, fmt.Errorf("commit provision: %w", err)
	}

	return result, nil
}

// GetTenant returns a single tenant by identifier.
func (s *TenantStore) GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT tenant_id, slug, name, created_at FROM tenants WHERE tenant_id = $1
    `, id)
	return scanTenant(row)
}

// FindTenantBySlug returns the tenant matching the slug, case-insensitively.
func (s *TenantStore) FindTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT tenant_id, slug, name, created_at FROM tenants WHERE LOWER(slug) = LOWER($1)
    `, strings.TrimSpace(slug))
	return scanTenant(row)
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	if err := row.Scan(&t.TenantID, &t.Slug, &t.Name, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}
