package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/platform/persistence"
	"github.com/castellan-io/castellan/platform/tenant"
)

// Repository defines the persistence operations required by the roles service.
// Permission catalog reads are global; role operations are tenant-scoped
// through the context's tenant Space.
type Repository interface {
	ListPermissions(ctx context.Context, guard string) ([]persistence.Permission, error)
	EnsurePermission(ctx context.Context, name, guard string) (persistence.Permission, error)
	ResolvePermissionIDs(ctx context.Context, names []string, guard string) (map[string]uuid.UUID, error)

	Create(ctx context.Context, params persistence.CreateRoleParams) (persistence.Role, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.Role, error)
	List(ctx context.Context) ([]persistence.Role, error)
	Update(ctx context.Context, id uuid.UUID, params persistence.UpdateRoleParams) (persistence.Role, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountMemberships(ctx context.Context, id uuid.UUID) (int, error)
}

type postgresRepository struct {
	store *persistence.RoleStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.RoleStore) Repository {
	if store == nil {
		panic("role store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) ListPermissions(ctx context.Context, guard string) ([]persistence.Permission, error) {
	return r.store.ListPermissions(ctx, guard)
}

func (r *postgresRepository) EnsurePermission(ctx context.Context, name, guard string) (persistence.Permission, error) {
	return r.store.EnsurePermission(ctx, name, guard)
}

func (r *postgresRepository) ResolvePermissionIDs(ctx context.Context, names []string, guard string) (map[string]uuid.UUID, error) {
	return r.store.ResolvePermissionIDs(ctx, names, guard)
}

func (r *postgresRepository) Create(ctx context.Context, params persistence.CreateRoleParams) (persistence.Role, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Role{}, err
	}
	params.TenantID = space.TenantID
	return r.store.CreateRole(ctx, params)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (persistence.Role, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Role{}, err
	}
	return r.store.GetRole(ctx, space.TenantID, id)
}

func (r *postgresRepository) List(ctx context.Context) ([]persistence.Role, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return nil, err
	}
	return r.store.ListRoles(ctx, space.TenantID)
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateRoleParams) (persistence.Role, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Role{}, err
	}
	return r.store.UpdateRole(ctx, space.TenantID, id, params)
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return err
	}
	return r.store.DeleteRole(ctx, space.TenantID, id)
}

func (r *postgresRepository) CountMemberships(ctx context.Context, id uuid.UUID) (int, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return 0, err
	}
	return r.store.CountMembershipsWithRole(ctx, space.TenantID, id)
}

func requireTenantSpace(ctx context.Context) (tenant.Space, error) {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return tenant.Space{}, errors.New("tenant space missing from context")
	}
	return space, nil
}
