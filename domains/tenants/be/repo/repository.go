package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/platform/persistence"
)

// Repository defines the persistence operations required by the tenants
// service. Tenant resolution happens before any tenant Space exists, so
// nothing here is context-scoped.
type Repository interface {
	Provision(ctx context.Context, params persistence.ProvisionTenantParams) (persistence.ProvisionTenantResult, error)
	Get(ctx context.Context, id uuid.UUID) (persistence.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (persistence.Tenant, error)
	EnsureNotificationDefaults(ctx context.Context, membershipID uuid.UUID, eventTypes []string) error
}

type postgresRepository struct {
	tenants       *persistence.TenantStore
	notifications *persistence.NotificationStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(tenants *persistence.TenantStore, notifications *persistence.NotificationStore) Repository {
	if tenants == nil {
		panic("tenant store is required")
	}
	if notifications == nil {
		panic("notification store is required")
	}
	return &postgresRepository{tenants: tenants, notifications: notifications}
}

func (r *postgresRepository) Provision(ctx context.Context, params persistence.ProvisionTenantParams) (persistence.ProvisionTenantResult, error) {
	return r.tenants.ProvisionTenant(ctx, params)
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (persistence.Tenant, error) {
	return r.tenants.GetTenant(ctx, id)
}

func (r *postgresRepository) FindBySlug(ctx context.Context, slug string) (persistence.Tenant, error) {
	return r.tenants.FindTenantBySlug(ctx, slug)
}

func (r *postgresRepository) EnsureNotificationDefaults(ctx context.Context, membershipID uuid.UUID, eventTypes []string) error {
	return r.notifications.EnsureDefaultSettings(ctx, membershipID, eventTypes)
}
