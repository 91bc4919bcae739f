package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/platform/persistence"
	"github.com/castellan-io/castellan/platform/tenant"
)

// Repository defines the persistence operations required by the memberships
// service. All operations are scoped to the tenant Space in the context;
// notification settings ride along because their lifecycle is bound to the
// membership row.
type Repository interface {
	Get(ctx context.Context, membershipID uuid.UUID) (persistence.Membership, error)
	GetByUser(ctx context.Context, userID uuid.UUID) (persistence.Membership, error)
	List(ctx context.Context) ([]persistence.Membership, error)
	RolePermissions(ctx context.Context, userID uuid.UUID) ([]string, error)
	UpdateRole(ctx context.Context, membershipID, roleID uuid.UUID) (persistence.Membership, error)
	SetDisabled(ctx context.Context, membershipID uuid.UUID, disabled bool) (persistence.Membership, error)
	Delete(ctx context.Context, membershipID uuid.UUID) error

	GetRole(ctx context.Context, roleID uuid.UUID) (persistence.Role, error)

	EnsureNotificationDefaults(ctx context.Context, membershipID uuid.UUID, eventTypes []string) error
	ListNotificationSettings(ctx context.Context, membershipID uuid.UUID) ([]persistence.NotificationSetting, error)
	UpdateNotificationSetting(ctx context.Context, membershipID uuid.UUID, eventType string, params persistence.UpdateSettingParams) (persistence.NotificationSetting, error)
}

type postgresRepository struct {
	memberships   *persistence.MembershipStore
	roles         *persistence.RoleStore
	notifications *persistence.NotificationStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(memberships *persistence.MembershipStore, roles *persistence.RoleStore, notifications *persistence.NotificationStore) Repository {
	if memberships == nil {
		panic("membership store is required")
	}
	if roles == nil {
		panic("role store is required")
	}
	if notifications == nil {
		panic("notification store is required")
	}
	return &postgresRepository{memberships: memberships, roles: roles, notifications: notifications}
}

func (r *postgresRepository) Get(ctx context.Context, membershipID uuid.UUID) (persistence.Membership, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Membership{}, err
	}
	return r.memberships.GetMembership(ctx, space.TenantID, membershipID)
}

func (r *postgresRepository) GetByUser(ctx context.Context, userID uuid.UUID) (persistence.Membership, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Membership{}, err
	}
	return r.memberships.GetMembershipByUser(ctx, space.TenantID, userID)
}

func (r *postgresRepository) List(ctx context.Context) ([]persistence.Membership, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return nil, err
	}
	return r.memberships.ListMemberships(ctx, space.TenantID)
}

func (r *postgresRepository) RolePermissions(ctx context.Context, userID uuid.UUID) ([]string, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return nil, err
	}
	return r.memberships.RolePermissions(ctx, space.TenantID, userID)
}

func (r *postgresRepository) UpdateRole(ctx context.Context, membershipID, roleID uuid.UUID) (persistence.Membership, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Membership{}, err
	}
	return r.memberships.UpdateMembershipRole(ctx, space.TenantID, membershipID, roleID)
}

func (r *postgresRepository) SetDisabled(ctx context.Context, membershipID uuid.UUID, disabled bool) (persistence.Membership, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Membership{}, err
	}
	return r.memberships.SetMembershipDisabled(ctx, space.TenantID, membershipID, disabled)
}

func (r *postgresRepository) Delete(ctx context.Context, membershipID uuid.UUID) error {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return err
	}
	return r.memberships.DeleteMembership(ctx, space.TenantID, membershipID)
}

func (r *postgresRepository) GetRole(ctx context.Context, roleID uuid.UUID) (persistence.Role, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Role{}, err
	}
	return r.roles.GetRole(ctx, space.TenantID, roleID)
}

func (r *postgresRepository) EnsureNotificationDefaults(ctx context.Context, membershipID uuid.UUID, eventTypes []string) error {
	return r.notifications.EnsureDefaultSettings(ctx, membershipID, eventTypes)
}

func (r *postgresRepository) ListNotificationSettings(ctx context.Context, membershipID uuid.UUID) ([]persistence.NotificationSetting, error) {
	return r.notifications.ListSettings(ctx, membershipID)
}

func (r *postgresRepository) UpdateNotificationSetting(ctx context.Context, membershipID uuid.UUID, eventType string, params persistence.UpdateSettingParams) (persistence.NotificationSetting, error) {
	return r.notifications.UpdateSetting(ctx, membershipID, eventType, params)
}

func requireTenantSpace(ctx context.Context) (tenant.Space, error) {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return tenant.Space{}, errors.New("tenant space missing from context")
	}
	return space, nil
}
