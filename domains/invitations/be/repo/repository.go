package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/platform/persistence"
	"github.com/castellan-io/castellan/platform/tenant"
)

// Repository defines the persistence operations required by the invitations
// service. Tenant-scoped operations read the tenant Space from the context;
// token-addressed operations (GetByToken, Accept) and the expiry sweep run
// without one because their callers have no tenant session.
type Repository interface {
	Create(ctx context.Context, params persistence.CreateInvitationParams) (persistence.Invitation, error)
	Get(ctx context.Context, invitationID uuid.UUID) (persistence.Invitation, error)
	GetByToken(ctx context.Context, token string) (persistence.Invitation, error)
	FindPendingByEmail(ctx context.Context, email string) (persistence.Invitation, error)
	List(ctx context.Context, status *string) ([]persistence.Invitation, error)
	Refresh(ctx context.Context, invitationID uuid.UUID, token string, expiresAt time.Time) (persistence.Invitation, error)
	Transition(ctx context.Context, invitationID uuid.UUID, toStatus string) (persistence.Invitation, error)
	SweepExpired(ctx context.Context, now time.Time) ([]persistence.Invitation, error)
	Accept(ctx context.Context, params persistence.AcceptInvitationParams) (persistence.AcceptInvitationResult, error)

	FindMemberByEmail(ctx context.Context, email string) (persistence.Membership, error)
	GetRole(ctx context.Context, roleID uuid.UUID) (persistence.Role, error)
	EnsureNotificationDefaults(ctx context.Context, membershipID uuid.UUID, eventTypes []string) error
}

type postgresRepository struct {
	invitations   *persistence.InvitationStore
	memberships   *persistence.MembershipStore
	roles         *persistence.RoleStore
	notifications *persistence.NotificationStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(invitations *persistence.InvitationStore, memberships *persistence.MembershipStore, roles *persistence.RoleStore, notifications *persistence.NotificationStore) Repository {
	if invitations == nil {
		panic("invitation store is required")
	}
	if memberships == nil {
		panic("membership store is required")
	}
	if roles == nil {
		panic("role store is required")
	}
	if notifications == nil {
		panic("notification store is required")
	}
	return &postgresRepository{
		invitations:   invitations,
		memberships:   memberships,
		roles:         roles,
		notifications: notifications,
	}
}

func (r *postgresRepository) Create(ctx context.Context, params persistence.CreateInvitationParams) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}
	params.TenantID = space.TenantID
	return r.invitations.CreateInvitation(ctx, params)
}

func (r *postgresRepository) Get(ctx context.Context, invitationID uuid.UUID) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}
	return r.invitations.GetInvitation(ctx, space.TenantID, invitationID)
}

func (r *postgresRepository) GetByToken(ctx context.Context, token string) (persistence.Invitation, error) {
	return r.invitations.GetInvitationByToken(ctx, token)
}

func (r *postgresRepository) FindPendingByEmail(ctx context.Context, email string) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}
	return r.invitations.FindPendingByEmail(ctx, space.TenantID, email)
}

func (r *postgresRepository) List(ctx context.Context, status *string) ([]persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return nil, err
	}
	return r.invitations.ListInvitations(ctx, space.TenantID, status)
}

func (r *postgresRepository) Refresh(ctx context.Context, invitationID uuid.UUID, token string, expiresAt time.Time) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}
	return r.invitations.RefreshInvitation(ctx, space.TenantID, invitationID, token, expiresAt)
}

func (r *postgresRepository) Transition(ctx context.Context, invitationID uuid.UUID, toStatus string) (persistence.Invitation, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Invitation{}, err
	}
	return r.invitations.TransitionInvitation(ctx, space.TenantID, invitationID, toStatus)
}

func (r *postgresRepository) SweepExpired(ctx context.Context, now time.Time) ([]persistence.Invitation, error) {
	return r.invitations.SweepExpired(ctx, now)
}

func (r *postgresRepository) Accept(ctx context.Context, params persistence.AcceptInvitationParams) (persistence.AcceptInvitationResult, error) {
	return r.invitations.AcceptInvitation(ctx, params)
}

func (r *postgresRepository) FindMemberByEmail(ctx context.Context, email string) (persistence.Membership, error) {
	space, err := requireTenantSpace(ctx)
	if err != nil {
		return persistence.Membership{}, err
	}
	return r.memberships.FindMembershipByEmail(ctx, space.TenantID, email)
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

func requireTenantSpace(ctx context.Context) (tenant.Space, error) {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return tenant.Space{}, errors.New("tenant space missing from context")
	}
	return space, nil
}
