package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	roles "github.com/castellan-io/castellan/domains/roles/be/service"
	"github.com/castellan-io/castellan/platform/events"
	"github.com/castellan-io/castellan/platform/password"
	"github.com/castellan-io/castellan/platform/persistence"
)

type mockRepository struct {
	provisionFn                  func(ctx context.Context, params persistence.ProvisionTenantParams) (persistence.ProvisionTenantResult, error)
	getFn                        func(ctx context.Context, id uuid.UUID) (persistence.Tenant, error)
	findBySlugFn                 func(ctx context.Context, slug string) (persistence.Tenant, error)
	ensureNotificationDefaultsFn func(ctx context.Context, membershipID uuid.UUID, eventTypes []string) error
}

func (m *mockRepository) Provision(ctx context.Context, params persistence.ProvisionTenantParams) (persistence.ProvisionTenantResult, error) {
	return m.provisionFn(ctx, params)
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID) (persistence.Tenant, error) {
	return m.getFn(ctx, id)
}

func (m *mockRepository) FindBySlug(ctx context.Context, slug string) (persistence.Tenant, error) {
	return m.findBySlugFn(ctx, slug)
}

func (m *mockRepository) EnsureNotificationDefaults(ctx context.Context, membershipID uuid.UUID, eventTypes []string) error {
	return m.ensureNotificationDefaultsFn(ctx, membershipID, eventTypes)
}

func validInput() ProvisionInput {
	return ProvisionInput{
		Slug:          "acme",
		Name:          "Acme Corp",
		OwnerEmail:    "owner@acme.test",
		OwnerFullName: "Alex Founder",
		OwnerPassword: "correct horse battery",
	}
}

func TestProvisionSeedsRolesAndOwner(t *testing.T) {
	t.Parallel()

	ownerMembershipID := uuid.New()
	var captured persistence.ProvisionTenantParams
	var defaultsFor uuid.UUID

	repo := &mockRepository{
		provisionFn: func(_ context.Context, params persistence.ProvisionTenantParams) (persistence.ProvisionTenantResult, error) {
			captured = params
			return persistence.ProvisionTenantResult{
				Tenant: persistence.Tenant{TenantID: params.TenantID, Slug: params.Slug, Name: params.Name},
				OwnerMembership: persistence.Membership{
					MembershipID: ownerMembershipID,
					TenantID:     params.TenantID,
					RoleName:     roles.RoleOwner,
				},
				RoleIDs: map[string]uuid.UUID{
					roles.RoleOwner:  uuid.New(),
					roles.RoleAdmin:  uuid.New(),
					roles.RoleMember: uuid.New(),
				},
			}, nil
		},
		ensureNotificationDefaultsFn: func(_ context.Context, membershipID uuid.UUID, eventTypes []string) error {
			defaultsFor = membershipID
			require.Len(t, eventTypes, len(events.All()))
			return nil
		},
	}

	svc := New(repo)
	result, err := svc.Provision(context.Background(), validInput())
	require.NoError(t, err)

	require.Equal(t, "acme", result.Tenant.Slug)
	require.Equal(t, ownerMembershipID, result.OwnerMembershipID)
	require.Len(t, result.RoleIDs, 3)
	require.Equal(t, ownerMembershipID, defaultsFor)

	require.Equal(t, roles.RoleOwner, captured.OwnerRole)
	require.Len(t, captured.Permissions, len(roles.CatalogPermissions()))
	require.Len(t, captured.Roles, 3)
	for _, seed := range captured.Roles {
		require.True(t, seed.IsSystem)
	}

	// The stored credential is a hash, never the plaintext.
	require.NotEqual(t, "correct horse battery", captured.OwnerPasswordHash)
	require.NoError(t, password.Verify("correct horse battery", captured.OwnerPasswordHash))
}

func TestProvisionValidatesInput(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{})
	_, err := svc.Provision(context.Background(), ProvisionInput{
		Slug:          "Not A Slug!",
		OwnerEmail:    "nope",
		OwnerPassword: "short",
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "slug")
	require.Contains(t, vErr.Fields, "name")
	require.Contains(t, vErr.Fields, "owner_email")
	require.Contains(t, vErr.Fields, "owner_full_name")
	require.Contains(t, vErr.Fields, "owner_password")
}

func TestProvisionMapsDuplicateSlug(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		provisionFn: func(context.Context, persistence.ProvisionTenantParams) (persistence.ProvisionTenantResult, error) {
			return persistence.ProvisionTenantResult{}, persistence.ErrTenantConflict
		},
	}

	svc := New(repo)
	_, err := svc.Provision(context.Background(), validInput())
	require.ErrorIs(t, err, ErrDuplicateSlug)
}

func TestResolveSpaceNormalizesSlug(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	repo := &mockRepository{
		findBySlugFn: func(_ context.Context, slug string) (persistence.Tenant, error) {
			require.Equal(t, "acme", slug)
			return persistence.Tenant{TenantID: tenantID, Slug: "acme", Name: "Acme Corp"}, nil
		},
	}

	svc := New(repo)
	space, err := svc.ResolveSpace(context.Background(), "  ACME  ")
	require.NoError(t, err)
	require.Equal(t, tenantID, space.TenantID)
	require.Equal(t, "acme", space.Slug)
}

func TestResolveSpaceUnknownSlug(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		findBySlugFn: func(context.Context, string) (persistence.Tenant, error) {
			return persistence.Tenant{}, persistence.ErrTenantNotFound
		},
	}

	svc := New(repo)
	_, err := svc.ResolveSpace(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSlugPattern(t *testing.T) {
	t.Parallel()

	valid := []string{"acme", "acme-corp", "a1", "tenant-42"}
	for _, slug := range valid {
		require.True(t, slugPattern.MatchString(slug), slug)
	}

	invalid := []string{"", "-acme", "acme-", "Acme", "a b", strings.Repeat("a", 64)}
	for _, slug := range invalid {
		require.False(t, slugPattern.MatchString(slug), slug)
	}
}
