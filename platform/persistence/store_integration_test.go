package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestCoreStoresPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping store integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("castellan"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() { ClosePool(pool) })

	require.NoError(t, Bootstrap(ctx, pool))
	// Bootstrap is idempotent.
	require.NoError(t, Bootstrap(ctx, pool))

	tenantStore, err := NewTenantStore(pool)
	require.NoError(t, err)
	roleStore, err := NewRoleStore(pool)
	require.NoError(t, err)
	membershipStore, err := NewMembershipStore(pool)
	require.NoError(t, err)
	invitationStore, err := NewInvitationStore(pool)
	require.NoError(t, err)
	notificationStore, err := NewNotificationStore(pool)
	require.NoError(t, err)

	seedPermissions := []SeedPermission{
		{Name: "users.manage", Guard: "tenant"},
		{Name: "dashboard.view", Guard: "tenant"},
	}
	seedRoles := []SeedRole{
		{Name: "owner", IsSystem: true, Permissions: []string{"users.manage", "dashboard.view"}},
		{Name: "member", IsSystem: true, Permissions: []string{"dashboard.view"}},
	}

	provisioned, err := tenantStore.ProvisionTenant(ctx, ProvisionTenantParams{
		TenantID:          uuid.New(),
		Slug:              "acme",
		Name:              "Acme Corp",
		Guard:             "tenant",
		Permissions:       seedPermissions,
		Roles:             seedRoles,
		OwnerRole:         "owner",
		OwnerEmail:        "owner@acme.test",
		OwnerFullName:     "Alex Founder",
		OwnerPasswordHash: "x",
		OwnerMembershipID: uuid.New(),
	})
	require.NoError(t, err)
	tenantID := provisioned.Tenant.TenantID
	memberRoleID := provisioned.RoleIDs["member"]

	t.Run("provisioning seeds roles and owner grants", func(t *testing.T) {
		roles, err := roleStore.ListRoles(ctx, tenantID)
		require.NoError(t, err)
		require.Len(t, roles, 2)

		ownerRole, err := roleStore.FindRoleByName(ctx, tenantID, "owner", "tenant")
		require.NoError(t, err)
		require.True(t, ownerRole.IsSystem)
		require.Equal(t, provisioned.RoleIDs["owner"], ownerRole.RoleID)

		perms, err := membershipStore.RolePermissions(ctx, tenantID, provisioned.OwnerMembership.UserID)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"users.manage", "dashboard.view"}, perms)
	})

	t.Run("duplicate slug is rejected", func(t *testing.T) {
		_, err := tenantStore.ProvisionTenant(ctx, ProvisionTenantParams{
			TenantID:          uuid.New(),
			Slug:              "acme",
			Name:              "Other",
			Guard:             "tenant",
			Permissions:       seedPermissions,
			Roles:             seedRoles,
			OwnerRole:         "owner",
			OwnerEmail:        "other@acme.test",
			OwnerPasswordHash: "x",
		})
		require.ErrorIs(t, err, ErrTenantConflict)
	})

	t.Run("disabled membership yields no permissions", func(t *testing.T) {
		_, err := membershipStore.SetMembershipDisabled(ctx, tenantID, provisioned.OwnerMembership.MembershipID, true)
		require.NoError(t, err)

		perms, err := membershipStore.RolePermissions(ctx, tenantID, provisioned.OwnerMembership.UserID)
		require.NoError(t, err)
		require.Empty(t, perms)

		_, err = membershipStore.SetMembershipDisabled(ctx, tenantID, provisioned.OwnerMembership.MembershipID, false)
		require.NoError(t, err)
	})

	t.Run("role referenced by a membership cannot be deleted", func(t *testing.T) {
		ownerRoleID := provisioned.RoleIDs["owner"]
		err := roleStore.DeleteRole(ctx, tenantID, ownerRoleID)
		require.ErrorIs(t, err, ErrRoleInUse)
	})

	t.Run("pending invitation per email is unique within the tenant", func(t *testing.T) {
		first, err := invitationStore.CreateInvitation(ctx, CreateInvitationParams{
			InvitationID: uuid.New(),
			TenantID:     tenantID,
			Email:        "pat@example.com",
			RoleID:       memberRoleID,
			Token:        testToken("a"),
			ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
		})
		require.NoError(t, err)

		_, err = invitationStore.CreateInvitation(ctx, CreateInvitationParams{
			InvitationID: uuid.New(),
			TenantID:     tenantID,
			Email:        "PAT@example.com",
			RoleID:       memberRoleID,
			Token:        testToken("b"),
			ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
		})
		require.ErrorIs(t, err, ErrInvitationConflict)

		// A cancelled row frees the slot.
		_, err = invitationStore.TransitionInvitation(ctx, tenantID, first.InvitationID, InviteStatusCancelled)
		require.NoError(t, err)

		_, err = invitationStore.CreateInvitation(ctx, CreateInvitationParams{
			InvitationID: uuid.New(),
			TenantID:     tenantID,
			Email:        "pat@example.com",
			RoleID:       memberRoleID,
			Token:        testToken("c"),
			ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
		})
		require.NoError(t, err)
	})

	t.Run("token collisions are reported distinctly", func(t *testing.T) {
		_, err := invitationStore.CreateInvitation(ctx, CreateInvitationParams{
			InvitationID: uuid.New(),
			TenantID:     tenantID,
			Email:        "collide@example.com",
			RoleID:       memberRoleID,
			Token:        testToken("c"),
			ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
		})
		require.ErrorIs(t, err, ErrInvitationTokenTaken)
	})

	t.Run("acceptance is a single transaction", func(t *testing.T) {
		invite, err := invitationStore.CreateInvitation(ctx, CreateInvitationParams{
			InvitationID: uuid.New(),
			TenantID:     tenantID,
			Email:        "joiner@example.com",
			RoleID:       memberRoleID,
			Token:        testToken("d"),
			ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
		})
		require.NoError(t, err)

		result, err := invitationStore.AcceptInvitation(ctx, AcceptInvitationParams{
			Token:        invite.Token,
			Now:          time.Now().UTC(),
			FullName:     "Jo Iner",
			PasswordHash: "x",
			MembershipID: uuid.New(),
		})
		require.NoError(t, err)
		require.True(t, result.UserCreated)
		require.Equal(t, InviteStatusAccepted, result.Invitation.Status)
		require.Equal(t, memberRoleID, result.Membership.RoleID)
		require.Equal(t, "joiner@example.com", result.Membership.UserEmail)

		// A second acceptance of the same token fails and changes nothing.
		_, err = invitationStore.AcceptInvitation(ctx, AcceptInvitationParams{
			Token: invite.Token,
			Now:   time.Now().UTC(),
		})
		require.ErrorIs(t, err, ErrInvitationNotPending)
	})

	t.Run("acceptance without a profile cannot create a user", func(t *testing.T) {
		invite, err := invitationStore.CreateInvitation(ctx, CreateInvitationParams{
			InvitationID: uuid.New(),
			TenantID:     tenantID,
			Email:        "profileless@example.com",
			RoleID:       memberRoleID,
			Token:        testToken("f"),
			ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
		})
		require.NoError(t, err)

		_, err = invitationStore.AcceptInvitation(ctx, AcceptInvitationParams{
			Token:        invite.Token,
			Now:          time.Now().UTC(),
			MembershipID: uuid.New(),
		})
		require.ErrorIs(t, err, ErrUserProfileIncomplete)

		stored, err := invitationStore.GetInvitation(ctx, tenantID, invite.InvitationID)
		require.NoError(t, err)
		require.Equal(t, InviteStatusPending, stored.Status)
	})

	t.Run("accepting past expiry flips the row and creates nothing", func(t *testing.T) {
		invite, err := invitationStore.CreateInvitation(ctx, CreateInvitationParams{
			InvitationID: uuid.New(),
			TenantID:     tenantID,
			Email:        "late@example.com",
			RoleID:       memberRoleID,
			Token:        testToken("e"),
			ExpiresAt:    time.Now().UTC().Add(-time.Hour),
		})
		require.NoError(t, err)

		_, err = invitationStore.AcceptInvitation(ctx, AcceptInvitationParams{
			Token: invite.Token,
			Now:   time.Now().UTC(),
		})
		require.ErrorIs(t, err, ErrInvitationPastExpiry)

		stored, err := invitationStore.GetInvitation(ctx, tenantID, invite.InvitationID)
		require.NoError(t, err)
		require.Equal(t, InviteStatusExpired, stored.Status)

		_, err = membershipStore.FindMembershipByEmail(ctx, tenantID, "late@example.com")
		require.ErrorIs(t, err, ErrMembershipNotFound)
	})

	t.Run("notification defaults are idempotent", func(t *testing.T) {
		membershipID := provisioned.OwnerMembership.MembershipID
		types := []string{"invite.sent", "invite.accepted"}

		require.NoError(t, notificationStore.EnsureDefaultSettings(ctx, membershipID, types))

		updated, err := notificationStore.UpdateSetting(ctx, membershipID, "invite.sent", UpdateSettingParams{
			EmailEnabled: false, PushEnabled: true, InAppEnabled: true,
		})
		require.NoError(t, err)
		require.False(t, updated.EmailEnabled)

		// Re-running defaults leaves the customization alone.
		require.NoError(t, notificationStore.EnsureDefaultSettings(ctx, membershipID, types))

		settings, err := notificationStore.ListSettings(ctx, membershipID)
		require.NoError(t, err)
		require.Len(t, settings, 2)
		for _, setting := range settings {
			if setting.EventType == "invite.sent" {
				require.False(t, setting.EmailEnabled)
			}
		}
	})
}

// testToken builds a deterministic 64-char token for fixtures.
func testToken(seed string) string {
	out := make([]byte, 0, 64)
	for len(out) < 64 {
		out = append(out, seed[0])
	}
	return string(out)
}
