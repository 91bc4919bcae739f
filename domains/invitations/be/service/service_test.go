package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/domains/invitations/be/repo"
	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/events"
	"github.com/castellan-io/castellan/platform/persistence"
	"github.com/castellan-io/castellan/platform/tenant"
	"github.com/castellan-io/castellan/platform/token"
)

type fixture struct {
	ctx    context.Context
	repo   *repo.MemoryRepository
	svc    *service
	bus    *events.SyncBus
	events *[]events.Event

	tenantID uuid.UUID
	roleID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tenantID := uuid.New()
	roleID := uuid.New()

	memory := repo.NewMemoryRepository()
	memory.SeedRole(persistence.Role{
		RoleID:   roleID,
		TenantID: tenantID,
		Name:     "member",
		IsSystem: true,
	})

	bus := events.NewSyncBus()
	published := make([]events.Event, 0)
	bus.Subscribe(events.HandlerFunc(func(evt events.Event) {
		published = append(published, evt)
	}))

	svc := New(memory, bus).(*service)

	ctx := tenant.WithSpace(context.Background(), tenant.Space{TenantID: tenantID, Slug: "acme"})
	return &fixture{
		ctx:      ctx,
		repo:     memory,
		svc:      svc,
		bus:      bus,
		events:   &published,
		tenantID: tenantID,
		roleID:   roleID,
	}
}

func (f *fixture) lastEvent(t *testing.T) events.Event {
	t.Helper()
	require.NotEmpty(t, *f.events)
	return (*f.events)[len(*f.events)-1]
}

func TestIssueCreatesPendingInvitation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	inviter := actor.User(uuid.New(), "Ops Admin", "ops@example.com")

	invite, err := f.svc.Issue(f.ctx, inviter, IssueInput{Email: "Pat@Example.com", RoleID: f.roleID})
	require.NoError(t, err)
	require.Equal(t, "pat@example.com", invite.Email)
	require.Equal(t, persistence.InviteStatusPending, invite.Status)
	require.Len(t, invite.Token, token.Length)
	require.WithinDuration(t, time.Now().Add(ExpiryWindow), invite.ExpiresAt, time.Minute)
	require.NotNil(t, invite.InvitedBy)
	require.Equal(t, inviter.ID, *invite.InvitedBy)

	require.Equal(t, events.InviteSent, f.lastEvent(t).Type)
}

func TestIssueRejectsExistingMember(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.repo.SeedMember(persistence.Membership{
		MembershipID: uuid.New(),
		TenantID:     f.tenantID,
		UserID:       uuid.New(),
		UserEmail:    "pat@example.com",
	})

	_, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.ErrorIs(t, err, ErrAlreadyMember)
}

func TestIssueAllowsInvitingDisabledMember(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// A disabled membership no longer holds the seat.
	f.repo.SeedMember(persistence.Membership{
		MembershipID: uuid.New(),
		TenantID:     f.tenantID,
		UserID:       uuid.New(),
		UserEmail:    "pat@example.com",
		IsDisabled:   true,
	})

	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)
	require.Equal(t, persistence.InviteStatusPending, invite.Status)
	require.Equal(t, events.InviteSent, f.lastEvent(t).Type)
}

func TestIssueRejectsForeignRole(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: uuid.New()})
	require.ErrorIs(t, err, ErrRoleNotFound)
}

func TestIssueValidatesEmail(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "not-an-email", RoleID: f.roleID})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "email")
}

func TestIssueReusesPendingInvitation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	second, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.NotEqual(t, first.Token, second.Token)
	require.Equal(t, 1, second.ResentCount)
	require.Equal(t, events.InviteResent, f.lastEvent(t).Type)

	pending, err := f.svc.List(f.ctx, persistence.InviteStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestResendResetsTokenAndWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	base := time.Now().UTC()
	f.svc.now = func() time.Time { return base.Add(48 * time.Hour) }

	resent, err := f.svc.Resend(f.ctx, actor.System(), invite.ID)
	require.NoError(t, err)
	require.NotEqual(t, invite.Token, resent.Token)
	require.Equal(t, 1, resent.ResentCount)
	require.WithinDuration(t, base.Add(48*time.Hour).Add(ExpiryWindow), resent.ExpiresAt, time.Second)
}

func TestResendExpiresStaleInvitation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(ExpiryWindow + time.Hour) }

	_, err = f.svc.Resend(f.ctx, actor.System(), invite.ID)
	require.ErrorIs(t, err, ErrExpired)

	stored, err := f.svc.Get(f.ctx, invite.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.InviteStatusExpired, stored.Status)
}

func TestCancelFlipsStatusAndKeepsRow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(f.ctx, actor.System(), invite.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.InviteStatusCancelled, cancelled.Status)
	require.Equal(t, events.InviteCancelled, f.lastEvent(t).Type)

	// The row survives as history.
	stored, err := f.svc.Get(f.ctx, invite.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.InviteStatusCancelled, stored.Status)
}

func TestCancelRejectsNonPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	_, err = f.svc.Cancel(f.ctx, actor.System(), invite.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(f.ctx, actor.System(), invite.ID)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestAcceptCreatesMembershipAndDefaults(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	result, err := f.svc.Accept(context.Background(), AcceptInput{
		Token:    invite.Token,
		FullName: "Pat Doe",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	require.True(t, result.UserCreated)
	require.Equal(t, persistence.InviteStatusAccepted, result.Invite.Status)
	require.NotNil(t, result.Invite.AcceptedAt)

	members := f.repo.Memberships()
	require.Len(t, members, 1)
	require.Equal(t, f.roleID, members[0].RoleID)
	require.Equal(t, "pat@example.com", members[0].UserEmail)

	settings := f.repo.Settings(result.MembershipID)
	require.Len(t, settings, len(events.All()))
	for _, setting := range settings {
		require.True(t, setting.EmailEnabled)
		require.True(t, setting.PushEnabled)
		require.True(t, setting.InAppEnabled)
	}

	last := f.lastEvent(t)
	require.Equal(t, events.InviteAccepted, last.Type)
	require.Equal(t, result.MembershipID.String(), last.Detail["membership_id"])
}

func TestAcceptReusesExistingUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Same email already belongs to a user in another tenant.
	f.repo.SeedMember(persistence.Membership{
		MembershipID: uuid.New(),
		TenantID:     uuid.New(),
		UserID:       uuid.New(),
		UserEmail:    "pat@example.com",
	})

	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	// An existing identity needs no profile to join another tenant.
	result, err := f.svc.Accept(context.Background(), AcceptInput{Token: invite.Token})
	require.NoError(t, err)
	require.False(t, result.UserCreated)
}

func TestAcceptRejectsCancelledInvitation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	_, err = f.svc.Cancel(f.ctx, actor.System(), invite.ID)
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), AcceptInput{
		Token:    invite.Token,
		FullName: "Pat Doe",
		Password: "correct horse battery",
	})
	require.ErrorIs(t, err, ErrNotPending)
}

func TestAcceptExpiredFlipsStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(ExpiryWindow + time.Hour) }

	_, err = f.svc.Accept(context.Background(), AcceptInput{
		Token:    invite.Token,
		FullName: "Pat Doe",
		Password: "correct horse battery",
	})
	require.ErrorIs(t, err, ErrExpired)

	f.svc.now = func() time.Time { return time.Now().UTC() }
	stored, err := f.svc.Get(f.ctx, invite.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.InviteStatusExpired, stored.Status)

	// No membership was created on the failed path.
	require.Empty(t, f.repo.Memberships())
}

func TestAcceptRejectsMalformedToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Accept(context.Background(), AcceptInput{
		Token:    "short",
		FullName: "Pat Doe",
		Password: "correct horse battery",
	})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAcceptRejectsShortPassword(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), AcceptInput{
		Token:    invite.Token,
		FullName: "Pat Doe",
		Password: "short",
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "password")
}

func TestAcceptRequiresProfileForNewAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	invite, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "pat@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	_, err = f.svc.Accept(context.Background(), AcceptInput{Token: invite.Token})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "full_name")
	require.Contains(t, vErr.Fields, "password")

	// The invitation is untouched and nothing was created.
	require.Empty(t, f.repo.Memberships())
	stored, err := f.svc.Get(f.ctx, invite.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.InviteStatusPending, stored.Status)
}

func TestSweepExpiredFlipsOnlyStalePending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	// Backdate the clock so the first invitation's window is already over.
	f.svc.now = func() time.Time { return time.Now().UTC().Add(-ExpiryWindow - time.Hour) }
	stale, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "old@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().UTC() }
	fresh, err := f.svc.Issue(f.ctx, actor.System(), IssueInput{Email: "new@example.com", RoleID: f.roleID})
	require.NoError(t, err)

	expired, err := f.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, stale.ID, expired[0].ID)
	require.Equal(t, persistence.InviteStatusExpired, expired[0].Status)

	stored, err := f.svc.Get(f.ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.InviteStatusPending, stored.Status)
}
