package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/events"
	"github.com/castellan-io/castellan/platform/notify"
	"github.com/castellan-io/castellan/platform/persistence"
)

type mockRepository struct {
	appendFn            func(ctx context.Context, params persistence.AppendActivityParams) (persistence.ActivityEntry, error)
	listFn              func(ctx context.Context, params persistence.ListActivityParams) (persistence.ListActivityResult, error)
	listMembershipIDsFn func(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

func (m *mockRepository) Append(ctx context.Context, params persistence.AppendActivityParams) (persistence.ActivityEntry, error) {
	return m.appendFn(ctx, params)
}

func (m *mockRepository) List(ctx context.Context, params persistence.ListActivityParams) (persistence.ListActivityResult, error) {
	return m.listFn(ctx, params)
}

func (m *mockRepository) ListMembershipIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return m.listMembershipIDsFn(ctx, tenantID)
}

type captureDispatcher struct {
	requests []notify.Request
}

func (d *captureDispatcher) Enqueue(_ context.Context, req notify.Request) {
	d.requests = append(d.requests, req)
}

func TestHandleRecordsActivityAndFansOut(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	actorID := uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	var appended persistence.AppendActivityParams
	repo := &mockRepository{
		appendFn: func(_ context.Context, params persistence.AppendActivityParams) (persistence.ActivityEntry, error) {
			appended = params
			return persistence.ActivityEntry{ActivityID: uuid.New(), TenantID: params.TenantID}, nil
		},
		listMembershipIDsFn: func(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
			require.Equal(t, tenantID, id)
			return members, nil
		},
	}
	dispatcher := &captureDispatcher{}

	svc := New(repo, dispatcher, zap.NewNop())
	svc.Handle(events.New(events.InviteSent, tenantID,
		actor.User(actorID, "Ops Admin", "ops@example.com"),
		"pat@example.com", map[string]string{"email": "pat@example.com"}))

	require.Equal(t, tenantID, appended.TenantID)
	require.Equal(t, FeatureInvite, appended.Feature)
	require.Equal(t, string(events.InviteSent), appended.Action)
	require.NotNil(t, appended.PerformedBy)
	require.Equal(t, actorID, *appended.PerformedBy)
	require.Contains(t, appended.Details, `"actor":"Ops Admin"`)
	require.Contains(t, appended.Details, `"email":"pat@example.com"`)

	require.Len(t, dispatcher.requests, len(members))
	for _, req := range dispatcher.requests {
		require.Equal(t, events.InviteSent, req.EventType)
	}
}

func TestHandleSkipsEventWithoutTenant(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		appendFn: func(context.Context, persistence.AppendActivityParams) (persistence.ActivityEntry, error) {
			t.Fatal("append should not be called")
			return persistence.ActivityEntry{}, nil
		},
	}

	svc := New(repo, &captureDispatcher{}, zap.NewNop())
	svc.Handle(events.New(events.RoleCreated, uuid.Nil, actor.System(), "x", nil))
}

func TestHandleSystemActorHasNoPerformedBy(t *testing.T) {
	t.Parallel()

	var appended persistence.AppendActivityParams
	repo := &mockRepository{
		appendFn: func(_ context.Context, params persistence.AppendActivityParams) (persistence.ActivityEntry, error) {
			appended = params
			return persistence.ActivityEntry{}, nil
		},
		listMembershipIDsFn: func(context.Context, uuid.UUID) ([]uuid.UUID, error) {
			return nil, nil
		},
	}

	svc := New(repo, &captureDispatcher{}, zap.NewNop())
	svc.Handle(events.New(events.MemberDisabled, uuid.New(), actor.System(), "pat@example.com", nil))

	require.Nil(t, appended.PerformedBy)
	require.Equal(t, FeatureUser, appended.Feature)
	require.Contains(t, appended.Details, `"actor":"system"`)
}

func TestFeatureOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, FeatureRole, featureOf(events.RoleUpdated))
	require.Equal(t, FeatureInvite, featureOf(events.InviteAccepted))
	require.Equal(t, FeatureUser, featureOf(events.MemberRoleUpdated))
}

func TestListMapsEntries(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	repo := &mockRepository{
		listFn: func(_ context.Context, params persistence.ListActivityParams) (persistence.ListActivityResult, error) {
			require.NotNil(t, params.Feature)
			require.Equal(t, FeatureRole, *params.Feature)
			return persistence.ListActivityResult{
				TotalItems: 1,
				Entries: []persistence.ActivityEntry{{
					ActivityID:  uuid.New(),
					Feature:     FeatureRole,
					Action:      string(events.RoleCreated),
					Details:     `{"role":"Support","actor":"Ops Admin"}`,
					PerformedAt: now,
				}},
			}, nil
		},
	}

	svc := New(repo, &captureDispatcher{}, zap.NewNop())
	result, err := svc.List(context.Background(), ListInput{Feature: FeatureRole, Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalItems)
	require.Len(t, result.Entries, 1)
	require.Equal(t, "Support", result.Entries[0].Details["role"])
	require.Equal(t, "Ops Admin", result.Entries[0].Details["actor"])
}
