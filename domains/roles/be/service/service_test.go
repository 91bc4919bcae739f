package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/platform/actor"
	"github.com/castellan-io/castellan/platform/events"
	"github.com/castellan-io/castellan/platform/persistence"
)

type mockRepository struct {
	listPermissionsFn      func(ctx context.Context, guard string) ([]persistence.Permission, error)
	ensurePermissionFn     func(ctx context.Context, name, guard string) (persistence.Permission, error)
	resolvePermissionIDsFn func(ctx context.Context, names []string, guard string) (map[string]uuid.UUID, error)
	createFn               func(ctx context.Context, params persistence.CreateRoleParams) (persistence.Role, error)
	getFn                  func(ctx context.Context, id uuid.UUID) (persistence.Role, error)
	listFn                 func(ctx context.Context) ([]persistence.Role, error)
	updateFn               func(ctx context.Context, id uuid.UUID, params persistence.UpdateRoleParams) (persistence.Role, error)
	deleteFn               func(ctx context.Context, id uuid.UUID) error
	countMembershipsFn     func(ctx context.Context, id uuid.UUID) (int, error)
}

func (m *mockRepository) ListPermissions(ctx context.Context, guard string) ([]persistence.Permission, error) {
	return m.listPermissionsFn(ctx, guard)
}

func (m *mockRepository) EnsurePermission(ctx context.Context, name, guard string) (persistence.Permission, error) {
	return m.ensurePermissionFn(ctx, name, guard)
}

func (m *mockRepository) ResolvePermissionIDs(ctx context.Context, names []string, guard string) (map[string]uuid.UUID, error) {
	return m.resolvePermissionIDsFn(ctx, names, guard)
}

func (m *mockRepository) Create(ctx context.Context, params persistence.CreateRoleParams) (persistence.Role, error) {
	return m.createFn(ctx, params)
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID) (persistence.Role, error) {
	return m.getFn(ctx, id)
}

func (m *mockRepository) List(ctx context.Context) ([]persistence.Role, error) {
	return m.listFn(ctx)
}

func (m *mockRepository) Update(ctx context.Context, id uuid.UUID, params persistence.UpdateRoleParams) (persistence.Role, error) {
	return m.updateFn(ctx, id, params)
}

func (m *mockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.deleteFn(ctx, id)
}

func (m *mockRepository) CountMemberships(ctx context.Context, id uuid.UUID) (int, error) {
	return m.countMembershipsFn(ctx, id)
}

func testActor() actor.Actor {
	return actor.User(uuid.New(), "Ops Admin", "ops@example.com")
}

func resolveAll(names []string) map[string]uuid.UUID {
	out := make(map[string]uuid.UUID, len(names))
	for _, name := range names {
		out[name] = uuid.New()
	}
	return out
}

func TestCreateValidatesName(t *testing.T) {
	t.Parallel()

	svc := New(&mockRepository{}, events.NewSyncBus())

	_, err := svc.Create(context.Background(), testActor(), CreateInput{Name: "   "})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Contains(t, vErr.Fields, "name")
}

func TestCreatePublishesEvent(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	repo := &mockRepository{
		resolvePermissionIDsFn: func(_ context.Context, names []string, guard string) (map[string]uuid.UUID, error) {
			require.Equal(t, GuardTenant, guard)
			return resolveAll(names), nil
		},
		createFn: func(_ context.Context, params persistence.CreateRoleParams) (persistence.Role, error) {
			require.Len(t, params.PermissionIDs, 2)
			require.False(t, params.IsSystem)
			return persistence.Role{
				RoleID:      params.RoleID,
				TenantID:    tenantID,
				Name:        params.Name,
				Guard:       params.Guard,
				Permissions: []string{PermViewDashboard, PermViewAnalytics},
			}, nil
		},
	}

	bus := events.NewSyncBus()
	var published []events.Event
	bus.Subscribe(events.HandlerFunc(func(evt events.Event) {
		published = append(published, evt)
	}))

	svc := New(repo, bus)
	role, err := svc.Create(context.Background(), testActor(), CreateInput{
		Name:        "Support",
		Permissions: []string{PermViewDashboard, PermViewAnalytics},
	})
	require.NoError(t, err)
	require.Equal(t, "Support", role.Name)

	require.Len(t, published, 1)
	require.Equal(t, events.RoleCreated, published[0].Type)
	require.Equal(t, tenantID, published[0].TenantID)
}

func TestCreateRejectsUnknownPermission(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		resolvePermissionIDsFn: func(context.Context, []string, string) (map[string]uuid.UUID, error) {
			return nil, persistence.ErrPermissionNotFound
		},
	}

	svc := New(repo, events.NewSyncBus())
	_, err := svc.Create(context.Background(), testActor(), CreateInput{
		Name:        "Support",
		Permissions: []string{"reports.export"},
	})
	require.ErrorIs(t, err, ErrUnknownPermission)
}

func TestCreateMapsDuplicateName(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		resolvePermissionIDsFn: func(_ context.Context, names []string, _ string) (map[string]uuid.UUID, error) {
			return resolveAll(names), nil
		},
		createFn: func(context.Context, persistence.CreateRoleParams) (persistence.Role, error) {
			return persistence.Role{}, persistence.ErrRoleConflict
		},
	}

	svc := New(repo, events.NewSyncBus())
	_, err := svc.Create(context.Background(), testActor(), CreateInput{Name: "Support"})
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestUpdateReplacesPermissionSet(t *testing.T) {
	t.Parallel()

	roleID := uuid.New()
	tenantID := uuid.New()
	resolved := map[string]uuid.UUID{
		PermViewDashboard: uuid.New(),
	}

	repo := &mockRepository{
		getFn: func(_ context.Context, id uuid.UUID) (persistence.Role, error) {
			require.Equal(t, roleID, id)
			return persistence.Role{
				RoleID:      roleID,
				TenantID:    tenantID,
				Name:        "Support",
				Permissions: []string{PermViewDashboard, PermViewAnalytics, PermViewActivity},
			}, nil
		},
		resolvePermissionIDsFn: func(_ context.Context, names []string, _ string) (map[string]uuid.UUID, error) {
			require.Equal(t, []string{PermViewDashboard}, names)
			return resolved, nil
		},
		updateFn: func(_ context.Context, id uuid.UUID, params persistence.UpdateRoleParams) (persistence.Role, error) {
			require.Equal(t, []uuid.UUID{resolved[PermViewDashboard]}, params.PermissionIDs)
			return persistence.Role{
				RoleID:      id,
				TenantID:    tenantID,
				Name:        params.Name,
				Permissions: []string{PermViewDashboard},
			}, nil
		},
	}

	svc := New(repo, events.NewSyncBus())
	role, err := svc.Update(context.Background(), testActor(), roleID, UpdateInput{
		Name:        "Support",
		Permissions: []string{PermViewDashboard},
	})
	require.NoError(t, err)
	require.Equal(t, []string{PermViewDashboard}, role.Permissions)
}

func TestUpdateRejectsSystemRoleRename(t *testing.T) {
	t.Parallel()

	roleID := uuid.New()
	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{RoleID: roleID, Name: RoleOwner, IsSystem: true}, nil
		},
	}

	svc := New(repo, events.NewSyncBus())
	_, err := svc.Update(context.Background(), testActor(), roleID, UpdateInput{Name: "super-owner"})
	require.ErrorIs(t, err, ErrSystemRole)
}

func TestUpdateRejectsSystemRoleCaseOnlyRename(t *testing.T) {
	t.Parallel()

	roleID := uuid.New()
	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{RoleID: roleID, Name: RoleOwner, IsSystem: true}, nil
		},
	}

	svc := New(repo, events.NewSyncBus())
	_, err := svc.Update(context.Background(), testActor(), roleID, UpdateInput{Name: "Owner"})
	require.ErrorIs(t, err, ErrSystemRole)
}

func TestUpdateAllowsSystemRoleGrantChange(t *testing.T) {
	t.Parallel()

	roleID := uuid.New()
	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{RoleID: roleID, Name: RoleMember, IsSystem: true}, nil
		},
		resolvePermissionIDsFn: func(_ context.Context, names []string, _ string) (map[string]uuid.UUID, error) {
			return resolveAll(names), nil
		},
		updateFn: func(_ context.Context, id uuid.UUID, params persistence.UpdateRoleParams) (persistence.Role, error) {
			return persistence.Role{RoleID: id, Name: params.Name, IsSystem: true,
				Permissions: []string{PermViewDashboard}}, nil
		},
	}

	svc := New(repo, events.NewSyncBus())
	role, err := svc.Update(context.Background(), testActor(), roleID, UpdateInput{
		Name:        RoleMember,
		Permissions: []string{PermViewDashboard},
	})
	require.NoError(t, err)
	require.True(t, role.IsSystem)
}

func TestDeleteRejectsSystemRole(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{Name: RoleAdmin, IsSystem: true}, nil
		},
	}

	svc := New(repo, events.NewSyncBus())
	err := svc.Delete(context.Background(), testActor(), uuid.New())
	require.ErrorIs(t, err, ErrSystemRole)
}

func TestDeleteRejectsRoleInUse(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{Name: "Support"}, nil
		},
		countMembershipsFn: func(context.Context, uuid.UUID) (int, error) {
			return 3, nil
		},
	}

	svc := New(repo, events.NewSyncBus())
	err := svc.Delete(context.Background(), testActor(), uuid.New())
	require.ErrorIs(t, err, ErrRoleInUse)
}

func TestDeletePublishesEvent(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{TenantID: tenantID, Name: "Support"}, nil
		},
		countMembershipsFn: func(context.Context, uuid.UUID) (int, error) {
			return 0, nil
		},
		deleteFn: func(context.Context, uuid.UUID) error {
			return nil
		},
	}

	bus := events.NewSyncBus()
	var published []events.Event
	bus.Subscribe(events.HandlerFunc(func(evt events.Event) {
		published = append(published, evt)
	}))

	svc := New(repo, bus)
	require.NoError(t, svc.Delete(context.Background(), testActor(), uuid.New()))
	require.Len(t, published, 1)
	require.Equal(t, events.RoleDeleted, published[0].Type)
	require.Equal(t, "Support", published[0].Detail["role"])
}

func TestCopyAppendsSuffix(t *testing.T) {
	t.Parallel()

	sourceID := uuid.New()
	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{
				RoleID:      sourceID,
				Name:        "Support",
				Guard:       GuardTenant,
				Permissions: []string{PermViewDashboard},
			}, nil
		},
		resolvePermissionIDsFn: func(_ context.Context, names []string, _ string) (map[string]uuid.UUID, error) {
			return resolveAll(names), nil
		},
		createFn: func(_ context.Context, params persistence.CreateRoleParams) (persistence.Role, error) {
			return persistence.Role{RoleID: params.RoleID, Name: params.Name,
				Permissions: []string{PermViewDashboard}}, nil
		},
	}

	svc := New(repo, events.NewSyncBus())
	role, err := svc.Copy(context.Background(), testActor(), sourceID)
	require.NoError(t, err)
	require.Equal(t, "Support (copy)", role.Name)
}

func TestCopyRetriesOnNameCollision(t *testing.T) {
	t.Parallel()

	var attempted []string
	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{Name: "Support", Guard: GuardTenant}, nil
		},
		resolvePermissionIDsFn: func(_ context.Context, names []string, _ string) (map[string]uuid.UUID, error) {
			return resolveAll(names), nil
		},
		createFn: func(_ context.Context, params persistence.CreateRoleParams) (persistence.Role, error) {
			attempted = append(attempted, params.Name)
			if len(attempted) < 3 {
				return persistence.Role{}, persistence.ErrRoleConflict
			}
			return persistence.Role{RoleID: params.RoleID, Name: params.Name}, nil
		},
	}

	svc := New(repo, events.NewSyncBus())
	role, err := svc.Copy(context.Background(), testActor(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, "Support (copy 3)", role.Name)
	require.Equal(t, []string{"Support (copy)", "Support (copy 2)", "Support (copy 3)"}, attempted)
}

func TestCopyGivesUpAfterBoundedAttempts(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{Name: "Support", Guard: GuardTenant}, nil
		},
		resolvePermissionIDsFn: func(_ context.Context, names []string, _ string) (map[string]uuid.UUID, error) {
			return resolveAll(names), nil
		},
		createFn: func(context.Context, persistence.CreateRoleParams) (persistence.Role, error) {
			return persistence.Role{}, persistence.ErrRoleConflict
		},
	}

	svc := New(repo, events.NewSyncBus())
	_, err := svc.Copy(context.Background(), testActor(), uuid.New())
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestGetMapsNotFound(t *testing.T) {
	t.Parallel()

	repo := &mockRepository{
		getFn: func(context.Context, uuid.UUID) (persistence.Role, error) {
			return persistence.Role{}, persistence.ErrRoleNotFound
		},
	}

	svc := New(repo, events.NewSyncBus())
	_, err := svc.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDefaultRolesCoverCatalog(t *testing.T) {
	t.Parallel()

	seeds := DefaultRoles()
	require.Len(t, seeds, 3)

	byName := make(map[string]RoleSeed, len(seeds))
	for _, seed := range seeds {
		byName[seed.Name] = seed
	}

	require.ElementsMatch(t, CatalogPermissions(), byName[RoleOwner].Permissions)
	require.NotContains(t, byName[RoleAdmin].Permissions, PermManageRoles)
	require.NotContains(t, byName[RoleAdmin].Permissions, PermAssignOwnerRole)
	require.NotContains(t, byName[RoleMember].Permissions, PermManageUsers)
}
