package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/platform/persistence"
	"github.com/castellan-io/castellan/platform/tenant"
)

// Repository defines the persistence operations required by the activity
// service. Appends carry an explicit tenant because the recorder runs outside
// any request context; reads are scoped to the context's tenant Space.
type Repository interface {
	Append(ctx context.Context, params persistence.AppendActivityParams) (persistence.ActivityEntry, error)
	List(ctx context.Context, params persistence.ListActivityParams) (persistence.ListActivityResult, error)
	ListMembershipIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type postgresRepository struct {
	activity    *persistence.ActivityStore
	memberships *persistence.MembershipStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(activity *persistence.ActivityStore, memberships *persistence.MembershipStore) Repository {
	if activity == nil {
		panic("activity store is required")
	}
	if memberships == nil {
		panic("membership store is required")
	}
	return &postgresRepository{activity: activity, memberships: memberships}
}

func (r *postgresRepository) Append(ctx context.Context, params persistence.AppendActivityParams) (persistence.ActivityEntry, error) {
	return r.activity.AppendActivity(ctx, params)
}

func (r *postgresRepository) List(ctx context.Context, params persistence.ListActivityParams) (persistence.ListActivityResult, error) {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return persistence.ListActivityResult{}, errors.New("tenant space missing from context")
	}
	return r.activity.ListActivity(ctx, space.TenantID, params)
}

func (r *postgresRepository) ListMembershipIDs(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	memberships, err := r.memberships.ListMemberships(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.MembershipID)
	}
	return ids, nil
}
