package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityEntry represents a row in the append-only activity log.
type ActivityEntry struct {
	ActivityID  uuid.UUID  `db:"activity_id"`
	TenantID    uuid.UUID  `db:"tenant_id"`
	Feature     string     `db:"feature"`
	Action      string     `db:"action"`
	Details     string     `db:"details"`
	PerformedBy *uuid.UUID `db:"performed_by"`
	PerformedAt time.Time  `db:"performed_at"`
}

// ActivityStore exposes persistence helpers for the activity log. The table
// is append-only; no update or delete path exists.
type ActivityStore struct {
	pool *pgxpool.Pool
}

// NewActivityStore returns a store instance bound to the shared pool.
func NewActivityStore(pool *pgxpool.Pool) (*ActivityStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ActivityStore{pool: pool}, nil
}

// AppendActivityParams captures one audit record.
type AppendActivityParams struct {
	TenantID    uuid.UUID
	Feature     string
	Action      string
	Details     string
	PerformedBy *uuid.UUID
	PerformedAt time.Time
}

// AppendActivity inserts one audit row.
func (s *ActivityStore) AppendActivity(ctx context.Context, params AppendActivityParams) (ActivityEntry, error) {
	row := s.pool.QueryRow(ctx, `
        INSERT INTO activity_log (activity_id, tenant_id, feature, action, details, performed_by, performed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING activity_id, tenant_id, feature, action, details, performed_by, performed_at
    `, uuid.New(), params.TenantID, params.Feature, params.Action, params.Details, params.PerformedBy, params.PerformedAt)

	var entry ActivityEntry
	if err := row.Scan(&entry.ActivityID, &entry.TenantID, &entry.Feature, &entry.Action,
		&entry.Details, &entry.PerformedBy, &entry.PerformedAt); err != nil {
		return ActivityEntry{}, fmt.Errorf("append activity: %w", err)
	}
	return entry, nil
}

// ListActivityParams captures filters and pagination for ListActivity.
type ListActivityParams struct {
	Feature  *string
	Page     int
	PageSize int
}

// ListActivityResult includes the rows and the total count for pagination metadata.
type ListActivityResult struct {
	Entries    []ActivityEntry
	TotalItems int
}

// ListActivity returns audit rows for the tenant, newest first.
func (s *ActivityStore) ListActivity(ctx context.Context, tenantID uuid.UUID, params ListActivityParams) (ListActivityResult, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	where := "tenant_id = $1"
	args := []any{tenantID}
	if params.Feature != nil && *params.Feature != "" {
		args = append(args, *params.Feature)
		where += fmt.Sprintf(" AND feature = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM activity_log WHERE "+where, args...).Scan(&total); err != nil {
		return ListActivityResult{}, fmt.Errorf("count activity: %w", err)
	}

	result := ListActivityResult{Entries: []ActivityEntry{}, TotalItems: total}
	if total == 0 {
		return result, nil
	}

	args = append(args, params.PageSize, (params.Page-1)*params.PageSize)
	query := fmt.Sprintf(`
        SELECT activity_id, tenant_id, feature, action, details, performed_by, performed_at
        FROM activity_log
        WHERE %s
        ORDER BY performed_at DESC
        LIMIT $%d OFFSET $%d
    `, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return ListActivityResult{}, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry ActivityEntry
		if err := rows.Scan(&entry.ActivityID, &entry.TenantID, &entry.Feature, &entry.Action,
			&entry.Details, &entry.PerformedBy, &entry.PerformedAt); err != nil {
			return ListActivityResult{}, fmt.Errorf("scan activity: %w", err)
		}
		result.Entries = append(result.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return ListActivityResult{}, fmt.Errorf("iterate activity: %w", err)
	}
	return result, nil
}
