package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationSetting represents one per-membership, per-event-type channel
// preference row.
type NotificationSetting struct {
	MembershipID uuid.UUID `db:"membership_id"`
	EventType    string    `db:"event_type"`
	EmailEnabled bool      `db:"email_enabled"`
	PushEnabled  bool      `db:"push_enabled"`
	InAppEnabled bool      `db:"in_app_enabled"`
}

// NotificationStore exposes persistence helpers for notification settings.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore returns a store instance bound to the shared pool.
func NewNotificationStore(pool *pgxpool.Pool) (*NotificationStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &NotificationStore{pool: pool}, nil
}

// EnsureDefaultSettings provisions one all-channels-enabled row per event
// type for the membership. Idempotent: existing rows, including ones the user
// has customized, are left untouched.
func (s *NotificationStore) EnsureDefaultSettings(ctx context.Context, membershipID uuid.UUID, eventTypes []string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, eventType := range eventTypes {
		if _, err := tx.Exec(ctx, `
            INSERT INTO notification_settings (membership_id, event_type)
            VALUES ($1, $2)
            ON CONFLICT (membership_id, event_type) DO NOTHING
        `, membershipID, eventType); err != nil {
			return fmt.Errorf("ensure setting %q: %w", eventType, err)
		}
	}

	return tx.Commit(ctx)
}

// ListSettings returns the membership's preference rows ordered by event type.
func (s *NotificationStore) ListSettings(ctx context.Context, membershipID uuid.UUID) ([]NotificationSetting, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT membership_id, event_type, email_enabled, push_enabled, in_app_enabled
        FROM notification_settings
        WHERE membership_id = $1
        ORDER BY event_type
    `, membershipID)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	settings := make([]NotificationSetting, 0)
	for rows.Next() {
		var setting NotificationSetting
		if err := rows.Scan(&setting.MembershipID, &setting.EventType,
			&setting.EmailEnabled, &setting.PushEnabled, &setting.InAppEnabled); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settings: %w", err)
	}
	return settings, nil
}

// UpdateSettingParams carries the channel flags for one preference row.
type UpdateSettingParams struct {
	EmailEnabled bool
	PushEnabled  bool
	InAppEnabled bool
}

// UpdateSetting replaces the channel flags for one (membership, event type) row.
func (s *NotificationStore) UpdateSetting(ctx context.Context, membershipID uuid.UUID, eventType string, params UpdateSettingParams) (NotificationSetting, error) {
	row := s.pool.QueryRow(ctx, `
        UPDATE notification_settings
        SET email_enabled = $1, push_enabled = $2, in_app_enabled = $3
        WHERE membership_id = $4 AND event_type = $5
        RETURNING membership_id, event_type, email_enabled, push_enabled, in_app_enabled
    `, params.EmailEnabled, params.PushEnabled, params.InAppEnabled, membershipID, eventType)

	var setting NotificationSetting
	if err := row.Scan(&setting.MembershipID, &setting.EventType,
		&setting.EmailEnabled, &setting.PushEnabled, &setting.InAppEnabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotificationSetting{}, ErrNotificationSettingNotFound
		}
		return NotificationSetting{}, fmt.Errorf("update setting: %w", err)
	}
	return setting, nil
}
