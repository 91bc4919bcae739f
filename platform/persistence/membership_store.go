package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Membership links a global user identity to a tenant with exactly one role.
// Read paths join in the role and user attributes the evaluator needs.
type Membership struct {
	MembershipID uuid.UUID `db:"membership_id"`
	TenantID     uuid.UUID `db:"tenant_id"`
	UserID       uuid.UUID `db:"user_id"`
	RoleID       uuid.UUID `db:"role_id"`
	IsDisabled   bool      `db:"is_disabled"`
	JoinedAt     time.Time `db:"joined_at"`

	RoleName     string
	RoleIsSystem bool
	UserEmail    string
	UserFullName string
}

const membershipSelect = `
    SELECT m.membership_id, m.tenant_id, m.user_id, m.role_id, m.is_disabled, m.joined_at,
           r.name, r.is_system, u.email, u.full_name
    FROM memberships m
    JOIN roles r ON r.role_id = m.role_id
    JOIN users u ON u.user_id = m.user_id
`

// MembershipStore exposes persistence helpers for the memberships table.
type MembershipStore struct {
	pool *pgxpool.Pool
}

// NewMembershipStore returns a store instance bound to the shared pool.
func NewMembershipStore(pool *pgxpool.Pool) (*MembershipStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &MembershipStore{pool: pool}, nil
}

// CreateMembershipParams captures the fields required to insert a membership.
type CreateMembershipParams struct {
	MembershipID uuid.UUID
	TenantID     uuid.UUID
	UserID       uuid.UUID
	RoleID       uuid.UUID
}

// CreateMembership inserts a membership. The (tenant, user) uniqueness
// constraint surfaces as ErrMembershipConflict.
func (s *MembershipStore) CreateMembership(ctx context.Context, params CreateMembershipParams) (Membership, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Membership{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	membership, err := insertMembershipTx(ctx, tx, insertMembershipParams(params))
	if err != nil {
		return Membership{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Membership{}, fmt.Errorf("commit membership: %w", err)
	}
	return membership, nil
}

type insertMembershipParams CreateMembershipParams

func insertMembershipTx(ctx context.Context, tx pgx.Tx, params insertMembershipParams) (Membership, error) {
	membershipID := params.MembershipID
	if membershipID == uuid.Nil {
		membershipID = uuid.New()
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO memberships (membership_id, tenant_id, user_id, role_id)
        VALUES ($1, $2, $3, $4)
    `, membershipID, params.TenantID, params.UserID, params.RoleID); err != nil {
		if isUniqueViolation(err) {
			return Membership{}, ErrMembershipConflict
		}
		return Membership{}, fmt.Errorf("insert membership: %w", err)
	}

	row := tx.QueryRow(ctx, membershipSelect+` WHERE m.membership_id = $1`, membershipID)
	return scanMembershipNotFound(row)
}

// GetMembership returns a membership within the tenant.
func (s *MembershipStore) GetMembership(ctx context.Context, tenantID, membershipID uuid.UUID) (Membership, error) {
	row := s.pool.QueryRow(ctx, membershipSelect+`
        WHERE m.tenant_id = $1 AND m.membership_id = $2
    `, tenantID, membershipID)
	return scanMembershipNotFound(row)
}

// GetMembershipByUser returns the membership of a user within the tenant.
func (s *MembershipStore) GetMembershipByUser(ctx context.Context, tenantID, userID uuid.UUID) (Membership, error) {
	row := s.pool.QueryRow(ctx, membershipSelect+`
        WHERE m.tenant_id = $1 AND m.user_id = $2
    `, tenantID, userID)
	return scanMembershipNotFound(row)
}

// FindMembershipByEmail returns the membership owned by the email holder
// within the tenant, if any.
func (s *MembershipStore) FindMembershipByEmail(ctx context.Context, tenantID uuid.UUID, email string) (Membership, error) {
	row := s.pool.QueryRow(ctx, membershipSelect+`
        WHERE m.tenant_id = $1 AND LOWER(u.email) = LOWER($2)
    `, tenantID, strings.TrimSpace(email))
	return scanMembershipNotFound(row)
}

// ListMemberships returns all memberships of a tenant ordered by join time.
func (s *MembershipStore) ListMemberships(ctx context.Context, tenantID uuid.UUID) ([]Membership, error) {
	rows, err := s.pool.Query(ctx, membershipSelect+`
        WHERE m.tenant_id = $1 ORDER BY m.joined_at ASC
    `, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	memberships := make([]Membership, 0)
	for rows.Next() {
		m, scanErr := scanMembership(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan membership: %w", scanErr)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return memberships, nil
}

// RolePermissions returns the permission names granted through the
// membership's role. A disabled membership yields no permissions; callers
// rely on this as the single authorization entry point.
func (s *MembershipStore) RolePermissions(ctx context.Context, tenantID, userID uuid.UUID) ([]string, error) {
	membership, err := s.GetMembershipByUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if membership.IsDisabled {
		return []string{}, nil
	}

	rows, err := s.pool.Query(ctx, `
        SELECT p.name
        FROM role_permissions rp
        JOIN permissions p ON p.permission_id = rp.permission_id
        WHERE rp.role_id = $1
        ORDER BY p.name
    `, membership.RoleID)
	if err != nil {
		return nil, fmt.Errorf("membership permissions: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan permission name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission names: %w", err)
	}
	return names, nil
}

// UpdateMembershipRole points the membership at a different role.
func (s *MembershipStore) UpdateMembershipRole(ctx context.Context, tenantID, membershipID, roleID uuid.UUID) (Membership, error) {
	tag, err := s.pool.Exec(ctx, `
        UPDATE memberships SET role_id = $1 WHERE tenant_id = $2 AND membership_id = $3
    `, roleID, tenantID, membershipID)
	if err != nil {
		return Membership{}, fmt.Errorf("update membership role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Membership{}, ErrMembershipNotFound
	}
	return s.GetMembership(ctx, tenantID, membershipID)
}

// SetMembershipDisabled toggles the disabled flag.
func (s *MembershipStore) SetMembershipDisabled(ctx context.Context, tenantID, membershipID uuid.UUID, disabled bool) (Membership, error) {
	tag, err := s.pool.Exec(ctx, `
        UPDATE memberships SET is_disabled = $1 WHERE tenant_id = $2 AND membership_id = $3
    `, disabled, tenantID, membershipID)
	if err != nil {
		return Membership{}, fmt.Errorf("set membership disabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Membership{}, ErrMembershipNotFound
	}
	return s.GetMembership(ctx, tenantID, membershipID)
}

// DeleteMembership removes the membership; notification settings cascade.
func (s *MembershipStore) DeleteMembership(ctx context.Context, tenantID, membershipID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
        DELETE FROM memberships WHERE tenant_id = $1 AND membership_id = $2
    `, tenantID, membershipID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func scanMembership(row pgx.Row) (Membership, error) {
	var m Membership
	if err := row.Scan(&m.MembershipID, &m.TenantID, &m.UserID, &m.RoleID, &m.IsDisabled,
		&m.JoinedAt, &m.RoleName, &m.RoleIsSystem, &m.UserEmail, &m.UserFullName); err != nil {
		return Membership{}, err
	}
	return m, nil
}

func scanMembershipNotFound(row pgx.Row) (Membership, error) {
	m, err := scanMembership(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, ErrMembershipNotFound
		}
		return Membership{}, err
	}
	return m, nil
}
