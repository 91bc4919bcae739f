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

// Invitation status values. Transitions are monotonic: pending is the only
// non-terminal state and the store refuses to move a row out of a terminal one.
const (
	InviteStatusPending   = "pending"
	InviteStatusAccepted  = "accepted"
	InviteStatusCancelled = "cancelled"
	InviteStatusExpired   = "expired"
)

// Invitation represents a row in the invitations table.
type Invitation struct {
	InvitationID uuid.UUID  `db:"invitation_id"`
	TenantID     uuid.UUID  `db:"tenant_id"`
	Email        string     `db:"email"`
	RoleID       uuid.UUID  `db:"role_id"`
	Token        string     `db:"token"`
	Status       string     `db:"status"`
	ResentCount  int        `db:"resent_count"`
	ExpiresAt    time.Time  `db:"expires_at"`
	AcceptedAt   *time.Time `db:"accepted_at"`
	InvitedBy    *uuid.UUID `db:"invited_by"`
	CreatedAt    time.Time  `db:"created_at"`
}

const invitationColumns = `
    invitation_id, tenant_id, email, role_id, token, status,
    resent_count, expires_at, accepted_at, invited_by, created_at
`

// InvitationStore exposes persistence helpers for the invitations table,
// including the single-transaction acceptance path.
type InvitationStore struct {
	pool *pgxpool.Pool
}

// NewInvitationStore returns a store instance bound to the shared pool.
func NewInvitationStore(pool *pgxpool.Pool) (*InvitationStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &InvitationStore{pool: pool}, nil
}

// CreateInvitationParams captures the fields required to insert an invitation.
type CreateInvitationParams struct {
	InvitationID uuid.UUID
	TenantID     uuid.UUID
	Email        string
	RoleID       uuid.UUID
	Token        string
	ExpiresAt    time.Time
	InvitedBy    *uuid.UUID
}

// CreateInvitation inserts a pending invitation. The partial unique index on
// (tenant, email, pending) surfaces as ErrInvitationConflict so callers can
// fall back to resend semantics; a token collision surfaces separately as
// ErrInvitationTokenTaken so callers can regenerate.
func (s *InvitationStore) CreateInvitation(ctx context.Context, params CreateInvitationParams) (Invitation, error) {
	row := s.pool.QueryRow(ctx, `
        INSERT INTO invitations (invitation_id, tenant_id, email, role_id, token, expires_at, invited_by)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING `+invitationColumns+`
    `,
		params.InvitationID,
		params.TenantID,
		strings.ToLower(strings.TrimSpace(params.Email)),
		params.RoleID,
		params.Token,
		params.ExpiresAt,
		params.InvitedBy,
	)

	inv, err := scanInvitation(row)
	if err != nil {
		switch {
		case uniqueViolationOn(err, "invitations_token_unique"):
			return Invitation{}, ErrInvitationTokenTaken
		case isUniqueViolation(err):
			return Invitation{}, ErrInvitationConflict
		default:
			return Invitation{}, fmt.Errorf("insert invitation: %w", err)
		}
	}
	return inv, nil
}

// GetInvitation returns an invitation within the tenant.
func (s *InvitationStore) GetInvitation(ctx context.Context, tenantID, invitationID uuid.UUID) (Invitation, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT `+invitationColumns+` FROM invitations
        WHERE tenant_id = $1 AND invitation_id = $2
    `, tenantID, invitationID)
	return scanInvitationNotFound(row)
}

// GetInvitationByToken resolves an invitation by its bearer token. Tokens are
// globally unique, so no tenant qualifier applies.
func (s *InvitationStore) GetInvitationByToken(ctx context.Context, token string) (Invitation, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT `+invitationColumns+` FROM invitations WHERE token = $1
    `, token)
	return scanInvitationNotFound(row)
}

// FindPendingByEmail returns the pending invitation for (tenant, email), if any.
func (s *InvitationStore) FindPendingByEmail(ctx context.Context, tenantID uuid.UUID, email string) (Invitation, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT `+invitationColumns+` FROM invitations
        WHERE tenant_id = $1 AND LOWER(email) = LOWER($2) AND status = 'pending'
    `, tenantID, strings.TrimSpace(email))
	return scanInvitationNotFound(row)
}

// ListInvitations returns the tenant's invitations, optionally filtered by
// status, newest first.
func (s *InvitationStore) ListInvitations(ctx context.Context, tenantID uuid.UUID, status *string) ([]Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	invitations := make([]Invitation, 0)
	for rows.Next() {
		inv, scanErr := scanInvitation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan invitation: %w", scanErr)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return invitations, nil
}

// RefreshInvitation replaces the token and expiry and increments resent_count.
// Only pending rows qualify; anything else reports ErrInvitationNotPending.
func (s *InvitationStore) RefreshInvitation(ctx context.Context, tenantID, invitationID uuid.UUID, newToken string, expiresAt time.Time) (Invitation, error) {
	row := s.pool.QueryRow(ctx, `
        UPDATE invitations
        SET token = $1, expires_at = $2, resent_count = resent_count + 1
        WHERE tenant_id = $3 AND invitation_id = $4 AND status = 'pending'
        RETURNING `+invitationColumns+`
    `, newToken, expiresAt, tenantID, invitationID)

	inv, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invitation{}, s.pendingOrMissing(ctx, tenantID, invitationID)
		}
		if uniqueViolationOn(err, "invitations_token_unique") {
			return Invitation{}, ErrInvitationTokenTaken
		}
		return Invitation{}, fmt.Errorf("refresh invitation: %w", err)
	}
	return inv, nil
}

// TransitionInvitation flips a pending invitation into a terminal status. The
// WHERE guard keeps transitions monotonic at the store level even when
// callers race.
func (s *InvitationStore) TransitionInvitation(ctx context.Context, tenantID, invitationID uuid.UUID, toStatus string) (Invitation, error) {
	row := s.pool.QueryRow(ctx, `
        UPDATE invitations
        SET status = $1
        WHERE tenant_id = $2 AND invitation_id = $3 AND status = 'pending'
        RETURNING `+invitationColumns+`
    `, toStatus, tenantID, invitationID)

	inv, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invitation{}, s.pendingOrMissing(ctx, tenantID, invitationID)
		}
		return Invitation{}, fmt.Errorf("transition invitation: %w", err)
	}
	return inv, nil
}

// SweepExpired flips every pending invitation past its expiry to expired and
// returns the affected rows for activity logging.
func (s *InvitationStore) SweepExpired(ctx context.Context, now time.Time) ([]Invitation, error) {
	rows, err := s.pool.Query(ctx, `
        UPDATE invitations
        SET status = 'expired'
        WHERE status = 'pending' AND expires_at < $1
        RETURNING `+invitationColumns+`
    `, now)
	if err != nil {
		return nil, fmt.Errorf("sweep expired invitations: %w", err)
	}
	defer rows.Close()

	expired := make([]Invitation, 0)
	for rows.Next() {
		inv, scanErr := scanInvitation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan expired invitation: %w", scanErr)
		}
		expired = append(expired, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired invitations: %w", err)
	}
	return expired, nil
}

// AcceptInvitationParams carries the acceptance inputs. Profile fields apply
// only when the email has no user record yet.
type AcceptInvitationParams struct {
	Token        string
	Now          time.Time
	FullName     string
	PasswordHash string
	MembershipID uuid.UUID
}

// AcceptInvitationResult reports the rows touched by a successful acceptance.
type AcceptInvitationResult struct {
	Invitation  Invitation
	Membership  Membership
	UserCreated bool
}

// AcceptInvitation performs the whole acceptance as one transaction: lock the
// invitation row, validate its state, find-or-create the user, create the
// membership, flip the status. On any failure nothing persists, with the one
// documented exception that discovering a past-expiry row commits the lazy
// flip to expired before reporting ErrInvitationPastExpiry.
func (s *InvitationStore) AcceptInvitation(ctx context.Context, params AcceptInvitationParams) (AcceptInvitationResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AcceptInvitationResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `
        SELECT `+invitationColumns+` FROM invitations WHERE token = $1 FOR UPDATE
    `, params.Token)

	inv, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AcceptInvitationResult{}, ErrInvitationNotFound
		}
		return AcceptInvitationResult{}, fmt.Errorf("lock invitation: %w", err)
	}

	if inv.Status != InviteStatusPending {
		return AcceptInvitationResult{}, ErrInvitationNotPending
	}

	if params.Now.After(inv.ExpiresAt) {
		if _, err := tx.Exec(ctx, `
            UPDATE invitations SET status = 'expired' WHERE invitation_id = $1
        `, inv.InvitationID); err != nil {
			return AcceptInvitationResult{}, fmt.Errorf("expire invitation: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return AcceptInvitationResult{}, fmt.Errorf("commit expiry: %w", err)
		}
		return AcceptInvitationResult{}, ErrInvitationPastExpiry
	}

	userID, userCreated, err := findOrCreateUserTx(ctx, tx, findOrCreateUserParams{
		Email:        inv.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
	})
	if err != nil {
		return AcceptInvitationResult{}, err
	}

	membership, err := insertMembershipTx(ctx, tx, insertMembershipParams{
		MembershipID: params.MembershipID,
		TenantID:     inv.TenantID,
		UserID:       userID,
		RoleID:       inv.RoleID,
	})
	if err != nil {
		return AcceptInvitationResult{}, err
	}

	row = tx.QueryRow(ctx, `
        UPDATE invitations
        SET status = 'accepted', accepted_at = $1
        WHERE invitation_id = $2
        RETURNING `+invitationColumns+`
    `, params.Now, inv.InvitationID)
	accepted, err := scanInvitation(row)
	if err != nil {
		return AcceptInvitationResult{}, fmt.Errorf("accept invitation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptInvitationResult{}, fmt.Errorf("commit acceptance: %w", err)
	}

	return AcceptInvitationResult{
		Invitation:  accepted,
		Membership:  membership,
		UserCreated: userCreated,
	}, nil
}

// pendingOrMissing distinguishes "no such invitation" from "not pending" after
// a guarded update matched zero rows.
func (s *InvitationStore) pendingOrMissing(ctx context.Context, tenantID, invitationID uuid.UUID) error {
	var status string
	err := s.pool.QueryRow(ctx, `
        SELECT status FROM invitations WHERE tenant_id = $1 AND invitation_id = $2
    `, tenantID, invitationID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvitationNotFound
		}
		return fmt.Errorf("inspect invitation: %w", err)
	}
	return ErrInvitationNotPending
}

func scanInvitation(row pgx.Row) (Invitation, error) {
	var inv Invitation
	if err := row.Scan(&inv.InvitationID, &inv.TenantID, &inv.Email, &inv.RoleID, &inv.Token,
		&inv.Status, &inv.ResentCount, &inv.ExpiresAt, &inv.AcceptedAt, &inv.InvitedBy, &inv.CreatedAt); err != nil {
		return Invitation{}, err
	}
	return inv, nil
}

func scanInvitationNotFound(row pgx.Row) (Invitation, error) {
	inv, err := scanInvitation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invitation{}, ErrInvitationNotFound
		}
		return Invitation{}, err
	}
	return inv, nil
}
