package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors surfaced by the stores. Domain services translate these
// into their own error vocabulary.
var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantConflict = errors.New("tenant slug already exists")

	ErrUserNotFound          = errors.New("user not found")
	ErrUserConflict          = errors.New("user email already exists")
	ErrUserProfileIncomplete = errors.New("profile required to create the user")

	ErrRoleNotFound = errors.New("role not found")
	ErrRoleConflict = errors.New("role name already exists")
	ErrRoleInUse    = errors.New("role is referenced by memberships")

	ErrPermissionNotFound = errors.New("permission not found")

	ErrMembershipNotFound = errors.New("membership not found")
	ErrMembershipConflict = errors.New("membership already exists")

	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrInvitationConflict   = errors.New("pending invitation already exists")
	ErrInvitationTokenTaken = errors.New("invitation token already exists")
	ErrInvitationNotPending = errors.New("invitation is not pending")
	ErrInvitationPastExpiry = errors.New("invitation past expiry")

	ErrNotificationSettingNotFound = errors.New("notification setting not found")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// uniqueViolationOn reports a 23505 raised by the named constraint.
func uniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
