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

// User represents a row in the users table. User identities are global; the
// link to a tenant lives in memberships.
type User struct {
	UserID       uuid.UUID `db:"user_id"`
	Email        string    `db:"email"`
	FullName     string    `db:"full_name"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// UserStore exposes persistence helpers for the users table.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore returns a store instance bound to the shared pool.
func NewUserStore(pool *pgxpool.Pool) (*UserStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &UserStore{pool: pool}, nil
}

// CreateUserParams captures the fields required to insert a new user record.
type CreateUserParams struct {
	UserID       uuid.UUID
	Email        string
	FullName     string
	PasswordHash string
}

// CreateUser inserts a new user and returns the persisted record.
func (s *UserStore) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if params.UserID == uuid.Nil {
		return User{}, errors.New("user id is required")
	}

	row := s.pool.QueryRow(ctx, `
        INSERT INTO users (user_id, email, full_name, password_hash)
        VALUES ($1, $2, $3, $4)
        RETURNING user_id, email, full_name, password_hash, created_at, updated_at
    `,
		params.UserID,
		strings.ToLower(strings.TrimSpace(params.Email)),
		strings.TrimSpace(params.FullName),
		params.PasswordHash,
	)

	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserConflict
		}
		return User{}, err
	}
	return user, nil
}

// GetUser returns a single user by identifier.
func (s *UserStore) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT user_id, email, full_name, password_hash, created_at, updated_at
        FROM users WHERE user_id = $1
    `, id)
	return scanUserNotFound(row)
}

// FindUserByEmail returns the user owning the email, case-insensitively.
func (s *UserStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT user_id, email, full_name, password_hash, created_at, updated_at
        FROM users WHERE LOWER(email) = LOWER($1)
    `, strings.TrimSpace(email))
	return scanUserNotFound(row)
}

type findOrCreateUserParams struct {
	UserID       uuid.UUID
	Email        string
	FullName     string
	PasswordHash string
}

// findOrCreateUserTx resolves the user owning the email within a transaction,
// inserting a fresh record when none exists. Profile fields are applied only
// on creation; an existing identity is never overwritten, and creating one
// without a name and password hash fails with ErrUserProfileIncomplete. The
// boolean reports whether a record was created.
func findOrCreateUserTx(ctx context.Context, tx pgx.Tx, params findOrCreateUserParams) (uuid.UUID, bool, error) {
	var existing uuid.UUID
	err := tx.QueryRow(ctx, `
        SELECT user_id FROM users WHERE LOWER(email) = LOWER($1)
    `, strings.TrimSpace(params.Email)).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("lookup user by email: %w", err)
	}

	if strings.TrimSpace(params.FullName) == "" || params.PasswordHash == "" {
		return uuid.Nil, false, ErrUserProfileIncomplete
	}

	userID := params.UserID
	if userID == uuid.Nil {
		userID = uuid.New()
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO users (user_id, email, full_name, password_hash)
        VALUES ($1, $2, $3, $4)
    `,
		userID,
		strings.ToLower(strings.TrimSpace(params.Email)),
		strings.TrimSpace(params.FullName),
		params.PasswordHash,
	); err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, false, ErrUserConflict
		}
		return uuid.Nil, false, fmt.Errorf("insert user: %w", err)
	}

	return userID, true, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(&u.UserID, &u.Email, &u.FullName, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func scanUserNotFound(row pgx.Row) (User, error) {
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}
