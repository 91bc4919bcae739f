package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// coreSchemaDDL is the idempotent bootstrap schema. SQL is embedded so
// binaries and tests stay self-contained; production deployments may manage
// the same tables through their own migration pipeline.
const coreSchemaDDL = `
CREATE TABLE IF NOT EXISTS tenants (
    tenant_id   UUID PRIMARY KEY,
    slug        TEXT NOT NULL,
    name        TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS tenants_slug_unique ON tenants (LOWER(slug));

CREATE TABLE IF NOT EXISTS users (
    user_id       UUID PRIMARY KEY,
    email         TEXT NOT NULL,
    full_name     TEXT NOT NULL,
    password_hash TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS users_email_unique ON users (LOWER(email));

CREATE TABLE IF NOT EXISTS permissions (
    permission_id UUID PRIMARY KEY,
    name          TEXT NOT NULL,
    guard         TEXT NOT NULL DEFAULT 'tenant',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT permissions_name_guard_unique UNIQUE (name, guard)
);

CREATE TABLE IF NOT EXISTS roles (
    role_id     UUID PRIMARY KEY,
    tenant_id   UUID NOT NULL REFERENCES tenants (tenant_id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    guard       TEXT NOT NULL DEFAULT 'tenant',
    is_system   BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT roles_tenant_name_guard_unique UNIQUE (tenant_id, name, guard)
);

CREATE TABLE IF NOT EXISTS role_permissions (
    role_id       UUID NOT NULL REFERENCES roles (role_id) ON DELETE CASCADE,
    permission_id UUID NOT NULL REFERENCES permissions (permission_id) ON DELETE CASCADE,
    PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE IF NOT EXISTS memberships (
    membership_id UUID PRIMARY KEY,
    tenant_id     UUID NOT NULL REFERENCES tenants (tenant_id) ON DELETE CASCADE,
    user_id       UUID NOT NULL REFERENCES users (user_id) ON DELETE CASCADE,
    role_id       UUID NOT NULL REFERENCES roles (role_id) ON DELETE RESTRICT,
    is_disabled   BOOLEAN NOT NULL DEFAULT FALSE,
    joined_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT memberships_tenant_user_unique UNIQUE (tenant_id, user_id)
);

CREATE TABLE IF NOT EXISTS invitations (
    invitation_id UUID PRIMARY KEY,
    tenant_id     UUID NOT NULL REFERENCES tenants (tenant_id) ON DELETE CASCADE,
    email         TEXT NOT NULL,
    role_id       UUID NOT NULL REFERENCES roles (role_id) ON DELETE CASCADE,
    token         TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    resent_count  INTEGER NOT NULL DEFAULT 0,
    expires_at    TIMESTAMPTZ NOT NULL,
    accepted_at   TIMESTAMPTZ,
    invited_by    UUID REFERENCES users (user_id) ON DELETE SET NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS invitations_token_unique ON invitations (token);

CREATE UNIQUE INDEX IF NOT EXISTS invitations_pending_email_unique
    ON invitations (tenant_id, LOWER(email)) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS activity_log (
    activity_id  UUID PRIMARY KEY,
    tenant_id    UUID NOT NULL REFERENCES tenants (tenant_id) ON DELETE CASCADE,
    feature      TEXT NOT NULL,
    action       TEXT NOT NULL,
    details      TEXT NOT NULL,
    performed_by UUID,
    performed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS activity_log_tenant_time ON activity_log (tenant_id, performed_at DESC);

CREATE TABLE IF NOT EXISTS notification_settings (
    membership_id  UUID NOT NULL REFERENCES memberships (membership_id) ON DELETE CASCADE,
    event_type     TEXT NOT NULL,
    email_enabled  BOOLEAN NOT NULL DEFAULT TRUE,
    push_enabled   BOOLEAN NOT NULL DEFAULT TRUE,
    in_app_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    PRIMARY KEY (membership_id, event_type)
)
`

// Bootstrap applies the core schema DDL in a single transaction. The helper
// is idempotent and intended for the composition root and tests.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap schema: pool is required")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range splitStatements(coreSchemaDDL) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	statements := make([]string, 0, len(raw))
	for _, part := range raw {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
