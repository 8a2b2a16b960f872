package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		price       NUMERIC(14,4) NOT NULL DEFAULT 0,
		quantity    INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                   TEXT PRIMARY KEY,
		user_id              TEXT NOT NULL,
		items                JSONB NOT NULL DEFAULT '[]',
		shipping_address     JSONB NOT NULL DEFAULT '{}',
		items_price          NUMERIC(14,4) NOT NULL DEFAULT 0,
		shipping_fee         NUMERIC(14,4) NOT NULL DEFAULT 0,
		membership_discount  NUMERIC(14,4) NOT NULL DEFAULT 0,
		total_price          NUMERIC(14,4) NOT NULL DEFAULT 0,
		currency             TEXT NOT NULL DEFAULT '',
		is_draft             BOOLEAN NOT NULL DEFAULT TRUE,
		draft_expires_at     TIMESTAMPTZ,
		gateway_order_id     TEXT,
		gateway_payment_id   TEXT NOT NULL DEFAULT '',
		payment_signature    TEXT NOT NULL DEFAULT '',
		payment_status       TEXT NOT NULL DEFAULT '',
		payment_message      TEXT NOT NULL DEFAULT '',
		paid_at              TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_one_draft_per_user
		ON orders (user_id) WHERE is_draft`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_gateway_order_id_key
		ON orders (gateway_order_id) WHERE gateway_order_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS orders_confirmed_by_user
		ON orders (user_id, created_at DESC) WHERE NOT is_draft`,
}

// Migrate creates the checkout tables and indexes if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
