package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateKeyName = 1061

var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS product_variants (
		id {{autoid}},
		product_name VARCHAR(255) NOT NULL,
		volume VARCHAR(64) NOT NULL DEFAULT '',
		price BIGINT NOT NULL,
		stock_quantity INT NOT NULL DEFAULT 0,
		updated_at {{ts}} NOT NULL,
		CHECK (stock_quantity >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS discounts (
		id {{autoid}},
		code VARCHAR(64) NOT NULL UNIQUE,
		discount_percentage DECIMAL(5,2) NOT NULL,
		max_discount_amount BIGINT NULL,
		min_order_value BIGINT NOT NULL DEFAULT 0,
		start_date {{ts}} NULL,
		end_date {{ts}} NULL,
		max_uses INT NULL,
		remaining_uses INT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		CHECK (remaining_uses IS NULL OR remaining_uses >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id {{autoid}},
		user_id VARCHAR(64) NULL,
		guest_name VARCHAR(255) NOT NULL DEFAULT '',
		guest_email VARCHAR(255) NOT NULL DEFAULT '',
		guest_phone VARCHAR(32) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		payment_method VARCHAR(16) NOT NULL,
		payment_status VARCHAR(16) NOT NULL,
		subtotal_amount BIGINT NOT NULL,
		discount_amount BIGINT NOT NULL DEFAULT 0,
		shipping_fee BIGINT NOT NULL DEFAULT 0,
		total_amount BIGINT NOT NULL,
		discount_id BIGINT NULL,
		discount_code VARCHAR(64) NOT NULL DEFAULT '',
		discount_redeemed BOOLEAN NOT NULL DEFAULT FALSE,
		recipient_name VARCHAR(255) NOT NULL,
		phone VARCHAR(32) NOT NULL,
		address_line VARCHAR(512) NOT NULL,
		ward VARCHAR(128) NOT NULL DEFAULT '',
		district VARCHAR(128) NOT NULL DEFAULT '',
		city VARCHAR(128) NOT NULL DEFAULT '',
		note VARCHAR(1024) NOT NULL DEFAULT '',
		tracking_number VARCHAR(128) NOT NULL DEFAULT '',
		payment_expires_at {{ts}} NULL,
		shipped_at {{ts}} NULL,
		delivered_at {{ts}} NULL,
		cancelled_at {{ts}} NULL,
		cancel_reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL,
		CHECK (total_amount >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id {{autoid}},
		order_id BIGINT NOT NULL,
		variant_id BIGINT NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		volume VARCHAR(64) NOT NULL DEFAULT '',
		unit_price BIGINT NOT NULL,
		quantity INT NOT NULL,
		deducted_quantity INT NOT NULL DEFAULT 0,
		CHECK (quantity >= 1)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id VARCHAR(36) PRIMARY KEY,
		order_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		method VARCHAR(16) NOT NULL,
		transaction_id VARCHAR(128) NULL,
		provider_details TEXT NOT NULL,
		redirect_url VARCHAR(1024) NOT NULL DEFAULT '',
		expires_at {{ts}} NULL,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_activity_logs (
		id {{autoid}},
		order_id BIGINT NOT NULL,
		from_status VARCHAR(16) NOT NULL DEFAULT '',
		to_status VARCHAR(16) NOT NULL,
		actor_kind VARCHAR(16) NOT NULL,
		actor_id VARCHAR(255) NOT NULL DEFAULT '',
		description VARCHAR(512) NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL
	)`,
}

var schemaIndexes = []string{
	`CREATE INDEX {{ifnotexists}}idx_orders_payment_due ON orders (status, payment_method, payment_expires_at)`,
	`CREATE INDEX {{ifnotexists}}idx_order_items_order ON order_items (order_id)`,
	`CREATE INDEX {{ifnotexists}}idx_payments_order ON payments (order_id)`,
	`CREATE UNIQUE INDEX {{ifnotexists}}ux_payments_transaction ON payments (transaction_id)`,
	`CREATE INDEX {{ifnotexists}}idx_activity_order ON order_activity_logs (order_id)`,
}

func (s *SQLStore) schemaReplacer() *strings.Replacer {
	switch s.dialect {
	case dialectPostgres:
		return strings.NewReplacer(
			"{{autoid}}", "BIGSERIAL PRIMARY KEY",
			"{{ts}}", "TIMESTAMPTZ",
			"{{ifnotexists}}", "IF NOT EXISTS ",
		)
	case dialectSQLite:
		return strings.NewReplacer(
			"{{autoid}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{ts}}", "DATETIME",
			"{{ifnotexists}}", "IF NOT EXISTS ",
		)
	default:
		return strings.NewReplacer(
			"{{autoid}}", "BIGINT PRIMARY KEY AUTO_INCREMENT",
			"{{ts}}", "DATETIME(6)",
			"{{ifnotexists}}", "",
		)
	}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	r := s.schemaReplacer()

	for _, stmt := range schemaTables {
		if _, err := s.db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	for _, stmt := range schemaIndexes {
		_, err := s.db.ExecContext(ctx, r.Replace(stmt))
		if err == nil {
			continue
		}
		// MySQL has no CREATE INDEX IF NOT EXISTS
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKeyName {
			continue
		}
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}
