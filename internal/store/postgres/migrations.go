package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		allow_negative_stock BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		sale_count BIGINT NOT NULL DEFAULT 0,
		revenue NUMERIC(18,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		company_id TEXT REFERENCES companies(id),
		store_id TEXT REFERENCES stores(id),
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		store_id TEXT NOT NULL REFERENCES stores(id),
		sku TEXT NOT NULL,
		barcode TEXT,
		name TEXT NOT NULL,
		cost_price NUMERIC(18,2) NOT NULL DEFAULT 0,
		selling_price NUMERIC(18,2) NOT NULL,
		wholesale_price NUMERIC(18,2),
		current_stock INTEGER NOT NULL DEFAULT 0,
		min_stock INTEGER NOT NULL DEFAULT 0,
		reorder_point INTEGER NOT NULL DEFAULT 0,
		tax_rate NUMERIC(6,4) NOT NULL DEFAULT 0,
		tax_inclusive BOOLEAN NOT NULL DEFAULT false,
		active BOOLEAN NOT NULL DEFAULT true,
		ad_hoc BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (store_id, sku)
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id),
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS customers_company_email_idx ON customers (company_id, email)`,
	`CREATE INDEX IF NOT EXISTS customers_company_phone_idx ON customers (company_id, phone)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		company_id TEXT NOT NULL REFERENCES companies(id),
		store_id TEXT NOT NULL REFERENCES stores(id),
		cashier TEXT NOT NULL,
		customer_id TEXT REFERENCES customers(id),
		customer_name TEXT,
		customer_email TEXT,
		customer_phone TEXT,
		channel TEXT NOT NULL,
		subtotal NUMERIC(18,2) NOT NULL,
		total_discount NUMERIC(18,2) NOT NULL,
		total_tax NUMERIC(18,2) NOT NULL,
		total_amount NUMERIC(18,2) NOT NULL,
		payment_method TEXT NOT NULL,
		payment_amount NUMERIC(18,2) NOT NULL,
		payment_change NUMERIC(18,2) NOT NULL,
		payment_status TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		sale_date TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		cancelled_at TIMESTAMPTZ,
		UNIQUE (company_id, number),
		UNIQUE (company_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS sales_store_date_idx ON sales (store_id, sale_date DESC)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id BIGSERIAL PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		catalog_item_id TEXT NOT NULL REFERENCES catalog_items(id),
		sku TEXT NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(18,2) NOT NULL,
		discount_type TEXT NOT NULL,
		discount_value NUMERIC(18,2) NOT NULL,
		discount_amount NUMERIC(18,2) NOT NULL,
		tax_rate NUMERIC(6,4) NOT NULL,
		tax_amount NUMERIC(18,2) NOT NULL,
		subtotal NUMERIC(18,2) NOT NULL,
		total NUMERIC(18,2) NOT NULL,
		ad_hoc BOOLEAN NOT NULL DEFAULT false,
		UNIQUE (sale_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		sale_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		store_id TEXT NOT NULL,
		lines JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (sale_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates any missing tables. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
