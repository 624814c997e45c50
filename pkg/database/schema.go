package database

import (
	"context"
	"database/sql"
)

// Schema returns the DDL of both tables. String columns use binary collations so
// that the database orders and groups text exactly like Go compares bytes.
// mobile_number is indexed, not unique: ingestion rejects duplicates and the
// engine re-checks, reporting them as integrity errors.
func (d Dialect) Schema() []string {
	switch d {
	case Postgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS customers (
				customer_id   VARCHAR(25)  COLLATE "C" PRIMARY KEY,
				customer_name VARCHAR(255) COLLATE "C" NOT NULL,
				mobile_number VARCHAR(20)  COLLATE "C" NOT NULL,
				region        VARCHAR(100) COLLATE "C" NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_customers_mobile ON customers (mobile_number)`,
			`CREATE TABLE IF NOT EXISTS orders (
				order_id        VARCHAR(50)  COLLATE "C" PRIMARY KEY,
				mobile_number   VARCHAR(20)  COLLATE "C" NOT NULL,
				order_date_time TIMESTAMP    NOT NULL,
				sku_id          VARCHAR(50)  COLLATE "C" NOT NULL,
				sku_count       INTEGER      NOT NULL,
				total_amount    NUMERIC(12,2) NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_mobile ON orders (mobile_number)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_date ON orders (order_date_time)`,
		}
	case SQLite:
		return []string{
			`CREATE TABLE IF NOT EXISTS customers (
				customer_id   TEXT NOT NULL PRIMARY KEY,
				customer_name TEXT NOT NULL,
				mobile_number TEXT NOT NULL,
				region        TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_customers_mobile ON customers (mobile_number)`,
			`CREATE TABLE IF NOT EXISTS orders (
				order_id        TEXT    NOT NULL PRIMARY KEY,
				mobile_number   TEXT    NOT NULL,
				order_date_time TEXT    NOT NULL,
				sku_id          TEXT    NOT NULL,
				sku_count       INTEGER NOT NULL,
				total_amount    TEXT    NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_mobile ON orders (mobile_number)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_date ON orders (order_date_time)`,
		}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS customers (
			customer_id   VARCHAR(25)  NOT NULL,
			customer_name VARCHAR(255) NOT NULL,
			mobile_number VARCHAR(20)  NOT NULL,
			region        VARCHAR(100) NOT NULL,
			PRIMARY KEY (customer_id),
			INDEX idx_customers_mobile (mobile_number)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id        VARCHAR(50)   NOT NULL,
			mobile_number   VARCHAR(20)   NOT NULL,
			order_date_time DATETIME      NOT NULL,
			sku_id          VARCHAR(50)   NOT NULL,
			sku_count       INT           NOT NULL,
			total_amount    DECIMAL(12,2) NOT NULL,
			PRIMARY KEY (order_id),
			INDEX idx_orders_mobile (mobile_number),
			INDEX idx_orders_date (order_date_time)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	}
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range d.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classify("migrate", err)
		}
	}
	return nil
}
