package database

import (
	"database/sql"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Dialect isolates the SQL differences between the supported stores.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// timeLayout is the storage format of order_date_time (UTC, second precision).
const timeLayout = "2006-01-02 15:04:05"

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case SQLite:
		return "sqlite"
	}
	return "mysql"
}

// MonthBucket formats a timestamp column as YYYY-MM.
func (d Dialect) MonthBucket(col string) string {
	switch d {
	case Postgres:
		return "to_char(" + col + ", 'YYYY-MM')"
	case SQLite:
		return "strftime('%Y-%m', " + col + ")"
	}
	return "DATE_FORMAT(" + col + ", '%Y-%m')"
}

// SumMoney is an exact money sum, 0 over no rows. SQLite stores money as text,
// so its sum is taken in integer cents.
func (d Dialect) SumMoney(col string) string {
	if d == SQLite {
		return "COALESCE(SUM(CAST(ROUND(" + col + " * 100) AS INTEGER)), 0)"
	}
	return "COALESCE(SUM(" + col + "), 0)"
}

// ParseSum reads back a SumMoney result.
func (d Dialect) ParseSum(raw string) (decimal.Decimal, error) {
	if d == SQLite {
		cents, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "parse cents %q", raw)
		}
		return decimal.New(cents, -2), nil
	}
	return parseMoney(raw)
}

// InvalidMoney is a condition true for stored amounts the engine must reject:
// negative, more than two fractional digits, or (SQLite, where amounts are text)
// not a plain decimal number. readAmount applies the same rules on the Go side.
func (d Dialect) InvalidMoney(col string) string {
	if d != SQLite {
		// NUMERIC(12,2) / DECIMAL(12,2) keep exactly two digits
		return col + " < 0"
	}
	abs := "(CASE WHEN substr(" + col + ", 1, 1) = '-' THEN substr(" + col + ", 2) ELSE " + col + " END)"
	return "(CAST(" + col + " AS REAL) < 0 OR NOT (" +
		abs + " GLOB '[0-9]*' AND " +
		abs + " NOT GLOB '*[^0-9.]*' AND " +
		abs + " NOT GLOB '*.*.*' AND " +
		abs + " NOT GLOB '*.' AND " +
		abs + " NOT GLOB '*.[0-9][0-9][0-9]*'))"
}

// TimeArg binds a timestamp the way it is stored.
func (d Dialect) TimeArg(t time.Time) any {
	return t.UTC().Format(timeLayout)
}

// MoneyArg binds an amount with exactly two decimals.
func (d Dialect) MoneyArg(m decimal.Decimal) any {
	return m.StringFixed(2)
}

// Rebind rewrites ? placeholders into the dialect's form. Queries built here never
// carry a literal question mark.
func (d Dialect) Rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SnapshotTx returns the options of a read transaction that sees one consistent
// snapshot of both tables.
func (d Dialect) SnapshotTx() *sql.TxOptions {
	switch d {
	case Postgres:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	case MySQL:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

// UpsertCustomer inserts or updates one customer by customer_id.
func (d Dialect) UpsertCustomer() string {
	const insert = "INSERT INTO customers (customer_id, customer_name, mobile_number, region) VALUES (?, ?, ?, ?)"
	if d == MySQL {
		return insert + " ON DUPLICATE KEY UPDATE customer_name = VALUES(customer_name), mobile_number = VALUES(mobile_number), region = VALUES(region)"
	}
	return d.Rebind(insert + " ON CONFLICT (customer_id) DO UPDATE SET customer_name = excluded.customer_name, mobile_number = excluded.mobile_number, region = excluded.region")
}

// UpsertOrder inserts or updates one order by order_id.
func (d Dialect) UpsertOrder() string {
	const insert = "INSERT INTO orders (order_id, mobile_number, order_date_time, sku_id, sku_count, total_amount) VALUES (?, ?, ?, ?, ?, ?)"
	if d == MySQL {
		return insert + " ON DUPLICATE KEY UPDATE mobile_number = VALUES(mobile_number), order_date_time = VALUES(order_date_time), sku_id = VALUES(sku_id), sku_count = VALUES(sku_count), total_amount = VALUES(total_amount)"
	}
	return d.Rebind(insert + " ON CONFLICT (order_id) DO UPDATE SET mobile_number = excluded.mobile_number, order_date_time = excluded.order_date_time, sku_id = excluded.sku_id, sku_count = excluded.sku_count, total_amount = excluded.total_amount")
}

var amountText = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// malformedAmount stands for a stored amount that is not a plain decimal number.
// Its three fractional digits make the integrity check reject the order.
var malformedAmount = decimal.New(0, -3)

// readAmount parses an order amount as stored, keeping its fractional digits so
// that the integrity check sees what the database holds.
func readAmount(raw string) decimal.Decimal {
	if !amountText.MatchString(raw) {
		return malformedAmount
	}
	m, err := decimal.NewFromString(raw)
	if err != nil {
		return malformedAmount
	}
	return m
}

func parseMoney(raw string) (decimal.Decimal, error) {
	m, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse amount %q", raw)
	}
	return m, nil
}

// parseTimeValue accepts what the drivers hand back for a timestamp column.
func parseTimeValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTimeText(string(t))
	case string:
		return parseTimeText(t)
	}
	return time.Time{}, errors.Newf("unsupported timestamp value %T", v)
}

func parseTimeText(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("unparseable timestamp %q", s)
}
