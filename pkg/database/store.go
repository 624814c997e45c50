package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

// Store is the Data Store: it materializes the base tables for the in-memory
// strategy and answers the dashboard's table-level questions.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *logrus.Entry
}

var _ kpi.DatasetSource = (*Store)(nil)

func NewStore(db *sql.DB, d Dialect, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{db: db, dialect: d, log: log.WithField("component", "store")}
}

func (s *Store) DB() *sql.DB      { return s.db }
func (s *Store) Dialect() Dialect { return s.dialect }
func (s *Store) Close() error     { return s.db.Close() }

// Ping checks that the store answers.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

// LoadDataset reads both tables within one snapshot, customers ordered by
// customer_id and orders by order_id.
func (s *Store) LoadDataset(ctx context.Context) (ds *kpi.Dataset, err error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, s.dialect.SnapshotTx())
	if err != nil {
		return nil, classify("begin snapshot", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = classify("end snapshot", tx.Commit())
	}()

	customers, err := s.readCustomers(ctx, tx)
	if err != nil {
		return nil, err
	}
	orders, err := s.readOrders(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"customers": len(customers),
		"orders":    len(orders),
		"elapsed":   time.Since(start).String(),
	}).Debug("dataset loaded")
	return &kpi.Dataset{Customers: customers, Orders: orders}, nil
}

func (s *Store) readCustomers(ctx context.Context, tx *sql.Tx) ([]models.Customer, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT customer_id, customer_name, mobile_number, region FROM customers ORDER BY customer_id")
	if err != nil {
		return nil, classify("read customers", err)
	}
	defer rows.Close()

	var out []models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.CustomerID, &c.CustomerName, &c.MobileNumber, &c.Region); err != nil {
			return nil, classify("scan customer", err)
		}
		out = append(out, c)
	}
	return out, classify("read customers", rows.Err())
}

func (s *Store) readOrders(ctx context.Context, tx *sql.Tx) ([]models.Order, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT order_id, mobile_number, order_date_time, sku_id, sku_count, total_amount FROM orders ORDER BY order_id")
	if err != nil {
		return nil, classify("read orders", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var (
			o      models.Order
			at     any
			amount string
		)
		if err := rows.Scan(&o.OrderID, &o.MobileNumber, &at, &o.SKUID, &o.SKUCount, &amount); err != nil {
			return nil, classify("scan order", err)
		}
		if o.OrderDateTime, err = parseTimeValue(at); err != nil {
			return nil, errors.Wrapf(err, "order %s", o.OrderID)
		}
		o.TotalAmount = readAmount(amount)
		out = append(out, o)
	}
	return out, classify("read orders", rows.Err())
}

// TableStat is the row count of one table.
type TableStat struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// TableStats counts the rows of both tables.
func (s *Store) TableStats(ctx context.Context) ([]TableStat, error) {
	out := make([]TableStat, 0, 2)
	for _, t := range []string{"customers", "orders"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&n); err != nil {
			return nil, classify("count "+t, err)
		}
		out = append(out, TableStat{Table: t, Rows: n})
	}
	return out, nil
}

// Overview returns dataset-level totals for the landing page.
func (s *Store) Overview(ctx context.Context) (models.Overview, error) {
	var (
		ov  models.Overview
		sum string
	)
	q := "SELECT (SELECT COUNT(*) FROM customers), (SELECT COUNT(DISTINCT region) FROM customers), " +
		"(SELECT COUNT(*) FROM orders), (SELECT " + s.dialect.SumMoney("total_amount") + " FROM orders)"
	if err := s.db.QueryRowContext(ctx, q).Scan(&ov.Customers, &ov.Regions, &ov.Orders, &sum); err != nil {
		return ov, classify("overview", err)
	}
	total, err := s.dialect.ParseSum(sum)
	if err != nil {
		return ov, err
	}
	ov.TotalRevenue = total
	return ov, nil
}
