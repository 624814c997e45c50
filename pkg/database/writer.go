package database

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/models"
)

// Writer persists validated ingestion batches, one transaction per batch.
type Writer struct {
	db  *sql.DB
	d   Dialect
	log *logrus.Entry
}

func NewWriter(db *sql.DB, d Dialect, log *logrus.Entry) *Writer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Writer{db: db, d: d, log: log.WithField("component", "writer")}
}

// WriteCustomers replaces the customers table or upserts into it. The batch is
// rolled back if it leaves a mobile number shared by several customers.
func (w *Writer) WriteCustomers(ctx context.Context, cs []models.Customer, mode models.LoadMode) (int, error) {
	n := 0
	err := w.inTx(ctx, "write customers", func(tx *sql.Tx) error {
		if mode == models.LoadReplace {
			if _, err := tx.ExecContext(ctx, "DELETE FROM customers"); err != nil {
				return classify("clear customers", err)
			}
		}
		stmt, err := tx.PrepareContext(ctx, w.d.UpsertCustomer())
		if err != nil {
			return classify("prepare customer upsert", err)
		}
		defer stmt.Close()

		for _, c := range cs {
			if _, err := stmt.ExecContext(ctx, c.CustomerID, c.CustomerName, c.MobileNumber, c.Region); err != nil {
				return classify("upsert customer "+c.CustomerID, err)
			}
			n++
		}

		var mobile string
		err = tx.QueryRowContext(ctx,
			"SELECT mobile_number FROM customers GROUP BY mobile_number HAVING COUNT(*) > 1 ORDER BY mobile_number LIMIT 1").Scan(&mobile)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return classify("check mobile numbers", err)
		}
		return errors.Mark(errors.Newf("mobile number %s would be shared by several customers", mobile), ErrConstraint)
	})
	if err != nil {
		return 0, err
	}
	w.log.WithFields(logrus.Fields{"rows": n, "mode": mode}).Info("customers written")
	return n, nil
}

// WriteOrders replaces the orders table or upserts into it.
func (w *Writer) WriteOrders(ctx context.Context, orders []models.Order, mode models.LoadMode) (int, error) {
	n := 0
	err := w.inTx(ctx, "write orders", func(tx *sql.Tx) error {
		if mode == models.LoadReplace {
			if _, err := tx.ExecContext(ctx, "DELETE FROM orders"); err != nil {
				return classify("clear orders", err)
			}
		}
		stmt, err := tx.PrepareContext(ctx, w.d.UpsertOrder())
		if err != nil {
			return classify("prepare order upsert", err)
		}
		defer stmt.Close()

		for _, o := range orders {
			if _, err := stmt.ExecContext(ctx, o.OrderID, o.MobileNumber, w.d.TimeArg(o.OrderDateTime),
				o.SKUID, o.SKUCount, w.d.MoneyArg(o.TotalAmount)); err != nil {
				return classify("upsert order "+o.OrderID, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	w.log.WithFields(logrus.Fields{"rows": n, "mode": mode}).Info("orders written")
	return n, nil
}

func (w *Writer) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin "+op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			w.log.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}
	return classify("commit "+op, tx.Commit())
}
