package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

/*
COMPILE → one SQL statement per KPI spec
*/

type scanKind int

const (
	scanText scanKind = iota
	scanInt
	scanSum
	scanAvg // two columns: exact sum then count
)

// Query is a compiled KPI spec.
type Query struct {
	SQL   string
	Args  []any
	scans []scanKind
}

// Compile translates spec into a single statement of dialect d.
func Compile(spec kpi.Spec, inv kpi.Invocation, d Dialect) (*Query, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	q := &Query{}

	var sel, group []string
	for _, g := range spec.GroupBy {
		expr := column(spec.Join, g.Field)
		if g.Bucket == kpi.BucketMonth {
			expr = d.MonthBucket(expr)
		}
		sel = append(sel, expr+" AS "+g.Name)
		group = append(group, expr)
		q.scans = append(q.scans, scanText)
	}
	aggExpr := map[string]string{}
	for _, a := range spec.Aggregates {
		col := column(spec.Join, a.Field)
		switch a.Func {
		case kpi.AggCount:
			aggExpr[a.Name] = "COUNT(" + col + ")"
			sel = append(sel, aggExpr[a.Name]+" AS "+a.Name)
			q.scans = append(q.scans, scanInt)
		case kpi.AggSum:
			aggExpr[a.Name] = d.SumMoney(col)
			sel = append(sel, aggExpr[a.Name]+" AS "+a.Name)
			q.scans = append(q.scans, scanSum)
		case kpi.AggAvg:
			sel = append(sel, d.SumMoney(col)+" AS "+a.Name+"_sum", "COUNT("+col+") AS "+a.Name+"_n")
			q.scans = append(q.scans, scanAvg)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(sel, ", "))
	switch spec.Join {
	case kpi.JoinNone:
		b.WriteString(" FROM orders o")
	case kpi.JoinInner:
		b.WriteString(" FROM customers c JOIN orders o ON o.mobile_number = c.mobile_number")
	case kpi.JoinLeft:
		b.WriteString(" FROM customers c LEFT JOIN orders o ON o.mobile_number = c.mobile_number")
	}
	if spec.Windowed {
		// left joins filter in ON so customers without recent orders survive
		if spec.Join == kpi.JoinLeft {
			b.WriteString(" AND o.order_date_time >= ?")
		} else {
			b.WriteString(" WHERE o.order_date_time >= ?")
		}
		q.Args = append(q.Args, d.TimeArg(inv.WindowStart()))
	}
	b.WriteString(" GROUP BY ")
	b.WriteString(strings.Join(group, ", "))
	if spec.Having != nil {
		b.WriteString(" HAVING " + aggExpr[spec.Having.Aggregate] + " > ?")
		q.Args = append(q.Args, spec.Having.Min)
	}
	order := make([]string, 0, len(spec.OrderBy))
	for _, k := range spec.OrderBy {
		dir := " ASC"
		if k.Desc {
			dir = " DESC"
		}
		order = append(order, k.Column+dir)
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(order, ", "))
	if spec.Limited && inv.Options.Limit > 0 {
		b.WriteString(" LIMIT ?")
		q.Args = append(q.Args, inv.Options.Limit)
	}

	q.SQL = d.Rebind(b.String())
	return q, nil
}

func column(join kpi.JoinKind, f kpi.Field) string {
	switch f {
	case kpi.FieldCustomerID, kpi.FieldCustomerName, kpi.FieldRegion:
		return "c." + string(f)
	case kpi.FieldMobileNumber:
		if join == kpi.JoinNone {
			return "o.mobile_number"
		}
		return "c.mobile_number"
	}
	return "o." + string(f)
}

/*
EVALUATE → integrity checks + compiled statement within one snapshot
*/

// Pushdown evaluates specs inside the Data Store.
type Pushdown struct {
	db  *sql.DB
	d   Dialect
	log *logrus.Entry
}

var _ kpi.Evaluator = (*Pushdown)(nil)

func NewPushdown(db *sql.DB, d Dialect, log *logrus.Entry) *Pushdown {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pushdown{db: db, d: d, log: log.WithField("component", "pushdown")}
}

// Evaluate runs the integrity checks then the compiled statement.
func (p *Pushdown) Evaluate(ctx context.Context, spec kpi.Spec, inv kpi.Invocation) (rows []models.Row, err error) {
	q, err := Compile(spec, inv, p.d)
	if err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, p.d.SnapshotTx())
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

	if err := p.checkIntegrity(ctx, tx, spec); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err = p.run(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	p.log.WithFields(logrus.Fields{
		"kpi":     spec.Name,
		"rows":    len(rows),
		"elapsed": time.Since(start).String(),
	}).Debug("push-down query done")
	return rows, nil
}

func (p *Pushdown) run(ctx context.Context, tx *sql.Tx, q *Query) ([]models.Row, error) {
	res, err := tx.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, classify("kpi query", err)
	}
	defer res.Close()

	out := make([]models.Row, 0)
	for res.Next() {
		var dest []any
		texts := make([]string, len(q.scans))
		ints := make([]int64, len(q.scans))
		sums := make([]string, len(q.scans))
		for i, k := range q.scans {
			switch k {
			case scanText:
				dest = append(dest, &texts[i])
			case scanInt:
				dest = append(dest, &ints[i])
			case scanSum:
				dest = append(dest, &sums[i])
			case scanAvg:
				dest = append(dest, &sums[i], &ints[i])
			}
		}
		if err := res.Scan(dest...); err != nil {
			return nil, classify("scan kpi row", err)
		}

		row := make(models.Row, len(q.scans))
		for i, k := range q.scans {
			switch k {
			case scanText:
				row[i] = models.TextValue(texts[i])
			case scanInt:
				row[i] = models.IntValue(ints[i])
			case scanSum, scanAvg:
				sum, err := p.d.ParseSum(sums[i])
				if err != nil {
					return nil, err
				}
				if k == scanAvg {
					sum = kpi.Average(sum, ints[i])
				}
				row[i] = models.MoneyValue(sum)
			}
		}
		out = append(out, row)
	}
	return out, classify("kpi query", res.Err())
}

// checkIntegrity mirrors kpi.CheckIntegrity, check for check and in the same order.
func (p *Pushdown) checkIntegrity(ctx context.Context, tx *sql.Tx, spec kpi.Spec) error {
	if spec.Join != kpi.JoinNone {
		id, found, err := p.first(ctx, tx,
			"SELECT customer_id FROM customers WHERE customer_id = '' OR mobile_number = '' ORDER BY customer_id LIMIT 1")
		if err != nil {
			return err
		}
		if found {
			return kpi.MalformedCustomer(spec.Name, id)
		}
		mobile, found, err := p.first(ctx, tx,
			"SELECT mobile_number FROM customers GROUP BY mobile_number HAVING COUNT(*) > 1 ORDER BY mobile_number LIMIT 1")
		if err != nil {
			return err
		}
		if found {
			return kpi.DuplicateMobile(spec.Name, mobile)
		}
	}
	id, found, err := p.first(ctx, tx,
		"SELECT order_id FROM orders WHERE sku_count <= 0 OR "+p.d.InvalidMoney("total_amount")+" OR mobile_number = '' ORDER BY order_id LIMIT 1")
	if err != nil {
		return err
	}
	if found {
		return kpi.MalformedOrder(spec.Name, id)
	}
	return nil
}

func (p *Pushdown) first(ctx context.Context, tx *sql.Tx, q string) (string, bool, error) {
	var v string
	err := tx.QueryRowContext(ctx, q).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("integrity check", err)
	}
	return v, true, nil
}
