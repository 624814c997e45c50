package kpi

import (
	"context"

	"github.com/shopspring/decimal"

	"kpi-dashboard/pkg/models"
)

// Evaluator computes the rows of a KPI spec. The push-down and in-memory
// strategies both implement it and must agree row for row.
type Evaluator interface {
	Evaluate(ctx context.Context, spec Spec, inv Invocation) ([]models.Row, error)
}

// Dataset is a materialized snapshot of both base tables.
type Dataset struct {
	Customers []models.Customer
	Orders    []models.Order
}

// DatasetSource materializes the base tables for the in-memory strategy.
type DatasetSource interface {
	LoadDataset(ctx context.Context) (*Dataset, error)
}

// DatasetFunc adapts a function to DatasetSource.
type DatasetFunc func(ctx context.Context) (*Dataset, error)

func (f DatasetFunc) LoadDataset(ctx context.Context) (*Dataset, error) { return f(ctx) }

// Average is the shared finalizer of AggAvg: sum/count rounded half away from zero
// to cents, zero when there is nothing to average.
func Average(sum decimal.Decimal, count int64) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return sum.DivRound(decimal.NewFromInt(count), 2)
}

// Summarize totals the spec's summary columns over rows.
func Summarize(spec Spec, rows []models.Row) []models.SummaryField {
	out := []models.SummaryField{{Name: "row_count", Value: models.IntValue(int64(len(rows)))}}
	cols := spec.Columns()
	for _, name := range spec.Totals {
		i := spec.ColumnIndex(name)
		if i < 0 {
			continue
		}
		switch cols[i].Kind {
		case models.KindInt:
			var n int64
			for _, r := range rows {
				n += r[i].Int
			}
			out = append(out, models.SummaryField{Name: "sum_" + name, Value: models.IntValue(n)})
		case models.KindMoney:
			total := decimal.Zero
			for _, r := range rows {
				total = total.Add(r[i].Money)
			}
			out = append(out, models.SummaryField{Name: "sum_" + name, Value: models.MoneyValue(total)})
		}
	}
	return out
}
