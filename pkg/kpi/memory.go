package kpi

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"kpi-dashboard/pkg/models"
)

// ============================================================================
// IN-MEMORY STRATEGY : group → aggregate → having → sort → limit
// ============================================================================

// Memory evaluates specs over a dataset materialized from its source.
type Memory struct {
	src DatasetSource
}

var _ Evaluator = (*Memory)(nil)

// NewMemory returns the in-memory evaluator.
func NewMemory(src DatasetSource) *Memory {
	return &Memory{src: src}
}

// Evaluate loads a fresh snapshot and evaluates spec over it.
func (m *Memory) Evaluate(ctx context.Context, spec Spec, inv Invocation) ([]models.Row, error) {
	ds, err := m.src.LoadDataset(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "load dataset for %s", spec.Name)
	}
	return EvaluateDataset(spec, inv, ds)
}

// EvaluateDataset is the pure part of the in-memory strategy.
func EvaluateDataset(spec Spec, inv Invocation, ds *Dataset) ([]models.Row, error) {
	if err := CheckIntegrity(spec, ds); err != nil {
		return nil, err
	}

	var keep func(models.Order) bool
	if spec.Windowed {
		start := inv.WindowStart()
		keep = func(o models.Order) bool { return !o.OrderDateTime.Before(start) }
	}
	view := Join(spec.Join, ds, keep)

	groups := groupRows(spec, view)
	rows := make([]models.Row, 0, len(groups))
	for _, g := range groups {
		row := g.finalize(spec)
		if spec.Having != nil && row[spec.ColumnIndex(spec.Having.Aggregate)].Int <= spec.Having.Min {
			continue
		}
		rows = append(rows, row)
	}

	SortRows(spec, rows)

	if spec.Limited && inv.Options.Limit > 0 && len(rows) > inv.Options.Limit {
		rows = rows[:inv.Options.Limit]
	}
	return rows, nil
}

// ============================================================================
// GROUPING
// ============================================================================

type accumulator struct {
	count int64 // rows carrying an order
	sum   decimal.Decimal
}

type group struct {
	keys []string
	acc  []accumulator // one per aggregate
}

func groupRows(spec Spec, view []models.JoinedRow) []*group {
	index := make(map[string]*group)
	order := make([]*group, 0)

	keys := make([]string, len(spec.GroupBy))
	for _, r := range view {
		for i, g := range spec.GroupBy {
			keys[i] = fieldText(r, g.Field, g.Bucket)
		}
		k := strings.Join(keys, "\x00")
		grp, ok := index[k]
		if !ok {
			grp = &group{keys: append([]string(nil), keys...), acc: make([]accumulator, len(spec.Aggregates))}
			for i := range grp.acc {
				grp.acc[i].sum = decimal.Zero
			}
			index[k] = grp
			order = append(order, grp)
		}
		if !r.HasOrder {
			continue
		}
		for i, a := range spec.Aggregates {
			grp.acc[i].count++
			if a.Func != AggCount {
				grp.acc[i].sum = grp.acc[i].sum.Add(r.TotalAmount)
			}
		}
	}
	return order
}

func (g *group) finalize(spec Spec) models.Row {
	row := make(models.Row, 0, len(g.keys)+len(g.acc))
	for _, k := range g.keys {
		row = append(row, models.TextValue(k))
	}
	for i, a := range spec.Aggregates {
		acc := g.acc[i]
		switch a.Func {
		case AggCount:
			row = append(row, models.IntValue(acc.count))
		case AggSum:
			row = append(row, models.MoneyValue(acc.sum))
		case AggAvg:
			row = append(row, models.MoneyValue(Average(acc.sum, acc.count)))
		}
	}
	return row
}

// ============================================================================
// SORTING
// ============================================================================

// SortRows orders rows by the spec's sort keys. Text compares bytewise, which is
// what the binary collations of the SQL schema do.
func SortRows(spec Spec, rows []models.Row) {
	idx := make([]int, len(spec.OrderBy))
	for i, k := range spec.OrderBy {
		idx[i] = spec.ColumnIndex(k.Column)
	}
	sort.SliceStable(rows, func(a, b int) bool {
		for i, k := range spec.OrderBy {
			c := compareValues(rows[a][idx[i]], rows[b][idx[i]])
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareValues(a, b models.Value) int {
	switch a.Kind {
	case models.KindInt:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		}
		return 0
	case models.KindMoney:
		return a.Money.Cmp(b.Money)
	}
	return strings.Compare(a.Text, b.Text)
}
