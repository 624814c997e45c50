package kpi

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"kpi-dashboard/pkg/models"
)

// ============================================================================
// KPI SPECS : each KPI is data, both strategies interpret the same value
// ============================================================================

// JoinKind selects how customers and orders are combined.
type JoinKind int

const (
	// JoinNone reads orders only; orders without a matching customer are kept.
	JoinNone JoinKind = iota
	// JoinInner keeps orders that match a customer.
	JoinInner
	// JoinLeft keeps every customer, with or without orders.
	JoinLeft
)

func (j JoinKind) String() string {
	switch j {
	case JoinInner:
		return "inner"
	case JoinLeft:
		return "left"
	}
	return "none"
}

// Field names one column of the canonical joined view.
type Field string

const (
	FieldCustomerID    Field = "customer_id"
	FieldCustomerName  Field = "customer_name"
	FieldMobileNumber  Field = "mobile_number"
	FieldRegion        Field = "region"
	FieldOrderID       Field = "order_id"
	FieldOrderDateTime Field = "order_date_time"
	FieldSKUID         Field = "sku_id"
	FieldSKUCount      Field = "sku_count"
	FieldTotalAmount   Field = "total_amount"
)

// Bucket transforms a group key before grouping.
type Bucket int

const (
	BucketNone Bucket = iota
	// BucketMonth formats a timestamp as YYYY-MM in UTC.
	BucketMonth
)

// GroupKey is one GROUP BY term, output as a text column.
type GroupKey struct {
	Name   string
	Field  Field
	Bucket Bucket
}

// AggFunc is an aggregate function.
type AggFunc int

const (
	AggCount AggFunc = iota // count of non-null values (orders only)
	AggSum                  // exact money sum, 0 when empty
	AggAvg                  // sum / count rounded to cents, 0 when empty
)

// Aggregate is one output measure.
type Aggregate struct {
	Name  string
	Func  AggFunc
	Field Field
}

// Kind is the output type of the aggregate.
func (a Aggregate) Kind() models.ValueKind {
	if a.Func == AggCount {
		return models.KindInt
	}
	return models.KindMoney
}

// Having keeps groups whose count aggregate is strictly greater than Min.
type Having struct {
	Aggregate string
	Min       int64
}

// SortKey orders the output by a named column.
type SortKey struct {
	Column string
	Desc   bool
}

// Spec is the declarative description of a KPI.
type Spec struct {
	Name        models.KPIName
	Title       string
	Description string
	Join        JoinKind
	GroupBy     []GroupKey
	Aggregates  []Aggregate
	Windowed    bool // order_date_time >= now - window_days
	Having      *Having
	OrderBy     []SortKey
	Limited     bool     // top `limit` rows
	Totals      []string // columns summed into the result summary
}

// Columns returns the output columns: group keys then aggregates.
func (s Spec) Columns() []models.Column {
	cols := make([]models.Column, 0, len(s.GroupBy)+len(s.Aggregates))
	for _, g := range s.GroupBy {
		cols = append(cols, models.Column{Name: g.Name, Kind: models.KindText})
	}
	for _, a := range s.Aggregates {
		cols = append(cols, models.Column{Name: a.Name, Kind: a.Kind()})
	}
	return cols
}

// ColumnIndex returns the position of a named output column, or -1.
func (s Spec) ColumnIndex(name string) int {
	for i, c := range s.Columns() {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Options lists the parameters the KPI recognizes.
func (s Spec) Options() []string {
	var out []string
	if s.Windowed {
		out = append(out, OptWindowDays)
	}
	if s.Limited {
		out = append(out, OptLimit)
	}
	return out
}

// Info returns the catalog entry of the KPI.
func (s Spec) Info() models.KPIInfo {
	cols := s.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return models.KPIInfo{
		Name:        s.Name,
		Title:       s.Title,
		Description: s.Description,
		Columns:     names,
		Options:     s.Options(),
	}
}

// Validate checks that the spec is interpretable by both strategies.
func (s Spec) Validate() error {
	if len(s.GroupBy) == 0 {
		return errors.Newf("kpi %s: no group keys", s.Name)
	}
	seen := map[string]bool{}
	for _, c := range s.Columns() {
		if seen[c.Name] {
			return errors.Newf("kpi %s: duplicate column %s", s.Name, c.Name)
		}
		seen[c.Name] = true
	}
	for _, g := range s.GroupBy {
		if g.Bucket == BucketMonth && g.Field != FieldOrderDateTime {
			return errors.Newf("kpi %s: month bucket on %s", s.Name, g.Field)
		}
		if s.Join == JoinNone && isCustomerField(g.Field) {
			return errors.Newf("kpi %s: customer field %s without a join", s.Name, g.Field)
		}
	}
	for _, a := range s.Aggregates {
		if a.Func != AggCount && a.Field != FieldTotalAmount {
			return errors.Newf("kpi %s: %s aggregates non-money field %s", s.Name, a.Name, a.Field)
		}
	}
	if s.Having != nil {
		i := s.ColumnIndex(s.Having.Aggregate)
		if i < 0 || s.Columns()[i].Kind != models.KindInt {
			return errors.Newf("kpi %s: having on %q needs a count column", s.Name, s.Having.Aggregate)
		}
	}
	if len(s.OrderBy) == 0 {
		return errors.Newf("kpi %s: no sort keys", s.Name)
	}
	for _, k := range s.OrderBy {
		if s.ColumnIndex(k.Column) < 0 {
			return errors.Newf("kpi %s: sort on unknown column %q", s.Name, k.Column)
		}
		for _, a := range s.Aggregates {
			// averages are finalized after the query, so they cannot drive SQL ordering
			if a.Name == k.Column && a.Func == AggAvg {
				return errors.Newf("kpi %s: sort on average %q", s.Name, k.Column)
			}
		}
	}
	for _, t := range s.Totals {
		i := s.ColumnIndex(t)
		if i < 0 || s.Columns()[i].Kind == models.KindText {
			return errors.Newf("kpi %s: total on %q", s.Name, t)
		}
	}
	return nil
}

func isCustomerField(f Field) bool {
	switch f {
	case FieldCustomerID, FieldCustomerName, FieldRegion:
		return true
	}
	return false
}

// ============================================================================
// REGISTRY
// ============================================================================

var registry = map[models.KPIName]Spec{
	models.RepeatCustomers: {
		Name:        models.RepeatCustomers,
		Title:       "Repeat Customers",
		Description: "Customers who have placed more than one order",
		Join:        JoinInner,
		GroupBy: []GroupKey{
			{Name: "customer_id", Field: FieldCustomerID},
			{Name: "customer_name", Field: FieldCustomerName},
		},
		Aggregates: []Aggregate{
			{Name: "order_count", Func: AggCount, Field: FieldOrderID},
			{Name: "total_spent", Func: AggSum, Field: FieldTotalAmount},
		},
		Having:  &Having{Aggregate: "order_count", Min: 1},
		OrderBy: []SortKey{{Column: "order_count", Desc: true}, {Column: "total_spent", Desc: true}, {Column: "customer_id"}},
		Totals:  []string{"order_count", "total_spent"},
	},
	models.MonthlyTrends: {
		Name:        models.MonthlyTrends,
		Title:       "Monthly Order Trends",
		Description: "Orders and revenue aggregated by calendar month (UTC)",
		Join:        JoinNone,
		GroupBy: []GroupKey{
			{Name: "month_year", Field: FieldOrderDateTime, Bucket: BucketMonth},
		},
		Aggregates: []Aggregate{
			{Name: "total_orders", Func: AggCount, Field: FieldOrderID},
			{Name: "total_revenue", Func: AggSum, Field: FieldTotalAmount},
		},
		OrderBy: []SortKey{{Column: "month_year"}},
		Totals:  []string{"total_orders", "total_revenue"},
	},
	models.RegionalRevenue: {
		Name:        models.RegionalRevenue,
		Title:       "Regional Revenue",
		Description: "Orders and revenue by customer region, regions without orders included",
		Join:        JoinLeft,
		GroupBy: []GroupKey{
			{Name: "region", Field: FieldRegion},
		},
		Aggregates: []Aggregate{
			{Name: "total_orders", Func: AggCount, Field: FieldOrderID},
			{Name: "total_revenue", Func: AggSum, Field: FieldTotalAmount},
			{Name: "avg_order_value", Func: AggAvg, Field: FieldTotalAmount},
		},
		OrderBy: []SortKey{{Column: "total_revenue", Desc: true}, {Column: "region"}},
		Totals:  []string{"total_orders", "total_revenue"},
	},
	models.TopCustomers: {
		Name:        models.TopCustomers,
		Title:       "Top Customers",
		Description: "Customers with the highest spend over a trailing window",
		Join:        JoinInner,
		GroupBy: []GroupKey{
			{Name: "customer_id", Field: FieldCustomerID},
			{Name: "customer_name", Field: FieldCustomerName},
		},
		Aggregates: []Aggregate{
			{Name: "order_count", Func: AggCount, Field: FieldOrderID},
			{Name: "total_spend", Func: AggSum, Field: FieldTotalAmount},
		},
		Windowed: true,
		OrderBy:  []SortKey{{Column: "total_spend", Desc: true}, {Column: "order_count", Desc: true}, {Column: "customer_id"}},
		Limited:  true,
		Totals:   []string{"order_count", "total_spend"},
	},
}

// Lookup returns the spec of a KPI or an UnknownKPIError.
func Lookup(name string) (Spec, error) {
	s, ok := registry[models.KPIName(name)]
	if !ok {
		return Spec{}, &UnknownKPIError{Name: name}
	}
	return s, nil
}

// Specs returns all specs in catalog order.
func Specs() []Spec {
	out := make([]Spec, 0, len(models.AllKPIs))
	for _, n := range models.AllKPIs {
		out = append(out, registry[n])
	}
	return out
}

func (s Spec) String() string {
	return fmt.Sprintf("%s(join=%s, groups=%d, aggregates=%d)", s.Name, s.Join, len(s.GroupBy), len(s.Aggregates))
}
