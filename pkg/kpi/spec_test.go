package kpi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpi-dashboard/pkg/models"
)

func TestRegistrySpecsAreValid(t *testing.T) {
	specs := Specs()
	require.Len(t, specs, len(models.AllKPIs))
	for _, s := range specs {
		assert.NoError(t, s.Validate(), s.Name)
	}
}

func TestValidateRejectsSortOnAverage(t *testing.T) {
	s, err := Lookup(string(models.RegionalRevenue))
	require.NoError(t, err)
	s.OrderBy = []SortKey{{Column: "avg_order_value", Desc: true}}
	assert.Error(t, s.Validate())
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("churn_rate")
	var unknown *UnknownKPIError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "churn_rate", unknown.Name)
	assert.Equal(t, "unknown_kpi", Class(err))
}

func TestResolve(t *testing.T) {
	top, _ := Lookup(string(models.TopCustomers))
	repeat, _ := Lookup(string(models.RepeatCustomers))

	opts, err := Resolve(top, nil)
	require.NoError(t, err)
	assert.Equal(t, Options{WindowDays: 30, Limit: 10}, opts)
	assert.Equal(t, map[string]int{"window_days": 30, "limit": 10}, opts.Map(top))

	opts, err = Resolve(top, Params{OptWindowDays: 7, OptLimit: 3})
	require.NoError(t, err)
	assert.Equal(t, Options{WindowDays: 7, Limit: 3}, opts)

	opts, err = Resolve(repeat, nil)
	require.NoError(t, err)
	assert.Empty(t, opts.Map(repeat))
}

func TestResolveRejectsInvalid(t *testing.T) {
	top, _ := Lookup(string(models.TopCustomers))
	repeat, _ := Lookup(string(models.RepeatCustomers))

	tests := []struct {
		name  string
		spec  Spec
		raw   Params
		field string
	}{
		{"zero window", top, Params{OptWindowDays: 0}, OptWindowDays},
		{"negative limit", top, Params{OptLimit: -1}, OptLimit},
		{"unknown option", top, Params{"offset": 5}, "offset"},
		{"window on repeat customers", repeat, Params{OptWindowDays: 30}, OptWindowDays},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.spec, tt.raw)
			var invalid *InvalidParameterError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams(map[string]string{"window_days": " 14 ", "limit": ""})
	require.NoError(t, err)
	assert.Equal(t, Params{"window_days": 14}, p)

	_, err = ParseParams(map[string]string{"limit": "ten"})
	var invalid *InvalidParameterError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "limit", invalid.Field)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("", models.StrategyPushdown)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyPushdown, s)

	s, err = ParseStrategy("in_memory", models.StrategyPushdown)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyInMemory, s)

	_, err = ParseStrategy("spark", models.StrategyPushdown)
	assert.Error(t, err)
}

func TestCanonical(t *testing.T) {
	spec, _ := Lookup(string(models.TopCustomers))
	res := &models.KPIResult{
		KPI:     spec.Name,
		Params:  map[string]int{"window_days": 30, "limit": 1},
		Columns: spec.Columns(),
		Rows: []models.Row{{
			models.TextValue("C1"),
			models.TextValue("Alice \"A\""),
			models.IntValue(2),
			models.MoneyValue(decimal.RequireFromString("250")),
		}},
		ComputedAt: time.Now(),
		Strategy:   models.StrategyInMemory,
	}
	want := `{"kpi":"top_customers","params":{"limit":1,"window_days":30},` +
		`"columns":["customer_id","customer_name","order_count","total_spend"],` +
		`"rows":[{"customer_id":"C1","customer_name":"Alice \"A\"","order_count":2,"total_spend":250.00}]}`
	assert.Equal(t, want, string(Canonical(res)))

	// strategy and timestamp are not part of the canonical form
	other := *res
	other.Strategy = models.StrategyPushdown
	other.ComputedAt = time.Time{}
	assert.Equal(t, Canonical(res), Canonical(&other))
}

func TestSummarize(t *testing.T) {
	spec, _ := Lookup(string(models.RegionalRevenue))
	ds := scenarioDataset()
	rows, err := EvaluateDataset(spec, Invocation{Now: fixedNow}, ds)
	require.NoError(t, err)

	sum := Summarize(spec, rows)
	require.Len(t, sum, 3)
	assert.Equal(t, "row_count", sum[0].Name)
	assert.Equal(t, int64(2), sum[0].Value.Int)
	assert.Equal(t, "sum_total_orders", sum[1].Name)
	assert.Equal(t, int64(3), sum[1].Value.Int)
	assert.Equal(t, "300.00", sum[2].Value.String())
}
