package calculator

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

type fakeEval struct {
	rows    []models.Row
	err     error
	calls   int
	lastInv kpi.Invocation
	during  func()
}

func (f *fakeEval) Evaluate(_ context.Context, _ kpi.Spec, inv kpi.Invocation) ([]models.Row, error) {
	f.calls++
	f.lastInv = inv
	if f.during != nil {
		f.during()
	}
	return f.rows, f.err
}

type computeCounter struct {
	hits, misses int
	classes      []string
}

func (c *computeCounter) CacheHit()  { c.hits++ }
func (c *computeCounter) CacheMiss() { c.misses++ }
func (c *computeCounter) ObserveCompute(_, _, class string, _ time.Duration) {
	c.classes = append(c.classes, class)
}

var clockNow = time.Date(2025, 2, 1, 10, 0, 0, 999_000_000, time.UTC)

func newEngine(push, mem kpi.Evaluator, obs Observer) *Engine {
	return NewEngine(push, mem, Options{Clock: func() time.Time { return clockNow }, Observer: obs})
}

func monthRow(month string, n int64, amount string) models.Row {
	return models.Row{models.TextValue(month), models.IntValue(n), models.MoneyValue(decimal.RequireFromString(amount))}
}

func TestCompute_RejectsBadInput(t *testing.T) {
	eng := newEngine(&fakeEval{}, &fakeEval{}, nil)
	ctx := context.Background()

	_, err := eng.Compute(ctx, "churn", "", nil)
	var unknown *kpi.UnknownKPIError
	assert.True(t, errors.As(err, &unknown))

	_, err = eng.Compute(ctx, "monthly_trends", "gpu", nil)
	var invalid *kpi.InvalidParameterError
	assert.True(t, errors.As(err, &invalid))

	_, err = eng.Compute(ctx, "top_customers", "", kpi.Params{kpi.OptLimit: 0})
	assert.True(t, errors.As(err, &invalid))

	_, err = eng.Compute(ctx, "repeat_customers", "", kpi.Params{kpi.OptWindowDays: 7})
	assert.True(t, errors.As(err, &invalid))
}

func TestCompute_CachesPerStrategyAndParams(t *testing.T) {
	push := &fakeEval{rows: []models.Row{monthRow("2025-01", 2, "150.00")}}
	mem := &fakeEval{rows: push.rows}
	obs := &computeCounter{}
	eng := newEngine(push, mem, obs)
	ctx := context.Background()

	first, err := eng.Compute(ctx, "monthly_trends", "", nil)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, models.StrategyPushdown, first.Strategy)
	assert.Equal(t, clockNow.Truncate(time.Second), first.ComputedAt)
	assert.Equal(t, clockNow.Truncate(time.Second), push.lastInv.Now)

	second, err := eng.Compute(ctx, "monthly_trends", "pushdown", nil)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, push.calls)

	_, err = eng.Compute(ctx, "monthly_trends", "in_memory", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, mem.calls)

	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 2, obs.misses)
	assert.Equal(t, []string{"ok", "ok"}, obs.classes)

	eng.Invalidate()
	third, err := eng.Compute(ctx, "monthly_trends", "", nil)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, push.calls)
}

func TestCompute_ResolvedDefaultsShareCacheEntry(t *testing.T) {
	push := &fakeEval{}
	eng := newEngine(push, &fakeEval{}, nil)
	ctx := context.Background()

	res, err := eng.Compute(ctx, "top_customers", "", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{kpi.OptWindowDays: 30, kpi.OptLimit: 10}, res.Params)
	assert.Equal(t, 30, push.lastInv.Options.WindowDays)

	res, err = eng.Compute(ctx, "top_customers", "", kpi.Params{kpi.OptWindowDays: 30, kpi.OptLimit: 10})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, push.calls)
}

func TestCompute_InvalidationDuringComputationIsNotCached(t *testing.T) {
	push := &fakeEval{}
	eng := newEngine(push, &fakeEval{}, nil)
	push.during = eng.Invalidate
	ctx := context.Background()

	_, err := eng.Compute(ctx, "monthly_trends", "", nil)
	require.NoError(t, err)
	push.during = nil

	res, err := eng.Compute(ctx, "monthly_trends", "", nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 2, push.calls)
}

func TestCompute_ErrorsAreNotCached(t *testing.T) {
	push := &fakeEval{err: kpi.Unavailable("kpi query", errors.New("connection reset"))}
	obs := &computeCounter{}
	eng := newEngine(push, &fakeEval{}, obs)

	_, err := eng.Compute(context.Background(), "monthly_trends", "", nil)
	assert.True(t, kpi.IsRetryable(err))
	_, err = eng.Compute(context.Background(), "monthly_trends", "", nil)
	assert.Error(t, err)
	assert.Equal(t, 2, push.calls)
	assert.Equal(t, []string{"data_unavailable", "data_unavailable"}, obs.classes)
}

func TestComputeAll_PassesOptionsOnlyWhereRecognized(t *testing.T) {
	push := &fakeEval{}
	eng := newEngine(push, &fakeEval{}, nil)

	results, err := eng.ComputeAll(context.Background(), "", kpi.Params{kpi.OptLimit: 3})
	require.NoError(t, err)
	require.Len(t, results, len(models.AllKPIs))
	for i, r := range results {
		assert.Equal(t, models.AllKPIs[i], r.KPI)
	}
	assert.Equal(t, map[string]int{kpi.OptWindowDays: 30, kpi.OptLimit: 3}, results[3].Params)
	assert.Empty(t, results[0].Params)
}

func TestCatalog(t *testing.T) {
	eng := newEngine(&fakeEval{}, &fakeEval{}, nil)
	cat := eng.Catalog()
	require.Len(t, cat, 4)
	assert.Equal(t, models.RepeatCustomers, cat[0].Name)
	assert.Equal(t, []string{"month_year", "total_orders", "total_revenue"}, cat[1].Columns)
	assert.Equal(t, []string{kpi.OptWindowDays, kpi.OptLimit}, cat[3].Options)
}
