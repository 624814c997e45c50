package calculator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

func TestParseMonth_Valid(t *testing.T) {
	got, err := parseMonth("2025-03")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestParseMonth_Invalid(t *testing.T) {
	for _, in := range []string{"032025", "2025-13", "2025-3", ""} {
		_, err := parseMonth(in)
		require.Error(t, err, in)
		assert.Contains(t, err.Error(), "expected YYYY-MM", in)
	}
}

func TestMonthsBetweenInclusive(t *testing.T) {
	start := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	got := monthsBetweenInclusive(start, end)
	require.Len(t, got, 4)
	assert.Equal(t, time.November, got[0].Month())
	assert.Equal(t, time.February, got[3].Month())
}

func TestFormatMonth(t *testing.T) {
	assert.Equal(t, "2025-11", formatMonth(time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFillMonthGaps(t *testing.T) {
	spec, err := kpi.Lookup(string(models.MonthlyTrends))
	require.NoError(t, err)
	rows := []models.Row{monthRow("2024-11", 2, "10.00"), monthRow("2025-02", 1, "5.50")}
	res := &models.KPIResult{KPI: models.MonthlyTrends, Columns: spec.Columns(), Rows: rows, Summary: kpi.Summarize(spec, rows)}

	dense, err := FillMonthGaps(res)
	require.NoError(t, err)
	var got [][]string
	for _, r := range dense.Rows {
		got = append(got, []string{r[0].String(), r[1].String(), r[2].String()})
	}
	assert.Equal(t, [][]string{
		{"2024-11", "2", "10.00"},
		{"2024-12", "0", "0.00"},
		{"2025-01", "0", "0.00"},
		{"2025-02", "1", "5.50"},
	}, got)
	assert.Equal(t, int64(4), dense.Summary[0].Value.Int)
	assert.Len(t, res.Rows, 2, "input is not modified")

	other := &models.KPIResult{KPI: models.RegionalRevenue}
	same, err := FillMonthGaps(other)
	require.NoError(t, err)
	assert.Same(t, other, same)
}
