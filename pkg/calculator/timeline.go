package calculator

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

// FillMonthGaps returns a copy of a monthly_trends result with a zero row for every
// month missing between the first and last month present. Other results are
// returned unchanged. The sparse result stays the canonical one.
func FillMonthGaps(res *models.KPIResult) (*models.KPIResult, error) {
	if res.KPI != models.MonthlyTrends || len(res.Rows) < 2 {
		return res, nil
	}
	spec, err := kpi.Lookup(string(res.KPI))
	if err != nil {
		return nil, err
	}
	mi := spec.ColumnIndex("month_year")

	first, err := parseMonth(res.Rows[0][mi].Text)
	if err != nil {
		return nil, err
	}
	last, err := parseMonth(res.Rows[len(res.Rows)-1][mi].Text)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[string]models.Row, len(res.Rows))
	for _, r := range res.Rows {
		byMonth[r[mi].Text] = r
	}
	cols := spec.Columns()
	var rows []models.Row
	for _, m := range monthsBetweenInclusive(first, last) {
		key := formatMonth(m)
		if r, ok := byMonth[key]; ok {
			rows = append(rows, r)
			continue
		}
		zero := make(models.Row, len(cols))
		for i, c := range cols {
			switch c.Kind {
			case models.KindInt:
				zero[i] = models.IntValue(0)
			case models.KindMoney:
				zero[i] = models.MoneyValue(decimal.Zero)
			default:
				zero[i] = models.TextValue("")
			}
		}
		zero[mi] = models.TextValue(key)
		rows = append(rows, zero)
	}

	out := *res
	out.Rows = rows
	out.Summary = kpi.Summarize(spec, rows)
	return &out, nil
}

// parseMonth("YYYY-MM") -> first day of the month, UTC
func parseMonth(yyyymm string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01", yyyymm, time.UTC)
	if err != nil {
		return time.Time{}, errors.Newf("expected YYYY-MM (e.g. 2025-01), got %q", yyyymm)
	}
	return t, nil
}

func monthsBetweenInclusive(start, end time.Time) []time.Time {
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for !cur.After(last) {
		out = append(out, cur)
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

func formatMonth(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}
