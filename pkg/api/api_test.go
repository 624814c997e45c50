package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpi-dashboard/pkg/calculator"
	"kpi-dashboard/pkg/database"
	"kpi-dashboard/pkg/ingestion"
	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dataset() *kpi.Dataset {
	return &kpi.Dataset{
		Customers: []models.Customer{
			{CustomerID: "C1", CustomerName: "Alice", MobileNumber: "+33600000001", Region: "North"},
			{CustomerID: "C2", CustomerName: "Bob", MobileNumber: "+33600000002", Region: "South"},
		},
		Orders: []models.Order{
			{OrderID: "O1", MobileNumber: "+33600000001", OrderDateTime: at("2025-01-10 09:00:00"), SKUID: "S1", SKUCount: 1, TotalAmount: decimal.RequireFromString("100.00")},
			{OrderID: "O2", MobileNumber: "+33600000001", OrderDateTime: at("2025-01-28 18:30:00"), SKUID: "S2", SKUCount: 2, TotalAmount: decimal.RequireFromString("50.50")},
			{OrderID: "O3", MobileNumber: "+33600000002", OrderDateTime: at("2025-03-05 12:00:00"), SKUID: "S1", SKUCount: 1, TotalAmount: decimal.RequireFromString("20.00")},
		},
	}
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func memoryOver(ds *kpi.Dataset) kpi.Evaluator {
	return kpi.NewMemory(kpi.DatasetFunc(func(context.Context) (*kpi.Dataset, error) { return ds, nil }))
}

type fakeLoader struct {
	body []byte
	mode models.LoadMode
	err  error
}

func (l *fakeLoader) load(entity string, r io.Reader, mode models.LoadMode) (models.LoadReport, error) {
	b, _ := io.ReadAll(r)
	l.body, l.mode = b, mode
	rep := models.LoadReport{BatchID: "batch-1", Entity: entity, Mode: mode}
	if l.err != nil {
		rep.Errors = []string{l.err.Error()}
		return rep, l.err
	}
	rep.RecordsRead, rep.RecordsLoaded, rep.Success = 1, 1, true
	return rep, nil
}

func (l *fakeLoader) LoadCustomers(_ context.Context, r io.Reader, mode models.LoadMode) (models.LoadReport, error) {
	return l.load("customers", r, mode)
}

func (l *fakeLoader) LoadOrders(_ context.Context, r io.Reader, mode models.LoadMode) (models.LoadReport, error) {
	return l.load("orders", r, mode)
}

type fakeStore struct{ err error }

func (s fakeStore) Ping(context.Context) error { return s.err }

func (s fakeStore) Overview(context.Context) (models.Overview, error) {
	return models.Overview{Customers: 2, Orders: 3, Regions: 2, TotalRevenue: decimal.RequireFromString("170.50")}, s.err
}

func (s fakeStore) TableStats(context.Context) ([]database.TableStat, error) {
	return []database.TableStat{{Table: "customers", Rows: 2}, {Table: "orders", Rows: 3}}, s.err
}

type fixture struct {
	router http.Handler
	loader *fakeLoader
}

func newFixture(t *testing.T, push kpi.Evaluator, store Store) *fixture {
	t.Helper()
	eng := calculator.NewEngine(push, memoryOver(dataset()), calculator.Options{
		Clock: func() time.Time { return at("2025-03-10 08:00:00") },
		Log:   quietLog(),
	})
	f := &fixture{loader: &fakeLoader{}}
	router, err := NewRouter(Deps{
		Engine:  eng,
		Loader:  f.loader,
		Store:   store,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "kpi_dashboard_up 1\n") }),
		Log:     quietLog(),
	})
	require.NoError(t, err)
	f.router = router
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

type resultBody struct {
	KPI      string                     `json:"kpi"`
	Strategy string                     `json:"strategy"`
	Params   map[string]int             `json:"params"`
	Columns  []string                   `json:"columns"`
	Rows     []json.RawMessage          `json:"rows"`
	Summary  map[string]json.RawMessage `json:"summary"`
	Cached   bool                       `json:"cached"`
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) resultBody {
	t.Helper()
	var out resultBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func rowStrings(rows []json.RawMessage) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})
	rec := f.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newFixture(t, memoryOver(dataset()), fakeStore{err: errors.New("refused")})
	rec = down.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})
	rec := f.do(t, http.MethodGet, "/api/kpis", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		KPIs []models.KPIInfo `json:"kpis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.KPIs, 4)
	assert.Equal(t, models.RepeatCustomers, body.KPIs[0].Name)
	assert.Equal(t, []string{"window_days", "limit"}, body.KPIs[3].Options)
}

func TestCompute_TopCustomers(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})

	rec := f.do(t, http.MethodGet, "/api/kpis/top_customers?window_days=60", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeResult(t, rec)
	assert.Equal(t, "pushdown", res.Strategy)
	assert.Equal(t, map[string]int{"window_days": 60, "limit": 10}, res.Params)
	assert.Equal(t, []string{"customer_id", "customer_name", "order_count", "total_spend"}, res.Columns)
	assert.Equal(t, []string{
		`{"customer_id":"C1","customer_name":"Alice","order_count":2,"total_spend":150.50}`,
		`{"customer_id":"C2","customer_name":"Bob","order_count":1,"total_spend":20.00}`,
	}, rowStrings(res.Rows))
	assert.Equal(t, "170.50", string(res.Summary["sum_total_spend"]))
	assert.False(t, res.Cached)

	rec = f.do(t, http.MethodGet, "/api/kpis/top_customers?window_days=60", nil, "")
	assert.True(t, decodeResult(t, rec).Cached)

	rec = f.do(t, http.MethodGet, "/api/kpis/top_customers?strategy=in_memory&limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	res = decodeResult(t, rec)
	assert.Equal(t, "in_memory", res.Strategy)
	assert.Equal(t, []string{`{"customer_id":"C2","customer_name":"Bob","order_count":1,"total_spend":20.00}`}, rowStrings(res.Rows))
}

func TestCompute_DenseMonthlyTrends(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})

	rec := f.do(t, http.MethodGet, "/api/kpis/monthly_trends", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResult(t, rec).Rows, 2)

	rec = f.do(t, http.MethodGet, "/api/kpis/monthly_trends?dense=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{
		`{"month_year":"2025-01","total_orders":2,"total_revenue":150.50}`,
		`{"month_year":"2025-02","total_orders":0,"total_revenue":0.00}`,
		`{"month_year":"2025-03","total_orders":1,"total_revenue":20.00}`,
	}, rowStrings(decodeResult(t, rec).Rows))
}

func TestCompute_ErrorMapping(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})

	cases := []struct {
		target string
		status int
		class  string
	}{
		{"/api/kpis/lifetime_value", http.StatusNotFound, "unknown_kpi"},
		{"/api/kpis/top_customers?limit=0", http.StatusBadRequest, "invalid_parameter"},
		{"/api/kpis/top_customers?limit=ten", http.StatusBadRequest, "invalid_parameter"},
		{"/api/kpis/monthly_trends?window_days=7", http.StatusBadRequest, "invalid_parameter"},
		{"/api/kpis/monthly_trends?strategy=gpu", http.StatusBadRequest, "invalid_parameter"},
		{"/api/kpis/monthly_trends?dense=maybe", http.StatusBadRequest, "invalid_parameter"},
		{"/api/kpis/top_customers?windowdays=7", http.StatusBadRequest, "invalid_parameter"},
		{"/api/kpis/top_customers?window_days=7&Limit=3", http.StatusBadRequest, "invalid_parameter"},
		{"/api/kpis/regional_revenue/verify?strategy=pushdown", http.StatusBadRequest, "invalid_parameter"},
	}
	for _, c := range cases {
		t.Run(c.target, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, c.target, nil, "")
			assert.Equal(t, c.status, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, c.class, body.Error)
		})
	}
}

type failingEval struct{ err error }

func (e failingEval) Evaluate(context.Context, kpi.Spec, kpi.Invocation) ([]models.Row, error) {
	return nil, e.err
}

func TestCompute_UnavailableAndIntegrity(t *testing.T) {
	f := newFixture(t, failingEval{err: kpi.Unavailable("kpi query", errors.New("connection reset"))}, fakeStore{})
	rec := f.do(t, http.MethodGet, "/api/kpis/regional_revenue", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	f = newFixture(t, failingEval{err: kpi.DuplicateMobile(models.RegionalRevenue, "+33600000001")}, fakeStore{})
	rec = f.do(t, http.MethodGet, "/api/kpis/regional_revenue", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestVerify(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})
	rec := f.do(t, http.MethodGet, "/api/kpis/regional_revenue/verify", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v calculator.Verification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.True(t, v.Match)
	assert.Equal(t, 2, v.Rows)

	other := dataset()
	other.Orders = other.Orders[:2]
	f = newFixture(t, memoryOver(other), fakeStore{})
	rec = f.do(t, http.MethodGet, "/api/kpis/regional_revenue/verify", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "strategy_divergence")
	assert.Contains(t, rec.Body.String(), `"verification"`)
}

func TestOverview(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})
	rec := f.do(t, http.MethodGet, "/api/overview", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"overview": {"customers": 2, "orders": 3, "regions": 2, "total_revenue": "170.5"},
		"tables": [{"table": "customers", "rows": 2}, {"table": "orders", "rows": 3}]
	}`, rec.Body.String())
}

func TestIngest_RawBody(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})
	csv := "customer_id,customer_name,mobile_number,region\nC9,Zoe,+33600000009,West\n"

	rec := f.do(t, http.MethodPost, "/api/ingest/customers?mode=append", bytes.NewBufferString(csv), "text/csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, csv, string(f.loader.body))
	assert.Equal(t, models.LoadAppend, f.loader.mode)

	var rep models.LoadReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.True(t, rep.Success)
	assert.Equal(t, "customers", rep.Entity)
}

func TestIngest_Multipart(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "orders.xml")
	require.NoError(t, err)
	_, _ = io.WriteString(part, "<orders/>")
	require.NoError(t, mw.Close())

	rec := f.do(t, http.MethodPost, "/api/ingest/orders", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "<orders/>", string(f.loader.body))
	assert.Equal(t, models.LoadReplace, f.loader.mode)
}

func TestIngest_Errors(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})

	rec := f.do(t, http.MethodPost, "/api/ingest/orders?mode=merge", bytes.NewBufferString("x"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/ingest/products", bytes.NewBufferString("x"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.loader.err = &ingestion.ValidationError{Entity: "orders", Problems: []string{"Order 1: missing fields: sku_id"}}
	rec = f.do(t, http.MethodPost, "/api/ingest/orders", bytes.NewBufferString("x"), "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.loader.err = errors.Mark(errors.New("mobile number +33600000001 would be shared by several customers"), database.ErrConstraint)
	rec = f.do(t, http.MethodPost, "/api/ingest/customers?mode=append", bytes.NewBufferString("x"), "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var rep models.LoadReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.False(t, rep.Success)
	assert.NotEmpty(t, rep.Errors)
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})
	f.do(t, http.MethodGet, "/api/kpis/repeat_customers", nil, "")
	rec := f.do(t, http.MethodGet, "/api/kpis/repeat_customers", nil, "")
	assert.True(t, decodeResult(t, rec).Cached)

	rec = f.do(t, http.MethodPost, "/api/cache/invalidate", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/kpis/repeat_customers", nil, "")
	assert.False(t, decodeResult(t, rec).Cached)
}

func TestMetricsAndGzip(t *testing.T) {
	f := newFixture(t, memoryOver(dataset()), fakeStore{})
	rec := f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kpi_dashboard_up")

	req := httptest.NewRequest(http.MethodGet, "/api/kpis", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	out := httptest.NewRecorder()
	f.router.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
	assert.Equal(t, "gzip", out.Header().Get("Content-Encoding"))
}
