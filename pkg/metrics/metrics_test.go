package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.ObserveCompute("monthly_trends", "pushdown", "ok", 5*time.Millisecond)
	m.ObserveCompute("monthly_trends", "pushdown", "data_unavailable", time.Millisecond)
	m.ObserveLoad("orders", "append", 42, true)
	m.ObserveLoad("customers", "replace", 0, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.computeErrors.WithLabelValues("monthly_trends", "pushdown", "data_unavailable")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.ingested.WithLabelValues("orders", "append")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("customers")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "kpi_dashboard_cache_hits_total 1")
}
