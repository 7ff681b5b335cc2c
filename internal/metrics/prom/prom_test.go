package prom

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpattn/bulkimport/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendCountersAndExposition(t *testing.T) {
	b, err := NewBackend()
	require.NoError(t, err)

	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"kind": "suppliers", "outcome": metrics.RowProcessed})
	b.IncCounter(metrics.GuardRejectionsTotal, 1, metrics.Labels{"code": "rate_limited"})
	b.ObserveHistogram(metrics.ImportDuration, 0.2, metrics.Labels{"kind": "suppliers", "status": "completed", "dry_run": "false"})
	b.IncCounter("unknown_metric", 1, nil)

	assert.Equal(t, 3.0, testutil.ToFloat64(b.rows.WithLabelValues("suppliers", metrics.RowProcessed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.rejections.WithLabelValues("rate_limited")))

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), metrics.RowsTotal))
	assert.True(t, strings.Contains(string(body), metrics.ImportDuration+"_bucket"))
}
