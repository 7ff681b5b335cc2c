package ingestion

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/repository/sqlite"
	"github.com/rpattn/bulkimport/internal/schema"
)

func newSQLiteHarness(t *testing.T, opts ...Option) (*harness, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "imports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return newHarnessWith(store, store, opts...), store
}

func TestConcurrentImportsSameTenantDisjointSKUs(t *testing.T) {
	h, store := newSQLiteHarness(t, WithBatchSize(50))

	bodies := []string{costsCSV(300, "EAST"), costsCSV(300, "WEST")}
	results := make([]Result, len(bodies))
	errs := make([]error, len(bodies))
	var wg sync.WaitGroup
	for i, body := range bodies {
		wg.Add(1)
		go func(i int, body string) {
			defer wg.Done()
			results[i], errs[i] = h.service.Import(h.ctx(), h.request("product-costs", "costs.csv", body))
		}(i, body)
	}
	wg.Wait()

	for i := range bodies {
		require.NoError(t, errs[i])
		assert.Equal(t, 300, *results[i].ProcessedCount)
		job, err := store.GetByID(context.Background(), uuid.MustParse(*results[i].ImportID))
		require.NoError(t, err)
		assert.Equal(t, domain.ImportJobStatusCompleted, job.Status)
	}

	rows, err := store.Rows(context.Background(), schema.MustLookup(domain.ImportKindProductCosts), h.identity.TenantID)
	require.NoError(t, err)
	assert.Len(t, rows, 600)
}

func TestReimportLeavesSameRowsInSQLite(t *testing.T) {
	h, store := newSQLiteHarness(t, WithBatchSize(7))
	def := schema.MustLookup(domain.ImportKindHistoricalSales)
	body := "sku,sale_date,quantity,revenue,channel\n" +
		"A-1,2024-01-01,2,19.98,web\n" +
		"A-1,01/02/2024,1,9.99,\n" +
		"B-7,2024/01/01,5,,store\n"

	first, err := h.service.Import(h.ctx(), h.request("historical-sales", "sales.csv", body))
	require.NoError(t, err)
	before, err := store.Rows(context.Background(), def, h.identity.TenantID)
	require.NoError(t, err)

	second, err := h.service.Import(h.ctx(), h.request("historical-sales", "sales.csv", body))
	require.NoError(t, err)
	after, err := store.Rows(context.Background(), def, h.identity.TenantID)
	require.NoError(t, err)

	assert.Equal(t, 3, *first.ProcessedCount)
	assert.Equal(t, 3, *second.ProcessedCount)
	require.Len(t, after, 3)
	for i := range before {
		delete(before[i], "updated_at")
		delete(after[i], "updated_at")
	}
	assert.Equal(t, before, after)

	jobs, total, err := h.service.ListJobs(h.ctx(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, jobs, 2)
}
