package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/bulkimport/internal/domain"
)

func TestWriteErrorReport(t *testing.T) {
	job := domain.ImportJob{
		ID:   uuid.New(),
		Kind: domain.ImportKindProductCosts,
		Errors: []domain.RowError{
			{Row: 3, Message: "cost: must be at least 0", Data: map[string]string{"sku": "B-2", "cost": "-1.00"}},
			{Row: 7, Message: "sku: value is required", Data: map[string]string{"cost": "2.50", "supplier_name": "Acme, Inc."}},
		},
	}

	var buf bytes.Buffer
	n, err := WriteErrorReport(&buf, job)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"row", "message", "cost", "sku", "supplier_name"}, records[0])
	assert.Equal(t, []string{"3", "cost: must be at least 0", "-1.00", "B-2", ""}, records[1])
	assert.Equal(t, []string{"7", "sku: value is required", "2.50", "", "Acme, Inc."}, records[2])
}

func TestWriteErrorReportWithoutErrors(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteErrorReport(&buf, domain.ImportJob{ID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, "row,message\n", buf.String())
}

func TestReportFileName(t *testing.T) {
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	job := domain.ImportJob{ID: id, Kind: domain.ImportKindSuppliers, FileName: "Q1 Suppliers (final).xlsx"}
	assert.Equal(t, "q1-suppliers--final-0f8fad5b-errors.csv", ReportFileName(job))

	job.FileName = "???.csv"
	assert.Equal(t, "import-0f8fad5b-errors.csv", ReportFileName(job))
}
