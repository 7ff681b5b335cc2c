package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/metrics"
	"github.com/rpattn/bulkimport/internal/repository"
	"github.com/rpattn/bulkimport/internal/schema"
)

// committer writes one batch at a time. A rejected batch becomes a single
// aggregated row error; an unavailable store aborts the run.
type committer struct {
	store    repository.RecordStore
	def      schema.Definition
	tenantID uuid.UUID
	dryRun   bool
}

type batchOutcome struct {
	committed int
	failure   *domain.RowError
}

func (c *committer) commit(ctx context.Context, batch []domain.CanonicalRecord) (batchOutcome, error) {
	kind := string(c.def.Kind)
	if c.dryRun {
		// Dry runs skip the store but still reject batches the store would.
		if err := repository.CheckBatchKeys(c.def, batch); err != nil {
			metrics.RecordBatch(kind, metrics.BatchFailed)
			return batchOutcome{failure: batchFailure(batch, err)}, nil
		}
		metrics.RecordBatch(kind, metrics.BatchDryRun)
		return batchOutcome{committed: len(batch)}, nil
	}

	if _, err := c.store.UpsertBatch(ctx, c.def, c.tenantID, batch); err != nil {
		first := batch[0].RowNumber
		if isInfrastructureFailure(ctx, err) {
			return batchOutcome{}, fatalError(fmt.Errorf("batch starting at row %d: %w", first, err))
		}
		metrics.RecordBatch(kind, metrics.BatchFailed)
		log.Printf("[import] %s batch of %d rows starting at row %d rejected: %v", kind, len(batch), first, err)
		return batchOutcome{failure: batchFailure(batch, err)}, nil
	}
	metrics.RecordBatch(kind, metrics.BatchCommitted)
	return batchOutcome{committed: len(batch)}, nil
}

func batchFailure(batch []domain.CanonicalRecord, err error) *domain.RowError {
	first := batch[0].RowNumber
	last := batch[len(batch)-1].RowNumber
	return &domain.RowError{
		Row:     first,
		Code:    CodeBatchRejected,
		Message: fmt.Sprintf("batch of %d rows (rows %d-%d) was rejected: %s", len(batch), first, last, truncateError(err)),
		Data: map[string]string{
			"batch_start_row": strconv.Itoa(first),
			"batch_end_row":   strconv.Itoa(last),
			"batch_size":      strconv.Itoa(len(batch)),
		},
	}
}

func isInfrastructureFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, repository.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}
