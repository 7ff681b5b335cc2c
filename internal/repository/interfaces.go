package repository

import (
	"context"
	"errors"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/schema"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned when no import job matches the lookup.
	ErrJobNotFound = errors.New("import job not found")
	// ErrJobAlreadyFinalized is returned when a terminal job is completed again.
	ErrJobAlreadyFinalized = errors.New("import job already finalized")
	// ErrStoreUnavailable marks failures of the datastore itself rather than
	// of the data in a batch. Callers treat it as fatal for the run.
	ErrStoreUnavailable = errors.New("datastore unavailable")
)

// ImportJobRepository persists the import job ledger.
type ImportJobRepository interface {
	Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error)
	Complete(ctx context.Context, id uuid.UUID, outcome domain.ImportJobOutcome) (domain.ImportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ImportJob, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int, offset int) ([]domain.ImportJob, int, error)
}

// RecordStore upserts validated records. Each call is one atomic unit: either
// every record of the batch is written or none is.
type RecordStore interface {
	UpsertBatch(ctx context.Context, def schema.Definition, tenantID uuid.UUID, records []domain.CanonicalRecord) (int, error)
}

// NormalizePage clamps list paging arguments.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
