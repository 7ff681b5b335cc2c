package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/schema"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type recordStore struct {
	pool *pgxpool.Pool
}

// NewRecordStore returns a RecordStore that calls the per-kind upsert
// routine installed by the migrations.
func NewRecordStore(pool *pgxpool.Pool) RecordStore {
	return &recordStore{pool: pool}
}

func (s *recordStore) UpsertBatch(ctx context.Context, def schema.Definition, tenantID uuid.UUID, records []domain.CanonicalRecord) (int, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("record store not initialized: %w", ErrStoreUnavailable)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := CheckBatchKeys(def, records); err != nil {
		return 0, err
	}

	payload := make([]map[string]any, len(records))
	for i, record := range records {
		payload[i] = record.StorageValues()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode batch: %w", err)
	}

	routine := pgx.Identifier{def.Upsert}.Sanitize()
	var affected int
	if err := s.pool.QueryRow(ctx, `SELECT `+routine+`($1, $2::jsonb)`, tenantID, body).Scan(&affected); err != nil {
		return 0, ClassifyPgError(fmt.Errorf("%s upsert failed: %w", def.Kind, err))
	}
	return affected, nil
}

// ClassifyPgError wraps failures that are not caused by the batch's data with
// ErrStoreUnavailable. Server errors raised by the data itself (constraint,
// type, cardinality violations) are returned unchanged; anything that never
// reached the server (closed pool, network, timeouts) is unavailability.
func ClassifyPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "08", "53", "57", "58":
				return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			}
		}
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
