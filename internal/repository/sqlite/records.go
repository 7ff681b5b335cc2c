package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/repository"
	"github.com/rpattn/bulkimport/internal/schema"

	"github.com/google/uuid"
)

// UpsertBatch writes the batch in a single transaction, replacing rows that
// share a natural key.
func (s *Store) UpsertBatch(ctx context.Context, def schema.Definition, tenantID uuid.UUID, records []domain.CanonicalRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := repository.CheckBatchKeys(def, records); err != nil {
		return 0, err
	}

	columns := def.StorageColumns()
	statement := upsertStatement(def, columns)
	updatedAt := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(fmt.Errorf("sqlite: begin tx: %w", err))
	}
	stmt, err := tx.PrepareContext(ctx, statement)
	if err != nil {
		_ = tx.Rollback()
		return 0, classify(fmt.Errorf("sqlite: prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, record := range records {
		values := record.StorageValues()
		args := make([]any, 0, len(columns)+1)
		args = append(args, tenantID.String())
		for _, column := range columns[1:] {
			args = append(args, values[column])
		}
		args = append(args, updatedAt)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return 0, classify(fmt.Errorf("sqlite: upsert row %d: %w", record.RowNumber, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(fmt.Errorf("sqlite: commit: %w", err))
	}
	return len(records), nil
}

func upsertStatement(def schema.Definition, columns []string) string {
	insertColumns := append(append([]string(nil), columns...), "updated_at")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(insertColumns)), ", ")

	keys := make(map[string]bool, len(def.KeyFields)+1)
	for _, column := range conflictColumns(def) {
		keys[column] = true
	}
	var assignments []string
	for _, column := range insertColumns {
		if keys[column] {
			continue
		}
		assignments = append(assignments, fmt.Sprintf("%s = excluded.%s", quote(column), quote(column)))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		quote(def.Table),
		quoteList(insertColumns),
		placeholders,
		quoteList(conflictColumns(def)),
		strings.Join(assignments, ", "),
	)
}

// Rows returns the tenant's stored rows for a kind ordered by natural key,
// keyed by column name. Used by operators and tests to inspect results.
func (s *Store) Rows(ctx context.Context, def schema.Definition, tenantID uuid.UUID) ([]map[string]any, error) {
	columns := def.FieldNames()
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		quoteList(columns),
		quote(def.Table),
		quote(schema.TenantField),
		quoteList(def.KeyFields),
	)
	rows, err := s.db.QueryContext(ctx, query, tenantID.String())
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite: query %s: %w", def.Table, err))
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", def.Table, err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate %s: %w", def.Table, err)
	}
	return out, nil
}
