package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/bulkimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const importJobColumns = `id, tenant_id, user_id, kind, file_name, total_rows, processed_rows, failed_rows,
	errors, summary, status, source_fingerprint, created_at, completed_at`

type importJobRepository struct {
	pool *pgxpool.Pool
}

// NewImportJobRepository wires a repository backed by pgxpool.
func NewImportJobRepository(pool *pgxpool.Pool) ImportJobRepository {
	return &importJobRepository{pool: pool}
}

func (r *importJobRepository) Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	if r.pool == nil {
		return domain.ImportJob{}, fmt.Errorf("import job repository not initialized")
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	errorsJSON, err := domain.RowErrorsToJSON(job.Errors)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to encode import job errors: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO import_jobs (id, tenant_id, user_id, kind, file_name, total_rows, errors, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		 RETURNING `+importJobColumns,
		job.ID,
		job.TenantID,
		job.UserID,
		string(job.Kind),
		job.FileName,
		job.TotalRows,
		errorsJSON,
		string(domain.ImportJobStatusProcessing),
	)
	created, err := scanImportJob(row)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to create import job: %w", err)
	}
	return created, nil
}

func (r *importJobRepository) Complete(ctx context.Context, id uuid.UUID, outcome domain.ImportJobOutcome) (domain.ImportJob, error) {
	if r.pool == nil {
		return domain.ImportJob{}, fmt.Errorf("import job repository not initialized")
	}
	if !outcome.Status.IsTerminal() {
		return domain.ImportJob{}, fmt.Errorf("status %q is not terminal", outcome.Status)
	}

	errorsJSON, err := outcome.ErrorsToJSON()
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to encode import job errors: %w", err)
	}

	var fingerprint any
	if outcome.SourceFingerprint != "" {
		fingerprint = outcome.SourceFingerprint
	}

	row := r.pool.QueryRow(
		ctx,
		`UPDATE import_jobs
		 SET status = $2,
		     processed_rows = $3,
		     failed_rows = $4,
		     errors = $5::jsonb,
		     summary = $6,
		     source_fingerprint = $7,
		     completed_at = $8
		 WHERE id = $1 AND status = 'processing'
		 RETURNING `+importJobColumns,
		id,
		string(outcome.Status),
		outcome.ProcessedRows,
		outcome.FailedRows,
		errorsJSON,
		outcome.Summary,
		fingerprint,
		outcome.CompletedAt,
	)
	completed, err := scanImportJob(row)
	if err == nil {
		return completed, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.ImportJob{}, fmt.Errorf("failed to complete import job: %w", err)
	}

	if _, lookupErr := r.GetByID(ctx, id); lookupErr != nil {
		return domain.ImportJob{}, lookupErr
	}
	return domain.ImportJob{}, ErrJobAlreadyFinalized
}

func (r *importJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	if r.pool == nil {
		return domain.ImportJob{}, fmt.Errorf("import job repository not initialized")
	}

	row := r.pool.QueryRow(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id)
	job, err := scanImportJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportJob{}, ErrJobNotFound
		}
		return domain.ImportJob{}, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

func (r *importJobRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ImportJob, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("import job repository not initialized")
	}
	if len(ids) == 0 {
		return []domain.ImportJob{}, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get import jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.ImportJob{}
	for rows.Next() {
		job, scanErr := scanImportJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import jobs: %w", rowsErr)
	}
	return jobs, nil
}

func (r *importJobRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int, offset int) ([]domain.ImportJob, int, error) {
	if r.pool == nil {
		return nil, 0, fmt.Errorf("import job repository not initialized")
	}
	limit, offset = NormalizePage(limit, offset)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_jobs WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count import jobs: %w", err)
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+importJobColumns+`
		 FROM import_jobs
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		tenantID,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.ImportJob{}
	for rows.Next() {
		job, scanErr := scanImportJob(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("failed to scan import job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, 0, fmt.Errorf("failed to iterate import jobs: %w", rowsErr)
	}
	return jobs, total, nil
}

func scanImportJob(row pgx.Row) (domain.ImportJob, error) {
	var (
		job         domain.ImportJob
		kind        string
		status      string
		errorsJSON  []byte
		fingerprint pgtype.Text
		createdAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.UserID,
		&kind,
		&job.FileName,
		&job.TotalRows,
		&job.ProcessedRows,
		&job.FailedRows,
		&errorsJSON,
		&job.Summary,
		&status,
		&fingerprint,
		&createdAt,
		&completedAt,
	); err != nil {
		return domain.ImportJob{}, err
	}

	rowErrors, err := domain.RowErrorsFromJSON(errorsJSON)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to decode import job errors: %w", err)
	}
	job.Errors = rowErrors
	job.Kind = domain.ImportKind(kind)
	job.Status = domain.ImportJobStatus(status)
	if fingerprint.Valid {
		job.SourceFingerprint = fingerprint.String
	}
	if createdAt.Valid {
		job.CreatedAt = createdAt.Time
	}
	if completedAt.Valid {
		value := completedAt.Time
		job.CompletedAt = &value
	}
	return job, nil
}
