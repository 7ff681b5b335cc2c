package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/repository"

	"github.com/google/uuid"
)

const importJobColumns = `id, tenant_id, user_id, kind, file_name, total_rows, processed_rows, failed_rows,
	errors, summary, status, source_fingerprint, created_at, completed_at`

func (s *Store) Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	errorsJSON, err := domain.RowErrorsToJSON(job.Errors)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("sqlite: encode job errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_jobs (id, tenant_id, user_id, kind, file_name, total_rows, errors, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID.String(),
		job.TenantID.String(),
		job.UserID.String(),
		string(job.Kind),
		job.FileName,
		job.TotalRows,
		string(errorsJSON),
		string(domain.ImportJobStatusProcessing),
		formatTime(job.CreatedAt),
	)
	if err != nil {
		return domain.ImportJob{}, classify(fmt.Errorf("sqlite: create import job: %w", err))
	}
	return s.GetByID(ctx, job.ID)
}

func (s *Store) Complete(ctx context.Context, id uuid.UUID, outcome domain.ImportJobOutcome) (domain.ImportJob, error) {
	if !outcome.Status.IsTerminal() {
		return domain.ImportJob{}, fmt.Errorf("status %q is not terminal", outcome.Status)
	}
	errorsJSON, err := outcome.ErrorsToJSON()
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("sqlite: encode job errors: %w", err)
	}
	var fingerprint any
	if outcome.SourceFingerprint != "" {
		fingerprint = outcome.SourceFingerprint
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE import_jobs
		 SET status = ?, processed_rows = ?, failed_rows = ?, errors = ?, summary = ?,
		     source_fingerprint = ?, completed_at = ?
		 WHERE id = ? AND status = 'processing'`,
		string(outcome.Status),
		outcome.ProcessedRows,
		outcome.FailedRows,
		string(errorsJSON),
		outcome.Summary,
		fingerprint,
		formatTime(outcome.CompletedAt),
		id.String(),
	)
	if err != nil {
		return domain.ImportJob{}, classify(fmt.Errorf("sqlite: complete import job: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("sqlite: complete import job: %w", err)
	}
	if affected == 0 {
		if _, lookupErr := s.GetByID(ctx, id); lookupErr != nil {
			return domain.ImportJob{}, lookupErr
		}
		return domain.ImportJob{}, repository.ErrJobAlreadyFinalized
	}
	return s.GetByID(ctx, id)
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = ?`, id.String())
	job, err := scanImportJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ImportJob{}, repository.ErrJobNotFound
		}
		return domain.ImportJob{}, classify(fmt.Errorf("sqlite: get import job: %w", err))
	}
	return job, nil
}

func (s *Store) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ImportJob, error) {
	if len(ids) == 0 {
		return []domain.ImportJob{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("sqlite: get import jobs: %w", err))
	}
	defer rows.Close()
	return collectImportJobs(rows)
}

func (s *Store) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int, offset int) ([]domain.ImportJob, int, error) {
	limit, offset = repository.NormalizePage(limit, offset)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM import_jobs WHERE tenant_id = ?`, tenantID.String()).Scan(&total); err != nil {
		return nil, 0, classify(fmt.Errorf("sqlite: count import jobs: %w", err))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+importJobColumns+` FROM import_jobs
		 WHERE tenant_id = ?
		 ORDER BY created_at DESC, id
		 LIMIT ? OFFSET ?`,
		tenantID.String(), limit, offset)
	if err != nil {
		return nil, 0, classify(fmt.Errorf("sqlite: list import jobs: %w", err))
	}
	defer rows.Close()

	jobs, err := collectImportJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func collectImportJobs(rows *sql.Rows) ([]domain.ImportJob, error) {
	jobs := []domain.ImportJob{}
	for rows.Next() {
		job, err := scanImportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan import job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate import jobs: %w", err)
	}
	return jobs, nil
}

func scanImportJob(row scanner) (domain.ImportJob, error) {
	var (
		job                      domain.ImportJob
		id, tenantID, userID     string
		kind, status, errorsText string
		fingerprint, completedAt sql.NullString
		createdAt                string
	)
	if err := row.Scan(
		&id,
		&tenantID,
		&userID,
		&kind,
		&job.FileName,
		&job.TotalRows,
		&job.ProcessedRows,
		&job.FailedRows,
		&errorsText,
		&job.Summary,
		&status,
		&fingerprint,
		&createdAt,
		&completedAt,
	); err != nil {
		return domain.ImportJob{}, err
	}

	var err error
	if job.ID, err = uuid.Parse(id); err != nil {
		return domain.ImportJob{}, fmt.Errorf("invalid job id %q: %w", id, err)
	}
	if job.TenantID, err = uuid.Parse(tenantID); err != nil {
		return domain.ImportJob{}, fmt.Errorf("invalid tenant id %q: %w", tenantID, err)
	}
	if job.UserID, err = uuid.Parse(userID); err != nil {
		return domain.ImportJob{}, fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	if job.Errors, err = domain.RowErrorsFromJSON([]byte(errorsText)); err != nil {
		return domain.ImportJob{}, fmt.Errorf("decode job errors: %w", err)
	}
	if job.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return domain.ImportJob{}, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if completedAt.Valid {
		value, parseErr := time.Parse(timeLayout, completedAt.String)
		if parseErr != nil {
			return domain.ImportJob{}, fmt.Errorf("invalid completed_at %q: %w", completedAt.String, parseErr)
		}
		job.CompletedAt = &value
	}
	job.Kind = domain.ImportKind(kind)
	job.Status = domain.ImportJobStatus(status)
	job.SourceFingerprint = fingerprint.String
	return job, nil
}

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}
