package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/repository"
)

const finalizeTimeout = 10 * time.Second

// ledger is the handle of one live run's job record. It is written twice:
// once at creation and once at finalize.
type ledger struct {
	repo      repository.ImportJobRepository
	job       domain.ImportJob
	finalized bool
}

func openLedger(ctx context.Context, repo repository.ImportJobRepository, job domain.ImportJob) (*ledger, error) {
	created, err := repo.Create(ctx, job)
	if err != nil {
		return nil, newError(CategoryFatal, CodeLedger, "failed to create import job", err)
	}
	return &ledger{repo: repo, job: created}, nil
}

func (l *ledger) ID() uuid.UUID {
	return l.job.ID
}

// finalize records the terminal outcome. It runs detached from the request
// context so a cancelled request still leaves a terminal job behind.
func (l *ledger) finalize(ctx context.Context, outcome domain.ImportJobOutcome) (domain.ImportJob, error) {
	if l.finalized {
		return l.job, repository.ErrJobAlreadyFinalized
	}
	l.finalized = true

	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	job, err := l.repo.Complete(finalizeCtx, l.job.ID, outcome)
	if err != nil {
		return l.job, newError(CategoryFatal, CodeLedger, "failed to finalize import job", err)
	}
	l.job = job
	return job, nil
}

// terminalStatus picks the terminal status of a run that did not fail.
func terminalStatus(t tally) domain.ImportJobStatus {
	if t.Failed() > 0 {
		return domain.ImportJobStatusCompletedWithErrors
	}
	return domain.ImportJobStatusCompleted
}
