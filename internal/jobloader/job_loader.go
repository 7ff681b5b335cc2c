package jobloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// JobLoader coalesces import job lookups made while serving one request into
// batched GetByIDs calls.
type JobLoader struct {
	Loader *dataloader.Loader
}

// batchWait is how long the loader collects keys before querying.
const batchWait = 5 * time.Millisecond

func NewJobLoader(repo repository.ImportJobRepository) *JobLoader {
	loader := dataloader.NewBatchedLoader(batchJobs(repo), dataloader.WithWait(batchWait))
	return &JobLoader{Loader: loader}
}

// batchJobs answers one batch with a single GetByIDs call. Missing jobs
// resolve to nil data.
func batchJobs(repo repository.ImportJobRepository) dataloader.BatchFunc {
	return func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, 0, len(keys))
		for _, key := range keys {
			id, err := uuid.Parse(key.String())
			if err != nil {
				return failAll(len(keys), fmt.Errorf("job loader key %q: %w", key.String(), err))
			}
			ids = append(ids, id)
		}

		found, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			return failAll(len(keys), err)
		}
		byID := make(map[uuid.UUID]domain.ImportJob, len(found))
		for _, job := range found {
			byID[job.ID] = job
		}

		out := make([]*dataloader.Result, len(ids))
		for i, id := range ids {
			out[i] = &dataloader.Result{}
			if job, ok := byID[id]; ok {
				out[i].Data = job
			}
		}
		return out
	}
}

func failAll(n int, err error) []*dataloader.Result {
	out := make([]*dataloader.Result, n)
	for i := range out {
		out[i] = &dataloader.Result{Error: err}
	}
	return out
}

// LoadMany resolves ids in order. Unknown ids are omitted; the returned
// slice holds only jobs that exist.
func (l *JobLoader) LoadMany(ctx context.Context, ids []uuid.UUID) ([]domain.ImportJob, error) {
	thunks := make([]dataloader.Thunk, len(ids))
	for i, id := range ids {
		thunks[i] = l.Loader.Load(ctx, dataloader.StringKey(id.String()))
	}

	jobs := make([]domain.ImportJob, 0, len(ids))
	for _, thunk := range thunks {
		data, err := thunk()
		if err != nil {
			return nil, err
		}
		if job, ok := data.(domain.ImportJob); ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}
