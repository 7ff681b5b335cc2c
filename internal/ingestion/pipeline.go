package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/mapping"
	"github.com/rpattn/bulkimport/internal/metrics"
	"github.com/rpattn/bulkimport/internal/schema"
)

// item is one validated row travelling from the reader to the committer.
type item struct {
	record   domain.CanonicalRecord
	rowError *domain.RowError
}

// tally accumulates the counts of one run. Processed and FailedBatchRows
// cover committed and rejected batches; Invalid covers rows that never
// reached a batch.
type tally struct {
	Rows            int
	Processed       int
	Invalid         int
	FailedBatchRows int
	Batches         int
	FailedBatches   int
	Errors          []domain.RowError
}

func (t tally) Failed() int {
	return t.Invalid + t.FailedBatchRows
}

// pipeline reads, maps and validates rows on one goroutine while a second
// goroutine groups valid records into batches and commits them in order.
type pipeline struct {
	source    rowSource
	mapper    *mapping.Mapper
	def       schema.Definition
	tenantID  uuid.UUID
	batchSize int
	maxRows   int
	committer *committer
}

func (p *pipeline) run(ctx context.Context) (tally, error) {
	var t tally
	var rows int

	items := make(chan item, p.batchSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.produce(gctx, items, &rows)
	})
	g.Go(func() error {
		return p.consume(gctx, items, &t)
	})
	err := g.Wait()

	t.Rows = rows
	sort.SliceStable(t.Errors, func(i, j int) bool {
		return t.Errors[i].Row < t.Errors[j].Row
	})
	kind := string(p.def.Kind)
	metrics.RecordRows(kind, metrics.RowProcessed, t.Processed)
	metrics.RecordRows(kind, metrics.RowInvalid, t.Invalid)
	metrics.RecordRows(kind, metrics.RowBatchFailed, t.FailedBatchRows)
	if errors.Is(err, ErrRowLimitExceeded) {
		return t, rowLimitError(p.maxRows)
	}
	if err != nil {
		return t, fatalError(err)
	}
	return t, nil
}

// produce closes items only after the last row was sent. On failure the
// channel stays open and the consumer exits through the cancelled context,
// so a partial tail is never flushed.
func (p *pipeline) produce(ctx context.Context, items chan<- item, rows *int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(CategoryFatal, CodeInternal, "row processing panicked", fmt.Errorf("%v", r))
		}
	}()

	for {
		row, line, readErr := p.source.Next()
		if errors.Is(readErr, io.EOF) {
			close(items)
			return nil
		}
		if readErr != nil {
			return readErr
		}
		if isBlank(row) {
			continue
		}
		*rows++
		if p.maxRows > 0 && *rows > p.maxRows {
			return fmt.Errorf("%w: more than %d data rows", ErrRowLimitExceeded, p.maxRows)
		}

		next := p.validate(row, line)
		select {
		case items <- next:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *pipeline) validate(row []string, line int) item {
	values := p.mapper.Apply(row)
	record, fieldErrors := p.def.Validate(p.tenantID, line, values)
	if len(fieldErrors) > 0 {
		return item{rowError: &domain.RowError{
			Row:     line,
			Code:    CodeInvalidRow,
			Message: schema.JoinFieldErrors(fieldErrors),
			Data:    p.mapper.Raw(row),
		}}
	}
	return item{record: record}
}

func (p *pipeline) consume(ctx context.Context, items <-chan item, t *tally) error {
	batch := make([]domain.CanonicalRecord, 0, p.batchSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next, ok := <-items:
			if !ok {
				return p.flush(ctx, batch, t)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if next.rowError != nil {
				t.Invalid++
				t.Errors = append(t.Errors, *next.rowError)
				continue
			}
			batch = append(batch, next.record)
			if len(batch) < p.batchSize {
				continue
			}
			if err := p.flush(ctx, batch, t); err != nil {
				return err
			}
			batch = make([]domain.CanonicalRecord, 0, p.batchSize)
		}
	}
}

func (p *pipeline) flush(ctx context.Context, batch []domain.CanonicalRecord, t *tally) error {
	if len(batch) == 0 {
		return nil
	}
	outcome, err := p.committer.commit(ctx, batch)
	if err != nil {
		return err
	}
	t.Batches++
	if outcome.failure != nil {
		t.FailedBatches++
		t.FailedBatchRows += len(batch)
		t.Errors = append(t.Errors, *outcome.failure)
		return nil
	}
	t.Processed += outcome.committed
	return nil
}
