package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/bulkimport/internal/auth"
	"github.com/rpattn/bulkimport/internal/cache"
	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/guard"
	"github.com/rpattn/bulkimport/internal/mapping"
	"github.com/rpattn/bulkimport/internal/metrics"
	"github.com/rpattn/bulkimport/internal/middleware"
	"github.com/rpattn/bulkimport/internal/repository"
	"github.com/rpattn/bulkimport/internal/schema"
	"github.com/rpattn/bulkimport/internal/suggest"
)

const (
	DefaultBatchSize = 500
	DefaultMaxRows   = 10000

	suggestSampleRows = 5
)

// Service runs bulk imports of inventory data.
type Service struct {
	guard       *guard.Guard
	store       repository.RecordStore
	jobs        repository.ImportJobRepository
	invalidator cache.Invalidator
	suggester   suggest.Suggester
	batchSize   int
	maxRows     int
	now         func() time.Time
}

// Option configures the service.
type Option func(*Service)

func WithBatchSize(size int) Option {
	return func(s *Service) {
		s.batchSize = size
	}
}

func WithMaxRows(rows int) Option {
	return func(s *Service) {
		s.maxRows = rows
	}
}

// WithInvalidator sets who is told about tenant data changes after a live
// import committed rows.
func WithInvalidator(invalidator cache.Invalidator) Option {
	return func(s *Service) {
		s.invalidator = invalidator
	}
}

// WithSuggester enables SuggestMapping.
func WithSuggester(suggester suggest.Suggester) Option {
	return func(s *Service) {
		s.suggester = suggester
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new import service.
func NewService(
	g *guard.Guard,
	store repository.RecordStore,
	jobs repository.ImportJobRepository,
	opts ...Option,
) *Service {
	service := &Service{
		guard:       g,
		store:       store,
		jobs:        jobs,
		invalidator: cache.Nop{},
		batchSize:   DefaultBatchSize,
		maxRows:     DefaultMaxRows,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.batchSize <= 0 {
		service.batchSize = DefaultBatchSize
	}
	if service.maxRows <= 0 {
		service.maxRows = DefaultMaxRows
	}
	if service.invalidator == nil {
		service.invalidator = cache.Nop{}
	}
	if service.now == nil {
		service.now = time.Now
	}
	return service
}

// ImportRequest describes one upload. The caller's identity comes from the
// context.
type ImportRequest struct {
	Kind      string
	FileName  string
	FileSize  int64
	File      io.Reader
	DryRun    bool
	Mapping   map[string]string
	CSRFToken string
	// TotalRowsHint is the caller's row estimate stored on the job. When it
	// is not positive and File is seekable, the counted row total is used.
	TotalRowsHint int
}

// Import validates and commits an upload. The Result is always usable; the
// returned error is non-nil only when the request was rejected or the run
// aborted, and is then an *Error.
func (s *Service) Import(ctx context.Context, req ImportRequest) (Result, error) {
	started := s.now()
	kindLabel := strings.TrimSpace(req.Kind)

	identity, rejection := s.guard.Check(ctx, req.CSRFToken, guard.FileInfo{
		Present: req.File != nil,
		Name:    req.FileName,
		Size:    req.FileSize,
	})
	if rejection != nil {
		s.recordImport(kindLabel, "rejected", req.DryRun, started)
		return rejectedResult(req.DryRun, rejection), preconditionError(rejection.Code, rejection.Reason, rejection)
	}

	kind, err := domain.ParseImportKind(req.Kind)
	if err != nil {
		return s.reject(req, kindLabel, preconditionError(CodeUnknownKind, err.Error(), err), started)
	}
	kindLabel = string(kind)
	def, err := schema.Lookup(kind)
	if err != nil {
		return s.reject(req, kindLabel, preconditionError(CodeUnknownKind, err.Error(), err), started)
	}
	if _, err := mapping.Sanitize(req.Mapping, def.FieldNames()); err != nil {
		return s.reject(req, kindLabel, preconditionError(CodeInvalidMapping, err.Error(), err), started)
	}

	totalRows := req.TotalRowsHint
	if seeker, ok := req.File.(io.ReadSeeker); ok {
		counted, err := s.prescan(req.FileName, seeker)
		if err != nil {
			return s.abort(ctx, req, kindLabel, nil, "", tally{}, err, started)
		}
		if totalRows <= 0 {
			totalRows = counted
		}
	}

	upload := newFingerprintReader(limitSize(req.File, s.guard.MaxFileBytes()))
	source, err := openSource(req.FileName, upload)
	if err != nil {
		return s.abort(ctx, req, kindLabel, nil, "", tally{}, fatalError(err), started)
	}
	defer source.Close()

	mapper, err := mapping.New(source.Header(), req.Mapping, def.FieldNames())
	if err != nil {
		return s.reject(req, kindLabel, preconditionError(CodeInvalidMapping, err.Error(), err), started)
	}
	if missing := mapper.Missing(requiredFields(def)); len(missing) > 0 {
		message := "missing required columns: " + strings.Join(missing, ", ")
		return s.reject(req, kindLabel, preconditionError(CodeMissingColumns, message, nil), started)
	}

	var led *ledger
	if !req.DryRun {
		job := domain.NewImportJob(identity.TenantID, identity.UserID, kind, req.FileName, totalRows)
		job.CreatedAt = s.now().UTC()
		led, err = openLedger(ctx, s.jobs, job)
		if err != nil {
			return s.abort(ctx, req, kindLabel, nil, "", tally{}, err, started)
		}
		log.Printf("[import] job %s started kind=%s tenant=%s file=%q", led.ID(), kind, identity.TenantID, req.FileName)
	}

	run := &pipeline{
		source:    source,
		mapper:    mapper,
		def:       def,
		tenantID:  identity.TenantID,
		batchSize: s.batchSize,
		maxRows:   s.maxRows,
		committer: &committer{store: s.store, def: def, tenantID: identity.TenantID, dryRun: req.DryRun},
	}
	t, runErr := run.run(ctx)
	if runErr == nil {
		if err := upload.drain(); err != nil {
			runErr = fatalError(err)
		}
	}
	if runErr != nil {
		if !req.DryRun {
			s.invalidate(ctx, identity, def, led.ID(), t.Processed)
		}
		return s.abort(ctx, req, kindLabel, led, upload.Sum(), t, runErr, started)
	}

	status := terminalStatus(t)
	var importID *string
	if led != nil {
		id := led.ID().String()
		importID = &id
		outcome := domain.ImportJobOutcome{
			Status:            status,
			ProcessedRows:     t.Processed,
			FailedRows:        t.Failed(),
			Errors:            t.Errors,
			Summary:           summaryMessage(false, t),
			SourceFingerprint: upload.Sum(),
			CompletedAt:       s.now().UTC(),
		}
		if _, err := led.finalize(ctx, outcome); err != nil {
			log.Printf("[import] job %s could not be finalized: %v", led.ID(), err)
		}
		s.invalidate(ctx, identity, def, led.ID(), t.Processed)
	}

	log.Printf("[import] %s kind=%s dry_run=%t rows=%d processed=%d failed=%d batches=%d",
		status, kind, req.DryRun, t.Rows, t.Processed, t.Failed(), t.Batches)
	s.recordImport(kindLabel, string(status), req.DryRun, started)
	return completedResult(req.DryRun, importID, t), nil
}

// prescan counts the data rows of a seekable upload and rewinds it, so an
// over-limit file is refused before a job exists or a batch commits.
// Read errors are left to the main pass.
func (s *Service) prescan(fileName string, file io.ReadSeeker) (int, error) {
	counted, err := countRows(fileName, limitSize(file, s.guard.MaxFileBytes()), s.maxRows)
	if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
		return 0, fatalError(fmt.Errorf("failed to rewind upload: %w", seekErr))
	}
	switch {
	case errors.Is(err, ErrRowLimitExceeded):
		return 0, rowLimitError(s.maxRows)
	case errors.Is(err, ErrFileTooLarge):
		return 0, fatalError(err)
	case err != nil:
		return 0, nil
	}
	return counted, nil
}

func (s *Service) reject(req ImportRequest, kind string, err *Error, started time.Time) (Result, error) {
	log.Printf("[import] rejected kind=%s file=%q code=%s: %s", kind, req.FileName, err.Code, err.Message)
	s.recordImport(kind, "rejected", req.DryRun, started)
	return preconditionResult(req.DryRun, err), err
}

// abort reports a fatal error. When a job exists it is finalized as failed
// with a single entry naming the cause; committed batches stay committed.
func (s *Service) abort(ctx context.Context, req ImportRequest, kind string, led *ledger, fingerprint string, t tally, err error, started time.Time) (Result, error) {
	fatal := fatalError(err)
	log.Printf("[import] failed kind=%s file=%q code=%s: %v", kind, req.FileName, fatal.Code, fatal)

	var importID *string
	if led != nil {
		id := led.ID().String()
		importID = &id
		message := failureMessage(fatal)
		outcome := domain.ImportJobOutcome{
			Status:            domain.ImportJobStatusFailed,
			ProcessedRows:     t.Processed,
			FailedRows:        t.Failed(),
			Errors:            []domain.RowError{{Row: 0, Code: fatal.Code, Message: message}},
			Summary:           "Import failed: " + message + ".",
			SourceFingerprint: fingerprint,
			CompletedAt:       s.now().UTC(),
		}
		if _, finalizeErr := led.finalize(ctx, outcome); finalizeErr != nil {
			log.Printf("[import] job %s could not be marked failed: %v", led.ID(), finalizeErr)
		}
	}
	s.recordImport(kind, string(domain.ImportJobStatusFailed), req.DryRun, started)
	return failedResult(req.DryRun, importID, fatal), fatal
}

func (s *Service) invalidate(ctx context.Context, identity auth.Identity, def schema.Definition, importID uuid.UUID, rows int) {
	if rows <= 0 {
		return
	}
	event := cache.Event{
		TenantID:  identity.TenantID,
		Kind:      def.Kind,
		Table:     def.Table,
		ImportID:  importID,
		Rows:      rows,
		ChangedAt: s.now().UTC(),
	}
	if err := s.invalidator.Invalidate(context.WithoutCancel(ctx), event); err != nil {
		log.Printf("[import] invalidation for job %s failed: %v", importID, err)
	}
}

func (s *Service) recordImport(kind, status string, dryRun bool, started time.Time) {
	if kind == "" {
		kind = "unknown"
	}
	metrics.RecordImport(kind, status, dryRun, s.now().Sub(started))
}

func requiredFields(def schema.Definition) []string {
	var names []string
	for _, field := range def.Fields() {
		if field.Required && !field.Injected {
			names = append(names, field.Name)
		}
	}
	return names
}

// SuggestRequest carries the upload used to ask for a column mapping.
type SuggestRequest struct {
	Kind     string
	FileName string
	File     io.Reader
}

// SuggestResult is a mapping proposal already restricted to the kind's
// fields.
type SuggestResult struct {
	Kind            string            `json:"kind"`
	Headers         []string          `json:"headers"`
	Mapping         map[string]string `json:"mapping"`
	ExpectedFields  []string          `json:"expectedFields"`
	MissingRequired []string          `json:"missingRequired,omitempty"`
}

// SuggestMapping reads the header and a few sample rows and asks the
// suggestion service for a mapping. Targets outside the schema or on the
// denylist are dropped from the answer.
func (s *Service) SuggestMapping(ctx context.Context, req SuggestRequest) (SuggestResult, error) {
	if _, rejection := s.guard.Authorize(ctx); rejection != nil {
		return SuggestResult{}, preconditionError(rejection.Code, rejection.Reason, rejection)
	}
	if s.suggester == nil {
		return SuggestResult{}, preconditionError(CodeSuggestFailure, suggest.ErrNotConfigured.Error(), suggest.ErrNotConfigured)
	}
	kind, err := domain.ParseImportKind(req.Kind)
	if err != nil {
		return SuggestResult{}, preconditionError(CodeUnknownKind, err.Error(), err)
	}
	def, err := schema.Lookup(kind)
	if err != nil {
		return SuggestResult{}, preconditionError(CodeUnknownKind, err.Error(), err)
	}
	if req.File == nil {
		return SuggestResult{}, preconditionError(guard.CodeFileMissing, "a sample file is required", nil)
	}
	if !guard.SupportedExtension(req.FileName) {
		return SuggestResult{}, preconditionError(guard.CodeUnsupportedType, "only .csv and .xlsx files are supported", ErrUnsupportedFormat)
	}

	source, err := openSource(req.FileName, limitSize(req.File, s.guard.MaxFileBytes()))
	if err != nil {
		return SuggestResult{}, fatalError(err)
	}
	defer source.Close()

	var samples [][]string
	for len(samples) < suggestSampleRows {
		row, _, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return SuggestResult{}, fatalError(err)
		}
		if isBlank(row) {
			continue
		}
		samples = append(samples, row)
	}

	expected := def.FieldNames()
	proposed, err := s.suggester.Suggest(ctx, suggest.Request{
		Kind:           string(kind),
		Headers:        source.Header(),
		SampleRows:     samples,
		ExpectedFields: expected,
	})
	if err != nil {
		return SuggestResult{}, newError(CategoryFatal, CodeSuggestFailure, "mapping suggestion failed", err)
	}

	filtered := mapping.Filter(proposed, expected)
	mapper, err := mapping.New(source.Header(), filtered, expected)
	if err != nil {
		return SuggestResult{}, newError(CategoryFatal, CodeSuggestFailure, "mapping suggestion unusable", err)
	}
	return SuggestResult{
		Kind:            string(kind),
		Headers:         source.Header(),
		Mapping:         filtered,
		ExpectedFields:  expected,
		MissingRequired: mapper.Missing(requiredFields(def)),
	}, nil
}

// Identity authorizes the caller for read-only job access.
func (s *Service) Identity(ctx context.Context) (auth.Identity, error) {
	identity, rejection := s.guard.Authorize(ctx)
	if rejection != nil {
		return auth.Identity{}, preconditionError(rejection.Code, rejection.Reason, rejection)
	}
	return identity, nil
}

// GetJob returns a job of the caller's tenant. Jobs of other tenants are
// reported as not found.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	if _, err := s.Identity(ctx); err != nil {
		return domain.ImportJob{}, err
	}
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return domain.ImportJob{}, err
	}
	if err := auth.EnforceTenantScope(ctx, job.TenantID); err != nil {
		return domain.ImportJob{}, repository.ErrJobNotFound
	}
	return job, nil
}

// ListJobs pages through the caller's tenant jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, limit, offset int) ([]domain.ImportJob, int, error) {
	identity, err := s.Identity(ctx)
	if err != nil {
		return nil, 0, err
	}
	limit, offset = repository.NormalizePage(limit, offset)
	return s.jobs.ListByTenant(ctx, identity.TenantID, limit, offset)
}

// LoadJobs resolves several ids at once through the request's job loader
// when one is attached. Unknown ids and other tenants' jobs are omitted.
func (s *Service) LoadJobs(ctx context.Context, ids []uuid.UUID) ([]domain.ImportJob, error) {
	identity, err := s.Identity(ctx)
	if err != nil {
		return nil, err
	}
	var jobs []domain.ImportJob
	if loader := middleware.JobLoaderFromContext(ctx); loader != nil {
		jobs, err = loader.LoadMany(ctx, ids)
	} else {
		jobs, err = s.jobs.GetByIDs(ctx, ids)
	}
	if err != nil {
		return nil, err
	}
	scoped := make([]domain.ImportJob, 0, len(jobs))
	for _, job := range jobs {
		if job.TenantID == identity.TenantID {
			scoped = append(scoped, job)
		}
	}
	return scoped, nil
}
