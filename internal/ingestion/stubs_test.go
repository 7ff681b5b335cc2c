package ingestion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/bulkimport/internal/auth"
	"github.com/rpattn/bulkimport/internal/cache"
	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/guard"
	"github.com/rpattn/bulkimport/internal/repository"
	"github.com/rpattn/bulkimport/internal/schema"
	"github.com/rpattn/bulkimport/internal/suggest"
)

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type memoryJobs struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]domain.ImportJob
	createErr   error
	completions int
}

var _ repository.ImportJobRepository = (*memoryJobs)(nil)

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{jobs: make(map[uuid.UUID]domain.ImportJob)}
}

func (m *memoryJobs) Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return domain.ImportJob{}, m.createErr
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *memoryJobs) Complete(ctx context.Context, id uuid.UUID, outcome domain.ImportJobOutcome) (domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ImportJob{}, repository.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return domain.ImportJob{}, repository.ErrJobAlreadyFinalized
	}
	completedAt := outcome.CompletedAt
	job.Status = outcome.Status
	job.ProcessedRows = outcome.ProcessedRows
	job.FailedRows = outcome.FailedRows
	job.Errors = append([]domain.RowError{}, outcome.Errors...)
	job.Summary = outcome.Summary
	job.SourceFingerprint = outcome.SourceFingerprint
	job.CompletedAt = &completedAt
	m.jobs[id] = job
	m.completions++
	return job, nil
}

func (m *memoryJobs) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.ImportJob{}, repository.ErrJobNotFound
	}
	return job, nil
}

func (m *memoryJobs) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ImportJob
	for _, id := range ids {
		if job, ok := m.jobs[id]; ok {
			out = append(out, job)
		}
	}
	return out, nil
}

func (m *memoryJobs) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int, offset int) ([]domain.ImportJob, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.ImportJob
	for _, job := range m.jobs {
		if job.TenantID == tenantID {
			all = append(all, job)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []domain.ImportJob{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memoryJobs) only(t *testing.T) domain.ImportJob {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(m.jobs))
	}
	for _, job := range m.jobs {
		return job
	}
	return domain.ImportJob{}
}

func (m *memoryJobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// memoryStore keeps upserted records by tenant and natural key. fail, when
// set, is consulted before each batch is applied.
type memoryStore struct {
	mu      sync.Mutex
	rows    map[string]domain.CanonicalRecord
	batches [][]int
	fail    func(batch []domain.CanonicalRecord) error
}

var _ repository.RecordStore = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]domain.CanonicalRecord)}
}

func (m *memoryStore) UpsertBatch(ctx context.Context, def schema.Definition, tenantID uuid.UUID, records []domain.CanonicalRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]int, len(records))
	for i, record := range records {
		rows[i] = record.RowNumber
	}
	m.batches = append(m.batches, rows)
	if m.fail != nil {
		if err := m.fail(records); err != nil {
			return 0, err
		}
	}
	if err := repository.CheckBatchKeys(def, records); err != nil {
		return 0, err
	}
	for _, record := range records {
		m.rows[tenantID.String()+"|"+repository.NaturalKey(def, record)] = record
	}
	return len(records), nil
}

func (m *memoryStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memoryStore) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *memoryStore) get(tenantID uuid.UUID, key string) (domain.CanonicalRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.rows[tenantID.String()+"|"+key]
	return record, ok
}

type recordingInvalidator struct {
	mu     sync.Mutex
	events []cache.Event
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, event cache.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingInvalidator) all() []cache.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cache.Event(nil), r.events...)
}

type stubSuggester struct {
	mapping map[string]string
	err     error
	got     suggest.Request
}

func (s *stubSuggester) Suggest(ctx context.Context, req suggest.Request) (map[string]string, error) {
	s.got = req
	return s.mapping, s.err
}

// harness bundles a service with its collaborators and one importer.
type harness struct {
	service  *Service
	store    *memoryStore
	jobs     *memoryJobs
	signer   *guard.CSRFSigner
	identity auth.Identity
}

func newHarness(opts ...Option) *harness {
	return newHarnessWith(newMemoryStore(), newMemoryJobs(), opts...)
}

func newHarnessWith(store repository.RecordStore, jobs repository.ImportJobRepository, opts ...Option) *harness {
	signer := guard.NewCSRFSigner("test-secret-test-secret", time.Hour)
	clock := func() time.Time { return testNow }
	g := guard.New(guard.DefaultAuthorizer(), signer, guard.NewSlidingWindowLimiter(1000, time.Hour), 10<<20,
		guard.WithClock(clock))
	h := &harness{
		service:  NewService(g, store, jobs, append([]Option{WithClock(clock)}, opts...)...),
		signer:   signer,
		identity: auth.Identity{UserID: uuid.New(), TenantID: uuid.New(), Roles: []string{auth.RoleImport}},
	}
	if s, ok := store.(*memoryStore); ok {
		h.store = s
	}
	if j, ok := jobs.(*memoryJobs); ok {
		h.jobs = j
	}
	return h
}

func (h *harness) ctx() context.Context {
	return auth.ContextWithIdentity(context.Background(), h.identity)
}

func (h *harness) request(kind, fileName, body string) ImportRequest {
	return ImportRequest{
		Kind:      kind,
		FileName:  fileName,
		FileSize:  int64(len(body)),
		File:      strings.NewReader(body),
		CSRFToken: h.signer.Sign(h.identity, testNow),
	}
}

// streamOnly hides Seek so the upload is consumed in a single pass.
type streamOnly struct {
	r *strings.Reader
}

func (s streamOnly) Read(p []byte) (int, error) { return s.r.Read(p) }

func costsCSV(rows int, skuPrefix string) string {
	var b strings.Builder
	b.WriteString("sku,cost\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%s-%05d,%d.%02d\n", skuPrefix, i, i%1000, i%100)
	}
	return b.String()
}

func deref(t *testing.T, value *int) int {
	t.Helper()
	if value == nil {
		t.Fatalf("expected a count, got nil")
	}
	return *value
}
