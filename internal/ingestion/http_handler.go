package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/export"
	"github.com/rpattn/bulkimport/internal/guard"
	"github.com/rpattn/bulkimport/internal/repository"
)

// HeaderCSRFToken carries the anti-forgery token on uploads.
const HeaderCSRFToken = "X-CSRF-Token"

// multipartOverhead is allowed on top of the file ceiling for the other form
// fields and part headers.
const multipartOverhead = 1 << 20

// Handler exposes imports and the job ledger over HTTP.
type Handler struct {
	service *Service
	signer  *guard.CSRFSigner
	mux     *http.ServeMux
}

// NewHTTPHandler wires the import routes. Mount it under "/imports".
func NewHTTPHandler(service *Service, signer *guard.CSRFSigner) http.Handler {
	h := &Handler{service: service, signer: signer, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /imports", h.handleImport)
	h.mux.HandleFunc("POST /imports/suggest-mapping", h.handleSuggestMapping)
	h.mux.HandleFunc("GET /imports/csrf-token", h.handleCSRFToken)
	h.mux.HandleFunc("GET /imports/jobs", h.handleListJobs)
	h.mux.HandleFunc("GET /imports/jobs/{id}", h.handleGetJob)
	h.mux.HandleFunc("GET /imports/jobs/{id}/errors.csv", h.handleErrorReport)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type jobList struct {
	Jobs   []domain.ImportJob `json:"jobs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

type csrfTokenPayload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.service.guard.MaxFileBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeImport(w, r, h.oversizedRequest(r))
			return
		}
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	dryRun, err := formBool(r, "dryRun")
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid dryRun: %v", err), http.StatusBadRequest)
		return
	}
	mapping, err := formMapping(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid mapping: %v", err), http.StatusBadRequest)
		return
	}
	totalRows := 0
	if raw := strings.TrimSpace(r.FormValue("totalRows")); raw != "" {
		totalRows, err = strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid totalRows: %v", err), http.StatusBadRequest)
			return
		}
	}
	token := strings.TrimSpace(r.Header.Get(HeaderCSRFToken))
	if token == "" {
		token = strings.TrimSpace(r.FormValue("csrfToken"))
	}

	req := ImportRequest{
		Kind:          r.FormValue("kind"),
		DryRun:        dryRun,
		Mapping:       mapping,
		CSRFToken:     token,
		TotalRowsHint: totalRows,
	}
	// A missing file is reported by the guard, after the identity checks.
	file, header, err := formFile(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid file: %v", err), http.StatusBadRequest)
		return
	}
	if file != nil {
		defer file.Close()
		req.File = file
		req.FileName = header.Filename
		req.FileSize = header.Size
	}

	h.writeImport(w, r, req)
}

func (h *Handler) writeImport(w http.ResponseWriter, r *http.Request, req ImportRequest) {
	result, err := h.service.Import(r.Context(), req)
	if err != nil {
		if result.Rejection != nil && result.Rejection.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.Rejection.RetryAfter.Seconds()+0.5)))
		}
		writeJSON(w, statusFor(err), result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// oversizedRequest describes a body cut off by the size ceiling. The file is
// never read: the guard runs its identity, token and rate checks first and
// then rejects the declared size. Only the header token is available since
// the form could not be parsed.
func (h *Handler) oversizedRequest(r *http.Request) ImportRequest {
	size := r.ContentLength
	if limit := h.service.guard.MaxFileBytes(); size <= limit {
		size = limit + multipartOverhead + 1
	}
	return ImportRequest{
		FileSize:  size,
		File:      strings.NewReader(""),
		CSRFToken: strings.TrimSpace(r.Header.Get(HeaderCSRFToken)),
	}
}

func (h *Handler) handleSuggestMapping(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.service.guard.MaxFileBytes()+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}
	file, header, err := formFile(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid file: %v", err), http.StatusBadRequest)
		return
	}
	req := SuggestRequest{Kind: r.FormValue("kind")}
	if file != nil {
		defer file.Close()
		req.File = file
		req.FileName = header.Filename
	}

	result, err := h.service.SuggestMapping(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	identity, err := h.service.Identity(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	now := time.Now()
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, csrfTokenPayload{
		Token:     h.signer.Sign(identity, now),
		ExpiresAt: now.Add(h.signer.TTL()).UTC(),
	})
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("ids")); raw != "" {
		ids, err := parseIDs(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		jobs, err := h.service.LoadJobs(r.Context(), ids)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, jobList{Jobs: jobs, Total: len(jobs), Limit: len(ids)})
		return
	}

	limit := parseIntDefault(query.Get("limit"), 50)
	offset := parseIntDefault(query.Get("offset"), 0)
	limit, offset = repository.NormalizePage(limit, offset)
	jobs, total, err := h.service.ListJobs(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if jobs == nil {
		jobs = []domain.ImportJob{}
	}
	writeJSON(w, http.StatusOK, jobList{Jobs: jobs, Total: total, Limit: limit, Offset: offset})
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) handleErrorReport(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", export.ReportFileName(job)))
	if _, err := export.WriteErrorReport(w, job); err != nil {
		log.Printf("[HTTP] error report for job %s failed: %v", job.ID, err)
	}
}

func (h *Handler) lookupJob(w http.ResponseWriter, r *http.Request) (domain.ImportJob, bool) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid job identifier: %v", err), http.StatusBadRequest)
		return domain.ImportJob{}, false
	}
	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return domain.ImportJob{}, false
	}
	return job, true
}

func statusFor(err error) int {
	var importErr *Error
	switch {
	case errors.As(err, &importErr):
		return importErr.HTTPStatus()
	case errors.Is(err, repository.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if r.MultipartForm == nil {
		return nil, nil, nil
	}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	return file, header, err
}

func formBool(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// formMapping reads the optional mapping field, a JSON object of raw header
// to canonical field name.
func formMapping(r *http.Request) (map[string]string, error) {
	raw := strings.TrimSpace(r.FormValue("mapping"))
	if raw == "" {
		return nil, nil
	}
	var mapping map[string]string
	if err := json.NewDecoder(io.LimitReader(strings.NewReader(raw), 64<<10)).Decode(&mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

func parseIDs(raw string) ([]uuid.UUID, error) {
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid job identifier %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	if len(ids) > 500 {
		return nil, fmt.Errorf("at most 500 ids may be requested at once")
	}
	return ids, nil
}

func parseIntDefault(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
