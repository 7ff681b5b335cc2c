// Package guard runs the precondition checks that gate an import before any
// byte of the file is parsed.
package guard

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rpattn/bulkimport/internal/auth"
	"github.com/rpattn/bulkimport/internal/metrics"
)

// Rejection codes.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeCSRF            = "csrf_invalid"
	CodeRateLimited     = "rate_limited"
	CodeFileMissing     = "file_missing"
	CodeFileEmpty       = "file_empty"
	CodeFileTooLarge    = "file_too_large"
	CodeUnsupportedType = "unsupported_file_type"
)

// Rejection is the structured outcome of a failed check.
type Rejection struct {
	Code       string        `json:"code"`
	Reason     string        `json:"reason"`
	RetryAfter time.Duration `json:"-"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

// HTTPStatus maps the rejection onto a response status.
func (r *Rejection) HTTPStatus() int {
	switch r.Code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden, CodeCSRF:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

// Authorizer decides whether an identity may run imports.
type Authorizer interface {
	Authorize(identity auth.Identity) bool
}

// RoleAuthorizer permits identities holding any of its roles.
type RoleAuthorizer struct {
	Roles []string
}

func (a RoleAuthorizer) Authorize(identity auth.Identity) bool {
	for _, role := range a.Roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

// DefaultAuthorizer accepts the import role and administrators.
func DefaultAuthorizer() RoleAuthorizer {
	return RoleAuthorizer{Roles: []string{auth.RoleImport, auth.RoleAdmin}}
}

// FileInfo describes the upload as declared by the caller.
type FileInfo struct {
	Present bool
	Name    string
	Size    int64
}

// SupportedExtensions lists the accepted upload formats.
var SupportedExtensions = []string{".csv", ".xlsx"}

// Guard evaluates the checks in a fixed order and stops at the first failure.
type Guard struct {
	authorizer   Authorizer
	csrf         CSRFVerifier
	limiter      RateLimiter
	maxFileBytes int64
	now          func() time.Time
}

type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func New(authorizer Authorizer, csrf CSRFVerifier, limiter RateLimiter, maxFileBytes int64, opts ...Option) *Guard {
	g := &Guard{
		authorizer:   authorizer,
		csrf:         csrf,
		limiter:      limiter,
		maxFileBytes: maxFileBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MaxFileBytes is the configured upload ceiling.
func (g *Guard) MaxFileBytes() int64 {
	return g.maxFileBytes
}

// Check authorizes the caller in ctx for an upload. A nil rejection means
// every check passed; a passing call consumes one rate-limit slot.
func (g *Guard) Check(ctx context.Context, csrfToken string, file FileInfo) (auth.Identity, *Rejection) {
	identity, rejection := g.check(ctx, csrfToken, file)
	if rejection != nil {
		metrics.RecordRejection(rejection.Code)
		log.Printf("[guard] rejected user=%s tenant=%s code=%s reason=%s",
			identity.UserID, identity.TenantID, rejection.Code, rejection.Reason)
	}
	return identity, rejection
}

// Authorize runs only the identity and role checks. It gates read-only
// operations that need neither a token nor a rate-limit slot.
func (g *Guard) Authorize(ctx context.Context) (auth.Identity, *Rejection) {
	identity, rejection := g.authorize(ctx)
	if rejection != nil {
		metrics.RecordRejection(rejection.Code)
	}
	return identity, rejection
}

func (g *Guard) authorize(ctx context.Context) (auth.Identity, *Rejection) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return auth.Identity{}, &Rejection{Code: CodeUnauthenticated, Reason: "authentication required"}
	}
	if g.authorizer == nil || !g.authorizer.Authorize(identity) {
		return identity, &Rejection{Code: CodeForbidden, Reason: "caller lacks the inventory import role"}
	}
	return identity, nil
}

func (g *Guard) check(ctx context.Context, csrfToken string, file FileInfo) (auth.Identity, *Rejection) {
	identity, rejection := g.authorize(ctx)
	if rejection != nil {
		return identity, rejection
	}
	now := g.now()
	if g.csrf == nil {
		return identity, &Rejection{Code: CodeCSRF, Reason: "anti-forgery validation unavailable"}
	}
	if err := g.csrf.Verify(identity, csrfToken, now); err != nil {
		return identity, &Rejection{Code: CodeCSRF, Reason: err.Error()}
	}
	if g.limiter != nil {
		if allowed, retryAfter := g.limiter.Allow(identity.UserID.String(), now); !allowed {
			return identity, &Rejection{
				Code:       CodeRateLimited,
				Reason:     fmt.Sprintf("import limit reached, retry in %s", retryAfter.Round(time.Second)),
				RetryAfter: retryAfter,
			}
		}
	}
	if rejection := g.checkFile(file); rejection != nil {
		return identity, rejection
	}
	return identity, nil
}

func (g *Guard) checkFile(file FileInfo) *Rejection {
	if !file.Present {
		return &Rejection{Code: CodeFileMissing, Reason: "no file uploaded"}
	}
	if file.Size == 0 {
		return &Rejection{Code: CodeFileEmpty, Reason: "uploaded file is empty"}
	}
	if g.maxFileBytes > 0 && file.Size > g.maxFileBytes {
		return &Rejection{
			Code:   CodeFileTooLarge,
			Reason: fmt.Sprintf("file is %d bytes, the limit is %d bytes", file.Size, g.maxFileBytes),
		}
	}
	if !SupportedExtension(file.Name) {
		return &Rejection{
			Code:   CodeUnsupportedType,
			Reason: fmt.Sprintf("unsupported file type %q, expected one of %s", filepath.Ext(file.Name), strings.Join(SupportedExtensions, ", ")),
		}
	}
	return nil
}

// SupportedExtension reports whether name carries an accepted extension.
func SupportedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}
