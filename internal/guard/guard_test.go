package guard

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/bulkimport/internal/auth"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func importer() auth.Identity {
	return auth.Identity{UserID: uuid.New(), TenantID: uuid.New(), Roles: []string{auth.RoleImport}}
}

func newTestGuard(limit int) (*Guard, *CSRFSigner) {
	signer := NewCSRFSigner("0123456789abcdef0123", time.Hour)
	g := New(DefaultAuthorizer(), signer, NewSlidingWindowLimiter(limit, time.Hour), 10<<20,
		WithClock(func() time.Time { return fixedNow }))
	return g, signer
}

func validFile() FileInfo {
	return FileInfo{Present: true, Name: "costs.csv", Size: 2048}
}

func TestCheck_PassesAllChecks(t *testing.T) {
	g, signer := newTestGuard(10)
	identity := importer()
	ctx := auth.ContextWithIdentity(context.Background(), identity)

	got, rejection := g.Check(ctx, signer.Sign(identity, fixedNow), validFile())
	require.Nil(t, rejection)
	assert.Equal(t, identity.UserID, got.UserID)
}

func TestCheck_OrderShortCircuits(t *testing.T) {
	g, signer := newTestGuard(10)
	identity := importer()
	token := signer.Sign(identity, fixedNow)

	_, rejection := g.Check(context.Background(), token, validFile())
	require.NotNil(t, rejection)
	assert.Equal(t, CodeUnauthenticated, rejection.Code)
	assert.Equal(t, http.StatusUnauthorized, rejection.HTTPStatus())

	viewer := identity
	viewer.Roles = []string{"viewer"}
	_, rejection = g.Check(auth.ContextWithIdentity(context.Background(), viewer), "", FileInfo{})
	require.NotNil(t, rejection)
	assert.Equal(t, CodeForbidden, rejection.Code, "role is checked before the token and file")

	ctx := auth.ContextWithIdentity(context.Background(), identity)
	_, rejection = g.Check(ctx, "", FileInfo{})
	require.NotNil(t, rejection)
	assert.Equal(t, CodeCSRF, rejection.Code, "token is checked before the file")
}

func TestCheck_AdminRoleAccepted(t *testing.T) {
	g, signer := newTestGuard(10)
	identity := importer()
	identity.Roles = []string{"ADMIN"}
	ctx := auth.ContextWithIdentity(context.Background(), identity)

	_, rejection := g.Check(ctx, signer.Sign(identity, fixedNow), validFile())
	assert.Nil(t, rejection)
}

func TestCheck_RateLimitAfterThreshold(t *testing.T) {
	g, signer := newTestGuard(2)
	identity := importer()
	ctx := auth.ContextWithIdentity(context.Background(), identity)
	token := signer.Sign(identity, fixedNow)

	for i := 0; i < 2; i++ {
		_, rejection := g.Check(ctx, token, validFile())
		require.Nil(t, rejection)
	}
	_, rejection := g.Check(ctx, token, validFile())
	require.NotNil(t, rejection)
	assert.Equal(t, CodeRateLimited, rejection.Code)
	assert.Equal(t, time.Hour, rejection.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, rejection.HTTPStatus())

	other := importer()
	otherCtx := auth.ContextWithIdentity(context.Background(), other)
	_, rejection = g.Check(otherCtx, signer.Sign(other, fixedNow), validFile())
	assert.Nil(t, rejection, "limits are per identity")
}

func TestCheck_FileRules(t *testing.T) {
	cases := map[string]struct {
		file FileInfo
		code string
	}{
		"missing":     {FileInfo{}, CodeFileMissing},
		"empty":       {FileInfo{Present: true, Name: "a.csv"}, CodeFileEmpty},
		"too large":   {FileInfo{Present: true, Name: "a.csv", Size: 10<<20 + 1}, CodeFileTooLarge},
		"unsupported": {FileInfo{Present: true, Name: "a.pdf", Size: 10}, CodeUnsupportedType},
		"no ext":      {FileInfo{Present: true, Name: "costs", Size: 10}, CodeUnsupportedType},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			g, signer := newTestGuard(100)
			identity := importer()
			ctx := auth.ContextWithIdentity(context.Background(), identity)
			_, rejection := g.Check(ctx, signer.Sign(identity, fixedNow), tc.file)
			require.NotNil(t, rejection)
			assert.Equal(t, tc.code, rejection.Code)
		})
	}

	g, signer := newTestGuard(100)
	identity := importer()
	ctx := auth.ContextWithIdentity(context.Background(), identity)
	_, rejection := g.Check(ctx, signer.Sign(identity, fixedNow), FileInfo{Present: true, Name: "Costs.XLSX", Size: 10 << 20})
	assert.Nil(t, rejection, "size at the ceiling and upper-case extensions are accepted")
}

func TestCSRFSigner(t *testing.T) {
	signer := NewCSRFSigner("0123456789abcdef0123", time.Minute)
	identity := importer()
	token := signer.Sign(identity, fixedNow)

	require.NoError(t, signer.Verify(identity, token, fixedNow.Add(30*time.Second)))
	assert.Error(t, signer.Verify(identity, token, fixedNow.Add(2*time.Minute)), "expired")
	assert.Error(t, signer.Verify(importer(), token, fixedNow), "other identity")
	assert.Error(t, signer.Verify(identity, "not-base64!", fixedNow))
	assert.Error(t, signer.Verify(identity, "", fixedNow))

	forged := NewCSRFSigner("another-secret-value", time.Minute).Sign(identity, fixedNow)
	assert.Error(t, signer.Verify(identity, forged, fixedNow), "foreign secret")
}

func TestSlidingWindowLimiter(t *testing.T) {
	limiter := NewSlidingWindowLimiter(2, time.Hour)

	allowed, _ := limiter.Allow("u", fixedNow)
	require.True(t, allowed)
	allowed, _ = limiter.Allow("u", fixedNow.Add(10*time.Minute))
	require.True(t, allowed)

	allowed, retry := limiter.Allow("u", fixedNow.Add(20*time.Minute))
	require.False(t, allowed)
	assert.Equal(t, 40*time.Minute, retry)

	allowed, _ = limiter.Allow("u", fixedNow.Add(61*time.Minute))
	assert.True(t, allowed, "oldest action slid out of the window")

	limiter.Prune(fixedNow.Add(3 * time.Hour))
	limiter.mu.Lock()
	assert.Empty(t, limiter.log)
	limiter.mu.Unlock()
}

func TestSlidingWindowLimiter_Concurrent(t *testing.T) {
	limiter := NewSlidingWindowLimiter(10, time.Hour)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow("shared", fixedNow); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, granted)
}

func TestAuthorizeSkipsTokenAndLimiter(t *testing.T) {
	g, _ := newTestGuard(1)
	identity := importer()
	ctx := auth.ContextWithIdentity(context.Background(), identity)

	for i := 0; i < 3; i++ {
		_, rejection := g.Authorize(ctx)
		require.Nil(t, rejection)
	}
	_, rejection := g.Authorize(context.Background())
	require.NotNil(t, rejection)
	assert.Equal(t, CodeUnauthenticated, rejection.Code)
}

func TestSlidingWindowLimiter_PruneEvery(t *testing.T) {
	limiter := NewSlidingWindowLimiter(5, time.Minute)
	allowed, _ := limiter.Allow("stale", time.Now().Add(-time.Hour))
	require.True(t, allowed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		limiter.PruneEvery(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		limiter.mu.Lock()
		defer limiter.mu.Unlock()
		return len(limiter.log) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prune loop did not stop after cancel")
	}
}
