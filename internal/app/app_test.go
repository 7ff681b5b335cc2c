package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/bulkimport/internal/auth"
	"github.com/rpattn/bulkimport/internal/cache"
	"github.com/rpattn/bulkimport/internal/config"
	"github.com/rpattn/bulkimport/internal/ingestion"
)

func sqliteConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Driver = config.StoreSQLite
	cfg.Store.SQLiteDSN = filepath.Join(t.TempDir(), "app.db")
	cfg.Cache.Driver = config.InvalidatorNone
	cfg.Security.CSRFSecret = "app-test-secret-0123"
	return cfg
}

func TestNewSQLiteRunsImportEndToEnd(t *testing.T) {
	a, err := New(context.Background(), sqliteConfig(t))
	require.NoError(t, err)
	defer a.Close()

	identity := auth.Identity{UserID: uuid.New(), TenantID: uuid.New(), Roles: []string{auth.RoleImport}}
	ctx := auth.ContextWithIdentity(context.Background(), identity)
	body := "sku,cost\nA-1,1.50\nA-2,2.25\n"

	result, err := a.Service.Import(ctx, ingestion.ImportRequest{
		Kind:      "product-costs",
		FileName:  "costs.csv",
		FileSize:  int64(len(body)),
		File:      strings.NewReader(body),
		CSRFToken: a.Signer.Sign(identity, time.Now()),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.ImportID)

	job, err := a.Service.GetJob(ctx, uuid.MustParse(*result.ImportID))
	require.NoError(t, err)
	assert.Equal(t, 2, job.ProcessedRows)
}

func TestNewGeneratesSecretWhenUnset(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Security.CSRFSecret = ""

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	identity := auth.Identity{UserID: uuid.New(), TenantID: uuid.New()}
	now := time.Now()
	assert.NoError(t, a.Signer.Verify(identity, a.Signer.Sign(identity, now), now))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Store.Driver = "oracle"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewInvalidatorFallbacks(t *testing.T) {
	assert.IsType(t, cache.Nop{}, newInvalidator(config.InvalidatorNone))
	assert.IsType(t, cache.LogInvalidator{}, newInvalidator(config.InvalidatorLog))
	assert.IsType(t, cache.LogInvalidator{}, newInvalidator(config.InvalidatorNotify))
}
