package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliEnv struct {
	dir    string
	tenant string
}

func newCLIEnv(t *testing.T) cliEnv {
	return cliEnv{dir: t.TempDir(), tenant: uuid.NewString()}
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	base := []string{
		"--config", e.dir,
		"--store", "sqlite",
		"--sqlite-dsn", filepath.Join(e.dir, "cli.db"),
		"--tenant", e.tenant,
	}
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, base...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e cliEnv) writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestImportThenInspectJob(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeFile(t, "costs.csv", "sku,cost\nA-1,1.50\nA-2,oops\n")

	out, err := env.run(t, "import", path, "--kind", "product-costs")
	var coded *exitError
	require.True(t, errors.As(err, &coded), "expected exit code error, got %v", err)
	assert.Equal(t, exitRowErrors, coded.code)

	var result struct {
		Success        bool    `json:"success"`
		ImportID       *string `json:"importId"`
		ProcessedCount *int    `json:"processedCount"`
		ErrorCount     *int    `json:"errorCount"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	require.NotNil(t, result.ImportID)
	assert.Equal(t, 1, *result.ProcessedCount)
	assert.Equal(t, 1, *result.ErrorCount)

	out, err = env.run(t, "jobs", "get", *result.ImportID)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "completed_with_errors"`)

	out, err = env.run(t, "jobs", "errors", *result.ImportID)
	require.NoError(t, err)
	assert.Contains(t, out, "row,message")
	assert.Contains(t, out, "3,")

	out, err = env.run(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 1`)
}

func TestDryRunLeavesNoJob(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeFile(t, "costs.csv", "sku,cost\nA-1,1.50\n")

	out, err := env.run(t, "import", path, "--kind", "product-costs", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, `"isDryRun": true`)

	out, err = env.run(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 0`)
}

func TestInvalidTenantIsUsageError(t *testing.T) {
	env := newCLIEnv(t)
	env.tenant = "not-a-uuid"

	_, err := env.run(t, "jobs", "list")
	var coded *exitError
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, exitUsage, coded.code)
}
