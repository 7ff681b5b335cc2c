// Package sqlite implements the record store and import job ledger on an
// embedded SQLite database. It backs the operator CLI, local runs and tests;
// production deployments use the Postgres repositories.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/repository"
	"github.com/rpattn/bulkimport/internal/schema"
	"github.com/rpattn/bulkimport/pkg/validator"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed RecordStore and ImportJobRepository.
type Store struct {
	db *sql.DB
}

var (
	_ repository.RecordStore         = (*Store)(nil)
	_ repository.ImportJobRepository = (*Store)(nil)
)

// Open opens the database at dsn and creates the schema when missing.
//
//	"file:imports.db"
//	"/var/lib/bulkimport/imports.db"
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite allows one writer; a single connection serializes batches
	// instead of surfacing SQLITE_BUSY to concurrent imports.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	store := &Store{db: db}
	if err := store.createSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema(ctx context.Context) error {
	statements := []string{importJobsDDL}
	for _, kind := range domain.ImportKinds() {
		statements = append(statements, tableDDL(schema.MustLookup(kind)))
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("sqlite: create schema: %w", err)
		}
	}
	return nil
}

const importJobsDDL = `CREATE TABLE IF NOT EXISTS import_jobs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	file_name TEXT NOT NULL,
	total_rows INTEGER NOT NULL DEFAULT 0,
	processed_rows INTEGER NOT NULL DEFAULT 0,
	failed_rows INTEGER NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '[]',
	summary TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_fingerprint TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT
)`

func tableDDL(def schema.Definition) string {
	columns := make([]string, 0, len(def.Fields())+2)
	for _, field := range def.Fields() {
		column := quote(field.Name) + " " + columnType(field.Type)
		if field.Required {
			column += " NOT NULL"
		}
		columns = append(columns, column)
	}
	columns = append(columns, `"updated_at" TEXT NOT NULL`)
	columns = append(columns, "PRIMARY KEY ("+quoteList(conflictColumns(def))+")")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(def.Table), strings.Join(columns, ",\n\t"))
}

func columnType(fieldType validator.FieldType) string {
	switch fieldType {
	case validator.FieldTypeInteger, validator.FieldTypeMoney:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func conflictColumns(def schema.Definition) []string {
	return append([]string{schema.TenantField}, def.KeyFields...)
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quote(name)
	}
	return strings.Join(quoted, ", ")
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %w", repository.ErrStoreUnavailable, err)
	}
	return err
}
