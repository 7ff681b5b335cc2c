// Package app assembles the import service from configuration. The HTTP
// server and the operator CLI share it.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/bulkimport/internal/cache"
	"github.com/rpattn/bulkimport/internal/config"
	"github.com/rpattn/bulkimport/internal/db"
	"github.com/rpattn/bulkimport/internal/guard"
	"github.com/rpattn/bulkimport/internal/ingestion"
	"github.com/rpattn/bulkimport/internal/repository"
	"github.com/rpattn/bulkimport/internal/repository/sqlite"
	"github.com/rpattn/bulkimport/internal/suggest"
)

// App holds the wired service and the resources behind it.
type App struct {
	Service *ingestion.Service
	Signer  *guard.CSRFSigner
	Limiter *guard.SlidingWindowLimiter
	Jobs    repository.ImportJobRepository

	closers []func()
}

// New opens the configured store and builds the service on top of it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{}
	var (
		store       repository.RecordStore
		invalidator cache.Invalidator
	)

	switch cfg.Store.Driver {
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.Store.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := s.Close(); err != nil {
				log.Printf("[db] failed to close sqlite store: %v", err)
			}
		})
		store, a.Jobs = s, s
	case config.StorePostgres:
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		if err := db.RunMigrations(cfg.Database); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		store = repository.NewRecordStore(conn.Pool)
		a.Jobs = repository.NewImportJobRepository(conn.Pool)
		if cfg.Cache.Driver == config.InvalidatorNotify {
			invalidator = cache.NewNotifyInvalidator(conn, cfg.Cache.Channel)
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if invalidator == nil {
		invalidator = newInvalidator(cfg.Cache.Driver)
	}

	secret := cfg.Security.CSRFSecret
	if secret == "" {
		// Tokens issued by this process stop verifying after a restart.
		secret = uuid.NewString() + uuid.NewString()
		log.Printf("[config] security.csrf_secret not set, using a per-process secret")
	}
	a.Signer = guard.NewCSRFSigner(secret, cfg.Security.CSRFTTL)

	a.Limiter = guard.NewSlidingWindowLimiter(cfg.Limits.ImportsPerHour, time.Hour)
	g := guard.New(guard.DefaultAuthorizer(), a.Signer, a.Limiter, cfg.Limits.MaxFileBytes)

	serviceOpts := []ingestion.Option{
		ingestion.WithBatchSize(cfg.Limits.BatchSize),
		ingestion.WithMaxRows(cfg.Limits.MaxRows),
		ingestion.WithInvalidator(invalidator),
	}
	if cfg.Suggest.BaseURL != "" {
		serviceOpts = append(serviceOpts, ingestion.WithSuggester(suggest.New(cfg.Suggest.BaseURL, cfg.Suggest.Timeout)))
	}

	a.Service = ingestion.NewService(g, store, a.Jobs, serviceOpts...)
	return a, nil
}

// newInvalidator picks the invalidator for drivers that need no database.
// Notify outside Postgres falls back to logging.
func newInvalidator(driver string) cache.Invalidator {
	switch driver {
	case config.InvalidatorNone:
		return cache.Nop{}
	case config.InvalidatorNotify:
		log.Printf("[cache] notify invalidation requires postgres, logging events instead")
		return cache.LogInvalidator{}
	default:
		return cache.LogInvalidator{}
	}
}

// Close releases the store in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
