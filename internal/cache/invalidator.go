// Package cache notifies downstream caches and derived views that a tenant's
// inventory data changed after a live import.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/rpattn/bulkimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Invalidator is told which tenant data changed.
type Invalidator interface {
	Invalidate(ctx context.Context, event Event) error
}

// Event is the invalidation payload.
type Event struct {
	TenantID  uuid.UUID         `json:"tenant_id"`
	Kind      domain.ImportKind `json:"kind"`
	Table     string            `json:"table"`
	ImportID  uuid.UUID         `json:"import_id"`
	Rows      int               `json:"rows"`
	ChangedAt time.Time         `json:"changed_at"`
}

// TxRunner runs fn inside a transaction; *db.Connection satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// NotifyInvalidator publishes events with pg_notify. Listeners receive them
// only once the surrounding transaction commits.
type NotifyInvalidator struct {
	runner  TxRunner
	channel string
}

func NewNotifyInvalidator(runner TxRunner, channel string) *NotifyInvalidator {
	if channel == "" {
		channel = "inventory_invalidate"
	}
	return &NotifyInvalidator{runner: runner, channel: channel}
}

func (n *NotifyInvalidator) Invalidate(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode invalidation event: %w", err)
	}
	return n.runner.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, n.channel, string(payload)); err != nil {
			return fmt.Errorf("notify %s: %w", n.channel, err)
		}
		return nil
	})
}

// LogInvalidator only logs events; used when no listener exists.
type LogInvalidator struct{}

func (LogInvalidator) Invalidate(_ context.Context, event Event) error {
	log.Printf("[cache] invalidate tenant=%s kind=%s table=%s rows=%d import=%s",
		event.TenantID, event.Kind, event.Table, event.Rows, event.ImportID)
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Invalidate(context.Context, Event) error { return nil }
