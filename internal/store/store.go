// Package store persists the collector's outputs: price rows, the blacklist
// and the resumable cursor. The ingest worker only depends on the interfaces
// below; SQLite (gorm) and Postgres (pgx) implementations are provided.
package store

import (
	"context"

	"github.com/codyseavey/albion-tracker/internal/models"
)

// BlacklistStore is the persistent set of items known to have no market data.
type BlacklistStore interface {
	// Add is idempotent: adding an existing name is a no-op.
	Add(ctx context.Context, uniqueName, reason string) error
	// Remove deletes an entry. Only operators call this; the worker never does.
	Remove(ctx context.Context, uniqueName string) error
	Snapshot(ctx context.Context) (map[string]struct{}, error)
	List(ctx context.Context) ([]models.BlacklistEntry, error)
}

// ProgressStore holds the catalog index of the next item to process.
type ProgressStore interface {
	// Get returns 0 when no cursor has been saved yet.
	Get(ctx context.Context) (int, error)
	Set(ctx context.Context, index int) error
}

// PriceStore upserts observations keyed by (unique_name, city).
type PriceStore interface {
	Upsert(ctx context.Context, price *models.ItemPrice) error
	// Scan calls fn for every stored row. Returning an error from fn stops the scan.
	Scan(ctx context.Context, fn func(models.ItemPrice) error) error
	ListByItem(ctx context.Context, uniqueName string) ([]models.ItemPrice, error)
}

// Stores bundles the three stores of one backend
type Stores struct {
	Blacklist BlacklistStore
	Progress  ProgressStore
	Prices    PriceStore

	close func() error
}

// Close releases the backend's connections
func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
