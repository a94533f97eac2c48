// Package state persists ledger snapshots and the closed-trade journal.
package state

import "context"

// Storage is a durable blob store keyed by slash-separated paths. It
// satisfies ledger.Store.
type Storage interface {
	// Write replaces the data at path atomically.
	Write(ctx context.Context, path string, data []byte) error

	// Read returns an error matching core.ErrNotFound when nothing was
	// written at path.
	Read(ctx context.Context, path string) ([]byte, error)
}
