// Package store defines the graph store capability consumed by search tasks:
// executing a search matrix against the annotation graph, resolving the
// database lookups behind identifier reconstruction, and pooling store
// instances so at most one task holds a given instance at a time.
package store

import (
	"context"

	"github.com/corpex-io/corpex/internal/domain/matrix"
	"github.com/corpex-io/corpex/internal/results"
)

// GraphStore is one connection to the annotation graph. Search implements the
// matrix contract; the embedded Enricher serves identifier reconstruction.
type GraphStore interface {
	results.Enricher

	// Search finds every occurrence of the matrix in the corpus and returns
	// canonical match identifier strings. It observes ctx cancellation at
	// transcript boundaries, returning the matches collected so far, and
	// reports progress (0-100) through onProgress when non-nil.
	Search(ctx context.Context, m *matrix.Matrix, onProgress func(percent int)) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Pool is a bounded checkout/return pool of graph stores.
type Pool interface {
	// Checkout blocks until a store is available or ctx is done.
	Checkout(ctx context.Context) (GraphStore, error)
	// Return puts a checked-out store back.
	Return(GraphStore)
	// Close closes all pooled stores.
	Close() error
}
