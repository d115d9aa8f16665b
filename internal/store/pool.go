package store

import (
	"context"
	"fmt"

	"github.com/corpex-io/corpex/internal/domain"
)

// FixedPool is a channel-based Pool over a fixed set of stores.
type FixedPool struct {
	ch   chan GraphStore
	size int
}

var _ Pool = (*FixedPool)(nil)

// NewFixedPool builds a pool of size stores created by factory.
func NewFixedPool(size int, factory func() (GraphStore, error)) (*FixedPool, error) {
	if size <= 0 {
		size = 1
	}
	p := &FixedPool{ch: make(chan GraphStore, size), size: size}
	for i := 0; i < size; i++ {
		s, err := factory()
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("create pooled store %d: %w", i, err)
		}
		p.ch <- s
	}
	return p, nil
}

// Checkout blocks until a store is available or ctx is done.
func (p *FixedPool) Checkout(ctx context.Context) (GraphStore, error) {
	select {
	case s := <-p.ch:
		return s, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreExhausted, ctx.Err())
	}
}

// Return puts a store back. Returning more stores than were checked out is a
// programming error and the excess is dropped.
func (p *FixedPool) Return(s GraphStore) {
	if s == nil {
		return
	}
	select {
	case p.ch <- s:
	default:
		_ = s.Close()
	}
}

// Close closes every store currently in the pool.
func (p *FixedPool) Close() error {
	var firstErr error
	for {
		select {
		case s := <-p.ch:
			if err := s.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}
