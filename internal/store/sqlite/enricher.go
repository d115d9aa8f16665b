package sqlite

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/results"
)

// Enricher serves identifier reconstruction lookups over a private, lazily
// opened connection. Unlike a pooled Store, closing it only drops the
// connection: the next lookup reopens, so results can still be enriched
// after a task's cleanup pass.
type Enricher struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
	st *Store
}

var _ results.Enricher = (*Enricher)(nil)

// NewEnricher builds an enricher for the graph database at path. No
// connection is opened until the first lookup.
func NewEnricher(path string, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{path: path, logger: logger}
}

func (e *Enricher) conn() (*Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != nil {
		return e.st, nil
	}
	st, err := Open(e.path, e.logger)
	if err != nil {
		return nil, err
	}
	e.st = st
	return st, nil
}

// Close drops the current connection. Safe to call repeatedly; later lookups
// reconnect.
func (e *Enricher) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st == nil {
		return nil
	}
	err := e.st.Close()
	e.st = nil
	return err
}

func (e *Enricher) SpeakerNumberForWord(ctx context.Context, wordID int64) (int64, error) {
	st, err := e.conn()
	if err != nil {
		return 0, err
	}
	return st.SpeakerNumberForWord(ctx, wordID)
}

func (e *Enricher) UtteranceForWord(ctx context.Context, wordID int64) (int64, int64, int64, error) {
	st, err := e.conn()
	if err != nil {
		return 0, 0, 0, err
	}
	return st.UtteranceForWord(ctx, wordID)
}

func (e *Enricher) GraphIDForTranscript(ctx context.Context, name string) (int64, error) {
	st, err := e.conn()
	if err != nil {
		return 0, err
	}
	return st.GraphIDForTranscript(ctx, name)
}

func (e *Enricher) GraphIDForWord(ctx context.Context, wordID int64) (int64, error) {
	st, err := e.conn()
	if err != nil {
		return 0, err
	}
	return st.GraphIDForWord(ctx, wordID)
}

func (e *Enricher) WordForTarget(ctx context.Context, scope string, layerID, targetID int64) (int64, error) {
	st, err := e.conn()
	if err != nil {
		return 0, err
	}
	return st.WordForTarget(ctx, scope, layerID, targetID)
}
