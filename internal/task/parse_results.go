package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/results"
)

// EnricherFactory opens a private enricher for one CsvResults instance. The
// results take ownership and close it; the connection is never pooled, so
// rows can still be enriched while the finished task waits out its idle
// window.
type EnricherFactory func() (results.Enricher, error)

// fileSearcher ingests an externally produced CSV match list instead of
// running a search.
type fileSearcher struct {
	path         string
	targetColumn string
	newEnricher  EnricherFactory
	logger       *zap.Logger
}

func (fs *fileSearcher) Search(_ context.Context, _ *SearchTask) (results.SearchResults, error) {
	var enricher results.Enricher
	if fs.newEnricher != nil {
		e, err := fs.newEnricher()
		if err != nil {
			return nil, fmt.Errorf("open enricher: %w", err)
		}
		enricher = e
	}
	r := results.NewCsvResults(fs.path, fs.targetColumn, enricher, fs.logger)
	if err := r.Reset(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("parse results file: %w", err)
	}
	return r, nil
}

// NewParseResultsFile builds a task that turns a CSV export into search
// results, skipping matrix validation and the search step entirely. The task
// owns the file and removes it when it dies.
func NewParseResultsFile(path, targetColumn string, newEnricher EnricherFactory, logger *zap.Logger, opts ...SearchOption) *SearchTask {
	if logger == nil {
		logger = zap.NewNop()
	}
	st := &SearchTask{
		Task: NewTask("parse: "+filepath.Base(path), nil, logger),
		searcher: &fileSearcher{
			path:         path,
			targetColumn: targetColumn,
			newEnricher:  newEnricher,
			logger:       logger,
		},
	}
	st.validateFn = func() string { return "" }
	st.cleanupFn = func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("could not remove results file", zap.String("path", path), zap.Error(err))
		}
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}
