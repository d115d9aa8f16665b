package task

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/domain"
	"github.com/corpex-io/corpex/internal/domain/matrix"
	"github.com/corpex-io/corpex/internal/metrics"
	"github.com/corpex-io/corpex/internal/results"
	"github.com/corpex-io/corpex/internal/store"
)

// Searcher produces the results for a search task. Implementations must poll
// ctx and return promptly (with partial results) when it is cancelled.
type Searcher interface {
	Search(ctx context.Context, t *SearchTask) (results.SearchResults, error)
}

// SearchTask runs one search end to end: validate the matrix, execute the
// searcher, summarize and publish results, then stay pollable for the idle
// window so clients have time to collect them.
type SearchTask struct {
	*Task

	matrix          *matrix.Matrix
	searcher        Searcher
	baseURL         string
	suppressResults bool
	validateFn      func() string
	cleanupFn       func()

	// resultsMu serializes paging over the results cursor; the cursor itself
	// is single-threaded.
	resultsMu sync.Mutex
	results   results.SearchResults
}

// SearchOption customizes a SearchTask.
type SearchOption func(*SearchTask)

// WithBaseURL sets the base URL result links are published under.
func WithBaseURL(url string) SearchOption {
	return func(st *SearchTask) { st.baseURL = url }
}

// WithSuppressResults disables result-link publication.
func WithSuppressResults() SearchOption {
	return func(st *SearchTask) { st.suppressResults = true }
}

// WithWho records the initiating principal.
func WithWho(who string) SearchOption {
	return func(st *SearchTask) { st.SetWho(who) }
}

// NewSearchTask builds a search task named after the matrix description, so
// an identical query started twice supersedes its predecessor.
func NewSearchTask(m *matrix.Matrix, searcher Searcher, pool store.Pool, logger *zap.Logger, opts ...SearchOption) *SearchTask {
	st := &SearchTask{
		Task:     NewTask("search: "+m.String(), pool, logger),
		matrix:   m,
		searcher: searcher,
	}
	st.validateFn = st.validateMatrix
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Base exposes the embedded Task to the manager.
func (st *SearchTask) Base() *Task { return st.Task }

// Matrix returns the query this task executes.
func (st *SearchTask) Matrix() *matrix.Matrix { return st.matrix }

// Results returns the collected results, nil until the search completes.
func (st *SearchTask) Results() results.SearchResults {
	st.Task.mu.Lock()
	defer st.Task.mu.Unlock()
	return st.results
}

func (st *SearchTask) setResults(r results.SearchResults) {
	st.Task.mu.Lock()
	st.results = r
	st.Task.mu.Unlock()
}

// WithResults runs fn against the collected results while holding the paging
// lock, so concurrent fetches never interleave on the cursor and never race
// the close on teardown. Returns domain.ErrNoResults while no results are
// attached.
func (st *SearchTask) WithResults(fn func(results.SearchResults) error) error {
	st.resultsMu.Lock()
	defer st.resultsMu.Unlock()
	res := st.Results()
	if res == nil {
		return domain.ErrNoResults
	}
	return fn(res)
}

// validateMatrix returns a user-facing message when the matrix cannot be
// searched, empty when it is fine. An all-wildcard search is rejected before
// any expensive work.
func (st *SearchTask) validateMatrix() string {
	if st.matrix == nil || len(st.matrix.Columns) == 0 {
		return "Search matrix was not specified"
	}
	if !st.matrix.HasCondition() {
		return "Search matrix has no conditions"
	}
	if err := st.matrix.Validate(); err != nil {
		return err.Error()
	}
	return ""
}

// Run executes the task lifecycle. Cleanup is guaranteed on every path,
// panics included: results are closed, the store goes back to the pool, a
// cancelled run gets its status suffix, and the task waits out its idle
// window before dying.
func (st *SearchTask) Run() {
	st.RunStart()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("search panic: %v", r)
			st.SetLastError(err)
			st.SetStatus(err.Error())
			st.logger.Error("task panicked", zap.Any("panic", r))
		}
		st.resultsMu.Lock()
		if res := st.Results(); res != nil {
			_ = res.Close()
		}
		st.resultsMu.Unlock()
		st.RunEnd()
		if st.Cancelling() {
			st.SetStatus(st.Status() + " - cancelled.")
		}
		metrics.SearchDuration.Observe(st.Duration().Seconds())
		st.WaitToDie()
		// a fetch during the idle window may have reopened the results
		st.resultsMu.Lock()
		if res := st.Results(); res != nil {
			_ = res.Close()
		}
		st.resultsMu.Unlock()
		st.Release()
		if st.cleanupFn != nil {
			st.cleanupFn()
		}
	}()

	if msg := st.validateFn(); msg != "" {
		st.SetStatus(msg)
		return
	}

	res, err := st.searcher.Search(st.Context(), st)
	if err != nil {
		st.SetLastError(err)
		st.SetStatus(err.Error())
		return
	}
	st.setResults(res)
	if res == nil {
		st.SetStatus("No results are available")
		return
	}

	n := res.Size()
	if !st.suppressResults && n > 0 {
		st.SetResultURL(fmt.Sprintf("%s/api/matches?threadId=%d", st.baseURL, st.ID()))
		st.SetResultText("Matches")
	}
	st.SetPercent(100)
	st.SetStatus(fmt.Sprintf("Found %d results", n))
}
