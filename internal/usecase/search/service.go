// Package search coordinates search and results-file tasks: starting them,
// polling them, paging through their results, and tearing them down.
package search

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/domain"
	"github.com/corpex-io/corpex/internal/domain/matrix"
	"github.com/corpex-io/corpex/internal/results"
	"github.com/corpex-io/corpex/internal/store"
	"github.com/corpex-io/corpex/internal/task"
)

// Options carries the task tuning the service applies to every job it starts.
type Options struct {
	BaseURL           string
	IdleTimeout       time.Duration
	MaxLogSize        int
	TargetColumn      string
	DefaultPageLength int
	UploadDir         string
}

// Service handles the search use case end to end.
type Service struct {
	registry    TaskRegistry
	pool        store.Pool
	newEnricher task.EnricherFactory
	opts        Options
	logger      *zap.Logger
}

// New creates a search service. newEnricher may be nil when uploaded results
// files never need database enrichment.
func New(registry TaskRegistry, pool store.Pool, newEnricher task.EnricherFactory, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:    registry,
		pool:        pool,
		newEnricher: newEnricher,
		opts:        opts,
		logger:      logger.Named("search"),
	}
}

// storeSearcher executes the matrix against a pooled graph store.
type storeSearcher struct{}

func (storeSearcher) Search(ctx context.Context, t *task.SearchTask) (results.SearchResults, error) {
	t.SetStatus("Searching...")
	gs, err := t.Store(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := gs.Search(ctx, t.Matrix(), t.SetPercent)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}
	return results.NewArrayResults(ids), nil
}

// StartSearch launches a search task for the matrix and returns its id.
// Matrix validation happens inside the task, surfacing as status text rather
// than an error, so an all-wildcard search still yields a pollable task.
func (s *Service) StartSearch(m *matrix.Matrix, who string) int64 {
	t := task.NewSearchTask(m, storeSearcher{}, s.pool, s.logger,
		task.WithBaseURL(s.opts.BaseURL),
		task.WithWho(who),
	)
	s.tune(t)
	return s.registry.Start(t)
}

// StartResultsFile launches a task that ingests an uploaded CSV match list.
// The body is spooled to a temporary file owned by the task's results.
func (s *Service) StartResultsFile(body io.Reader, targetColumn, who string) (int64, error) {
	f, err := os.CreateTemp(s.opts.UploadDir, "results-*.csv")
	if err != nil {
		return 0, fmt.Errorf("spool results file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return 0, fmt.Errorf("spool results file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return 0, fmt.Errorf("spool results file: %w", err)
	}
	if targetColumn == "" {
		targetColumn = s.opts.TargetColumn
	}
	t := task.NewParseResultsFile(f.Name(), targetColumn, s.newEnricher, s.logger,
		task.WithBaseURL(s.opts.BaseURL),
		task.WithWho(who),
	)
	s.tune(t)
	return s.registry.Start(t), nil
}

func (s *Service) tune(t *task.SearchTask) {
	t.SetIdleTimeout(s.opts.IdleTimeout)
	t.SetMaxLogSize(s.opts.MaxLogSize)
}

// Task returns the job with the given id, refreshing its keep-alive so
// polling clients hold it open.
func (s *Service) Task(id int64) (task.Job, error) {
	j, err := s.registry.Find(id)
	if err != nil {
		return nil, err
	}
	j.Base().KeepAlive()
	return j, nil
}

// Tasks lists all registered jobs.
func (s *Service) Tasks() []task.Job { return s.registry.Tasks() }

// Cancel requests cooperative cancellation of a job.
func (s *Service) Cancel(id int64) error {
	return s.registry.Cancel(id) //nolint:wrapcheck // sentinel passes through
}

// Release makes a job immediately eligible to die.
func (s *Service) Release(id int64) error {
	j, err := s.registry.Find(id)
	if err != nil {
		return err
	}
	j.Base().Release()
	return nil
}

// Matches returns one page of a job's match identifiers. pageNumber is
// 1-based; pageLength falls back to the configured default, 0 meaning
// unlimited. Fetching refreshes the keep-alive.
func (s *Service) Matches(id int64, pageNumber, pageLength int) ([]string, error) {
	j, err := s.registry.Find(id)
	if err != nil {
		return nil, err
	}
	j.Base().KeepAlive()

	provider, ok := j.(resultsProvider)
	if !ok {
		return nil, domain.ErrNoResults
	}
	if pageLength <= 0 {
		pageLength = s.opts.DefaultPageLength
	}
	matches := make([]string, 0, pageLength)
	err = provider.WithResults(func(res results.SearchResults) error {
		if err := res.Reset(); err != nil {
			return fmt.Errorf("reset results: %w", err)
		}
		res.SetPageLength(pageLength)
		if pageNumber > 1 && pageLength > 0 {
			if !res.Seek((pageNumber-1)*pageLength + 1) {
				return nil
			}
		}
		for res.HasNext() {
			m, err := res.Next()
			if err != nil {
				return fmt.Errorf("read results: %w", err)
			}
			matches = append(matches, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
