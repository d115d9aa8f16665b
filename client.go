// Package corpex embeds the annotation search engine in-process: open a
// graph database, start search or results-file tasks, poll them, and page
// through their matches without running the HTTP server.
package corpex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/results"
	"github.com/corpex-io/corpex/internal/store"
	"github.com/corpex-io/corpex/internal/store/sqlite"
	"github.com/corpex-io/corpex/internal/task"
	searchuc "github.com/corpex-io/corpex/internal/usecase/search"
)

// Client is the corpex SDK entry point.
type Client struct {
	pool    store.Pool
	manager *task.Manager
	svc     *searchuc.Service
	logger  *zap.Logger
}

// New creates a corpex Client and opens the graph database.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		poolSize:     4,
		idleTimeout:  task.DefaultIdleTimeout,
		maxLogSize:   task.DefaultMaxLogSize,
		targetColumn: "MatchId",
	}
	for _, o := range opts {
		o(cfg)
	}

	if cfg.databasePath == "" {
		return nil, errors.New("corpex: database path required (use WithDatabase)")
	}
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := store.NewFixedPool(cfg.poolSize, func() (store.GraphStore, error) {
		return sqlite.Open(cfg.databasePath, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("corpex: open graph database: %w", err)
	}

	manager := task.NewManager(logger)
	newEnricher := func() (results.Enricher, error) {
		return sqlite.NewEnricher(cfg.databasePath, logger), nil
	}
	svc := searchuc.New(manager, pool, newEnricher, searchuc.Options{
		BaseURL:           cfg.baseURL,
		IdleTimeout:       cfg.idleTimeout,
		MaxLogSize:        cfg.maxLogSize,
		TargetColumn:      cfg.targetColumn,
		DefaultPageLength: cfg.defaultPageLength,
		UploadDir:         cfg.uploadDir,
	}, logger)

	return &Client{
		pool:    pool,
		manager: manager,
		svc:     svc,
		logger:  logger,
	}, nil
}

// Close cancels running tasks, waits for them to finish, and releases all
// database connections.
func (c *Client) Close() {
	c.manager.Shutdown()
	_ = c.pool.Close()
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	s, err := c.pool.Checkout(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer c.pool.Return(s)
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// TaskInfo is a point-in-time snapshot of a task.
type TaskInfo struct {
	ID         int64
	Name       string
	Who        string
	Status     string
	Log        string
	Percent    int
	Running    bool
	Duration   time.Duration
	ResultURL  string
	ResultText string
}

func snapshot(j task.Job) TaskInfo {
	t := j.Base()
	return TaskInfo{
		ID:         t.ID(),
		Name:       t.Name(),
		Who:        t.Who(),
		Status:     t.Status(),
		Log:        t.Log(),
		Percent:    t.Percent(),
		Running:    t.Running(),
		Duration:   t.Duration(),
		ResultURL:  t.ResultURL(),
		ResultText: t.ResultText(),
	}
}

// StartSearch launches a search task for the built matrix and returns its
// task id. Invalid matrices still yield a pollable task whose status carries
// the validation message.
func (c *Client) StartSearch(b *MatrixBuilder) (int64, error) {
	m, err := b.build()
	if err != nil {
		return 0, fmt.Errorf("corpex: build matrix: %w", err)
	}
	return c.svc.StartSearch(m, ""), nil
}

// UploadResults launches a task that reads a previously exported CSV match
// list. targetColumn names the identifier column; empty uses the configured
// default.
func (c *Client) UploadResults(r io.Reader, targetColumn string) (int64, error) {
	id, err := c.svc.StartResultsFile(r, targetColumn, "")
	if err != nil {
		return 0, fmt.Errorf("corpex: %w", err)
	}
	return id, nil
}

// Task returns a snapshot of the task, refreshing its keep-alive.
func (c *Client) Task(id int64) (TaskInfo, error) {
	j, err := c.svc.Task(id)
	if err != nil {
		return TaskInfo{}, fmt.Errorf("corpex: %w", err)
	}
	return snapshot(j), nil
}

// Tasks returns snapshots of every live task.
func (c *Client) Tasks() []TaskInfo {
	jobs := c.svc.Tasks()
	infos := make([]TaskInfo, 0, len(jobs))
	for _, j := range jobs {
		infos = append(infos, snapshot(j))
	}
	return infos
}

// Matches returns one page of a task's match identifiers. pageNumber is
// 1-based; pageLength 0 means all.
func (c *Client) Matches(id int64, pageNumber, pageLength int) ([]string, error) {
	matches, err := c.svc.Matches(id, pageNumber, pageLength)
	if err != nil {
		return nil, fmt.Errorf("corpex: %w", err)
	}
	return matches, nil
}

// Cancel requests cooperative cancellation of a task.
func (c *Client) Cancel(id int64) error {
	if err := c.svc.Cancel(id); err != nil {
		return fmt.Errorf("corpex: %w", err)
	}
	return nil
}

// Release makes a task immediately eligible to die.
func (c *Client) Release(id int64) error {
	if err := c.svc.Release(id); err != nil {
		return fmt.Errorf("corpex: %w", err)
	}
	return nil
}
