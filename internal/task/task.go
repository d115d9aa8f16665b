// Package task implements the asynchronous job framework: named, pollable
// background jobs with a bounded status log, percent complete, cooperative
// cancellation, and a keep-alive idle-timeout that holds finished jobs
// available for polling until nobody is watching any more.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/store"
)

const (
	// DefaultIdleTimeout is how long a finished task stays pollable without
	// any keep-alive before its goroutine is reclaimed.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultMaxLogSize bounds the status log in characters.
	DefaultMaxLogSize = 51200
)

// Task is the generic pollable background job. Concrete jobs embed it and
// provide a Run method; the Manager owns starting and registry bookkeeping.
//
// All accessors are safe for concurrent use; pollers read status and percent
// while the job goroutine runs.
type Task struct {
	logger *zap.Logger
	pool   store.Pool

	ctx      context.Context
	cancelFn context.CancelFunc
	wake     chan struct{}

	idleTimeout time.Duration
	maxLogSize  int

	mu            sync.Mutex
	id            int64
	name          string
	who           string
	status        string
	log           string
	percent       int
	running       bool
	cancelling    bool
	lastErr       error
	resultURL     string
	resultText    string
	lastKeepAlive time.Time
	started       time.Time
	duration      time.Duration
	st            store.GraphStore
}

// NewTask builds an unstarted task. pool may be nil for jobs that never
// touch the graph store.
func NewTask(name string, pool store.Pool, logger *zap.Logger) *Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Task{
		logger:      logger.Named("task").With(zap.String("taskName", name)),
		pool:        pool,
		ctx:         ctx,
		cancelFn:    cancel,
		wake:        make(chan struct{}, 1),
		idleTimeout: DefaultIdleTimeout,
		maxLogSize:  DefaultMaxLogSize,
		name:        name,
	}
}

// SetIdleTimeout overrides how long the task outlives its work for polling.
func (t *Task) SetIdleTimeout(d time.Duration) {
	if d > 0 {
		t.idleTimeout = d
	}
}

// SetMaxLogSize overrides the status log bound.
func (t *Task) SetMaxLogSize(n int) {
	if n > 0 {
		t.maxLogSize = n
	}
}

// ID returns the registry id, 0 until the manager starts the task.
func (t *Task) ID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *Task) setID(id int64) {
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()
}

// Name returns the registry name. At most one running task per name exists.
func (t *Task) Name() string { return t.name }

// Who returns the initiating principal.
func (t *Task) Who() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.who
}

// SetWho records the initiating principal.
func (t *Task) SetWho(who string) {
	t.mu.Lock()
	t.who = who
	t.mu.Unlock()
}

// Context carries the cancellation signal into the work body. Long-running
// work must poll it and exit promptly when cancelled.
func (t *Task) Context() context.Context { return t.ctx }

// Running reports whether the work body is between RunStart and RunEnd.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Cancelling reports whether cancellation has been requested.
func (t *Task) Cancelling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelling
}

// Cancel requests cooperative cancellation. The first call records a status
// line and cancels the task context; repeated calls are no-ops. The work body
// is never interrupted forcibly.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.cancelling {
		t.mu.Unlock()
		return
	}
	t.cancelling = true
	t.mu.Unlock()
	t.SetStatus("Cancelling...")
	t.cancelFn()
}

// SetStatus sets the current status text and appends a timestamped line to
// the bounded log. On overflow the oldest three quarters are discarded; the
// truncation point is approximate.
func (t *Task) SetStatus(message string) {
	t.mu.Lock()
	t.status = message
	t.log += time.Now().Format("15:04:05.000") + " " + message + "\n"
	if len(t.log) > t.maxLogSize {
		keep := t.maxLogSize / 4
		t.log = "...\n" + t.log[len(t.log)-keep:]
	}
	t.mu.Unlock()
	t.logger.Debug("status", zap.String("status", message))
}

// Status returns the current status text.
func (t *Task) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Log returns the accumulated (possibly truncated) status log.
func (t *Task) Log() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.log
}

// SetPercent records progress, clamped to 0-100.
func (t *Task) SetPercent(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	t.mu.Lock()
	t.percent = p
	t.mu.Unlock()
}

// Percent returns the last reported progress.
func (t *Task) Percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}

// SetLastError captures a work-body failure. Only the message text ever
// reaches clients, through SetStatus.
func (t *Task) SetLastError(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
}

// LastError returns the captured failure, if any.
func (t *Task) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// SetResultURL publishes where a client can fetch the results.
func (t *Task) SetResultURL(url string) {
	t.mu.Lock()
	t.resultURL = url
	t.mu.Unlock()
}

// ResultURL returns the published results location, empty until set.
func (t *Task) ResultURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resultURL
}

// SetResultText publishes the human label for the result link.
func (t *Task) SetResultText(text string) {
	t.mu.Lock()
	t.resultText = text
	t.mu.Unlock()
}

// ResultText returns the human label for the result link.
func (t *Task) ResultText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resultText
}

// KeepAlive records that someone is still watching the task, extending the
// idle window WaitToDie observes.
func (t *Task) KeepAlive() {
	t.mu.Lock()
	t.lastKeepAlive = time.Now()
	t.mu.Unlock()
	t.nudge()
}

// Release makes the task immediately eligible to die: the keep-alive
// timestamp is forced to zero and any WaitToDie returns at once.
func (t *Task) Release() {
	t.mu.Lock()
	t.lastKeepAlive = time.Time{}
	t.mu.Unlock()
	t.nudge()
}

func (t *Task) nudge() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// WaitToDie blocks until the idle timeout elapses with no intervening
// KeepAlive. A released task (zero keep-alive timestamp) returns
// immediately.
func (t *Task) WaitToDie() {
	for {
		t.mu.Lock()
		last := t.lastKeepAlive
		t.mu.Unlock()
		if last.IsZero() {
			return
		}
		remaining := t.idleTimeout - time.Since(last)
		if remaining <= 0 {
			return
		}
		select {
		case <-t.wake:
		case <-time.After(remaining):
		}
	}
}

// RunStart marks the work body as running and opens the keep-alive window.
func (t *Task) RunStart() {
	t.mu.Lock()
	t.running = true
	t.started = time.Now()
	t.lastKeepAlive = t.started
	t.mu.Unlock()
}

// RunEnd freezes the duration and returns any held store to the pool. It is
// safe to call more than once; the store goes back exactly once.
func (t *Task) RunEnd() {
	t.mu.Lock()
	if t.running {
		t.running = false
		t.duration = time.Since(t.started)
	}
	st := t.st
	t.st = nil
	t.mu.Unlock()
	if st != nil && t.pool != nil {
		t.pool.Return(st)
	}
}

// Duration returns a live elapsed time while running and the frozen value
// after RunEnd.
func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return time.Since(t.started)
	}
	return t.duration
}

// Store lazily checks a graph store out of the pool, holding it until
// RunEnd returns it.
func (t *Task) Store(ctx context.Context) (store.GraphStore, error) {
	t.mu.Lock()
	if t.st != nil {
		st := t.st
		t.mu.Unlock()
		return st, nil
	}
	t.mu.Unlock()
	if t.pool == nil {
		return nil, fmt.Errorf("task %q has no store pool", t.name)
	}
	st, err := t.pool.Checkout(ctx)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.st != nil {
		// lost the race with a concurrent checkout
		held := t.st
		t.mu.Unlock()
		t.pool.Return(st)
		return held, nil
	}
	t.st = st
	t.mu.Unlock()
	return st, nil
}
