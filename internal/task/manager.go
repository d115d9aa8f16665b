package task

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/domain"
	"github.com/corpex-io/corpex/internal/metrics"
)

// Job is anything the manager can run: a concrete task type embedding *Task.
type Job interface {
	// Base exposes the embedded Task for registry bookkeeping and polling.
	Base() *Task
	// Run executes the whole job lifecycle on the manager's goroutine.
	Run()
}

// Manager is the job registry: it assigns ids, enforces the one-running-task
// per-name rule by cancelling the predecessor, runs each job on its own
// goroutine, and drops jobs from the registry when they die.
type Manager struct {
	logger *zap.Logger

	mu     sync.Mutex
	nextID int64
	byID   map[int64]Job
	byName map[string]Job
	wg     sync.WaitGroup
}

// NewManager builds an empty registry.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger.Named("tasks"),
		byID:   make(map[int64]Job),
		byName: make(map[string]Job),
	}
}

// Start registers the job and launches it. A registered job with the same
// name is cancelled before the new job takes over, even when its goroutine
// has not begun running yet; cancellation stays cooperative, so the
// superseded job may briefly keep running. The new job's id is returned.
func (m *Manager) Start(j Job) int64 {
	base := j.Base()

	m.mu.Lock()
	if prev, ok := m.byName[base.Name()]; ok {
		m.logger.Info("cancelling superseded task",
			zap.Int64("taskId", prev.Base().ID()),
			zap.String("taskName", base.Name()))
		prev.Base().Cancel()
	}
	m.nextID++
	id := m.nextID
	base.setID(id)
	m.byID[id] = j
	m.byName[base.Name()] = j
	m.mu.Unlock()

	// Task names are "kind: description"; only the kind goes into the metric
	// label to keep cardinality bounded.
	kind, _, _ := strings.Cut(base.Name(), ":")
	metrics.TasksStartedTotal.WithLabelValues(kind).Inc()
	metrics.TasksRunning.Inc()
	m.logger.Info("task started", zap.Int64("taskId", id), zap.String("taskName", base.Name()))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		j.Run()
		m.remove(j)
	}()
	return id
}

func (m *Manager) remove(j Job) {
	base := j.Base()
	m.mu.Lock()
	delete(m.byID, base.ID())
	if cur, ok := m.byName[base.Name()]; ok && cur == j {
		delete(m.byName, base.Name())
	}
	m.mu.Unlock()
	metrics.TasksRunning.Dec()
	m.logger.Info("task died", zap.Int64("taskId", base.ID()), zap.String("taskName", base.Name()))
}

// Find returns the job with the given id.
func (m *Manager) Find(id int64) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return j, nil
}

// FindByName returns the most recently started job registered under name.
func (m *Manager) FindByName(name string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.byName[name]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return j, nil
}

// Cancel requests cancellation of the job with the given id.
func (m *Manager) Cancel(id int64) error {
	j, err := m.Find(id)
	if err != nil {
		return err
	}
	j.Base().Cancel()
	metrics.TasksCancelledTotal.Inc()
	return nil
}

// Tasks returns a point-in-time snapshot of registered jobs. Jobs may start
// or die while the caller iterates.
func (m *Manager) Tasks() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]Job, 0, len(m.byID))
	for _, j := range m.byID {
		jobs = append(jobs, j)
	}
	return jobs
}

// Len returns the number of registered jobs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Shutdown releases every registered job and waits for their goroutines.
func (m *Manager) Shutdown() {
	for _, j := range m.Tasks() {
		j.Base().Cancel()
		j.Base().Release()
	}
	m.wg.Wait()
}
