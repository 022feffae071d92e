package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autoops/autoops/pkg/telemetry"
)

// ManagerConfig configures the task manager.
type ManagerConfig struct {
	// Workers is the default size of the worker pool.
	Workers int

	// DefaultTimeout bounds a task's workflow run when the submitter does
	// not specify a timeout.
	DefaultTimeout time.Duration

	// QueuePollInterval bounds how long a worker waits on the queue before
	// re-checking the shutdown signal.
	QueuePollInterval time.Duration

	// ReaperInterval is how often terminal tasks are scanned for eviction.
	ReaperInterval time.Duration

	// RetentionWindow is how long terminal tasks are kept before the
	// reaper evicts them.
	RetentionWindow time.Duration

	// RequirePersistence makes Submit fail when the store is unavailable
	// instead of degrading to in-memory-only tracking.
	RequirePersistence bool
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	if c.QueuePollInterval <= 0 {
		c.QueuePollInterval = time.Second
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 5 * time.Minute
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = 24 * time.Hour
	}
	return c
}

// transitionNotifier is implemented by workflow runners that can report
// task status transitions back to the manager mid-run.
type transitionNotifier interface {
	SetTransitionHook(func(*Task))
}

// Manager owns task admission, the worker pool, lifecycle persistence,
// cancellation, and aggregate metrics. It holds no workflow logic: workers
// hand each task to the injected workflow runner.
//
// Every task is driven end-to-end by exactly one worker. The published task
// records held by the manager are replaced, never mutated, so snapshot reads
// are safe while a run is in flight.
type Manager struct {
	cfg     ManagerConfig
	store   TaskStore
	runner  WorkflowRunner
	queue   *taskQueue
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	tasks   map[string]*Task              // published records, copy-on-write
	running map[string]context.CancelFunc // in-flight runs by task id

	lifecycle sync.Mutex
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	activeMu    sync.Mutex
	activeCount int
}

// NewManager creates a task manager. Store persistence is best-effort unless
// RequirePersistence is set; metrics may be nil.
func NewManager(cfg ManagerConfig, store TaskStore, runner WorkflowRunner, logger *telemetry.Logger, metrics *telemetry.Metrics) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		store:   store,
		runner:  runner,
		queue:   newTaskQueue(),
		logger:  logger.NewComponentLogger("manager"),
		metrics: metrics,
		tasks:   make(map[string]*Task),
		running: make(map[string]context.CancelFunc),
	}
	if n, ok := runner.(transitionNotifier); ok {
		n.SetTransitionHook(m.publish)
	}
	return m
}

// Start spawns the worker pool and the reaper. It is idempotent: calling it
// on a running manager is a no-op. A workerCount of zero uses the configured
// pool size.
func (m *Manager) Start(workerCount int) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.started {
		return
	}
	if workerCount <= 0 {
		workerCount = m.cfg.Workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.started = true

	for i := 0; i < workerCount; i++ {
		m.wg.Add(1)
		go m.workerLoop(ctx, i)
	}

	m.wg.Add(1)
	go m.reaperLoop(ctx)

	m.logger.Infof("task manager started with %d workers", workerCount)
}

// Stop signals all workers and the reaper to exit, cancels in-flight runs,
// and waits for every routine to terminate. It is safe to call repeatedly
// and safe to call on a manager that was never started.
func (m *Manager) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.started {
		return
	}

	m.cancel()
	m.wg.Wait()
	m.started = false

	m.logger.Info("task manager stopped")
}

// Submit admits a new task. It persists the record, enqueues it by priority,
// and returns immediately with the assigned task id; it never blocks on
// execution. A zero timeout uses the configured default.
func (m *Manager) Submit(ctx context.Context, request string, priority TaskPriority, timeout time.Duration) (string, error) {
	if request == "" {
		return "", NewPermanentError("request must not be empty", nil).WithCode(ErrCodeSubmission)
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if err := priority.Validate(); err != nil {
		return "", NewPermanentError("invalid priority", err).WithCode(ErrCodeSubmission)
	}
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	task := &Task{
		ID:        uuid.New().String(),
		Request:   request,
		Priority:  priority,
		Status:    TaskStatusPending,
		Timeout:   timeout,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.store.PutTask(ctx, task); err != nil {
		if m.cfg.RequirePersistence {
			return "", NewPermanentError("task persistence unavailable", err).WithCode(ErrCodeSubmission)
		}
		m.logger.WithError(err).Warn("task persistence failed, tracking in memory only")
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	m.queue.Enqueue(task.ID, task.Priority)
	m.metrics.RecordTaskSubmitted(string(task.Priority))
	m.metrics.SetQueueDepth(float64(m.queue.Len()))

	m.logger.WithTaskID(task.ID).
		WithField("priority", string(task.Priority)).
		Info("task submitted")
	return task.ID, nil
}

// GetStatus returns a point-in-time snapshot of the task record, or a
// NOT_FOUND error if the task does not exist.
func (m *Manager) GetStatus(id string) (TaskSnapshot, error) {
	m.mu.RLock()
	task, ok := m.tasks[id]
	m.mu.RUnlock()

	if !ok {
		return TaskSnapshot{}, NewPermanentError("task not found", nil).
			WithCode(ErrCodeNotFound).
			WithResource(id)
	}
	return task.Snapshot(), nil
}

// Cancel marks the task cancelled and interrupts its workflow run if one is
// in flight. It returns false if the task does not exist or is already in a
// terminal state.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok || task.Status.IsTerminal() {
		m.mu.Unlock()
		return false
	}

	cancelled := cloneTask(task)
	cancelled.Status = TaskStatusCancelled
	now := time.Now().UTC()
	cancelled.CompletedAt = &now
	m.tasks[id] = cancelled

	cancelRun, inFlight := m.running[id]
	m.mu.Unlock()

	if inFlight {
		cancelRun()
	}

	m.persist(cancelled)
	m.logger.WithTaskID(id).Info("task cancelled")
	return true
}

// List returns snapshots of known tasks, newest first, optionally filtered
// by status and truncated to limit. A non-positive limit means no limit.
func (m *Manager) List(status TaskStatus, limit int) []TaskSnapshot {
	m.mu.RLock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if status != "" && t.Status != status {
			continue
		}
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}

	snaps := make([]TaskSnapshot, len(tasks))
	for i, t := range tasks {
		snaps[i] = t.Snapshot()
	}
	return snaps
}

// Metrics returns an aggregate snapshot of manager state.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	metrics := Metrics{Total: len(m.tasks)}
	for _, t := range m.tasks {
		switch t.Status {
		case TaskStatusPending:
			metrics.Pending++
		case TaskStatusCompleted:
			metrics.Completed++
		case TaskStatusFailed:
			metrics.Failed++
		case TaskStatusCancelled:
			metrics.Cancelled++
		default:
			metrics.Executing++
		}
	}
	m.mu.RUnlock()

	m.activeMu.Lock()
	metrics.ActiveWorkers = m.activeCount
	m.activeMu.Unlock()

	metrics.QueueDepth = m.queue.Len()
	return metrics
}

// workerLoop pulls task ids from the admission queue and drives each task
// end-to-end. A worker never exits on task failure, only on shutdown.
func (m *Manager) workerLoop(ctx context.Context, id int) {
	defer m.wg.Done()
	log := m.logger.WithField("worker", id)
	log.Debug("worker started")

	for {
		taskID, ok := m.queue.Dequeue(ctx, m.cfg.QueuePollInterval)
		if !ok {
			log.Debug("worker stopped")
			return
		}
		m.metrics.SetQueueDepth(float64(m.queue.Len()))
		m.runTask(ctx, taskID, log)
	}
}

// runTask drives one task through the workflow runner. Worker panics are
// contained here: the task is marked failed and the worker loops on.
func (m *Manager) runTask(ctx context.Context, taskID string, log *telemetry.Logger) {
	m.mu.RLock()
	published, ok := m.tasks[taskID]
	m.mu.RUnlock()

	if !ok {
		// Evicted by the reaper while queued.
		return
	}
	if published.Status.IsTerminal() {
		// Cancelled before a worker picked it up.
		return
	}

	task := cloneTask(published)
	now := time.Now().UTC()
	task.StartedAt = &now

	runCtx, cancelRun := context.WithTimeout(ctx, timeoutFor(task, m.cfg.DefaultTimeout))
	defer cancelRun()

	m.mu.Lock()
	m.running[taskID] = cancelRun
	m.mu.Unlock()

	m.activeMu.Lock()
	m.activeCount++
	active := m.activeCount
	m.activeMu.Unlock()
	m.metrics.SetActiveWorkers(float64(active))

	defer func() {
		if r := recover(); r != nil {
			task.AddError("internal error: %v", r)
			task.Status = TaskStatusFailed
			log.WithTaskID(taskID).Errorf("worker recovered from panic: %v", r)
		}

		if task.Status.IsTerminal() && task.CompletedAt == nil {
			done := time.Now().UTC()
			task.CompletedAt = &done
		}

		m.mu.Lock()
		delete(m.running, taskID)
		// A cancel that raced with run completion wins: when the published
		// record already reached a different terminal status, the run's
		// outcome is discarded in favour of it.
		if prev, ok := m.tasks[taskID]; ok && prev.Status.IsTerminal() && prev.Status != task.Status {
			task = prev
		} else {
			m.tasks[taskID] = task
		}
		m.mu.Unlock()

		m.activeMu.Lock()
		m.activeCount--
		active := m.activeCount
		m.activeMu.Unlock()
		m.metrics.SetActiveWorkers(float64(active))

		if task.CompletedAt != nil && task.StartedAt != nil {
			m.metrics.RecordTaskCompleted(string(task.Status), task.CompletedAt.Sub(task.CreatedAt))
		}
		m.persist(task)
	}()

	m.publish(task)
	m.runner.Run(runCtx, task)
}

// publish replaces the published record for a task with a copy of its
// current state and persists it best-effort. Called by the owning worker and
// by the workflow runner at phase transitions.
func (m *Manager) publish(task *Task) {
	copied := cloneTask(task)

	m.mu.Lock()
	if prev, ok := m.tasks[task.ID]; ok && prev.Status.IsTerminal() {
		// Externally cancelled; keep the terminal record.
		m.mu.Unlock()
		return
	}
	m.tasks[task.ID] = copied
	m.mu.Unlock()

	m.persist(copied)
}

// persist writes the task record to the durable store. Failures are logged
// and swallowed: durability is best-effort and never aborts an in-memory
// state transition.
func (m *Manager) persist(task *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.PutTask(ctx, task); err != nil {
		m.logger.WithError(err).WithTaskID(task.ID).Warn("task persistence failed")
	}
}

// reaperLoop periodically evicts terminal tasks older than the retention
// window. Eviction is advisory housekeeping: failures are swallowed and
// retried next cycle.
func (m *Manager) reaperLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapOnce(ctx)
		}
	}
}

// reapOnce performs one eviction scan.
func (m *Manager) reapOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.cfg.RetentionWindow)

	m.mu.Lock()
	var expired []string
	for id, t := range m.tasks {
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(m.tasks, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.store.DeleteTask(ctx, id); err != nil {
			m.logger.WithError(err).WithTaskID(id).Debug("reaper delete failed")
		}
	}
	if len(expired) > 0 {
		m.logger.Infof("reaper evicted %d terminal tasks", len(expired))
	}
}

// cloneTask makes a copy that shares no mutable state with the original.
func cloneTask(t *Task) *Task {
	copied := *t
	copied.Errors = append([]string(nil), t.Errors...)
	copied.Results = append([]ExecutionResult(nil), t.Results...)
	if t.Plan != nil {
		plan := *t.Plan
		plan.Operations = append([]Operation(nil), t.Plan.Operations...)
		copied.Plan = &plan
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		copied.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		copied.CompletedAt = &completed
	}
	return &copied
}

// String implements fmt.Stringer for log readability.
func (m Metrics) String() string {
	return fmt.Sprintf("total=%d pending=%d executing=%d completed=%d failed=%d cancelled=%d workers=%d queue=%d",
		m.Total, m.Pending, m.Executing, m.Completed, m.Failed, m.Cancelled, m.ActiveWorkers, m.QueueDepth)
}
