package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus represents the lifecycle status of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued but not yet picked up.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusPlanning indicates the plan generator is working on the request.
	TaskStatusPlanning TaskStatus = "planning"

	// TaskStatusValidating indicates the generated plan is being validated.
	TaskStatusValidating TaskStatus = "validating"

	// TaskStatusExecuting indicates plan operations are being applied.
	TaskStatusExecuting TaskStatus = "executing"

	// TaskStatusCompleted indicates all operations succeeded.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task failed after exhausting retries.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusCancelled indicates the task was cancelled by the caller.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true if the status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// IsActive returns true if the task is pending or progressing through a phase.
func (s TaskStatus) IsActive() bool {
	return !s.IsTerminal()
}

// Validate checks if the task status is valid.
func (s TaskStatus) Validate() error {
	switch s {
	case TaskStatusPending, TaskStatusPlanning, TaskStatusValidating,
		TaskStatusExecuting, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid task status: %s", s)
	}
}

// TaskPriority represents the scheduling priority of a task.
type TaskPriority string

const (
	// PriorityLow is for background housekeeping requests.
	PriorityLow TaskPriority = "low"

	// PriorityNormal is the default priority.
	PriorityNormal TaskPriority = "normal"

	// PriorityHigh is for requests that should run before normal work.
	PriorityHigh TaskPriority = "high"

	// PriorityCritical is for urgent remediation requests.
	PriorityCritical TaskPriority = "critical"
)

// Rank returns the numeric weight of the priority. Higher ranks dequeue first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Validate checks if the priority is valid.
func (p TaskPriority) Validate() error {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return nil
	default:
		return fmt.Errorf("invalid task priority: %s", p)
	}
}

// Action represents the type of operation to perform against the cluster.
type Action string

const (
	// ActionCreate creates a new resource from a manifest.
	ActionCreate Action = "create"

	// ActionUpdate replaces an existing resource with a new manifest.
	ActionUpdate Action = "update"

	// ActionDelete removes an existing resource.
	ActionDelete Action = "delete"

	// ActionScale changes the replica count of a workload.
	ActionScale Action = "scale"

	// ActionPatch applies a partial manifest to an existing resource.
	ActionPatch Action = "patch"

	// ActionGet retrieves a single resource.
	ActionGet Action = "get"

	// ActionList retrieves all resources of a kind in a namespace.
	ActionList Action = "list"
)

// Validate checks if the action is one of the supported operation types.
func (a Action) Validate() error {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionScale,
		ActionPatch, ActionGet, ActionList:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// RequiresName returns true if the action needs a resource name to target.
func (a Action) RequiresName() bool {
	switch a {
	case ActionUpdate, ActionDelete, ActionScale, ActionPatch, ActionGet:
		return true
	default:
		return false
	}
}

// ResourceKind represents a cluster resource category.
type ResourceKind string

const (
	KindPod                     ResourceKind = "pod"
	KindDeployment              ResourceKind = "deployment"
	KindService                 ResourceKind = "service"
	KindConfigMap               ResourceKind = "configmap"
	KindSecret                  ResourceKind = "secret"
	KindIngress                 ResourceKind = "ingress"
	KindNamespace               ResourceKind = "namespace"
	KindNode                    ResourceKind = "node"
	KindPersistentVolumeClaim   ResourceKind = "persistentvolumeclaim"
	KindHorizontalPodAutoscaler ResourceKind = "horizontalpodautoscaler"
)

// Validate checks if the resource kind is a known category.
func (k ResourceKind) Validate() error {
	switch k {
	case KindPod, KindDeployment, KindService, KindConfigMap, KindSecret,
		KindIngress, KindNamespace, KindNode, KindPersistentVolumeClaim,
		KindHorizontalPodAutoscaler:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// Operation represents one imperative action against the resource backend.
// Operations are immutable once placed in a Plan.
type Operation struct {
	// Action is the operation type.
	Action Action `json:"action"`

	// Kind is the resource category the operation targets.
	Kind ResourceKind `json:"resource_kind"`

	// Name is the target resource name. Required for update, delete,
	// scale, patch, and get.
	Name string `json:"resource_name,omitempty"`

	// Namespace is the logical scope of the operation.
	Namespace string `json:"namespace"`

	// Payload is the manifest for create, update, and patch operations.
	// The engine treats it as an opaque blob.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Parameters carries auxiliary data such as the target replica count
	// for scale operations.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// String returns a short human-readable description of the operation.
func (o Operation) String() string {
	if o.Name != "" {
		return fmt.Sprintf("%s %s/%s in %s", o.Action, o.Kind, o.Name, o.Namespace)
	}
	return fmt.Sprintf("%s %s in %s", o.Action, o.Kind, o.Namespace)
}

// Plan is an ordered sequence of operations produced for one request.
// Order is significant: operations are handed to the executor in plan order,
// and dependency correctness is the plan generator's responsibility.
type Plan struct {
	// Description is a human-readable summary of what the plan does.
	Description string `json:"description"`

	// Operations are the ordered operations to apply.
	Operations []Operation `json:"operations"`

	// EstimatedDuration is the plan generator's time estimate.
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// OperationStatus represents the outcome status of a single operation.
type OperationStatus string

const (
	// OperationCompleted indicates the operation succeeded.
	OperationCompleted OperationStatus = "completed"

	// OperationFailed indicates the operation failed after exhausting retries.
	OperationFailed OperationStatus = "failed"
)

// ExecutionResult is the immutable outcome of attempting one operation.
type ExecutionResult struct {
	// Operation is the operation that was attempted.
	Operation Operation `json:"operation"`

	// Status indicates whether the operation completed or failed.
	Status OperationStatus `json:"status"`

	// Response is the backend response payload, if any.
	Response json.RawMessage `json:"response,omitempty"`

	// Error is the human-readable failure reason, if any.
	Error string `json:"error,omitempty"`

	// CompletedAt is when the attempt finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the elapsed wall-clock time of the attempt,
	// including retries.
	Duration time.Duration `json:"duration"`
}

// Task is one admitted unit of work tracking a request through its lifecycle.
// A task is mutated exclusively by the worker that owns it; everything else
// observes it through snapshots.
type Task struct {
	// ID is the opaque unique identifier assigned at submission.
	ID string `json:"id"`

	// Request is the original natural-language input. Immutable.
	Request string `json:"request"`

	// Priority is the scheduling priority. Immutable.
	Priority TaskPriority `json:"priority"`

	// Status is the current lifecycle status.
	Status TaskStatus `json:"status"`

	// Timeout bounds the wall-clock duration of the full workflow run.
	Timeout time.Duration `json:"timeout"`

	// RetryCount is the number of times the recovery loop has re-entered
	// planning.
	RetryCount int `json:"retry_count"`

	// Plan is the execution plan, absent until planning succeeds.
	Plan *Plan `json:"plan,omitempty"`

	// Results are the per-operation outcomes, append-only.
	Results []ExecutionResult `json:"results,omitempty"`

	// Errors are the human-readable errors accumulated across phases,
	// append-only.
	Errors []string `json:"errors,omitempty"`

	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when a worker first picked up the task.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AddError appends a human-readable error to the task record.
func (t *Task) AddError(format string, args ...any) {
	t.Errors = append(t.Errors, fmt.Sprintf(format, args...))
}

// Snapshot returns a point-in-time copy of the task suitable for callers
// outside the owning worker.
func (t *Task) Snapshot() TaskSnapshot {
	snap := TaskSnapshot{
		ID:          t.ID,
		Request:     t.Request,
		Priority:    t.Priority,
		Status:      t.Status,
		Timeout:     t.Timeout,
		RetryCount:  t.RetryCount,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Errors:      append([]string(nil), t.Errors...),
		Results:     append([]ExecutionResult(nil), t.Results...),
	}
	if t.Plan != nil {
		plan := *t.Plan
		plan.Operations = append([]Operation(nil), t.Plan.Operations...)
		snap.Plan = &plan
	}
	return snap
}

// TaskSnapshot is a read-only projection of task fields for presentation
// layers. It is serializable as-is and never shares mutable state with the
// underlying task.
type TaskSnapshot struct {
	ID          string            `json:"id"`
	Request     string            `json:"request"`
	Priority    TaskPriority      `json:"priority"`
	Status      TaskStatus        `json:"status"`
	Timeout     time.Duration     `json:"timeout"`
	RetryCount  int               `json:"retry_count"`
	Plan        *Plan             `json:"plan,omitempty"`
	Results     []ExecutionResult `json:"results,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Metrics is a point-in-time aggregate of task manager state. Counts are
// consistent enough for dashboards, not transactionally exact.
type Metrics struct {
	// Total is the number of tasks currently known to the manager.
	Total int `json:"total"`

	// Pending is the number of tasks waiting in the queue.
	Pending int `json:"pending"`

	// Executing is the number of tasks in a non-terminal, non-pending phase.
	Executing int `json:"executing"`

	// Completed is the number of tasks that finished successfully.
	Completed int `json:"completed"`

	// Failed is the number of tasks that failed.
	Failed int `json:"failed"`

	// Cancelled is the number of tasks that were cancelled.
	Cancelled int `json:"cancelled"`

	// ActiveWorkers is the number of workers currently driving a task.
	ActiveWorkers int `json:"active_workers"`

	// QueueDepth is the number of entries waiting in the admission queue.
	QueueDepth int `json:"queue_depth"`
}
