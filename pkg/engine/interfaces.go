package engine

import (
	"context"
	"encoding/json"
)

// PlanGenerator turns a natural-language request into an ordered execution
// plan. Implementations must return a plan with a non-empty operation list
// and a human-readable description, or a permanent error carrying
// ErrCodePlanGeneration.
type PlanGenerator interface {
	// GeneratePlan produces an execution plan for the request.
	GeneratePlan(ctx context.Context, request string) (*Plan, error)
}

// ResourceBackend applies typed operations against a remote cluster API.
// Each method returns the backend response payload or a classified error;
// the operation executor uses the classification to decide whether to retry.
type ResourceBackend interface {
	// Create creates a resource from a manifest.
	Create(ctx context.Context, kind ResourceKind, namespace string, manifest json.RawMessage) (json.RawMessage, error)

	// Update replaces an existing resource with a new manifest.
	Update(ctx context.Context, kind ResourceKind, namespace, name string, manifest json.RawMessage) (json.RawMessage, error)

	// Delete removes an existing resource.
	Delete(ctx context.Context, kind ResourceKind, namespace, name string) (json.RawMessage, error)

	// Scale changes the replica count of a workload.
	Scale(ctx context.Context, kind ResourceKind, namespace, name string, replicas int) (json.RawMessage, error)

	// Patch applies a partial manifest to an existing resource.
	Patch(ctx context.Context, kind ResourceKind, namespace, name string, patch json.RawMessage) (json.RawMessage, error)

	// Get retrieves a single resource.
	Get(ctx context.Context, kind ResourceKind, namespace, name string) (json.RawMessage, error)

	// List retrieves all resources of a kind in a namespace.
	List(ctx context.Context, kind ResourceKind, namespace string) (json.RawMessage, error)
}

// TaskStore persists task records keyed by task id. Persistence is
// best-effort: every method may fail, and callers treat a failing store as
// empty rather than crashing.
type TaskStore interface {
	// PutTask persists the task record, replacing any existing record.
	PutTask(ctx context.Context, task *Task) error

	// GetTask retrieves a task record by id. Returns a NOT_FOUND error
	// if no record exists.
	GetTask(ctx context.Context, id string) (*Task, error)

	// ListTasks returns all stored task records.
	ListTasks(ctx context.Context) ([]*Task, error)

	// DeleteTask removes a task record. Deleting an absent record is not
	// an error.
	DeleteTask(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}

// WorkflowRunner drives one task from pending to a terminal status.
// The task manager injects the concrete workflow engine through this
// interface so tests can substitute their own.
type WorkflowRunner interface {
	// Run drives the task through its phases, mutating it in place.
	// The context carries the task's timeout deadline and is cancelled
	// when the task is cancelled.
	Run(ctx context.Context, task *Task)
}
