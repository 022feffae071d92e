package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/autoops/autoops/pkg/telemetry"
)

// WorkflowConfig configures the workflow engine.
type WorkflowConfig struct {
	// MaxRetries bounds how many times the recovery loop re-enters
	// planning after a phase failure.
	MaxRetries int

	// DefaultNamespace is the namespace treated as always present during
	// plan validation.
	DefaultNamespace string
}

func (c WorkflowConfig) withDefaults() WorkflowConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.DefaultNamespace == "" {
		c.DefaultNamespace = "default"
	}
	return c
}

// Workflow drives a single task from pending to a terminal status through
// four phases: plan, validate, execute, recover. It is a pure function over
// (task, collaborators): all progress lives on the task record, so a run is
// resumable by re-entering the phase indicated by the task status.
type Workflow struct {
	planner  PlanGenerator
	executor *OperationExecutor
	cfg      WorkflowConfig
	logger   *telemetry.Logger
	tracer   *telemetry.Tracer

	// hook, when set, is invoked after every task status transition so the
	// task owner can publish progress. Called from the worker goroutine
	// that owns the task.
	hook func(*Task)
}

// SetTransitionHook registers a callback invoked after each status
// transition of a running task.
func (w *Workflow) SetTransitionHook(fn func(*Task)) {
	w.hook = fn
}

// notify reports a status transition to the registered hook.
func (w *Workflow) notify(task *Task) {
	if w.hook != nil {
		w.hook(task)
	}
}

// NewWorkflow creates a workflow engine over the given collaborators.
// Tracer may be nil.
func NewWorkflow(planner PlanGenerator, executor *OperationExecutor, cfg WorkflowConfig, logger *telemetry.Logger, tracer *telemetry.Tracer) *Workflow {
	return &Workflow{
		planner:  planner,
		executor: executor,
		cfg:      cfg.withDefaults(),
		logger:   logger.NewComponentLogger("workflow"),
		tracer:   tracer,
	}
}

// Run drives the task through plan, validate, and execute, entering the
// recovery loop on any phase failure until the retry budget is exhausted.
//
// The context carries the task's deadline and is cancelled when the task is
// cancelled externally. Cancellation is checked at every phase boundary and
// leaves the task cancelled without entering recovery; a deadline expiry is
// terminal and marks the task failed without further retry.
func (w *Workflow) Run(ctx context.Context, task *Task) {
	ctx, span := w.startSpan(ctx, task)
	defer func() {
		span.SetAttributes(attribute.String("task.status", string(task.Status)))
		if task.Status == TaskStatusFailed && len(task.Errors) > 0 {
			telemetry.RecordError(span, errors.New(task.Errors[len(task.Errors)-1]))
		}
		span.End()
	}()

	log := w.logger.WithTaskID(task.ID)

	for {
		if w.interrupted(ctx, task) {
			return
		}

		plan, err := w.planPhase(ctx, task)
		if err != nil {
			task.AddError("planning failed: %v", err)
			log.WithError(err).Warn("planning phase failed")
			if !w.recover(ctx, task) {
				return
			}
			continue
		}
		task.Plan = plan

		if w.interrupted(ctx, task) {
			return
		}

		if issues := w.validatePhase(task); len(issues) > 0 {
			for _, issue := range issues {
				task.AddError("plan validation: %s", issue)
			}
			log.Warnf("plan validation found %d issues", len(issues))
			if !w.recover(ctx, task) {
				return
			}
			continue
		}

		if w.interrupted(ctx, task) {
			return
		}

		if failed := w.executePhase(ctx, task); failed > 0 {
			log.Warnf("execution failed: %d of %d operations failed", failed, len(task.Plan.Operations))
			if w.interrupted(ctx, task) {
				return
			}
			if !w.recover(ctx, task) {
				return
			}
			continue
		}

		task.Status = TaskStatusCompleted
		w.notify(task)
		log.Info("task completed")
		return
	}
}

// planPhase asks the plan generator for an execution plan.
func (w *Workflow) planPhase(ctx context.Context, task *Task) (*Plan, error) {
	task.Status = TaskStatusPlanning
	w.notify(task)

	plan, err := w.planner.GeneratePlan(ctx, task.Request)
	if err != nil {
		return nil, err
	}
	if plan == nil || len(plan.Operations) == 0 {
		return nil, NewPermanentError("plan generator returned an empty plan", nil).
			WithCode(ErrCodePlanGeneration)
	}
	return plan, nil
}

// validatePhase statically checks the plan for structural issues: duplicate
// creation of the same (namespace, kind, name) tuple, and use of a
// non-default namespace that is not created earlier in the same plan.
func (w *Workflow) validatePhase(task *Task) []string {
	task.Status = TaskStatusValidating
	w.notify(task)
	return w.ValidatePlan(task.Plan)
}

// ValidatePlan returns the list of structural issues found in a plan.
// An empty list means the plan passed validation.
func (w *Workflow) ValidatePlan(plan *Plan) []string {
	var issues []string

	created := make(map[string]bool)
	namespaces := make(map[string]bool)

	for _, op := range plan.Operations {
		if op.Action == ActionCreate && op.Name != "" {
			key := fmt.Sprintf("%s/%s/%s", op.Namespace, op.Kind, op.Name)
			if created[key] {
				issues = append(issues, fmt.Sprintf("duplicate resource creation: %s", key))
			}
			created[key] = true
		}

		if op.Kind != KindNamespace && op.Namespace != w.cfg.DefaultNamespace && !namespaces[op.Namespace] {
			issues = append(issues, fmt.Sprintf("namespace %q not created before use", op.Namespace))
		}

		if op.Action == ActionCreate && op.Kind == KindNamespace {
			namespaces[op.Name] = true
		}
	}

	return issues
}

// executePhase hands the plan to the operation executor and folds the
// results into the task. It returns the number of failed operations.
func (w *Workflow) executePhase(ctx context.Context, task *Task) int {
	task.Status = TaskStatusExecuting
	w.notify(task)

	results := w.executor.Execute(ctx, task.Plan.Operations)
	task.Results = append(task.Results, results...)

	failed := 0
	for _, r := range results {
		if r.Status == OperationFailed {
			failed++
			task.AddError("operation failed: %s: %s", r.Operation.String(), r.Error)
		}
	}
	return failed
}

// recover decides whether the task re-enters planning after a phase failure.
// It returns true to retry; otherwise the task is left failed.
func (w *Workflow) recover(ctx context.Context, task *Task) bool {
	if w.interrupted(ctx, task) {
		return false
	}

	if task.RetryCount < w.cfg.MaxRetries {
		task.RetryCount++
		task.Plan = nil
		task.Status = TaskStatusPending
		w.notify(task)
		w.logger.WithTaskID(task.ID).
			Infof("recovering: retry %d/%d", task.RetryCount, w.cfg.MaxRetries)
		return true
	}

	task.Status = TaskStatusFailed
	w.notify(task)
	return false
}

// interrupted checks the cooperative interrupt path shared by cancellation
// and timeout. A deadline expiry marks the task failed with a timeout error;
// an external cancel leaves it cancelled. Either way no further phase starts.
func (w *Workflow) interrupted(ctx context.Context, task *Task) bool {
	if ctx.Err() == nil {
		return false
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		task.AddError("task timed out after %s", task.Timeout)
		task.Status = TaskStatusFailed
		w.notify(task)
		w.logger.WithTaskID(task.ID).Warn("task timed out")
		return true
	}

	task.Status = TaskStatusCancelled
	w.notify(task)
	w.logger.WithTaskID(task.ID).Info("task cancelled")
	return true
}

// startSpan begins a workflow span when tracing is configured.
func (w *Workflow) startSpan(ctx context.Context, task *Task) (context.Context, trace.Span) {
	if w.tracer == nil {
		return noop.NewTracerProvider().Tracer("workflow").Start(ctx, "task.run")
	}
	return w.tracer.StartTaskSpan(ctx, task.ID, string(task.Priority))
}

// timeoutFor returns the effective timeout for a task run.
func timeoutFor(task *Task, fallback time.Duration) time.Duration {
	if task.Timeout > 0 {
		return task.Timeout
	}
	return fallback
}
