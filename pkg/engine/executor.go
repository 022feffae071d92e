package engine

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/autoops/autoops/pkg/telemetry"
)

// ExecutorConfig configures the operation executor.
type ExecutorConfig struct {
	// MaxConcurrent is the maximum number of operations in flight against
	// the backend simultaneously.
	MaxConcurrent int

	// MaxAttempts is the number of attempts per operation, including the
	// first. Only retryable failures consume additional attempts.
	MaxAttempts int

	// BaseDelay is the initial backoff delay between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Minute
	}
	return c
}

// OperationExecutor applies plan operations to the resource backend with
// bounded concurrency, per-operation retry, and explicit rollback of
// completed create operations.
type OperationExecutor struct {
	backend ResourceBackend
	cfg     ExecutorConfig
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewOperationExecutor creates an executor over the given backend.
// Metrics may be nil.
func NewOperationExecutor(backend ResourceBackend, cfg ExecutorConfig, logger *telemetry.Logger, metrics *telemetry.Metrics) *OperationExecutor {
	return &OperationExecutor{
		backend: backend,
		cfg:     cfg.withDefaults(),
		logger:  logger.NewComponentLogger("executor"),
		metrics: metrics,
	}
}

// Execute applies every operation in the slice, at most MaxConcurrent in
// flight at once. It returns exactly one result per operation, in the
// original submission order regardless of completion order. Execute always
// returns a full result slice; callers inspect result statuses for failures.
//
// Cancellation is cooperative: an operation already in flight finishes and
// its result is recorded, but no further operations start once the context
// is done.
func (e *OperationExecutor) Execute(ctx context.Context, operations []Operation) []ExecutionResult {
	results := make([]ExecutionResult, len(operations))
	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrent))

	var wg sync.WaitGroup
	for i, op := range operations {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = ExecutionResult{
				Operation:   op,
				Status:      OperationFailed,
				Error:       "operation not attempted: " + err.Error(),
				CompletedAt: time.Now().UTC(),
			}
			continue
		}

		wg.Add(1)
		go func(i int, op Operation) {
			defer sem.Release(1)
			defer wg.Done()
			results[i] = e.applyWithRetry(ctx, op)
		}(i, op)
	}
	wg.Wait()

	return results
}

// Rollback compensates for completed create operations by deleting the
// created resources in reverse plan order. It is an explicit call, never
// auto-invoked by Execute. Rollback failures are recorded but do not stop
// the walk: every reversible entry is attempted.
func (e *OperationExecutor) Rollback(ctx context.Context, results []ExecutionResult) []ExecutionResult {
	var rollback []ExecutionResult

	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if r.Status != OperationCompleted || r.Operation.Action != ActionCreate {
			continue
		}

		compensating := Operation{
			Action:    ActionDelete,
			Kind:      r.Operation.Kind,
			Name:      r.Operation.Name,
			Namespace: r.Operation.Namespace,
		}

		e.logger.WithField("operation", compensating.String()).Info("rolling back created resource")
		rollback = append(rollback, e.applyWithRetry(ctx, compensating))
	}

	return rollback
}

// applyWithRetry applies one operation with bounded retry and exponential
// backoff. Only retryable error classes consume additional attempts.
func (e *OperationExecutor) applyWithRetry(ctx context.Context, op Operation) ExecutionResult {
	start := time.Now()

	var response json.RawMessage
	var err error

	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		response, err = e.apply(ctx, op)
		if err == nil {
			break
		}
		if !IsRetryable(err) {
			break
		}
		if attempt == e.cfg.MaxAttempts-1 {
			break
		}

		delay := e.backoff(attempt, err)
		e.logger.WithError(err).
			WithField("operation", op.String()).
			Warnf("operation failed, retrying in %s (attempt %d/%d)", delay, attempt+1, e.cfg.MaxAttempts)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = NewPermanentError("operation aborted", ctx.Err()).WithCode(ErrCodeOperation)
			attempt = e.cfg.MaxAttempts
		}
	}

	completed := time.Now()
	result := ExecutionResult{
		Operation:   op,
		Response:    response,
		CompletedAt: completed.UTC(),
		Duration:    completed.Sub(start),
	}
	if err != nil {
		result.Status = OperationFailed
		result.Error = err.Error()
	} else {
		result.Status = OperationCompleted
	}

	e.metrics.RecordOperation(string(op.Action), string(result.Status), string(op.Kind), result.Duration)
	return result
}

// apply dispatches one operation to the backend call selected by its action.
// The switch is exhaustive over the Action enum; anything else is a
// permanent unsupported-operation failure.
func (e *OperationExecutor) apply(ctx context.Context, op Operation) (json.RawMessage, error) {
	switch op.Action {
	case ActionCreate:
		return e.backend.Create(ctx, op.Kind, op.Namespace, op.Payload)
	case ActionUpdate:
		return e.backend.Update(ctx, op.Kind, op.Namespace, op.Name, op.Payload)
	case ActionDelete:
		return e.backend.Delete(ctx, op.Kind, op.Namespace, op.Name)
	case ActionScale:
		return e.backend.Scale(ctx, op.Kind, op.Namespace, op.Name, replicasParam(op))
	case ActionPatch:
		return e.backend.Patch(ctx, op.Kind, op.Namespace, op.Name, op.Payload)
	case ActionGet:
		return e.backend.Get(ctx, op.Kind, op.Namespace, op.Name)
	case ActionList:
		return e.backend.List(ctx, op.Kind, op.Namespace)
	default:
		return nil, NewPermanentError("unsupported operation", nil).
			WithCode(ErrCodeUnsupported).
			WithResource(op.String())
	}
}

// backoff calculates the exponential backoff delay for a retry attempt,
// with jitter and a longer base for throttled and conflict errors.
func (e *OperationExecutor) backoff(attempt int, err error) time.Duration {
	base := e.cfg.BaseDelay
	if IsThrottled(err) {
		base *= 5
	} else if IsConflict(err) {
		base *= 2
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}

	// Add up to 25% jitter to avoid synchronized retries.
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// replicasParam extracts the target replica count from a scale operation,
// defaulting to one replica if absent or malformed.
func replicasParam(op Operation) int {
	v, ok := op.Parameters["replicas"]
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return 1
}
