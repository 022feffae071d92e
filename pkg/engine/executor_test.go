package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/autoops/autoops/pkg/telemetry"
)

// fakeBackend routes every call through a single handler and records the
// operations it saw.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []string
	handler func(action Action, kind ResourceKind, namespace, name string) (json.RawMessage, error)
}

func newFakeBackend(handler func(action Action, kind ResourceKind, namespace, name string) (json.RawMessage, error)) *fakeBackend {
	if handler == nil {
		handler = func(Action, ResourceKind, string, string) (json.RawMessage, error) {
			return json.RawMessage(`{"status":"ok"}`), nil
		}
	}
	return &fakeBackend{handler: handler}
}

func (f *fakeBackend) record(action Action, kind ResourceKind, namespace, name string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s %s/%s/%s", action, namespace, kind, name))
	f.mu.Unlock()
	return f.handler(action, kind, namespace, name)
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Create(_ context.Context, kind ResourceKind, namespace string, manifest json.RawMessage) (json.RawMessage, error) {
	name, _ := func() (string, error) {
		var doc struct {
			Name string `json:"name"`
		}
		err := json.Unmarshal(manifest, &doc)
		return doc.Name, err
	}()
	return f.record(ActionCreate, kind, namespace, name)
}

func (f *fakeBackend) Update(_ context.Context, kind ResourceKind, namespace, name string, _ json.RawMessage) (json.RawMessage, error) {
	return f.record(ActionUpdate, kind, namespace, name)
}

func (f *fakeBackend) Delete(_ context.Context, kind ResourceKind, namespace, name string) (json.RawMessage, error) {
	return f.record(ActionDelete, kind, namespace, name)
}

func (f *fakeBackend) Scale(_ context.Context, kind ResourceKind, namespace, name string, _ int) (json.RawMessage, error) {
	return f.record(ActionScale, kind, namespace, name)
}

func (f *fakeBackend) Patch(_ context.Context, kind ResourceKind, namespace, name string, _ json.RawMessage) (json.RawMessage, error) {
	return f.record(ActionPatch, kind, namespace, name)
}

func (f *fakeBackend) Get(_ context.Context, kind ResourceKind, namespace, name string) (json.RawMessage, error) {
	return f.record(ActionGet, kind, namespace, name)
}

func (f *fakeBackend) List(_ context.Context, kind ResourceKind, namespace string) (json.RawMessage, error) {
	return f.record(ActionList, kind, namespace, "")
}

func testExecutor(backend ResourceBackend, cfg ExecutorConfig) *OperationExecutor {
	return NewOperationExecutor(backend, cfg, telemetry.Nop(), nil)
}

func getOp(name string) Operation {
	return Operation{Action: ActionGet, Kind: KindPod, Name: name, Namespace: "default"}
}

func TestExecuteKeepsSubmissionOrder(t *testing.T) {
	// Later operations finish first; results must still line up with the
	// submission order.
	delays := map[string]time.Duration{"a": 30 * time.Millisecond, "b": 10 * time.Millisecond, "c": 0}
	backend := newFakeBackend(func(_ Action, _ ResourceKind, _, name string) (json.RawMessage, error) {
		time.Sleep(delays[name])
		return json.RawMessage(`{}`), nil
	})
	e := testExecutor(backend, ExecutorConfig{})

	results := e.Execute(context.Background(), []Operation{getOp("a"), getOp("b"), getOp("c")})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].Operation.Name != want {
			t.Errorf("result %d: expected %s, got %s", i, want, results[i].Operation.Name)
		}
		if results[i].Status != OperationCompleted {
			t.Errorf("result %d: expected completed, got %s", i, results[i].Status)
		}
	}
}

func TestExecuteRetriesTransient(t *testing.T) {
	var attempts atomic.Int32
	backend := newFakeBackend(func(Action, ResourceKind, string, string) (json.RawMessage, error) {
		if attempts.Add(1) < 3 {
			return nil, NewTransientError("flaky backend", nil)
		}
		return json.RawMessage(`{}`), nil
	})
	e := testExecutor(backend, ExecutorConfig{MaxAttempts: 3, BaseDelay: time.Millisecond})

	results := e.Execute(context.Background(), []Operation{getOp("a")})
	if results[0].Status != OperationCompleted {
		t.Errorf("expected completed after retries, got %s (%s)", results[0].Status, results[0].Error)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestExecuteDoesNotRetryPermanent(t *testing.T) {
	var attempts atomic.Int32
	backend := newFakeBackend(func(Action, ResourceKind, string, string) (json.RawMessage, error) {
		attempts.Add(1)
		return nil, NewPermanentError("bad request", nil)
	})
	e := testExecutor(backend, ExecutorConfig{MaxAttempts: 3, BaseDelay: time.Millisecond})

	results := e.Execute(context.Background(), []Operation{getOp("a")})
	if results[0].Status != OperationFailed {
		t.Errorf("expected failed, got %s", results[0].Status)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	var attempts atomic.Int32
	backend := newFakeBackend(func(Action, ResourceKind, string, string) (json.RawMessage, error) {
		attempts.Add(1)
		return nil, NewThrottledError("slow down", nil)
	})
	e := testExecutor(backend, ExecutorConfig{MaxAttempts: 3, BaseDelay: time.Millisecond})

	results := e.Execute(context.Background(), []Operation{getOp("a")})
	if results[0].Status != OperationFailed {
		t.Errorf("expected failed, got %s", results[0].Status)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestExecuteBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	backend := newFakeBackend(func(Action, ResourceKind, string, string) (json.RawMessage, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return json.RawMessage(`{}`), nil
	})
	e := testExecutor(backend, ExecutorConfig{MaxConcurrent: 2})

	ops := make([]Operation, 8)
	for i := range ops {
		ops[i] = getOp(fmt.Sprintf("op-%d", i))
	}
	e.Execute(context.Background(), ops)

	if got := peak.Load(); got > 2 {
		t.Errorf("concurrency cap violated: peak %d in flight", got)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := testExecutor(newFakeBackend(nil), ExecutorConfig{})
	results := e.Execute(ctx, []Operation{getOp("a"), getOp("b")})

	for i, r := range results {
		if r.Status != OperationFailed {
			t.Errorf("result %d: expected failed, got %s", i, r.Status)
		}
	}
}

func TestRollbackDeletesCreatesInReverse(t *testing.T) {
	backend := newFakeBackend(nil)
	e := testExecutor(backend, ExecutorConfig{})

	results := []ExecutionResult{
		{Operation: Operation{Action: ActionCreate, Kind: KindDeployment, Name: "x", Namespace: "default"}, Status: OperationCompleted},
		{Operation: Operation{Action: ActionCreate, Kind: KindService, Name: "y", Namespace: "default"}, Status: OperationCompleted},
		{Operation: Operation{Action: ActionDelete, Kind: KindPod, Name: "z", Namespace: "default"}, Status: OperationCompleted},
		{Operation: Operation{Action: ActionCreate, Kind: KindSecret, Name: "w", Namespace: "default"}, Status: OperationFailed},
	}

	rollback := e.Rollback(context.Background(), results)
	if len(rollback) != 2 {
		t.Fatalf("expected 2 compensating operations, got %d", len(rollback))
	}

	// Only completed creates are compensated, newest first.
	want := []string{"delete default/service/y", "delete default/deployment/x"}
	calls := backend.callLog()
	if len(calls) != len(want) {
		t.Fatalf("expected %d backend calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}
}

func TestApplyUnsupportedAction(t *testing.T) {
	e := testExecutor(newFakeBackend(nil), ExecutorConfig{})

	results := e.Execute(context.Background(), []Operation{{Action: Action("explode"), Kind: KindPod, Namespace: "default"}})
	if results[0].Status != OperationFailed {
		t.Fatalf("expected failed, got %s", results[0].Status)
	}
}

func TestReplicasParam(t *testing.T) {
	cases := []struct {
		params map[string]any
		want   int
	}{
		{nil, 1},
		{map[string]any{"replicas": 3}, 3},
		{map[string]any{"replicas": float64(5)}, 5},
		{map[string]any{"replicas": json.Number("7")}, 7},
		{map[string]any{"replicas": "many"}, 1},
	}
	for _, c := range cases {
		op := Operation{Action: ActionScale, Parameters: c.params}
		if got := replicasParam(op); got != c.want {
			t.Errorf("replicasParam(%v) = %d, want %d", c.params, got, c.want)
		}
	}
}
