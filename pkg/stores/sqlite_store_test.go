package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/autoops/autoops/pkg/engine"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), Config{
		Path: filepath.Join(t.TempDir(), "tasks.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testTask(id string, status engine.TaskStatus) *engine.Task {
	return &engine.Task{
		ID:        id,
		Request:   "scale nginx to 3 replicas",
		Priority:  engine.PriorityNormal,
		Status:    status,
		Timeout:   5 * time.Minute,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSQLiteStorePutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := testTask("task-1", engine.TaskStatusPending)
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != task.ID || got.Request != task.Request || got.Status != task.Status {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestSQLiteStoreUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := testTask("task-1", engine.TaskStatusPending)
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	now := time.Now().UTC()
	task.Status = engine.TaskStatusCompleted
	task.CompletedAt = &now
	if err := store.PutTask(ctx, task); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	got, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != engine.TaskStatusCompleted {
		t.Errorf("expected status %s, got %s", engine.TaskStatusCompleted, got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTask(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error for missing task")
	}
	if engine.ErrCode(err) != engine.ErrCodeNotFound {
		t.Errorf("expected code %s, got %s", engine.ErrCodeNotFound, engine.ErrCode(err))
	}
}

func TestSQLiteStoreListNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		task := testTask(id, engine.TaskStatusPending)
		task.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.PutTask(ctx, task); err != nil {
			t.Fatalf("put %s failed: %v", id, err)
		}
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if tasks[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, tasks[i].ID)
		}
	}
}

func TestSQLiteStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutTask(ctx, testTask("task-1", engine.TaskStatusCompleted)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.DeleteTask(ctx, "task-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.GetTask(ctx, "task-1"); engine.ErrCode(err) != engine.ErrCodeNotFound {
		t.Errorf("expected not found after delete, got %v", err)
	}

	// Deleting an absent record is not an error.
	if err := store.DeleteTask(ctx, "task-1"); err != nil {
		t.Errorf("second delete failed: %v", err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.PutTask(ctx, testTask("task-1", engine.TaskStatusPending)); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != "task-1" {
		t.Errorf("unexpected task: %+v", got)
	}

	if _, err := store.GetTask(ctx, "missing"); engine.ErrCode(err) != engine.ErrCodeNotFound {
		t.Errorf("expected not found, got %v", err)
	}

	if err := store.DeleteTask(ctx, "task-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected empty store, got %d tasks", len(tasks))
	}
}
