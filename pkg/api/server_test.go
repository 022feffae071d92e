package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autoops/autoops/pkg/config"
	"github.com/autoops/autoops/pkg/engine"
	"github.com/autoops/autoops/pkg/stores"
	"github.com/autoops/autoops/pkg/telemetry"
)

type noopRunner struct{}

func (noopRunner) Run(_ context.Context, task *engine.Task) {
	task.Status = engine.TaskStatusCompleted
}

// newTestServer builds a server around a manager with no workers
// started, so submitted tasks stay pending and responses are
// deterministic.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	manager := engine.NewManager(engine.ManagerConfig{}, stores.NewMemoryStore(),
		noopRunner{}, telemetry.Nop(), nil)
	srv := NewServer(manager, nil, telemetry.Nop(), config.Default().Server, "test")
	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func submitTask(t *testing.T, ts *httptest.Server, body string) submitResponse {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/tasks", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	return sr
}

func TestSubmitAndGet(t *testing.T) {
	ts := newTestServer(t)

	sr := submitTask(t, ts, `{"request": "scale nginx to 3", "priority": "high"}`)
	if sr.TaskID == "" {
		t.Fatal("expected a task id")
	}

	resp, err := http.Get(ts.URL + "/api/tasks/" + sr.TaskID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snap engine.TaskSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if snap.Request != "scale nginx to 3" || snap.Priority != engine.PriorityHigh {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty request", `{"request": ""}`},
		{"bad priority", `{"request": "x", "priority": "urgent"}`},
		{"not json", `scale nginx`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/tasks", "application/json", bytes.NewBufferString(c.body))
			if err != nil {
				t.Fatalf("post failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestGetUnknownTask(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/tasks/no-such-task")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	ts := newTestServer(t)

	submitTask(t, ts, `{"request": "one"}`)
	submitTask(t, ts, `{"request": "two"}`)

	resp, err := http.Get(ts.URL + "/api/tasks?status=pending&limit=1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	defer resp.Body.Close()
	var listing struct {
		Tasks []engine.TaskSnapshot `json:"tasks"`
		Count int                   `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if listing.Count != 1 {
		t.Errorf("expected 1 task with limit=1, got %d", listing.Count)
	}

	resp, err = http.Get(ts.URL + "/api/tasks?status=sideways")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad status filter, got %d", resp.StatusCode)
	}
}

func TestCancel(t *testing.T) {
	ts := newTestServer(t)
	sr := submitTask(t, ts, `{"request": "delete everything", "priority": "low"}`)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/tasks/"+sr.TaskID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	// A second cancel conflicts, the task is already terminal.
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if health["status"] != "ok" || health["version"] != "test" {
		t.Errorf("unexpected health body: %v", health)
	}

	resp, err = http.Get(ts.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("metrics failed: %v", err)
	}
	defer resp.Body.Close()
	var metrics engine.Metrics
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		t.Fatalf("bad response: %v", err)
	}
}
