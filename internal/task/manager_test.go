package task

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sumgrid/internal/cluster"
	"sumgrid/internal/config"
)

// workerCluster builds a 2-node cluster where this process is node 1 (the
// leader) and node 2 is the httptest worker.
func workerCluster(t *testing.T, workerAddr string) *cluster.Node {
	t.Helper()
	host, portStr, err := net.SplitHostPort(workerAddr)
	if err != nil {
		t.Fatalf("split worker addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := config.Config{
		Nodes: []config.NodeRecord{
			{ID: 1, IP: "127.0.0.1", Port: 18000},
			{ID: 2, IP: host, Port: port},
		},
	}
	ident, err := cluster.ResolveIdentity(cfg, 1, cluster.Overrides{})
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	reg, err := cluster.BuildRegistry(cfg, 1)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	n := cluster.NewNode(ident, reg, time.Minute)
	n.SetLeader(1)
	n.MarkAlive(2)
	return n
}

func testTasksConfig() config.TasksConfig {
	return config.TasksConfig{MaxRetries: 2, Timeout: time.Minute, MaxPerWorker: 3}
}

func TestAssignmentFlowsThroughBothSteps(t *testing.T) {
	executor := NewExecutor(&scriptedProvider{reply: `{"abstract":"a","objectives":"b","methodology":"c","outcome":"d"}`}, zerolog.Nop())
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Assignment
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			t.Errorf("decode assignment: %v", err)
		}
		json.NewEncoder(w).Encode(executor.Execute(r.Context(), a))
	}))
	defer worker.Close()

	node := workerCluster(t, worker.Listener.Addr().String())
	m := NewManager(node, testTasksConfig(), zerolog.Nop())

	id := m.Create("build a distributed summarizer", "dev@example.com")

	// Two assignment passes: summarization, then structuring.
	m.assign(context.Background())
	m.assign(context.Background())

	got, ok := m.Get(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("task should be completed, got %s", got.Status)
	}
	if got.Structured == nil || got.Structured.Abstract != "a" {
		t.Fatalf("unexpected structured output: %+v", got.Structured)
	}
}

func TestFailedWorkerRetriesThenFailsTask(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer worker.Close()

	node := workerCluster(t, worker.Listener.Addr().String())
	m := NewManager(node, testTasksConfig(), zerolog.Nop())

	id := m.Create("doomed project", "")
	// MaxRetries 2 allows the initial attempt plus two retries.
	for i := 0; i < 4; i++ {
		m.assign(context.Background())
	}

	got, _ := m.Get(id)
	if got.Status != StatusFailed {
		t.Fatalf("task should have failed permanently, got %s", got.Status)
	}
	if got.Retries != 3 {
		t.Fatalf("unexpected retry count: %d", got.Retries)
	}
}

func TestNoAssignmentWithoutAliveWorkers(t *testing.T) {
	// The peer never heartbeats, so with a tiny leader timeout it expires
	// immediately and no worker is eligible.
	cfg := config.Config{
		Nodes: []config.NodeRecord{
			{ID: 1, IP: "127.0.0.1", Port: 18000},
			{ID: 2, IP: "127.0.0.1", Port: 18001},
		},
	}
	ident, _ := cluster.ResolveIdentity(cfg, 1, cluster.Overrides{})
	reg, _ := cluster.BuildRegistry(cfg, 1)
	lonely := cluster.NewNode(ident, reg, time.Millisecond)
	lonely.SetLeader(1)

	m := NewManager(lonely, testTasksConfig(), zerolog.Nop())
	id := m.Create("waits for workers", "")
	time.Sleep(5 * time.Millisecond)
	m.assign(context.Background())

	got, _ := m.Get(id)
	if got.Status != StatusPending {
		t.Fatalf("task should stay pending without workers, got %s", got.Status)
	}
}

func TestExpireStuckRequeues(t *testing.T) {
	node := workerCluster(t, "127.0.0.1:18001")
	m := NewManager(node, config.TasksConfig{MaxRetries: 2, Timeout: time.Millisecond, MaxPerWorker: 3}, zerolog.Nop())

	id := m.Create("slow task", "")
	m.mu.Lock()
	t1 := m.tasks[id]
	t1.Status = StatusInProgress
	t1.Steps[0].Status = StatusInProgress
	t1.AssignedTo = 2
	t1.UpdatedAt = time.Now().Add(-time.Second)
	m.pending = nil
	m.mu.Unlock()

	m.expireStuck()

	got, _ := m.Get(id)
	if got.Status != StatusPending {
		t.Fatalf("stuck task should be requeued, got %s", got.Status)
	}
	if got.Retries != 1 {
		t.Fatalf("expiry should consume a retry, got %d", got.Retries)
	}
}

func TestCounts(t *testing.T) {
	node := workerCluster(t, "127.0.0.1:18001")
	m := NewManager(node, testTasksConfig(), zerolog.Nop())
	m.Create("one", "")
	m.Create("two", "")

	counts := m.Counts()
	if counts[StatusPending] != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", counts[StatusPending])
	}
}
