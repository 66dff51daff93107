package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sumgrid/internal/cluster"
	"sumgrid/internal/config"
)

const assignInterval = time.Second

// Manager owns the task queue. Only the current leader assigns work; every
// node accepts submissions and forwards them to the leader.
type Manager struct {
	node   *cluster.Node
	cfg    config.TasksConfig
	client *http.Client
	logger zerolog.Logger

	// kick wakes the assignment loop early after a submission or a
	// leadership change.
	kick chan struct{}

	mu      sync.Mutex
	pending []string
	tasks   map[string]*Task
}

func NewManager(node *cluster.Node, cfg config.TasksConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		node:   node,
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		kick:   make(chan struct{}, 1),
		tasks:  make(map[string]*Task),
	}
}

// Create queues a new summarization task and returns its id.
func (m *Manager) Create(description, email string) string {
	id := uuid.NewString()[:8]
	t := newTask(id, description, email)

	m.mu.Lock()
	m.tasks[id] = t
	m.pending = append(m.pending, id)
	m.mu.Unlock()

	m.logger.Info().Str("task", id).Msg("task created")
	m.Kick()
	return id
}

// Kick asks the assignment loop to run now.
func (m *Manager) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Get returns a copy of one task.
func (m *Manager) Get(id string) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Counts reports how many tasks are in each status.
func (m *Manager) Counts() map[Status]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int, 4)
	for _, t := range m.tasks {
		out[t.Status]++
	}
	return out
}

// Run drives assignment and timeout sweeps while this node leads. Workers
// run the same loop; their ticks are no-ops until they win an election.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(assignInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}
		if !m.node.IsLeader() {
			continue
		}
		m.expireStuck()
		m.assign(ctx)
	}
}

// assign hands each queued task's next step to an available worker.
func (m *Manager) assign(ctx context.Context) {
	for {
		worker, t, step, ok := m.takeAssignment()
		if !ok {
			return
		}
		m.runAssignment(ctx, worker, t, step)
	}
}

// takeAssignment pops the next pending task and picks a worker under the
// load cap. Task state is updated while still holding the lock so the
// worker call itself happens outside it.
func (m *Manager) takeAssignment() (config.NodeRecord, Assignment, StepType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return config.NodeRecord{}, Assignment{}, "", false
	}
	worker, ok := m.pickWorkerLocked()
	if !ok {
		return config.NodeRecord{}, Assignment{}, "", false
	}

	id := m.pending[0]
	m.pending = m.pending[1:]
	t, exists := m.tasks[id]
	if !exists {
		return config.NodeRecord{}, Assignment{}, "", false
	}
	step := t.nextStep()
	if step == nil {
		return config.NodeRecord{}, Assignment{}, "", false
	}

	t.Status = StatusInProgress
	t.AssignedTo = worker.ID
	t.UpdatedAt = time.Now()
	step.Status = StatusInProgress

	assignment := Assignment{
		TaskID:   t.ID,
		TaskType: step.Type,
		Data: AssignmentData{
			ProjectDescription: t.Description,
			Summary:            t.Summary,
		},
	}
	return worker, assignment, step.Type, true
}

// pickWorkerLocked returns an alive peer carrying fewer than MaxPerWorker
// in-flight tasks.
func (m *Manager) pickWorkerLocked() (config.NodeRecord, bool) {
	load := make(map[int]int)
	for _, t := range m.tasks {
		if t.Status == StatusInProgress {
			load[t.AssignedTo]++
		}
	}

	selfID := m.node.Identity().ID
	for _, id := range m.node.AliveIDs() {
		if id == selfID {
			continue
		}
		if load[id] >= m.cfg.MaxPerWorker {
			continue
		}
		if rec, ok := m.node.Registry().Peer(id); ok {
			return rec, true
		}
	}
	return config.NodeRecord{}, false
}

// runAssignment posts one step to a worker and applies the outcome.
func (m *Manager) runAssignment(ctx context.Context, worker config.NodeRecord, a Assignment, step StepType) {
	m.logger.Info().
		Str("task", a.TaskID).
		Str("step", string(step)).
		Int("worker", worker.ID).
		Msg("assigning task step")

	result, err := m.postAssignment(ctx, worker, a)
	if err != nil || result.Status != "completed" {
		if err == nil {
			err = fmt.Errorf("task: worker reported %q: %s", result.Status, result.Error)
		}
		m.logger.Error().Err(err).Str("task", a.TaskID).Int("worker", worker.ID).
			Msg("assignment failed")
		m.handleFailure(a.TaskID)
		return
	}
	m.applyResult(a.TaskID, result)
}

func (m *Manager) postAssignment(ctx context.Context, worker config.NodeRecord, a Assignment) (Result, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+cluster.Address(worker)+"/execute_task", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("task: worker returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, err
	}
	return result, nil
}

// applyResult advances the task after a completed step.
func (m *Manager) applyResult(taskID string, result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return
	}
	for i := range t.Steps {
		if t.Steps[i].Type == result.TaskType {
			t.Steps[i].Status = StatusCompleted
		}
	}

	switch result.TaskType {
	case StepSummarization:
		var summary string
		if err := json.Unmarshal(result.Output, &summary); err == nil {
			t.Summary = summary
		}
	case StepStructuring:
		var structured StructuredSummary
		if err := json.Unmarshal(result.Output, &structured); err == nil {
			t.Structured = &structured
		}
	}

	t.UpdatedAt = time.Now()
	t.AssignedTo = 0
	if t.nextStep() == nil {
		t.Status = StatusCompleted
		m.logger.Info().Str("task", t.ID).Msg("task completed")
		return
	}
	t.Status = StatusPending
	m.pending = append(m.pending, t.ID)
}

// handleFailure requeues a failed task until its retry budget runs out.
func (m *Manager) handleFailure(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return
	}
	for i := range t.Steps {
		if t.Steps[i].Status == StatusInProgress {
			t.Steps[i].Status = StatusPending
		}
	}
	t.Retries++
	t.AssignedTo = 0
	t.UpdatedAt = time.Now()

	if t.Retries > m.cfg.MaxRetries {
		t.Status = StatusFailed
		m.logger.Error().Str("task", t.ID).Int("retries", t.Retries-1).
			Msg("task failed permanently")
		return
	}
	t.Status = StatusPending
	m.pending = append(m.pending, t.ID)
}

// expireStuck fails over tasks whose assignment outlived the task timeout,
// covering workers that died mid-step.
func (m *Manager) expireStuck() {
	m.mu.Lock()
	var stuck []string
	now := time.Now()
	for id, t := range m.tasks {
		if t.Status == StatusInProgress && now.Sub(t.UpdatedAt) > m.cfg.Timeout {
			stuck = append(stuck, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stuck {
		m.logger.Warn().Str("task", id).Msg("task assignment timed out")
		m.handleFailure(id)
	}
}
