// Package task is the distributed summarization pipeline: the leader queues
// and assigns work, every node can execute steps against the model provider.
package task

import (
	"encoding/json"
	"time"
)

// StepType identifies one pipeline stage.
type StepType string

const (
	StepSummarization StepType = "summarization"
	StepStructuring   StepType = "structuring"
)

// Status is the lifecycle of a task or step.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Step is one stage of a task's pipeline.
type Step struct {
	Type   StepType `json:"type"`
	Status Status   `json:"status"`
}

// Task is one summarization job moving through the pipeline.
type Task struct {
	ID          string             `json:"id"`
	Description string             `json:"project_description"`
	UserEmail   string             `json:"user_email,omitempty"`
	Status      Status             `json:"status"`
	Steps       []Step             `json:"steps"`
	AssignedTo  int                `json:"assigned_to,omitempty"`
	Retries     int                `json:"retry_count"`
	Summary     string             `json:"summary,omitempty"`
	Structured  *StructuredSummary `json:"structured,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// StructuredSummary is the structuring step's output.
type StructuredSummary struct {
	Abstract    string `json:"abstract"`
	Objectives  string `json:"objectives"`
	Methodology string `json:"methodology"`
	Outcome     string `json:"outcome"`
}

// Assignment is the wire form of one step handed to a worker.
type Assignment struct {
	TaskID   string         `json:"task_id"`
	TaskType StepType       `json:"task_type"`
	Data     AssignmentData `json:"data"`
}

// AssignmentData carries the inputs a step needs. Structuring receives the
// summary produced by the previous step.
type AssignmentData struct {
	ProjectDescription string `json:"project_description"`
	Summary            string `json:"summary,omitempty"`
}

// Result is a worker's answer to one assignment.
type Result struct {
	TaskID   string          `json:"task_id"`
	TaskType StepType        `json:"task_type"`
	Status   string          `json:"status"`
	Output   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func newTask(id, description, email string) *Task {
	now := time.Now()
	return &Task{
		ID:          id,
		Description: description,
		UserEmail:   email,
		Status:      StatusPending,
		Steps: []Step{
			{Type: StepSummarization, Status: StatusPending},
			{Type: StepStructuring, Status: StatusPending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// nextStep returns the first step that has not completed, nil when done.
func (t *Task) nextStep() *Step {
	for i := range t.Steps {
		if t.Steps[i].Status == StatusPending {
			return &t.Steps[i]
		}
	}
	return nil
}
