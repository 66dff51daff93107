package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"sumgrid/internal/dispatch"
)

const summaryFallbackLimit = 500

// Executor runs pipeline steps on this node, whichever node assigned them.
// It also serves hop-exhausted dispatch requests locally.
type Executor struct {
	provider  dispatch.Provider
	logger    zerolog.Logger
	processed atomic.Uint64
}

func NewExecutor(provider dispatch.Provider, logger zerolog.Logger) *Executor {
	return &Executor{provider: provider, logger: logger}
}

// Processed reports how many steps this node has executed.
func (e *Executor) Processed() uint64 {
	return e.processed.Load()
}

// Execute runs one assigned step and returns its result envelope.
func (e *Executor) Execute(ctx context.Context, a Assignment) Result {
	e.logger.Info().
		Str("task", a.TaskID).
		Str("type", string(a.TaskType)).
		Msg("executing task step")

	var (
		output any
		err    error
	)
	switch a.TaskType {
	case StepSummarization:
		output, err = e.summarize(ctx, a.Data.ProjectDescription)
	case StepStructuring:
		output, err = e.structure(ctx, a.Data.Summary)
	default:
		err = fmt.Errorf("task: unknown step type %q", a.TaskType)
	}
	if err != nil {
		e.logger.Error().Err(err).Str("task", a.TaskID).Msg("step execution failed")
		return Result{TaskID: a.TaskID, TaskType: a.TaskType, Status: "error", Error: err.Error()}
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return Result{TaskID: a.TaskID, TaskType: a.TaskType, Status: "error", Error: err.Error()}
	}
	e.processed.Add(1)
	return Result{TaskID: a.TaskID, TaskType: a.TaskType, Status: "completed", Output: raw}
}

// summarize asks the provider for a summary; when the provider is down the
// step degrades to truncation instead of failing the task.
func (e *Executor) summarize(ctx context.Context, description string) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", fmt.Errorf("task: no project description provided")
	}

	prompt := fmt.Sprintf(
		"Please provide a concise summary of the following project description:\n\n%s\n\nSummary:",
		description,
	)
	out, err := e.provider.Complete(ctx, prompt)
	if err != nil {
		e.logger.Warn().Err(err).Msg("provider unavailable, truncating instead")
		return truncate(description, summaryFallbackLimit), nil
	}
	return out, nil
}

// structure asks the provider to split a summary into sections, falling back
// to a deterministic structure when the reply is not parseable JSON.
func (e *Executor) structure(ctx context.Context, summary string) (StructuredSummary, error) {
	if strings.TrimSpace(summary) == "" {
		return StructuredSummary{}, fmt.Errorf("task: no summary available for structuring")
	}

	prompt := fmt.Sprintf(`Based on the following project summary, extract or create these sections:

Summary: %s

Please provide:
1. Abstract: A brief overview
2. Objectives: Key goals and objectives
3. Methodology: Approach and methods used
4. Outcome: Expected or achieved results

Format the response as a JSON object with keys: abstract, objectives, methodology, outcome.`, summary)

	reply, err := e.provider.Complete(ctx, prompt)
	if err == nil {
		var structured StructuredSummary
		trimmed := strings.TrimSpace(reply)
		if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &structured) == nil {
			fillStructuredDefaults(&structured)
			return structured, nil
		}
		e.logger.Warn().Msg("structuring reply was not JSON, using fallback structure")
	} else {
		e.logger.Warn().Err(err).Msg("provider unavailable for structuring, using fallback")
	}

	return StructuredSummary{
		Abstract:    truncate(summary, 200),
		Objectives:  "Extracted from project description",
		Methodology: "To be determined based on project scope",
		Outcome:     "Expected successful completion",
	}, nil
}

// ServeLocal satisfies the dispatch local-service contract: a request whose
// hop budget ran out is answered here with a single provider attempt.
func (e *Executor) ServeLocal(ctx context.Context, req dispatch.Request) (json.RawMessage, error) {
	var gen dispatch.GenerationPayload
	if err := json.Unmarshal(req.Payload, &gen); err != nil || gen.Prompt == "" {
		return nil, fmt.Errorf("task: payload is not a generation request")
	}
	out, err := e.provider.Complete(ctx, gen.Prompt)
	if err != nil {
		return nil, err
	}
	e.processed.Add(1)
	return json.Marshal(map[string]string{"completion": out})
}

func fillStructuredDefaults(s *StructuredSummary) {
	if s.Abstract == "" {
		s.Abstract = "Not specified"
	}
	if s.Objectives == "" {
		s.Objectives = "Not specified"
	}
	if s.Methodology == "" {
		s.Methodology = "Not specified"
	}
	if s.Outcome == "" {
		s.Outcome = "Not specified"
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
