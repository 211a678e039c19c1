package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/domain"
)

// Team tool names.
const (
	ToolDelegateTask = "delegate_task"
	ToolAwaitResults = "await_results"
	ToolListTeam     = "list_team"
	ToolDismissAgent = "dismiss_agent"
)

var errNoTurn = errors.New("team tools require a running lead turn")

func leadThread(ctx context.Context) (string, error) {
	ti, ok := TurnFromContext(ctx)
	if !ok || ti.ThreadID == "" {
		return "", errNoTurn
	}
	return ti.ThreadID, nil
}

func decodeInput(input string, v any) error {
	if err := json.Unmarshal([]byte(input), v); err != nil {
		return domain.Validationf("invalid tool input: %v", err)
	}
	return nil
}

func encodeOutput(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type delegateTaskTool struct{ s *Spawner }

func (t *delegateTaskTool) Name() string { return ToolDelegateTask }

func (t *delegateTaskTool) Description() string {
	return "Hire a specialist sub-agent and hand it a task. The task runs in the background; " +
		"collect its answer with await_results."
}

func (t *delegateTaskTool) InputSchema() string {
	return `{"type":"object","properties":{"agentType":{"type":"string"},"task":{"type":"string"}},"required":["agentType","task"]}`
}

func (t *delegateTaskTool) Execute(ctx context.Context, input string) (string, error) {
	lead, err := leadThread(ctx)
	if err != nil {
		return "", err
	}
	var in struct {
		AgentType string `json:"agentType"`
		Task      string `json:"task"`
	}
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}

	info := domain.LookupAgentType(domain.ParseSubAgentType(in.AgentType))
	ReportProgress(ctx, fmt.Sprintf("Delegating to %s...", info.Label))

	a, err := t.s.Spawn(ctx, lead, in.AgentType, in.Task)
	if err != nil {
		return "", err
	}
	return encodeOutput(map[string]any{
		"agentId":  a.ID,
		"name":     a.Name,
		"threadId": a.ThreadID,
		"status":   "running",
	})
}

type awaitResultsTool struct{ s *Spawner }

func (t *awaitResultsTool) Name() string { return ToolAwaitResults }

func (t *awaitResultsTool) Description() string {
	return "Collect finished work from delegated sub-agents, waiting for the first one if none is ready yet. " +
		"Failed tasks are reported with isError set."
}

func (t *awaitResultsTool) InputSchema() string {
	return `{"type":"object","properties":{"timeoutSeconds":{"type":"integer"}}}`
}

func (t *awaitResultsTool) Execute(ctx context.Context, input string) (string, error) {
	lead, err := leadThread(ctx)
	if err != nil {
		return "", err
	}
	var in struct {
		TimeoutSeconds int `json:"timeoutSeconds"`
	}
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}

	if n := t.s.Pending(lead); n > 0 {
		ReportProgress(ctx, fmt.Sprintf("Waiting for %d team member(s)...", n))
	}
	results := t.s.Await(ctx, lead, time.Duration(in.TimeoutSeconds)*time.Second)
	for _, r := range results {
		label := domain.LookupAgentType(r.AgentType).Label
		if r.IsError {
			ReportProgress(ctx, fmt.Sprintf("%s failed: %s", label, r.Error))
		} else {
			ReportProgress(ctx, fmt.Sprintf("%s finished", label))
		}
	}
	if results == nil {
		results = []TaskResult{}
	}
	return encodeOutput(map[string]any{
		"results": results,
		"pending": t.s.Outstanding(lead),
	})
}

type listTeamTool struct{ s *Spawner }

func (t *listTeamTool) Name() string { return ToolListTeam }

func (t *listTeamTool) Description() string {
	return "List the active members of your team and whether each is still working."
}

func (t *listTeamTool) InputSchema() string {
	return `{"type":"object","properties":{}}`
}

func (t *listTeamTool) Execute(ctx context.Context, _ string) (string, error) {
	lead, err := leadThread(ctx)
	if err != nil {
		return "", err
	}
	members, err := t.s.Members(ctx, lead)
	if err != nil {
		return "", err
	}
	return encodeOutput(map[string]any{"members": members})
}

type dismissAgentTool struct{ s *Spawner }

func (t *dismissAgentTool) Name() string { return ToolDismissAgent }

func (t *dismissAgentTool) Description() string {
	return "Dismiss a team member: cancel its pending work and close its thread."
}

func (t *dismissAgentTool) InputSchema() string {
	return `{"type":"object","properties":{"agentId":{"type":"string"}},"required":["agentId"]}`
}

func (t *dismissAgentTool) Execute(ctx context.Context, input string) (string, error) {
	lead, err := leadThread(ctx)
	if err != nil {
		return "", err
	}
	var in struct {
		AgentID string `json:"agentId"`
	}
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	a, err := t.s.Dismiss(ctx, lead, in.AgentID)
	if err != nil {
		return "", err
	}
	ReportProgress(ctx, fmt.Sprintf("Dismissed %s", a.DisplayName))
	return encodeOutput(map[string]any{"agentId": a.ID, "dismissed": true})
}
