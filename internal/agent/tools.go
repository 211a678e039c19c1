package agent

import (
	"context"
	"fmt"
	"strings"
)

// Tool is something a model can call from a turn with a tool_call block.
// Input and output are JSON text.
type Tool interface {
	Name() string
	Description() string
	InputSchema() string
	Execute(ctx context.Context, input string) (string, error)
}

// ToolDef is how a tool is described to the model in the system prompt.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema string `json:"inputSchema"`
}

// Toolset is the tools one turn may call, in the order the prompt lists
// them. A later tool with the same name replaces the earlier one.
type Toolset struct {
	order []string
	tools map[string]Tool
}

func NewToolset(tools ...Tool) *Toolset {
	ts := &Toolset{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := ts.tools[t.Name()]; !dup {
			ts.order = append(ts.order, t.Name())
		}
		ts.tools[t.Name()] = t
	}
	return ts
}

func (ts *Toolset) Empty() bool { return len(ts.order) == 0 }

func (ts *Toolset) Has(name string) bool {
	_, ok := ts.tools[name]
	return ok
}

// Definitions describes the tools for the system prompt.
func (ts *Toolset) Definitions() []ToolDef {
	defs := make([]ToolDef, 0, len(ts.order))
	for _, name := range ts.order {
		t := ts.tools[name]
		defs = append(defs, ToolDef{Name: name, Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return defs
}

// Call runs one parsed tool call. Unknown tools and tool failures come
// back as an errored result for the model to read; they never fail the turn.
func (ts *Toolset) Call(ctx context.Context, call toolCall) toolResult {
	t, ok := ts.tools[call.Tool]
	if !ok {
		return toolResult{Tool: call.Tool, Err: fmt.Errorf("unknown tool: %s", call.Tool)}
	}
	input := strings.TrimSpace(string(call.Input))
	if input == "" || input == "null" {
		input = "{}"
	}
	out, err := t.Execute(ctx, input)
	return toolResult{Tool: call.Tool, Output: out, Err: err}
}
