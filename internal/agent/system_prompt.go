package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/domain"
)

// PromptConfig is everything the system prompt is built from.
type PromptConfig struct {
	Agent       domain.Agent
	Tools       []ToolDef
	TeamCatalog string
	Now         time.Time
}

// BuildSystemPrompt renders the system prompt for one turn: the agent
// type's persona, who and when the agent is, then the team and tool
// sections when the turn has them.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder
	if p := domain.LookupAgentType(cfg.Agent.Type).Prompt; p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	writeIdentity(&b, cfg.Agent, cfg.Now)
	if cfg.TeamCatalog != "" {
		writeTeam(&b, cfg.TeamCatalog)
	}
	if len(cfg.Tools) > 0 {
		writeTools(&b, cfg.Tools)
	}
	return b.String()
}

func writeIdentity(b *strings.Builder, a domain.Agent, now time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(b, "Current date: %s\n", now.Format(time.DateOnly))
	if a.DisplayName != "" {
		fmt.Fprintf(b, "Your name: %s\n", a.DisplayName)
	}
	if a.IsLead() {
		return
	}
	if a.Description != "" {
		fmt.Fprintf(b, "Your role on this team: %s\n", a.Description)
	}
	b.WriteString("The lead designer assigned you a task. Reply with the finished work. " +
		"You cannot delegate to other agents.\n")
}

func writeTeam(b *strings.Builder, catalog string) {
	b.WriteString("\n## Your Team\n\n")
	b.WriteString("Hire specialists with delegate_task. Types you can hire:\n")
	b.WriteString(catalog)
	b.WriteString("\nGive each specialist one focused task. Collect their work with " +
		"await_results before you write your final answer.\n")
}

// writeTools documents the tool_call block format parseToolCalls reads.
func writeTools(b *strings.Builder, tools []ToolDef) {
	b.WriteString("\n## Available Tools\n\n")
	b.WriteString("Call a tool by writing a fenced block tagged `tool_call`:\n\n")
	b.WriteString("```tool_call\n{\"tool\": \"tool_name\", \"input\": {\"param\": \"value\"}}\n```\n\n")
	b.WriteString("Each result comes back in the next message. You may call several tools " +
		"before your final response.\n\n")
	for _, t := range tools {
		fmt.Fprintf(b, "### %s\n%s\n", t.Name, t.Description)
		if t.InputSchema != "" {
			fmt.Fprintf(b, "Input schema: %s\n", t.InputSchema)
		}
		b.WriteByte('\n')
	}
}
