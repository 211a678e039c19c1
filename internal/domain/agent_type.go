package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AgentType tags the role an agent plays within a design team.
type AgentType string

const (
	TypeLeadDesigner      AgentType = "leadDesigner"
	TypeSystemDesigner    AgentType = "systemDesigner"
	TypeBalancingDesigner AgentType = "balancingDesigner"
	TypeLevelDesigner     AgentType = "levelDesigner"
	TypeNarrativeDesigner AgentType = "narrativeDesigner"
	TypeCombatDesigner    AgentType = "combatDesigner"
	TypeTechnicalDesigner AgentType = "technicalDesigner"
	TypeJuniorDesigner    AgentType = "juniorDesigner"
	TypeDefault           AgentType = "default"
)

// AgentTypeInfo carries the presentation and prompt data for one agent type.
type AgentTypeInfo struct {
	Type        AgentType `json:"type"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	Prompt      string    `json:"-"`
}

var agentTypes = map[AgentType]AgentTypeInfo{
	TypeLeadDesigner: {
		Type:        TypeLeadDesigner,
		Label:       "Lead Designer",
		Description: "creative director and team coordinator",
		Color:       "gold",
		Prompt: "You are the lead game designer. You own the overall vision, break large requests " +
			"into focused assignments, delegate them to specialists, and merge their output into " +
			"one coherent answer for the user.",
	},
	TypeSystemDesigner: {
		Type:        TypeSystemDesigner,
		Label:       "Systems Designer",
		Description: "gameplay loops, progression, economy",
		Color:       "blue",
		Prompt: "You are a systems designer. Design core loops, progression curves and economies. " +
			"Be concrete: name resources, sinks, faucets and pacing targets.",
	},
	TypeBalancingDesigner: {
		Type:        TypeBalancingDesigner,
		Label:       "Combat/Balancing Designer",
		Description: "formulas, curves, probability",
		Color:       "red",
		Prompt: "You are a balancing designer. Express proposals as formulas, tables and curves, " +
			"and state the assumptions behind every number.",
	},
	TypeLevelDesigner: {
		Type:        TypeLevelDesigner,
		Label:       "Level Designer",
		Description: "level layout, encounter pacing, world structure",
		Color:       "green",
		Prompt: "You are a level designer. Describe layouts, critical paths, encounter beats and " +
			"how the space teaches the player.",
	},
	TypeNarrativeDesigner: {
		Type:        TypeNarrativeDesigner,
		Label:       "Narrative Designer",
		Description: "story, characters, world-building",
		Color:       "purple",
		Prompt: "You are a narrative designer. Develop story arcs, characters and lore that " +
			"reinforce the gameplay rather than compete with it.",
	},
	TypeCombatDesigner: {
		Type:        TypeCombatDesigner,
		Label:       "Combat Designer",
		Description: "combat systems, skills, enemy AI",
		Color:       "orange",
		Prompt: "You are a combat designer. Define skills, enemy behaviours and combat feel, with " +
			"clear counterplay for every threat.",
	},
	TypeTechnicalDesigner: {
		Type:        TypeTechnicalDesigner,
		Label:       "Technical Designer",
		Description: "feasibility, architecture, performance",
		Color:       "cyan",
		Prompt: "You are a technical designer. Assess feasibility, data structures and performance " +
			"budgets, and flag risks early.",
	},
	TypeJuniorDesigner: {
		Type:        TypeJuniorDesigner,
		Label:       "Junior Designer",
		Description: "documentation, data entry, research",
		Color:       "teal",
		Prompt: "You are a junior designer. Produce tidy documentation, reference tables and " +
			"research summaries.",
	},
	TypeDefault: {
		Type:        TypeDefault,
		Label:       "Agent",
		Description: "blank agent with no preset prompt",
		Color:       "gray",
	},
}

// subAgentTypes is the fixed enumeration a lead agent may delegate to.
var subAgentTypes = []AgentType{
	TypeSystemDesigner,
	TypeBalancingDesigner,
	TypeLevelDesigner,
	TypeNarrativeDesigner,
	TypeCombatDesigner,
	TypeTechnicalDesigner,
	TypeJuniorDesigner,
	TypeDefault,
}

// ParseAgentType maps a free-form tag onto a known type.
// Unrecognized tags fall back to TypeDefault.
func ParseAgentType(tag string) AgentType {
	t := AgentType(strings.TrimSpace(tag))
	if _, ok := agentTypes[t]; ok {
		return t
	}
	for known := range agentTypes {
		if strings.EqualFold(string(known), string(t)) {
			return known
		}
	}
	return TypeDefault
}

// LookupAgentType returns the info for t, or the default info when t is unknown.
func LookupAgentType(t AgentType) AgentTypeInfo {
	if info, ok := agentTypes[t]; ok {
		return info
	}
	return agentTypes[TypeDefault]
}

// SubAgentTypes returns the types a lead agent can spawn.
func SubAgentTypes() []AgentType {
	out := make([]AgentType, len(subAgentTypes))
	copy(out, subAgentTypes)
	return out
}

// TeamCatalog renders the delegatable types as a bullet list for prompts.
func TeamCatalog() string {
	var b strings.Builder
	for _, t := range subAgentTypes {
		info := agentTypes[t]
		fmt.Fprintf(&b, "- %s: %s (%s)\n", t, info.Label, info.Description)
	}
	return b.String()
}

// AgentName derives a unique machine name of the form "<type>-<suffix>".
func AgentName(t AgentType) string {
	return string(t) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ParseSubAgentType is ParseAgentType restricted to delegatable types.
func ParseSubAgentType(tag string) AgentType {
	t := ParseAgentType(tag)
	if t == TypeLeadDesigner {
		return TypeDefault
	}
	return t
}
