package domain

import "time"

// Provider identifies the model vendor backing an agent.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Providers lists every supported provider in display order.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGemini}
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		return true
	}
	return false
}

// Agent is one model-backed conversational participant.
// An agent with a ParentThreadID is a sub-agent of the agent owning that thread;
// an agent without one is a lead agent.
type Agent struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"displayName"`
	Description    string    `json:"description,omitempty"`
	Type           AgentType `json:"type"`
	Provider       Provider  `json:"provider"`
	Model          string    `json:"modelName"`
	ThreadID       string    `json:"threadId,omitempty"`
	ParentThreadID string    `json:"parentThreadId,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsLead reports whether the agent sits at the top of its tree.
func (a Agent) IsLead() bool { return a.ParentThreadID == "" }
