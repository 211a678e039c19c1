package domain

import "time"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Tool names used for side-channel records.
const (
	ToolNameProgress = "progress"
	ToolNameThinking = "thinking"
)

// Message is one utterance in a thread. ID is the server-assigned sequence
// used as the tie-break after CreatedAt.
type Message struct {
	ID         int64     `json:"id"`
	ThreadID   string    `json:"threadId"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	ToolName   string    `json:"toolName,omitempty"`
	TokenCount int       `json:"tokenCount"`
	Streaming  bool      `json:"streaming,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SideChannel reports whether the message is a progress or thinking record
// rather than user-visible conversation.
func (m Message) SideChannel() bool {
	return m.Role == RoleTool && (m.ToolName == ToolNameProgress || m.ToolName == ToolNameThinking)
}

// Message paging bounds.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// NormalizePage applies the default limit and clamps limit and offset.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
