package domain

import "time"

// ThreadStatus is the lifecycle state of a thread.
type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadArchived ThreadStatus = "archived"
	ThreadDeleted  ThreadStatus = "deleted"
)

// Thread is the ordered conversation owned by exactly one agent.
type Thread struct {
	ID            string       `json:"id"`
	AgentID       string       `json:"agentId"`
	Title         string       `json:"title"`
	Status        ThreadStatus `json:"status"`
	MessageCount  int          `json:"messageCount"`
	LastMessageAt time.Time    `json:"lastMessageAt,omitzero"`
	CreatedAt     time.Time    `json:"createdAt"`
}
