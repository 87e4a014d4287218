package models

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one message unit in a transcript. Turns are immutable once
// appended; editing a prior turn goes through an explicit truncate.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	// LatencySeconds is set on assistant turns only: wall time from the
	// inference request until the stream completed.
	LatencySeconds float64 `json:"latency_seconds,omitempty"`
}
