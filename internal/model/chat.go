package model

import "time"

// Chat message roles. A message role is exactly one of these.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single conversation turn stored in Redis.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryRequest is one incoming chat query. Message must be non-empty and
// bounded in length; both are enforced by the transport layer before the
// pipeline runs.
type QueryRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"sessionId"`
}

// QueryResponse is the assembled answer for one query. MessageID identifies
// the assistant turn so streaming events can be correlated with the persisted
// copy.
type QueryResponse struct {
	SessionID string         `json:"sessionId"`
	Answer    string         `json:"answer"`
	Sources   []SearchResult `json:"sources"`
	MessageID string         `json:"messageId"`
}
