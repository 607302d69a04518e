package model

import (
	"encoding/json"
	"time"
)

// ConversationTurn is one persisted turn fetched from the history store.
type ConversationTurn struct {
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	TurnNumber int       `json:"turn_number"`
}

// StoredFunctionCall is one persisted function-call record fetched from the
// history store.
type StoredFunctionCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Status    FunctionStatus  `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HistorySnapshot is the polled view of persisted conversation state.
type HistorySnapshot struct {
	ConversationID string               `json:"conversation_id"`
	Turns          []ConversationTurn   `json:"turns"`
	FunctionCalls  []StoredFunctionCall `json:"function_calls"`
	FetchedAt      time.Time            `json:"fetched_at"`
}
