package model

import (
	"encoding/json"
	"time"
)

// Role represents the speaker attributed to a transcript message.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// TranscriptMessage is a unit of spoken content attributed to one party.
//
// CreatedAt and Seq are assigned once, at first observation, and never
// altered by subsequent updates. Display ordering must use (CreatedAt, Seq),
// never UpdatedAt.
type TranscriptMessage struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`

	// Partial is true while more deltas may still arrive.
	Partial bool `json:"partial"`

	// ResponseID groups all deltas and the completion event for one spoken
	// turn. Empty for some caller-side transcripts.
	ResponseID string `json:"response_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FunctionStatus is the lifecycle status of a function call.
type FunctionStatus string

const (
	FunctionStatusPending FunctionStatus = "pending"
	FunctionStatusSuccess FunctionStatus = "success"
	FunctionStatusError   FunctionStatus = "error"
)

// FunctionCallItem is a single invocation of a business capability during
// the call. One item exists per unique provider call identifier; a start
// event followed by a result event mutate the same record.
type FunctionCallItem struct {
	ID     string `json:"id"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`

	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`

	Status          FunctionStatus `json:"status"`
	ExecutionTimeMs *int64         `json:"execution_time_ms,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimelineItemKind discriminates the union held by a TimelineItem.
type TimelineItemKind string

const (
	TimelineKindMessage      TimelineItemKind = "message"
	TimelineKindFunctionCall TimelineItemKind = "function_call"
)

// TimelineItem is one entry of the reconciled call timeline: either a
// transcript message or a function call.
type TimelineItem struct {
	Kind         TimelineItemKind   `json:"kind"`
	Message      *TranscriptMessage `json:"message,omitempty"`
	FunctionCall *FunctionCallItem  `json:"function_call,omitempty"`
}

// SortKey returns the (creation time, sequence number) pair that orders the
// timeline.
func (it TimelineItem) SortKey() (time.Time, int64) {
	switch it.Kind {
	case TimelineKindMessage:
		return it.Message.CreatedAt, it.Message.Seq
	case TimelineKindFunctionCall:
		return it.FunctionCall.CreatedAt, it.FunctionCall.Seq
	}
	return time.Time{}, 0
}

// TimelineResponse is the API payload for a timeline snapshot.
type TimelineResponse struct {
	SessionID string         `json:"session_id"`
	Items     []TimelineItem `json:"items"`
}
