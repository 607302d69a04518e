// Package model defines data structures for the voice call platform.
package model

import (
	"time"
)

// CallState represents the lifecycle state of a call session.
type CallState string

const (
	CallStateIdle      CallState = "idle"
	CallStateDialing   CallState = "dialing"
	CallStateRinging   CallState = "ringing"
	CallStateConnected CallState = "connected"
	CallStateEnded     CallState = "ended"
	CallStateFailed    CallState = "failed"
)

// Terminal reports whether the state ends a session. A new call constructs
// a fresh session rather than transitioning out of a terminal state.
func (s CallState) Terminal() bool {
	return s == CallStateEnded || s == CallStateFailed
}

// CallSession represents one outbound call attempt.
type CallSession struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	Provider    string    `json:"provider"`
	State       CallState `json:"state"`

	// ProviderCallID is the server-issued identifier returned on initiation.
	ProviderCallID string `json:"provider_call_id,omitempty"`

	// ConversationID correlates the session with persisted history once the
	// server reports it.
	ConversationID string `json:"conversation_id,omitempty"`

	// StartedAt is set when the call reaches the connected state.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// DurationMs is recomputed on a tick while connected and frozen at the
	// last observed value when the session reaches a terminal state.
	DurationMs int64 `json:"duration_ms"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InitiateCallRequest is the request to start an outbound call.
type InitiateCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	Provider    string `json:"provider,omitempty"`
	PatientID   string `json:"patient_id,omitempty"`
}

// CallOutcome is the derived business result of a finished call.
type CallOutcome struct {
	SessionID     string     `json:"session_id"`
	BookingMade   bool       `json:"booking_made"`
	FunctionCalls int        `json:"function_calls"`
	Messages      int        `json:"messages"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}
