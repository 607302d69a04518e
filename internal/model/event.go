package model

import (
	"encoding/json"
	"time"
)

// EventType identifies an inbound socket event.
type EventType string

const (
	EventTypeCallStateChanged   EventType = "callStateChanged"
	EventTypeFunctionCall       EventType = "functionCall"
	EventTypeFunctionResult     EventType = "functionResult"
	EventTypeTranscriptDelta    EventType = "transcriptDelta"
	EventTypeTranscriptComplete EventType = "transcriptComplete"

	// EventTypeInitialState is delivered once when the socket attaches. It is
	// acknowledged and ignored by the engine; initialization belongs to the
	// socket layer.
	EventTypeInitialState EventType = "initialState"
)

// Envelope is one inbound socket message.
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CallStateChangedData reports a server-observed call state transition.
type CallStateChangedData struct {
	ID             string     `json:"id"`
	State          CallState  `json:"state"`
	ConversationID string     `json:"conversationId,omitempty"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	DurationMs     *int64     `json:"duration,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// FunctionCallData reports the start of a function invocation.
type FunctionCallData struct {
	CallID       string          `json:"callId"`
	FunctionName string          `json:"functionName"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
}

// FunctionResultData reports the result of a function invocation.
type FunctionResultData struct {
	CallID          string          `json:"callId"`
	FunctionName    string          `json:"functionName"`
	Result          json.RawMessage `json:"result,omitempty"`
	Status          FunctionStatus  `json:"status"`
	ExecutionTimeMs *int64          `json:"executionTimeMs,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
}

// TranscriptDeltaData carries a cumulative speech-to-text fragment together
// with the display delay that keeps on-screen text in sync with audio.
type TranscriptDeltaData struct {
	Role            Role       `json:"role"`
	Delta           string     `json:"delta"`
	ResponseID      string     `json:"responseId"`
	SpeechStartTime *time.Time `json:"speechStartTime,omitempty"`
	DelayMs         *int64     `json:"delayMs,omitempty"`
}

// TranscriptCompleteData finalizes one spoken turn.
type TranscriptCompleteData struct {
	Role            Role       `json:"role"`
	Text            string     `json:"text"`
	ResponseID      string     `json:"responseId,omitempty"`
	SpeechStartTime *time.Time `json:"speechStartTime,omitempty"`
}
