package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
)

func newTestEngine() *Engine {
	return New("sess-1", "+15551234567", "twilio", &stubTelephony{callID: "pc-1"}, logger.NewNop())
}

func envelope(t *testing.T, typ model.EventType, data any) model.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return model.Envelope{Type: typ, Data: raw}
}

func TestIngestor_DispatchCallState(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	e.Ingestor.Dispatch(envelope(t, model.EventTypeCallStateChanged, model.CallStateChangedData{
		ID:    "pc-1",
		State: model.CallStateRinging,
	}))

	assert.Equal(t, model.CallStateRinging, e.Session().State)
}

func TestIngestor_MalformedEventDropped(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	e.Ingestor.Dispatch(model.Envelope{
		Type: model.EventTypeCallStateChanged,
		Data: json.RawMessage(`{"state":`),
	})

	assert.Equal(t, model.CallStateIdle, e.Session().State, "malformed events are dropped, never fatal")
}

func TestIngestor_UnknownEventIgnored(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	e.Ingestor.Dispatch(model.Envelope{Type: "somethingNew", Data: json.RawMessage(`{}`)})
	e.Ingestor.Dispatch(model.Envelope{Type: model.EventTypeInitialState, Data: json.RawMessage(`{}`)})

	assert.Empty(t, e.Timeline())
}

func TestIngestor_TranscriptScenario(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	zero := int64(0)
	fifty := int64(50)

	e.Ingestor.Dispatch(envelope(t, model.EventTypeTranscriptDelta, model.TranscriptDeltaData{
		Role: model.RoleAgent, Delta: "We", ResponseID: "r1", DelayMs: &zero,
	}))
	e.Ingestor.Dispatch(envelope(t, model.EventTypeTranscriptDelta, model.TranscriptDeltaData{
		Role: model.RoleAgent, Delta: "We have", ResponseID: "r1", DelayMs: &fifty,
	}))
	e.Ingestor.Dispatch(envelope(t, model.EventTypeTranscriptComplete, model.TranscriptCompleteData{
		Role: model.RoleAgent, Text: "We have availability.", ResponseID: "r1",
	}))

	require.Eventually(t, func() bool {
		items := e.Timeline()
		return len(items) == 1 && !items[0].Message.Partial
	}, 2*time.Second, 10*time.Millisecond)

	items := e.Timeline()
	require.Len(t, items, 1, "all deltas and the completion fold into a single message")
	assert.Equal(t, "We have availability.", items[0].Message.Text)
	assert.False(t, items[0].Message.Partial)
}

func TestIngestor_FunctionCallScenario(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	e.Ingestor.Dispatch(envelope(t, model.EventTypeFunctionCall, model.FunctionCallData{
		CallID:       "c1",
		FunctionName: "book_appointment",
		Arguments:    json.RawMessage(`{"date":"2026-09-01","time":"10:00"}`),
	}))
	e.Ingestor.Dispatch(envelope(t, model.EventTypeFunctionResult, model.FunctionResultData{
		CallID:       "c1",
		FunctionName: "book_appointment",
		Result:       json.RawMessage(`{"confirmed":true}`),
		Status:       model.FunctionStatusSuccess,
	}))

	items := e.Timeline()
	require.Len(t, items, 1)
	fn := items[0].FunctionCall
	require.NotNil(t, fn)
	assert.Equal(t, model.FunctionStatusSuccess, fn.Status)
	assert.JSONEq(t, `{"confirmed":true}`, string(fn.Result))
}

func TestIngestor_RunStopsOnChannelClose(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	events := make(chan model.Envelope, 4)
	events <- envelope(t, model.EventTypeCallStateChanged, model.CallStateChangedData{
		ID: "pc-1", State: model.CallStateConnected,
	})
	close(events)

	done := make(chan struct{})
	go func() {
		e.Ingestor.Run(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ingest loop did not stop on channel close")
	}
	assert.Equal(t, model.CallStateConnected, e.Session().State)
}

func TestEngine_ResetClearsEverything(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	zero := int64(0)
	e.Ingestor.Dispatch(envelope(t, model.EventTypeTranscriptDelta, model.TranscriptDeltaData{
		Role: model.RoleAgent, Delta: "Hello", ResponseID: "r1", DelayMs: &zero,
	}))
	e.Ingestor.Dispatch(envelope(t, model.EventTypeFunctionCall, model.FunctionCallData{
		CallID: "c1", FunctionName: "lookup_patient",
	}))

	require.Eventually(t, func() bool {
		return len(e.Timeline()) == 2
	}, time.Second, 10*time.Millisecond)

	e.Reset()

	assert.Empty(t, e.Timeline())
	assert.Equal(t, int64(0), e.clock.Current(), "sequence clock rewinds for the next session")
}
