package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
)

func newTestTracker() *FunctionCallTracker {
	return NewFunctionCallTracker(&SequenceClock{}, logger.NewNop())
}

func TestFunctionCallTracker_DedupByCallID(t *testing.T) {
	tr := newTestTracker()

	start := model.FunctionCallData{
		CallID:       "c1",
		FunctionName: "book_appointment",
		Arguments:    json.RawMessage(`{"date":"2026-09-01"}`),
	}
	tr.OnStart(start)
	tr.OnStart(start)

	items := tr.Snapshot()
	require.Len(t, items, 1, "duplicate start for a known call id is dropped")
	assert.Equal(t, model.FunctionStatusPending, items[0].Status)
}

func TestFunctionCallTracker_ResultPreservesIdentity(t *testing.T) {
	tr := newTestTracker()

	tr.OnStart(model.FunctionCallData{CallID: "c1", FunctionName: "book_appointment"})
	before := tr.Snapshot()[0]

	exec := int64(420)
	tr.OnResult(model.FunctionResultData{
		CallID:          "c1",
		FunctionName:    "book_appointment",
		Result:          json.RawMessage(`{"confirmed":true}`),
		Status:          model.FunctionStatusSuccess,
		ExecutionTimeMs: &exec,
	})

	items := tr.Snapshot()
	require.Len(t, items, 1)
	after := items[0]

	assert.Equal(t, model.FunctionStatusSuccess, after.Status)
	assert.JSONEq(t, `{"confirmed":true}`, string(after.Result))
	assert.Equal(t, before.ID, after.ID)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt), "creation time is immutable")
	assert.Equal(t, before.Seq, after.Seq, "sequence number is immutable")
}

func TestFunctionCallTracker_OrphanResultSynthesizesRecord(t *testing.T) {
	tr := newTestTracker()

	tr.OnResult(model.FunctionResultData{
		CallID:       "c-orphan",
		FunctionName: "check_insurance",
		Status:       model.FunctionStatusError,
		ErrorMessage: "provider timeout",
	})

	items := tr.Snapshot()
	require.Len(t, items, 1, "orphaned results are kept, not dropped")
	assert.Equal(t, model.FunctionStatusError, items[0].Status)
	assert.Equal(t, "provider timeout", items[0].ErrorMessage)
	assert.Equal(t, "check_insurance", items[0].Name)
}

func TestFunctionCallTracker_StatusInferredWhenMissing(t *testing.T) {
	tr := newTestTracker()

	tr.OnStart(model.FunctionCallData{CallID: "c1", FunctionName: "lookup_patient"})
	tr.OnResult(model.FunctionResultData{
		CallID: "c1",
		Result: json.RawMessage(`{"found":true}`),
	})

	assert.Equal(t, model.FunctionStatusSuccess, tr.Snapshot()[0].Status)

	tr.OnStart(model.FunctionCallData{CallID: "c2", FunctionName: "lookup_patient"})
	tr.OnResult(model.FunctionResultData{
		CallID:       "c2",
		ErrorMessage: "not found",
	})

	assert.Equal(t, model.FunctionStatusError, tr.Snapshot()[1].Status)
}

func TestFunctionCallTracker_Reset(t *testing.T) {
	tr := newTestTracker()
	tr.OnStart(model.FunctionCallData{CallID: "c1", FunctionName: "book_appointment"})
	tr.Reset()

	assert.Empty(t, tr.Snapshot())
}
