package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
)

func TestClient_Snapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/conversations/conv-1/turns":
			w.Write([]byte(`{"turns":[
				{"role":"agent","text":"Good afternoon.","turn_number":1},
				{"role":"caller","text":"Hello.","turn_number":2}
			]}`))
		case "/v1/conversations/conv-1/function-calls":
			w.Write([]byte(`{"function_calls":[
				{"call_id":"c1","name":"book_appointment","status":"success"}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.NewNop())

	snap, err := c.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", snap.ConversationID)
	require.Len(t, snap.Turns, 2)
	assert.Equal(t, model.RoleAgent, snap.Turns[0].Role)
	assert.Equal(t, 2, snap.Turns[1].TurnNumber)
	require.Len(t, snap.FunctionCalls, 1)
	assert.Equal(t, "c1", snap.FunctionCalls[0].CallID)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestClient_SnapshotServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logger.NewNop())

	_, err := c.Snapshot(context.Background(), "conv-1")
	assert.Error(t, err)
}

type stubFetcher struct {
	snaps chan model.HistorySnapshot
	err   error
}

func (f *stubFetcher) Snapshot(ctx context.Context, conversationID string) (model.HistorySnapshot, error) {
	if f.err != nil {
		return model.HistorySnapshot{}, f.err
	}
	select {
	case snap := <-f.snaps:
		return snap, nil
	default:
		return model.HistorySnapshot{ConversationID: conversationID, FetchedAt: time.Now()}, nil
	}
}

func TestPoller_AppliesSnapshots(t *testing.T) {
	fetcher := &stubFetcher{snaps: make(chan model.HistorySnapshot, 1)}
	fetcher.snaps <- model.HistorySnapshot{
		ConversationID: "conv-1",
		Turns:          []model.ConversationTurn{{Role: model.RoleAgent, Text: "Hi.", TurnNumber: 1}},
	}

	applied := make(chan model.HistorySnapshot, 4)
	p := NewPoller(fetcher, 10*time.Millisecond, func(snap model.HistorySnapshot) {
		applied <- snap
	}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx, "conv-1")

	select {
	case snap := <-applied:
		require.Len(t, snap.Turns, 1)
		assert.Equal(t, "Hi.", snap.Turns[0].Text)
	case <-time.After(time.Second):
		t.Fatal("first poll did not apply")
	}

	// Subsequent ticks keep polling.
	select {
	case <-applied:
	case <-time.After(time.Second):
		t.Fatal("poller stopped after one round")
	}
}

func TestPoller_ContinuesAfterFetchError(t *testing.T) {
	fetcher := &stubFetcher{err: assert.AnError}

	p := NewPoller(fetcher, 10*time.Millisecond, func(model.HistorySnapshot) {
		t.Fatal("apply must not run on fetch error")
	}, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx, "conv-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on context cancellation")
	}
}
