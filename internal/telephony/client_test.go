package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-ai/voice-platform/pkg/logger"
)

func TestClient_InitiateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/calls", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+15551234567", body["phone_number"])
		assert.Equal(t, "twilio", body["provider"])

		json.NewEncoder(w).Encode(map[string]string{"call_id": "pc-42"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", logger.NewNop())

	callID, err := c.Initiate(context.Background(), "+15551234567", "twilio")
	require.NoError(t, err)
	assert.Equal(t, "pc-42", callID)
}

func TestClient_InitiateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "number unreachable"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", logger.NewNop())

	_, err := c.Initiate(context.Background(), "+15551234567", "twilio")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "number unreachable")
}

func TestClient_InitiateMissingCallID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", logger.NewNop())

	_, err := c.Initiate(context.Background(), "+15551234567", "twilio")
	assert.Error(t, err)
}

func TestClient_Terminate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/calls/pc-42/terminate", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", logger.NewNop())

	assert.NoError(t, c.Terminate(context.Background(), "pc-42"))
}

func TestClient_TerminateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "call already ended"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", logger.NewNop())

	err := c.Terminate(context.Background(), "pc-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call already ended")
}
