package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/middleware"
	"github.com/carelink-ai/voice-platform/internal/service"
	"github.com/carelink-ai/voice-platform/pkg/logger"
	"github.com/carelink-ai/voice-platform/pkg/metrics"
)

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	service *service.CallService
	logger  *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.CallService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service: svc,
		logger:  log,
	}
}

// SnapshotCompleteEvent marks the end of the initial replay.
type SnapshotCompleteEvent struct {
	ItemCount int `json:"item_count"`
}

// HeartbeatEvent keeps idle connections alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /api/v1/calls/:id/stream
//
// The client receives the current session and timeline snapshot first, then
// one update event per visible change until the call ends or the client
// disconnects.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.service.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "call session not found")
		return
	}

	updates, err := h.service.Subscribe(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "call session not found")
		return
	}
	defer h.service.Unsubscribe(sessionID, updates)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	done := ctx.Done()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"session_id": sessionID,
	})

	// Replay the current snapshot so the client never starts blank.
	items, err := h.service.Timeline(sessionID)
	if err != nil {
		sendSSEEvent(w, flusher, "error", map[string]string{
			"code":    "replay_error",
			"message": "failed to load timeline",
		})
		return
	}
	sendSSEEvent(w, flusher, "session", session)
	for _, item := range items {
		select {
		case <-done:
			return
		default:
		}
		sendSSEEvent(w, flusher, "timeline_item", item)
	}
	sendSSEEvent(w, flusher, "snapshot_complete", &SnapshotCompleteEvent{
		ItemCount: len(items),
	})

	h.logger.Info("timeline replay complete",
		zap.String("session_id", sessionID),
		zap.Int("items_replayed", len(items)))

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.logger.Info("SSE client disconnected", zap.String("session_id", sessionID))
			return

		case update, ok := <-updates:
			if !ok {
				// Session torn down.
				sendSSEEvent(w, flusher, "done", map[string]bool{"closed": true})
				return
			}
			sendSSEEvent(w, flusher, "update", update)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
