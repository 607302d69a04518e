// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/engine"
	"github.com/carelink-ai/voice-platform/internal/middleware"
	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/internal/service"
	"github.com/carelink-ai/voice-platform/pkg/logger"
)

// CallHandler handles call session endpoints.
type CallHandler struct {
	service *service.CallService
	logger  *logger.Logger
}

// NewCallHandler creates a new call handler.
func NewCallHandler(svc *service.CallService, log *logger.Logger) *CallHandler {
	return &CallHandler{
		service: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/calls
func (h *CallHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.InitiateCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidatePhoneNumber(req.PhoneNumber); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Provider == "" {
		writeError(w, http.StatusBadRequest, "provider is required")
		return
	}

	session, err := h.service.StartCall(ctx, req)
	if err != nil {
		h.logger.Error("failed to start call", zap.Error(err))
		// The session carries the failure detail; surface it rather than a
		// bare 500 so the caller can render the rejection.
		writeJSON(w, http.StatusBadGateway, session)
		return
	}

	writeJSON(w, http.StatusAccepted, session)
}

// Get handles GET /api/v1/calls/:id
func (h *CallHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, session)
}

// End handles DELETE /api/v1/calls/:id
func (h *CallHandler) End(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.service.EndCall(ctx, sessionID)
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "call session not found")
		return
	case errors.Is(err, engine.ErrNoActiveCall):
		writeError(w, http.StatusConflict, "no active call to end")
		return
	case err != nil:
		h.logger.Error("failed to end call",
			zap.String("session_id", sessionID),
			zap.Error(err))
		writeError(w, http.StatusBadGateway, "call termination failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Timeline handles GET /api/v1/calls/:id/timeline
func (h *CallHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.service.Timeline(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "call session not found")
		return
	}

	writeJSON(w, http.StatusOK, model.TimelineResponse{
		SessionID: sessionID,
		Items:     items,
	})
}
