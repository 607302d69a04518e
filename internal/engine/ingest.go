package engine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
	"github.com/carelink-ai/voice-platform/pkg/metrics"
)

// Ingestor is the single entry point for inbound socket messages. It
// dispatches each envelope to the owning component by message kind and
// isolates parsing failures: a malformed or unknown envelope is logged and
// dropped, never fatal, never surfaced as a user error.
type Ingestor struct {
	controller *CallSessionController
	functions  *FunctionCallTracker
	scheduler  *DeltaPacingScheduler
	log        *logger.Logger
}

// NewIngestor creates the dispatch layer for one session.
func NewIngestor(controller *CallSessionController, functions *FunctionCallTracker, scheduler *DeltaPacingScheduler, log *logger.Logger) *Ingestor {
	return &Ingestor{
		controller: controller,
		functions:  functions,
		scheduler:  scheduler,
		log:        log,
	}
}

// Run consumes envelopes until the channel closes or the context is
// cancelled. It is the session's sole consumer of the event channel.
func (i *Ingestor) Run(ctx context.Context, events <-chan model.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			i.Dispatch(env)
		}
	}
}

// Dispatch routes one envelope to the component that owns its kind.
func (i *Ingestor) Dispatch(env model.Envelope) {
	metrics.EventsIngested.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case model.EventTypeCallStateChanged:
		var d model.CallStateChangedData
		if !i.decode(env, &d) {
			return
		}
		i.controller.OnStateEvent(d)

	case model.EventTypeFunctionCall:
		var d model.FunctionCallData
		if !i.decode(env, &d) {
			return
		}
		i.functions.OnStart(d)

	case model.EventTypeFunctionResult:
		var d model.FunctionResultData
		if !i.decode(env, &d) {
			return
		}
		i.functions.OnResult(d)

	case model.EventTypeTranscriptDelta:
		var d model.TranscriptDeltaData
		if !i.decode(env, &d) {
			return
		}
		i.scheduler.OnDelta(d)

	case model.EventTypeTranscriptComplete:
		var d model.TranscriptCompleteData
		if !i.decode(env, &d) {
			return
		}
		i.scheduler.OnComplete(d)

	case model.EventTypeInitialState:
		// Recognized but inert; initialization belongs to the socket layer.

	default:
		metrics.EventsDropped.WithLabelValues("unknown").Inc()
		i.log.Debug("dropping unknown event", zap.String("type", string(env.Type)))
	}
}

func (i *Ingestor) decode(env model.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		i.log.Warn("dropping malformed event",
			zap.String("type", string(env.Type)),
			zap.Error(err))
		return false
	}
	return true
}
