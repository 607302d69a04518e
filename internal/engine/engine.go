package engine

import (
	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
)

// Engine ties together the per-session components: sequence clock, session
// controller, function tracker, pacing scheduler, reconciler and ingestion
// layer. All mutable state is owned by this session instance; there is no
// cross-session sharing, only disciplined teardown.
type Engine struct {
	Controller *CallSessionController
	Functions  *FunctionCallTracker
	Scheduler  *DeltaPacingScheduler
	Reconciler *TranscriptReconciler
	Ingestor   *Ingestor

	clock *SequenceClock
	store *messageStore
}

// New constructs the engine for one fresh call session.
func New(sessionID, phoneNumber, provider string, tel TelephonyClient, log *logger.Logger) *Engine {
	clock := &SequenceClock{}
	store := newMessageStore(clock)

	controller := NewCallSessionController(sessionID, phoneNumber, provider, tel, log)
	functions := NewFunctionCallTracker(clock, log)
	scheduler := NewDeltaPacingScheduler(store, log)
	reconciler := NewTranscriptReconciler(store, functions)
	ingestor := NewIngestor(controller, functions, scheduler, log)

	return &Engine{
		Controller: controller,
		Functions:  functions,
		Scheduler:  scheduler,
		Reconciler: reconciler,
		Ingestor:   ingestor,
		clock:      clock,
		store:      store,
	}
}

// SetOnUpdate registers a single callback fired after any visible mutation:
// a session change, an applied transcript fragment, or a function-call
// change.
func (e *Engine) SetOnUpdate(fn func()) {
	e.Controller.SetOnChange(fn)
	e.Scheduler.SetOnApplied(fn)
	e.Functions.SetOnChange(fn)
}

// Session returns a copy of the current session.
func (e *Engine) Session() model.CallSession {
	return e.Controller.Snapshot()
}

// Timeline returns the current reconciled timeline.
func (e *Engine) Timeline() []model.TimelineItem {
	return e.Reconciler.Timeline()
}

// Reset cancels all pending deferred work and clears every per-session
// structure, rewinding the sequence clock to zero.
func (e *Engine) Reset() {
	e.Scheduler.Reset()
	e.store.Reset()
	e.Functions.Reset()
	e.Reconciler.Reset()
	e.clock.Reset()
}

// Close synchronously cancels outstanding timers and stops the duration
// clock. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.Scheduler.Close()
	e.Controller.Close()
}
