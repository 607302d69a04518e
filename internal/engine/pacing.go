package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
	"github.com/carelink-ai/voice-platform/pkg/metrics"
)

// completionGraceBuffer is added after the last scheduled delta fire time
// before a completion event finalizes its message. It absorbs timer jitter
// so the finalize never lands between two scheduled applies.
const completionGraceBuffer = 250 * time.Millisecond

// DeltaPacingScheduler delays the visible application of streamed transcript
// fragments so on-screen text advances in sync with audio played over the
// phone line, and finalizes a message only after every scheduled fragment
// has been applied.
//
// Deltas are cumulative snapshots: each one replaces the message text rather
// than appending to it. A completion event immediately blocks scheduling of
// new deltas for its response, but already-scheduled deltas still fire so
// visible text never regresses; the finalize step is deferred past the
// latest scheduled fire time plus a grace buffer.
type DeltaPacingScheduler struct {
	store *messageStore
	log   *logger.Logger

	mu        sync.Mutex
	completed map[string]bool
	maxFireAt map[string]time.Time
	pending   map[int64]*time.Timer
	nextTask  int64
	closed    bool

	onApplied func()
}

// NewDeltaPacingScheduler creates a scheduler bound to one session's message
// store.
func NewDeltaPacingScheduler(store *messageStore, log *logger.Logger) *DeltaPacingScheduler {
	return &DeltaPacingScheduler{
		store:     store,
		log:       log,
		completed: make(map[string]bool),
		maxFireAt: make(map[string]time.Time),
		pending:   make(map[int64]*time.Timer),
	}
}

// SetOnApplied registers a callback invoked after each visible mutation.
func (s *DeltaPacingScheduler) SetOnApplied(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onApplied = fn
}

// OnDelta schedules a deferred apply of a cumulative transcript fragment at
// now+delayMs. A missing delay means immediate apply. Deltas for responses
// already marked complete arrived too late to matter and are dropped.
func (s *DeltaPacingScheduler) OnDelta(d model.TranscriptDeltaData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.completed[d.ResponseID] {
		metrics.DeltasDropped.Inc()
		s.log.Debug("dropping late delta for completed response",
			zap.String("response_id", d.ResponseID))
		return
	}

	var delay time.Duration
	if d.DelayMs != nil {
		delay = time.Duration(*d.DelayMs) * time.Millisecond
	}

	fireAt := time.Now().Add(delay)
	if fireAt.After(s.maxFireAt[d.ResponseID]) {
		s.maxFireAt[d.ResponseID] = fireAt
	}

	id := s.nextTask
	s.nextTask++
	s.pending[id] = time.AfterFunc(delay, func() {
		s.applyDelta(id, d)
	})
	metrics.DeltasScheduled.Inc()
}

func (s *DeltaPacingScheduler) applyDelta(id int64, d model.TranscriptDeltaData) {
	s.mu.Lock()
	if _, ok := s.pending[id]; !ok {
		// Cancelled by a session reset after the timer fired.
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	notify := s.onApplied
	s.mu.Unlock()

	s.store.ApplyDelta(d.Role, d.Delta, d.ResponseID, d.SpeechStartTime)
	metrics.DeltasApplied.Inc()

	if notify != nil {
		notify()
	}
}

// OnComplete marks the response complete and defers the finalize step until
// every already-scheduled delta has been applied.
func (s *DeltaPacingScheduler) OnComplete(d model.TranscriptCompleteData) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	var wait time.Duration
	if d.ResponseID != "" {
		s.completed[d.ResponseID] = true
		if maxAt, ok := s.maxFireAt[d.ResponseID]; ok {
			if until := time.Until(maxAt); until > 0 {
				wait = until
			}
		}
	}
	wait += completionGraceBuffer

	id := s.nextTask
	s.nextTask++
	s.pending[id] = time.AfterFunc(wait, func() {
		s.applyComplete(id, d)
	})
	s.mu.Unlock()
}

func (s *DeltaPacingScheduler) applyComplete(id int64, d model.TranscriptCompleteData) {
	s.mu.Lock()
	if _, ok := s.pending[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	notify := s.onApplied
	s.mu.Unlock()

	if !s.store.Finalize(d.Role, d.Text, d.ResponseID, d.SpeechStartTime) {
		s.log.Debug("dropping duplicate transcript completion",
			zap.String("response_id", d.ResponseID))
		return
	}

	if notify != nil {
		notify()
	}
}

// Reset synchronously cancels every pending deferred task and clears all
// per-response tracking state. A stray timer firing for a stale session is a
// correctness bug, not a cosmetic one.
func (s *DeltaPacingScheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *DeltaPacingScheduler) resetLocked() {
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
		metrics.DeltasCancelled.Inc()
	}
	s.completed = make(map[string]bool)
	s.maxFireAt = make(map[string]time.Time)
}

// Close cancels all pending work and rejects any further events.
func (s *DeltaPacingScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.closed = true
}
