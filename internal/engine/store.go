package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/metrics"
)

// messageStore holds the live transcript messages for one session. It is
// shared by the pacing scheduler (which mutates it from deferred tasks) and
// the reconciler (which reads it when rebuilding the timeline).
type messageStore struct {
	clock *SequenceClock

	mu         sync.Mutex
	messages   []*model.TranscriptMessage
	byResponse map[string]*model.TranscriptMessage
}

func newMessageStore(clock *SequenceClock) *messageStore {
	return &messageStore{
		clock:      clock,
		byResponse: make(map[string]*model.TranscriptMessage),
	}
}

// ApplyDelta applies a cumulative text snapshot to the partial message for
// responseID, creating it if it does not exist yet. Deltas replace text, they
// never append. A delta for an already-finalized response is dropped so
// finalized text never regresses. Returns true if a new message was created.
func (s *messageStore) ApplyDelta(role model.Role, cumulativeText, responseID string, speechStart *time.Time) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.byResponse[responseID]; ok {
		if !m.Partial {
			return false
		}
		m.Text = cumulativeText
		m.UpdatedAt = now
		return false
	}

	m := &model.TranscriptMessage{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Role:       role,
		Text:       cumulativeText,
		Partial:    true,
		ResponseID: responseID,
		CreatedAt:  creationTime(speechStart, now),
		Seq:        s.clock.Next(),
		UpdatedAt:  now,
	}
	s.messages = append(s.messages, m)
	if responseID != "" {
		s.byResponse[responseID] = m
	}
	metrics.TimelineItemsTotal.WithLabelValues(string(model.TimelineKindMessage)).Inc()
	return true
}

// Finalize marks the message for responseID complete with its final text,
// preserving the original creation time and sequence number. When no message
// matches the responseID the most recent partial message with the same role
// is finalized instead; caller-side transcripts can arrive without a
// response id. Known gap: if two partials of the same role are ever in
// flight at once, the fallback can mis-attribute the text to the newer one.
// Returns false when the event is a duplicate completion.
func (s *messageStore) Finalize(role model.Role, finalText, responseID string, speechStart *time.Time) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if responseID != "" {
		if m, ok := s.byResponse[responseID]; ok {
			if !m.Partial {
				return false
			}
			m.Text = finalText
			m.Partial = false
			m.UpdatedAt = now
			return true
		}
	}

	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.Partial && m.Role == role {
			m.Text = finalText
			m.Partial = false
			m.UpdatedAt = now
			if responseID != "" && m.ResponseID == "" {
				m.ResponseID = responseID
				s.byResponse[responseID] = m
			}
			return true
		}
	}

	m := &model.TranscriptMessage{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Role:       role,
		Text:       finalText,
		Partial:    false,
		ResponseID: responseID,
		CreatedAt:  creationTime(speechStart, now),
		Seq:        s.clock.Next(),
		UpdatedAt:  now,
	}
	s.messages = append(s.messages, m)
	if responseID != "" {
		s.byResponse[responseID] = m
	}
	metrics.TimelineItemsTotal.WithLabelValues(string(model.TimelineKindMessage)).Inc()
	return true
}

// Snapshot returns copies of the live messages in insertion order.
func (s *messageStore) Snapshot() []model.TranscriptMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.TranscriptMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// Reset discards all live messages.
func (s *messageStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.byResponse = make(map[string]*model.TranscriptMessage)
}

func creationTime(speechStart *time.Time, now time.Time) time.Time {
	if speechStart != nil && !speechStart.IsZero() {
		return *speechStart
	}
	return now
}
