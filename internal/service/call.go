// Package service implements the call orchestration layer: session registry,
// collaborator wiring, update fan-out and outcome publishing.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/engine"
	"github.com/carelink-ai/voice-platform/internal/history"
	"github.com/carelink-ai/voice-platform/internal/model"
	natsclient "github.com/carelink-ai/voice-platform/internal/nats"
	"github.com/carelink-ai/voice-platform/internal/socket"
	"github.com/carelink-ai/voice-platform/pkg/logger"
	"github.com/carelink-ai/voice-platform/pkg/metrics"
)

// ErrSessionNotFound is returned for operations on unknown sessions.
var ErrSessionNotFound = errors.New("session not found")

// bookingFunction is the function call whose success marks a booked
// appointment in the call outcome.
const bookingFunction = "book_appointment"

// Update carries the session and timeline snapshot pushed to subscribers.
type Update struct {
	Session model.CallSession    `json:"session"`
	Items   []model.TimelineItem `json:"items"`
}

// CallService manages call sessions end to end: initiation, event ingestion,
// history polling, reconciliation and teardown.
type CallService struct {
	tel          engine.TelephonyClient
	dialer       socket.Dialer
	historyFetch history.Fetcher
	streams      *natsclient.StreamManager // nil disables publishing
	pollInterval time.Duration
	log          *logger.Logger

	mu       sync.Mutex
	sessions map[string]*callSession
	closed   bool
}

type callSession struct {
	eng    *engine.Engine
	feed   socket.EventFeed
	cancel context.CancelFunc

	mu            sync.Mutex
	subscribers   map[chan Update]struct{}
	lastPublished model.CallState
	pollerStarted bool
	finalized     bool
}

// NewCallService creates the orchestration layer. streams may be nil when
// NATS is unavailable; publishing then degrades to a no-op.
func NewCallService(tel engine.TelephonyClient, dialer socket.Dialer, historyFetch history.Fetcher, streams *natsclient.StreamManager, pollInterval time.Duration, log *logger.Logger) *CallService {
	return &CallService{
		tel:          tel,
		dialer:       dialer,
		historyFetch: historyFetch,
		streams:      streams,
		pollInterval: pollInterval,
		log:          log,
		sessions:     make(map[string]*callSession),
	}
}

// StartCall initiates an outbound call and registers a fresh session. Any
// previously active session is torn down first; one live call at a time.
func (s *CallService) StartCall(ctx context.Context, req model.InitiateCallRequest) (model.CallSession, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.CallSession{}, errors.New("service is shutting down")
	}
	active := make(map[string]*callSession)
	for id, cs := range s.sessions {
		active[id] = cs
	}
	s.mu.Unlock()

	// One live call at a time; a new call supersedes whatever is in flight.
	for id, cs := range active {
		if !cs.eng.Session().State.Terminal() {
			s.teardown(id, cs)
		}
	}

	sessionID := uuid.Must(uuid.NewV7()).String()
	eng := engine.New(sessionID, req.PhoneNumber, req.Provider, s.tel, s.log.With(zap.String("session_id", sessionID)))

	sessCtx, cancel := context.WithCancel(context.Background())
	cs := &callSession{
		eng:         eng,
		cancel:      cancel,
		subscribers: make(map[chan Update]struct{}),
	}

	eng.SetOnUpdate(func() { s.onUpdate(sessionID, cs) })
	eng.Controller.SetOnConversationID(func(conversationID string) {
		s.startPoller(sessCtx, cs, conversationID)
	})

	s.mu.Lock()
	s.sessions[sessionID] = cs
	s.mu.Unlock()

	metrics.CallsActive.Inc()

	if err := eng.Controller.InitiateCall(ctx); err != nil {
		return eng.Session(), fmt.Errorf("failed to start call: %w", err)
	}

	session := eng.Session()
	feed, err := s.dialer.Dial(sessCtx, session.ProviderCallID)
	if err != nil {
		s.log.Error("failed to attach event feed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		eng.Controller.OnTransportError(err)
		return eng.Session(), nil
	}
	cs.feed = feed

	go eng.Ingestor.Run(sessCtx, feed.Events())
	go s.watchFeed(sessCtx, cs, feed)

	s.log.Info("call session started",
		zap.String("session_id", sessionID),
		zap.String("provider", req.Provider))

	return eng.Session(), nil
}

// EndCall requests termination of the session's call.
func (s *CallService) EndCall(ctx context.Context, sessionID string) error {
	cs, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	return cs.eng.Controller.EndCall(ctx)
}

// GetSession returns the session snapshot.
func (s *CallService) GetSession(sessionID string) (model.CallSession, error) {
	cs, err := s.lookup(sessionID)
	if err != nil {
		return model.CallSession{}, err
	}
	return cs.eng.Session(), nil
}

// Timeline returns the reconciled timeline for a session.
func (s *CallService) Timeline(sessionID string) ([]model.TimelineItem, error) {
	cs, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return cs.eng.Timeline(), nil
}

// Subscribe registers an update channel for a session. The channel carries
// the latest snapshot; intermediate snapshots are coalesced when the
// subscriber lags.
func (s *CallService) Subscribe(sessionID string) (<-chan Update, error) {
	cs, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Update, 1)
	cs.mu.Lock()
	cs.subscribers[ch] = struct{}{}
	cs.mu.Unlock()
	return ch, nil
}

// Unsubscribe removes a previously registered update channel.
func (s *CallService) Unsubscribe(sessionID string, ch <-chan Update) {
	cs, err := s.lookup(sessionID)
	if err != nil {
		return
	}
	cs.mu.Lock()
	for sub := range cs.subscribers {
		if sub == ch {
			delete(cs.subscribers, sub)
			close(sub)
			break
		}
	}
	cs.mu.Unlock()
}

// Close tears down every session.
func (s *CallService) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make(map[string]*callSession, len(s.sessions))
	for id, cs := range s.sessions {
		sessions[id] = cs
	}
	s.mu.Unlock()

	for id, cs := range sessions {
		s.teardown(id, cs)
	}
}

func (s *CallService) lookup(sessionID string) (*callSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cs, nil
}

func (s *CallService) teardown(sessionID string, cs *callSession) {
	cs.cancel()
	if cs.feed != nil {
		cs.feed.Close()
	}
	cs.eng.Close()

	cs.mu.Lock()
	for sub := range cs.subscribers {
		close(sub)
	}
	cs.subscribers = make(map[chan Update]struct{})
	wasActive := !cs.finalized
	cs.mu.Unlock()

	if wasActive && !cs.eng.Session().State.Terminal() {
		metrics.CallsActive.Dec()
	}

	s.log.Info("call session torn down", zap.String("session_id", sessionID))
}

// onUpdate fans the latest snapshot out to subscribers and reacts to
// terminal transitions. Slow subscribers see only the newest snapshot.
func (s *CallService) onUpdate(sessionID string, cs *callSession) {
	session := cs.eng.Session()
	items := cs.eng.Timeline()
	update := Update{Session: session, Items: items}

	cs.mu.Lock()
	for sub := range cs.subscribers {
		select {
		case sub <- update:
		default:
			select {
			case <-sub:
			default:
			}
			sub <- update
		}
	}
	publishState := session.State != cs.lastPublished
	if publishState {
		cs.lastPublished = session.State
	}
	finalize := session.State.Terminal() && !cs.finalized
	if finalize {
		cs.finalized = true
	}
	cs.mu.Unlock()

	if publishState {
		s.publishState(&session)
	}
	if finalize {
		s.finalizeCall(sessionID, cs, session, items)
	}
}

func (s *CallService) finalizeCall(sessionID string, cs *callSession, session model.CallSession, items []model.TimelineItem) {
	outcome := buildOutcome(session, items)

	result := "completed"
	if session.State == model.CallStateFailed {
		result = "failed"
	}
	metrics.RecordCall(session.Provider, result)
	metrics.CallDuration.Observe(float64(session.DurationMs) / 1000)
	metrics.CallsActive.Dec()

	if s.streams != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := range items {
			if _, err := s.streams.PublishTimelineItem(ctx, sessionID, &items[i]); err != nil {
				metrics.NATSPublishTotal.WithLabelValues("timeline", "error").Inc()
				s.log.Warn("failed to publish timeline item",
					zap.String("session_id", sessionID),
					zap.Error(err))
				continue
			}
			metrics.NATSPublishTotal.WithLabelValues("timeline", "ok").Inc()
		}
		if _, err := s.streams.PublishOutcome(ctx, &outcome); err != nil {
			metrics.NATSPublishTotal.WithLabelValues("outcome", "error").Inc()
			s.log.Warn("failed to publish call outcome",
				zap.String("session_id", sessionID),
				zap.Error(err))
		} else {
			metrics.NATSPublishTotal.WithLabelValues("outcome", "ok").Inc()
		}
	}

	s.log.Info("call finalized",
		zap.String("session_id", sessionID),
		zap.String("state", string(session.State)),
		zap.Bool("booking_made", outcome.BookingMade),
		zap.Int64("duration_ms", session.DurationMs))
}

func (s *CallService) publishState(session *model.CallSession) {
	if s.streams == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.streams.PublishState(ctx, session); err != nil {
		metrics.NATSPublishTotal.WithLabelValues("state", "error").Inc()
		s.log.Warn("failed to publish call state",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return
	}
	metrics.NATSPublishTotal.WithLabelValues("state", "ok").Inc()
}

// startPoller begins history polling once the conversation identifier is
// known. Snapshots land in the reconciler and trigger a fan-out.
func (s *CallService) startPoller(ctx context.Context, cs *callSession, conversationID string) {
	cs.mu.Lock()
	if cs.pollerStarted || s.historyFetch == nil {
		cs.mu.Unlock()
		return
	}
	cs.pollerStarted = true
	cs.mu.Unlock()

	sessionID := cs.eng.Session().ID
	poller := history.NewPoller(s.historyFetch, s.pollInterval, func(snap model.HistorySnapshot) {
		cs.eng.Reconciler.SetSnapshot(snap)
		s.onUpdate(sessionID, cs)
	}, s.log)

	go poller.Run(ctx, conversationID)

	s.log.Info("history polling started",
		zap.String("session_id", sessionID),
		zap.String("conversation_id", conversationID))
}

func (s *CallService) watchFeed(ctx context.Context, cs *callSession, feed socket.EventFeed) {
	select {
	case <-ctx.Done():
	case err, ok := <-feed.Errors():
		if ok && err != nil {
			cs.eng.Controller.OnTransportError(err)
		}
	}
}

// buildOutcome condenses a finished session into its reportable result.
// A booking counts only when the booking function completed successfully.
func buildOutcome(session model.CallSession, items []model.TimelineItem) model.CallOutcome {
	endedAt := session.UpdatedAt
	outcome := model.CallOutcome{
		SessionID: session.ID,
		EndedAt:   &endedAt,
	}
	for _, item := range items {
		switch item.Kind {
		case model.TimelineKindMessage:
			outcome.Messages++
		case model.TimelineKindFunctionCall:
			outcome.FunctionCalls++
			if item.FunctionCall.Name == bookingFunction && item.FunctionCall.Status == model.FunctionStatusSuccess {
				outcome.BookingMade = true
			}
		}
	}
	return outcome
}
