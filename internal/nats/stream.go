package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/carelink-ai/voice-platform/internal/model"
)

const (
	// StreamName is the name of the calls stream.
	StreamName = "CALLS"

	// SubjectPrefix is the prefix for all call subjects.
	SubjectPrefix = "calls"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the calls stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	// Create stream
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Call state transitions, timeline items and outcomes",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// StateSubject returns the subject for a call state transition.
func StateSubject(sessionID string, state model.CallState) string {
	return fmt.Sprintf("%s.%s.state.%s", SubjectPrefix, sessionID, state)
}

// TimelineSubject returns the subject for a timeline item.
func TimelineSubject(sessionID string, kind model.TimelineItemKind) string {
	return fmt.Sprintf("%s.%s.timeline.%s", SubjectPrefix, sessionID, kind)
}

// OutcomeSubject returns the subject for a call outcome.
func OutcomeSubject(sessionID string) string {
	return fmt.Sprintf("%s.%s.outcome", SubjectPrefix, sessionID)
}

// SessionFilter returns the filter subject for all events of a session.
func SessionFilter(sessionID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, sessionID)
}

// PublishState publishes a call state transition to JetStream.
func (m *StreamManager) PublishState(ctx context.Context, session *model.CallSession) (uint64, error) {
	subject := StateSubject(session.ID, session.State)

	data, err := json.Marshal(session)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal session: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish state: %w", err)
	}

	return ack.Sequence, nil
}

// PublishTimelineItem publishes a timeline item to JetStream.
func (m *StreamManager) PublishTimelineItem(ctx context.Context, sessionID string, item *model.TimelineItem) (uint64, error) {
	subject := TimelineSubject(sessionID, item.Kind)

	data, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal timeline item: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish timeline item: %w", err)
	}

	return ack.Sequence, nil
}

// PublishOutcome publishes a call outcome to JetStream.
func (m *StreamManager) PublishOutcome(ctx context.Context, outcome *model.CallOutcome) (uint64, error) {
	subject := OutcomeSubject(outcome.SessionID)

	data, err := json.Marshal(outcome)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal outcome: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish outcome: %w", err)
	}

	return ack.Sequence, nil
}
