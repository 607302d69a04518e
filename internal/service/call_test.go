package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/internal/socket"
	"github.com/carelink-ai/voice-platform/pkg/logger"
)

type fakeTelephony struct {
	mu         sync.Mutex
	callID     string
	initErr    error
	terminated []string
}

func (f *fakeTelephony) Initiate(ctx context.Context, phoneNumber, provider string) (string, error) {
	if f.initErr != nil {
		return "", f.initErr
	}
	return f.callID, nil
}

func (f *fakeTelephony) Terminate(ctx context.Context, providerCallID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, providerCallID)
	return nil
}

type fakeFeed struct {
	events chan model.Envelope
	errs   chan error
	once   sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		events: make(chan model.Envelope, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeFeed) Events() <-chan model.Envelope { return f.events }
func (f *fakeFeed) Errors() <-chan error          { return f.errs }
func (f *fakeFeed) Close() error {
	f.once.Do(func() { close(f.events) })
	return nil
}

func (f *fakeFeed) push(t *testing.T, typ model.EventType, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	f.events <- model.Envelope{Type: typ, Data: raw}
}

type fakeDialer struct {
	mu     sync.Mutex
	feed   *fakeFeed
	dialed []string
	err    error
}

func (d *fakeDialer) Dial(ctx context.Context, providerCallID string) (socket.EventFeed, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dialed = append(d.dialed, providerCallID)
	return d.feed, nil
}

func newTestService() (*CallService, *fakeTelephony, *fakeDialer) {
	tel := &fakeTelephony{callID: "pc-1"}
	dialer := &fakeDialer{feed: newFakeFeed()}
	svc := NewCallService(tel, dialer, nil, nil, time.Second, logger.NewNop())
	return svc, tel, dialer
}

func TestCallService_StartCall(t *testing.T) {
	svc, _, dialer := newTestService()
	defer svc.Close()

	session, err := svc.StartCall(context.Background(), model.InitiateCallRequest{
		PhoneNumber: "+15551234567",
		Provider:    "twilio",
	})
	require.NoError(t, err)

	assert.Equal(t, model.CallStateDialing, session.State)
	assert.Equal(t, "pc-1", session.ProviderCallID)
	assert.Equal(t, []string{"pc-1"}, dialer.dialed)

	got, err := svc.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
}

func TestCallService_StartCallRejected(t *testing.T) {
	svc, tel, _ := newTestService()
	defer svc.Close()
	tel.initErr = errors.New("number unreachable")

	session, err := svc.StartCall(context.Background(), model.InitiateCallRequest{
		PhoneNumber: "+15551234567",
		Provider:    "twilio",
	})
	require.Error(t, err)
	assert.Equal(t, model.CallStateFailed, session.State)
	assert.Contains(t, session.Error, "number unreachable")
}

func TestCallService_EventsReachSession(t *testing.T) {
	svc, _, dialer := newTestService()
	defer svc.Close()

	session, err := svc.StartCall(context.Background(), model.InitiateCallRequest{
		PhoneNumber: "+15551234567",
		Provider:    "twilio",
	})
	require.NoError(t, err)

	dialer.feed.push(t, model.EventTypeCallStateChanged, model.CallStateChangedData{
		ID:             "pc-1",
		State:          model.CallStateConnected,
		ConversationID: "conv-1",
	})

	require.Eventually(t, func() bool {
		got, err := svc.GetSession(session.ID)
		return err == nil && got.State == model.CallStateConnected
	}, time.Second, 10*time.Millisecond)

	got, _ := svc.GetSession(session.ID)
	assert.Equal(t, "conv-1", got.ConversationID)
}

func TestCallService_SubscribeReceivesUpdates(t *testing.T) {
	svc, _, dialer := newTestService()
	defer svc.Close()

	session, err := svc.StartCall(context.Background(), model.InitiateCallRequest{
		PhoneNumber: "+15551234567",
		Provider:    "twilio",
	})
	require.NoError(t, err)

	updates, err := svc.Subscribe(session.ID)
	require.NoError(t, err)
	defer svc.Unsubscribe(session.ID, updates)

	dialer.feed.push(t, model.EventTypeFunctionCall, model.FunctionCallData{
		CallID:       "c1",
		FunctionName: "lookup_patient",
	})

	select {
	case update := <-updates:
		require.Len(t, update.Items, 1)
		assert.Equal(t, model.TimelineKindFunctionCall, update.Items[0].Kind)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestCallService_SlowSubscriberSeesLatest(t *testing.T) {
	svc, _, dialer := newTestService()
	defer svc.Close()

	session, err := svc.StartCall(context.Background(), model.InitiateCallRequest{
		PhoneNumber: "+15551234567",
		Provider:    "twilio",
	})
	require.NoError(t, err)

	updates, err := svc.Subscribe(session.ID)
	require.NoError(t, err)
	defer svc.Unsubscribe(session.ID, updates)

	// Nobody reads while several changes land; intermediate snapshots
	// coalesce away.
	for i := 0; i < 5; i++ {
		dialer.feed.push(t, model.EventTypeFunctionCall, model.FunctionCallData{
			CallID:       "c" + string(rune('1'+i)),
			FunctionName: "lookup_patient",
		})
	}

	require.Eventually(t, func() bool {
		items, err := svc.Timeline(session.ID)
		return err == nil && len(items) == 5
	}, time.Second, 10*time.Millisecond)

	// Drain whatever is buffered; the last snapshot must be the full one.
	var last Update
	for {
		select {
		case u := <-updates:
			last = u
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	assert.Len(t, last.Items, 5)
}

func TestCallService_EndCall(t *testing.T) {
	svc, tel, dialer := newTestService()
	defer svc.Close()

	session, err := svc.StartCall(context.Background(), model.InitiateCallRequest{
		PhoneNumber: "+15551234567",
		Provider:    "twilio",
	})
	require.NoError(t, err)

	dialer.feed.push(t, model.EventTypeCallStateChanged, model.CallStateChangedData{
		ID: "pc-1", State: model.CallStateConnected,
	})
	require.Eventually(t, func() bool {
		got, _ := svc.GetSession(session.ID)
		return got.State == model.CallStateConnected
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, svc.EndCall(context.Background(), session.ID))

	got, _ := svc.GetSession(session.ID)
	assert.Equal(t, model.CallStateEnded, got.State)
	assert.Equal(t, []string{"pc-1"}, tel.terminated)
}

func TestCallService_EndCallUnknownSession(t *testing.T) {
	svc, _, _ := newTestService()
	defer svc.Close()

	err := svc.EndCall(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCallService_NewCallSupersedesActive(t *testing.T) {
	svc, _, dialer := newTestService()
	defer svc.Close()

	first, err := svc.StartCall(context.Background(), model.InitiateCallRequest{
		PhoneNumber: "+15551234567",
		Provider:    "twilio",
	})
	require.NoError(t, err)

	dialer.mu.Lock()
	dialer.feed = newFakeFeed()
	dialer.mu.Unlock()

	second, err := svc.StartCall(context.Background(), model.InitiateCallRequest{
		PhoneNumber: "+15559876543",
		Provider:    "twilio",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// The first session remains queryable for review but its feed is closed.
	_, err = svc.GetSession(first.ID)
	assert.NoError(t, err)
}

func TestBuildOutcome_BookingDetection(t *testing.T) {
	session := model.CallSession{ID: "s1", UpdatedAt: time.Now()}

	booked := model.FunctionCallItem{
		CallID: "c1",
		Name:   "book_appointment",
		Status: model.FunctionStatusSuccess,
	}
	failed := model.FunctionCallItem{
		CallID: "c2",
		Name:   "book_appointment",
		Status: model.FunctionStatusError,
	}
	msg := model.TranscriptMessage{ID: "m1", Role: model.RoleAgent, Text: "Hello."}

	outcome := buildOutcome(session, []model.TimelineItem{
		{Kind: model.TimelineKindMessage, Message: &msg},
		{Kind: model.TimelineKindFunctionCall, FunctionCall: &failed},
	})
	assert.False(t, outcome.BookingMade)
	assert.Equal(t, 1, outcome.Messages)
	assert.Equal(t, 1, outcome.FunctionCalls)

	outcome = buildOutcome(session, []model.TimelineItem{
		{Kind: model.TimelineKindFunctionCall, FunctionCall: &booked},
	})
	assert.True(t, outcome.BookingMade)
}
