package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
)

// durationTick is the recompute interval for the elapsed-duration clock.
// Display smoothness only; it has no effect on ordering or correctness.
const durationTick = 250 * time.Millisecond

// ErrNoActiveCall is returned when termination is requested with no call in
// flight.
var ErrNoActiveCall = errors.New("no active call")

// TelephonyClient is the collaborator that signals the telephony provider.
type TelephonyClient interface {
	Initiate(ctx context.Context, phoneNumber, provider string) (string, error)
	Terminate(ctx context.Context, providerCallID string) error
}

// CallSessionController owns the call lifecycle state machine and the
// elapsed-duration clock for one session. State events from the server are
// applied unconditionally; the server is authoritative.
type CallSessionController struct {
	tel TelephonyClient
	log *logger.Logger

	mu      sync.Mutex
	session model.CallSession
	stopCh  chan struct{}

	onChange         func()
	onConversationID func(conversationID string)
	convIDSeen       bool
}

// NewCallSessionController creates a controller for a fresh idle session.
func NewCallSessionController(sessionID, phoneNumber, provider string, tel TelephonyClient, log *logger.Logger) *CallSessionController {
	now := time.Now()
	return &CallSessionController{
		tel: tel,
		log: log,
		session: model.CallSession{
			ID:          sessionID,
			PhoneNumber: phoneNumber,
			Provider:    provider,
			State:       model.CallStateIdle,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// SetOnChange registers a callback invoked after each session mutation.
func (c *CallSessionController) SetOnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// SetOnConversationID registers a callback invoked once, when the server
// first reports the correlated conversation identifier.
func (c *CallSessionController) SetOnConversationID(fn func(conversationID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConversationID = fn
}

// InitiateCall submits the call initiation request. On acceptance the
// session transitions to dialing and stores the server-issued call
// identifier; on rejection it transitions to failed with a user-visible
// error.
func (c *CallSessionController) InitiateCall(ctx context.Context) error {
	c.mu.Lock()
	phone := c.session.PhoneNumber
	provider := c.session.Provider
	c.mu.Unlock()

	if phone == "" {
		c.fail("phone number is required")
		return errors.New("phone number is required")
	}

	providerCallID, err := c.tel.Initiate(ctx, phone, provider)
	if err != nil {
		c.fail(fmt.Sprintf("call initiation rejected: %v", err))
		return fmt.Errorf("failed to initiate call: %w", err)
	}

	c.mu.Lock()
	c.session.ProviderCallID = providerCallID
	c.session.State = model.CallStateDialing
	c.session.UpdatedAt = time.Now()
	notify := c.onChange
	c.mu.Unlock()

	c.log.Info("call initiated",
		zap.String("session_id", c.session.ID),
		zap.String("provider_call_id", providerCallID))

	if notify != nil {
		notify()
	}
	return nil
}

// OnStateEvent applies a server-observed state unconditionally. Entering
// connected starts the duration clock anchored to the observed or local
// start time; entering a terminal state stops the clock and freezes the
// duration at the server-provided value when one is supplied.
func (c *CallSessionController) OnStateEvent(d model.CallStateChangedData) {
	now := time.Now()

	c.mu.Lock()
	prev := c.session.State
	c.session.State = d.State
	c.session.UpdatedAt = now

	if d.Error != "" {
		c.session.Error = d.Error
	}

	var convID string
	if d.ConversationID != "" && !c.convIDSeen {
		c.session.ConversationID = d.ConversationID
		c.convIDSeen = true
		convID = d.ConversationID
	}

	switch {
	case d.State == model.CallStateConnected && prev != model.CallStateConnected:
		start := now
		if d.StartTime != nil && !d.StartTime.IsZero() {
			start = *d.StartTime
		}
		c.session.StartedAt = &start
		c.startClockLocked(start)

	case d.State.Terminal():
		c.stopClockLocked()
		if d.DurationMs != nil {
			c.session.DurationMs = *d.DurationMs
		}
	}

	notify := c.onChange
	onConv := c.onConversationID
	c.mu.Unlock()

	c.log.Debug("call state applied",
		zap.String("session_id", c.session.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(d.State)))

	if convID != "" && onConv != nil {
		onConv(convID)
	}
	if notify != nil {
		notify()
	}
}

// OnTransportError surfaces a socket failure as a session-level error. It
// never changes the lifecycle state; reconnection policy is an external
// concern.
func (c *CallSessionController) OnTransportError(err error) {
	c.mu.Lock()
	c.session.Error = fmt.Sprintf("event stream error: %v", err)
	c.session.UpdatedAt = time.Now()
	notify := c.onChange
	c.mu.Unlock()

	c.log.Warn("event stream transport error",
		zap.String("session_id", c.session.ID),
		zap.Error(err))

	if notify != nil {
		notify()
	}
}

// EndCall requests termination of the active call. With no call active it
// no-ops with a warning. On success the clock stops and the state is forced
// to ended.
func (c *CallSessionController) EndCall(ctx context.Context) error {
	c.mu.Lock()
	providerCallID := c.session.ProviderCallID
	active := providerCallID != "" && !c.session.State.Terminal() && c.session.State != model.CallStateIdle
	c.mu.Unlock()

	if !active {
		c.log.Warn("end call requested with no active call",
			zap.String("session_id", c.session.ID))
		return ErrNoActiveCall
	}

	if err := c.tel.Terminate(ctx, providerCallID); err != nil {
		c.mu.Lock()
		c.session.Error = fmt.Sprintf("call termination failed: %v", err)
		c.session.UpdatedAt = time.Now()
		notify := c.onChange
		c.mu.Unlock()
		if notify != nil {
			notify()
		}
		return fmt.Errorf("failed to terminate call: %w", err)
	}

	c.mu.Lock()
	c.stopClockLocked()
	c.session.State = model.CallStateEnded
	c.session.UpdatedAt = time.Now()
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// Snapshot returns a copy of the session.
func (c *CallSessionController) Snapshot() model.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Close stops the duration clock.
func (c *CallSessionController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopClockLocked()
}

func (c *CallSessionController) startClockLocked(start time.Time) {
	if c.stopCh != nil {
		return
	}
	stop := make(chan struct{})
	c.stopCh = stop

	go func() {
		ticker := time.NewTicker(durationTick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.session.State != model.CallStateConnected {
					c.mu.Unlock()
					continue
				}
				c.session.DurationMs = time.Since(start).Milliseconds()
				notify := c.onChange
				c.mu.Unlock()
				if notify != nil {
					notify()
				}
			}
		}
	}()
}

func (c *CallSessionController) stopClockLocked() {
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

func (c *CallSessionController) fail(msg string) {
	c.mu.Lock()
	c.stopClockLocked()
	c.session.State = model.CallStateFailed
	c.session.Error = msg
	c.session.UpdatedAt = time.Now()
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify()
	}
}
