// Package socket consumes the realtime event socket for a live call and
// exposes it as a channel of typed envelopes.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
	"github.com/carelink-ai/voice-platform/pkg/metrics"
)

// eventBuffer absorbs bursts without blocking the read loop under normal
// operation.
const eventBuffer = 256

// Feed reads JSON envelopes from one websocket connection. A transport
// failure closes the event channel and is reported on Errors; reconnection
// policy is the caller's concern.
type Feed struct {
	conn *websocket.Conn
	log  *logger.Logger

	events chan model.Envelope
	errs   chan error

	closeOnce sync.Once
	done      chan struct{}
}

// Dialer establishes event feeds. It exists so the service layer can be
// tested without a live socket endpoint.
type Dialer interface {
	Dial(ctx context.Context, providerCallID string) (EventFeed, error)
}

// EventFeed is the consumer-facing surface of a connected feed.
type EventFeed interface {
	Events() <-chan model.Envelope
	Errors() <-chan error
	Close() error
}

// WebsocketDialer dials the configured realtime endpoint.
type WebsocketDialer struct {
	BaseURL string
	Log     *logger.Logger
}

// Dial connects the event socket for one provider call.
func (d *WebsocketDialer) Dial(ctx context.Context, providerCallID string) (EventFeed, error) {
	url := fmt.Sprintf("%s?call_id=%s", d.BaseURL, providerCallID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial event socket: %w", err)
	}

	f := &Feed{
		conn:   conn,
		log:    d.Log,
		events: make(chan model.Envelope, eventBuffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go f.readLoop()
	return f, nil
}

func (f *Feed) readLoop() {
	defer close(f.events)

	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				// Closed locally; not a transport failure.
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					select {
					case f.errs <- err:
					default:
					}
				}
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			metrics.EventsDropped.WithLabelValues("unparseable").Inc()
			f.log.Warn("dropping unparseable socket message", zap.Error(err))
			continue
		}

		select {
		case f.events <- env:
		case <-f.done:
			return
		}
	}
}

// Events returns the envelope channel. It closes when the feed stops.
func (f *Feed) Events() <-chan model.Envelope {
	return f.events
}

// Errors reports at most one transport failure.
func (f *Feed) Errors() <-chan error {
	return f.errs
}

// Close tears down the connection. Safe to call more than once.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.conn.Close()
	})
	return err
}
