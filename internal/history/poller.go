package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
	"github.com/carelink-ai/voice-platform/pkg/metrics"
)

// Fetcher is the subset of Client the poller needs.
type Fetcher interface {
	Snapshot(ctx context.Context, conversationID string) (model.HistorySnapshot, error)
}

// Poller periodically fetches a conversation snapshot and hands it to apply.
// Fetch failures are logged and retried on the next tick; the loop only stops
// when the context is cancelled.
type Poller struct {
	client   Fetcher
	interval time.Duration
	apply    func(model.HistorySnapshot)
	log      *logger.Logger
}

// NewPoller creates a poller. apply is invoked from the polling goroutine.
func NewPoller(client Fetcher, interval time.Duration, apply func(model.HistorySnapshot), log *logger.Logger) *Poller {
	return &Poller{
		client:   client,
		interval: interval,
		apply:    apply,
		log:      log,
	}
}

// Run polls until ctx is cancelled. It fetches once immediately so a session
// attached mid-call sees history without waiting a full interval.
func (p *Poller) Run(ctx context.Context, conversationID string) {
	p.poll(ctx, conversationID)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, conversationID)
		}
	}
}

func (p *Poller) poll(ctx context.Context, conversationID string) {
	start := time.Now()
	snap, err := p.client.Snapshot(ctx, conversationID)
	if err != nil {
		metrics.RecordPoll("error", time.Since(start).Seconds())
		if ctx.Err() == nil {
			p.log.Warn("history poll failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
		}
		return
	}
	metrics.RecordPoll("ok", time.Since(start).Seconds())
	p.apply(snap)
}
