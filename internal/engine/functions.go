package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
	"github.com/carelink-ai/voice-platform/pkg/metrics"
)

// FunctionCallTracker deduplicates and updates function-call records by the
// provider-issued call identifier. One record exists per call id; the start
// event creates it and the result event mutates it in place.
type FunctionCallTracker struct {
	clock *SequenceClock
	log   *logger.Logger

	mu    sync.Mutex
	items map[string]*model.FunctionCallItem
	order []*model.FunctionCallItem

	onChange func()
}

// NewFunctionCallTracker creates a tracker for one session.
func NewFunctionCallTracker(clock *SequenceClock, log *logger.Logger) *FunctionCallTracker {
	return &FunctionCallTracker{
		clock: clock,
		log:   log,
		items: make(map[string]*model.FunctionCallItem),
	}
}

// SetOnChange registers a callback invoked after each mutation.
func (t *FunctionCallTracker) SetOnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// OnStart records the start of a function invocation. A duplicate start for
// an already-known call id is dropped; the provider delivers over redundant
// channels.
func (t *FunctionCallTracker) OnStart(d model.FunctionCallData) {
	now := time.Now()

	t.mu.Lock()
	if _, ok := t.items[d.CallID]; ok {
		t.mu.Unlock()
		t.log.Debug("dropping duplicate function call start",
			zap.String("call_id", d.CallID),
			zap.String("function", d.FunctionName))
		return
	}

	item := &model.FunctionCallItem{
		ID:        uuid.Must(uuid.NewV7()).String(),
		CallID:    d.CallID,
		Name:      d.FunctionName,
		Arguments: d.Arguments,
		Status:    model.FunctionStatusPending,
		CreatedAt: now,
		Seq:       t.clock.Next(),
		UpdatedAt: now,
	}
	t.items[d.CallID] = item
	t.order = append(t.order, item)
	notify := t.onChange
	t.mu.Unlock()

	metrics.TimelineItemsTotal.WithLabelValues(string(model.TimelineKindFunctionCall)).Inc()
	if notify != nil {
		notify()
	}
}

// OnResult applies the result of a function invocation. The creation time
// and sequence number of an existing record are left untouched. A result
// with no matching start is orphaned; a terminal record is synthesized
// rather than dropping the data.
func (t *FunctionCallTracker) OnResult(d model.FunctionResultData) {
	now := time.Now()
	status := d.Status
	if status == "" {
		if d.ErrorMessage != "" {
			status = model.FunctionStatusError
		} else {
			status = model.FunctionStatusSuccess
		}
	}

	t.mu.Lock()
	item, ok := t.items[d.CallID]
	if !ok {
		item = &model.FunctionCallItem{
			ID:        uuid.Must(uuid.NewV7()).String(),
			CallID:    d.CallID,
			Name:      d.FunctionName,
			CreatedAt: now,
			Seq:       t.clock.Next(),
		}
		t.items[d.CallID] = item
		t.order = append(t.order, item)
		t.log.Warn("function result with no matching start, synthesizing record",
			zap.String("call_id", d.CallID),
			zap.String("function", d.FunctionName))
		metrics.TimelineItemsTotal.WithLabelValues(string(model.TimelineKindFunctionCall)).Inc()
	}

	item.Result = d.Result
	item.Status = status
	item.ExecutionTimeMs = d.ExecutionTimeMs
	item.ErrorMessage = d.ErrorMessage
	item.UpdatedAt = now
	notify := t.onChange
	t.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Snapshot returns copies of the tracked items in creation order.
func (t *FunctionCallTracker) Snapshot() []model.FunctionCallItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.FunctionCallItem, len(t.order))
	for i, item := range t.order {
		out[i] = *item
	}
	return out
}

// Reset discards all tracked items.
func (t *FunctionCallTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[string]*model.FunctionCallItem)
	t.order = nil
}
