package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/carelink-ai/voice-platform/internal/model"
)

// TranscriptReconciler merges the live (streamed) transcript, the
// periodically polled (persisted) transcript, and the function-call records
// into the final ordered timeline.
//
// Dedup between streamed and polled transcripts is a best-effort string
// prefix heuristic, not a guaranteed-correct algorithm; a truly duplicate
// turn worded differently by the store will appear twice. That tolerance is
// intentional: it still surfaces history once streaming data is unavailable,
// e.g. when reviewing a past call.
type TranscriptReconciler struct {
	store     *messageStore
	functions *FunctionCallTracker

	mu     sync.Mutex
	polled model.HistorySnapshot
}

// NewTranscriptReconciler creates a reconciler over one session's live state.
func NewTranscriptReconciler(store *messageStore, functions *FunctionCallTracker) *TranscriptReconciler {
	return &TranscriptReconciler{
		store:     store,
		functions: functions,
	}
}

// SetSnapshot replaces the polled view of persisted conversation state.
func (r *TranscriptReconciler) SetSnapshot(snap model.HistorySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polled = snap
}

// Reset discards the polled snapshot.
func (r *TranscriptReconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polled = model.HistorySnapshot{}
}

// Timeline rebuilds the merged, deduplicated timeline ordered ascending by
// (creation time, sequence number). Rebuilding is idempotent and the sort is
// stable, so items whose relative order was already correct never swap.
func (r *TranscriptReconciler) Timeline() []model.TimelineItem {
	live := r.store.Snapshot()
	liveFns := r.functions.Snapshot()

	r.mu.Lock()
	polled := r.polled
	r.mu.Unlock()

	items := make([]model.TimelineItem, 0, len(live)+len(polled.Turns)+len(liveFns))

	for i := range live {
		m := live[i]
		items = append(items, model.TimelineItem{
			Kind:    model.TimelineKindMessage,
			Message: &m,
		})
	}

	for _, turn := range polled.Turns {
		if coveredByLive(turn, live) {
			continue
		}
		turn := turn
		items = append(items, model.TimelineItem{
			Kind: model.TimelineKindMessage,
			Message: &model.TranscriptMessage{
				// Deterministic id keeps re-renders stable across rebuilds.
				ID:        fmt.Sprintf("turn-%s-%d", polled.ConversationID, turn.TurnNumber),
				Role:      turn.Role,
				Text:      turn.Text,
				Partial:   false,
				CreatedAt: turn.Timestamp,
				Seq:       int64(turn.TurnNumber),
				UpdatedAt: turn.Timestamp,
			},
		})
	}

	for _, fn := range mergeFunctionCalls(liveFns, polled.FunctionCalls) {
		fn := fn
		items = append(items, model.TimelineItem{
			Kind:         model.TimelineKindFunctionCall,
			FunctionCall: &fn,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		ti, si := items[i].SortKey()
		tj, sj := items[j].SortKey()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return si < sj
	})

	return items
}

// coveredByLive reports whether a polled turn duplicates what streaming has
// already rendered: some live message of the same role whose text is a
// prefix of, or supersedes, the polled text.
func coveredByLive(turn model.ConversationTurn, live []model.TranscriptMessage) bool {
	polledText := normalizeText(turn.Text)
	if polledText == "" {
		return true
	}
	for i := range live {
		if live[i].Role != turn.Role {
			continue
		}
		liveText := normalizeText(live[i].Text)
		if liveText == "" {
			continue
		}
		if strings.HasPrefix(polledText, liveText) || strings.HasPrefix(liveText, polledText) {
			return true
		}
	}
	return false
}

// mergeFunctionCalls merges live and persisted function-call records by call
// id, preferring whichever copy has a non-null result. Live identity
// (creation time, sequence) wins when both exist.
func mergeFunctionCalls(live []model.FunctionCallItem, stored []model.StoredFunctionCall) []model.FunctionCallItem {
	byCallID := make(map[string]int, len(live))
	merged := make([]model.FunctionCallItem, len(live))
	copy(merged, live)
	for i := range merged {
		byCallID[merged[i].CallID] = i
	}

	for _, sf := range stored {
		if idx, ok := byCallID[sf.CallID]; ok {
			if merged[idx].Result == nil && sf.Result != nil {
				merged[idx].Result = sf.Result
				merged[idx].Status = sf.Status
				merged[idx].UpdatedAt = sf.UpdatedAt
			}
			continue
		}
		merged = append(merged, model.FunctionCallItem{
			ID:        fmt.Sprintf("fn-%s", sf.CallID),
			CallID:    sf.CallID,
			Name:      sf.Name,
			Arguments: sf.Arguments,
			Result:    sf.Result,
			Status:    sf.Status,
			CreatedAt: sf.CreatedAt,
			UpdatedAt: sf.UpdatedAt,
		})
	}

	return merged
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
