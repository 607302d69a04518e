// Package history fetches the persisted view of a conversation and polls it
// periodically so the reconciler can fold it into the live timeline.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/carelink-ai/voice-platform/internal/model"
	"github.com/carelink-ai/voice-platform/pkg/logger"
)

// Client talks to the conversation store API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// NewClient creates a history client.
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Turns fetches the persisted turns of a conversation, ordered by the store.
func (c *Client) Turns(ctx context.Context, conversationID string) ([]model.ConversationTurn, error) {
	var out struct {
		Turns []model.ConversationTurn `json:"turns"`
	}
	url := fmt.Sprintf("%s/v1/conversations/%s/turns", c.baseURL, conversationID)
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch turns: %w", err)
	}
	return out.Turns, nil
}

// FunctionCalls fetches the persisted function-call records of a
// conversation.
func (c *Client) FunctionCalls(ctx context.Context, conversationID string) ([]model.StoredFunctionCall, error) {
	var out struct {
		FunctionCalls []model.StoredFunctionCall `json:"function_calls"`
	}
	url := fmt.Sprintf("%s/v1/conversations/%s/function-calls", c.baseURL, conversationID)
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch function calls: %w", err)
	}
	return out.FunctionCalls, nil
}

// Snapshot fetches both views in one round.
func (c *Client) Snapshot(ctx context.Context, conversationID string) (model.HistorySnapshot, error) {
	turns, err := c.Turns(ctx, conversationID)
	if err != nil {
		return model.HistorySnapshot{}, err
	}
	fns, err := c.FunctionCalls(ctx, conversationID)
	if err != nil {
		return model.HistorySnapshot{}, err
	}
	return model.HistorySnapshot{
		ConversationID: conversationID,
		Turns:          turns,
		FunctionCalls:  fns,
		FetchedAt:      time.Now(),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
