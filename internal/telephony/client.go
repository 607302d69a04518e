// Package telephony is the HTTP client for the telephony provider
// collaborator: call initiation and termination only. Signaling internals
// live behind that service.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/carelink-ai/voice-platform/pkg/logger"
)

// Client talks to the call-control API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

// NewClient creates a telephony client.
func NewClient(baseURL, apiKey string, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

type initiateRequest struct {
	PhoneNumber string `json:"phone_number"`
	Provider    string `json:"provider"`
}

type initiateResponse struct {
	CallID string `json:"call_id"`
	Error  string `json:"error,omitempty"`
}

// Initiate submits an outbound call request and returns the server-issued
// call identifier.
func (c *Client) Initiate(ctx context.Context, phoneNumber, provider string) (string, error) {
	body, err := json.Marshal(initiateRequest{PhoneNumber: phoneNumber, Provider: provider})
	if err != nil {
		return "", fmt.Errorf("failed to marshal initiate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create initiate request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call initiation request failed: %w", err)
	}
	defer resp.Body.Close()

	var out initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode initiate response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != "" {
			return "", fmt.Errorf("call initiation rejected: %s", out.Error)
		}
		return "", fmt.Errorf("call initiation rejected: status %d", resp.StatusCode)
	}
	if out.CallID == "" {
		return "", fmt.Errorf("call initiation response missing call id")
	}

	return out.CallID, nil
}

// Terminate requests termination of an active call.
func (c *Client) Terminate(ctx context.Context, providerCallID string) error {
	url := fmt.Sprintf("%s/v1/calls/%s/terminate", c.baseURL, providerCallID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create terminate request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call termination request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var out struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if out.Error != "" {
			return fmt.Errorf("call termination failed: %s", out.Error)
		}
		return fmt.Errorf("call termination failed: status %d", resp.StatusCode)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
