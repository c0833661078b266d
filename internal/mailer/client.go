package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client is an HTTP client for the transactional email API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new email API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sendResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send submits one email and returns the provider message id. A 429 response
// is returned as *RateLimitError with the provider's retry-after hint.
func (c *Client) Send(ctx context.Context, msg *Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &RateLimitError{RetryAfter: parseRetryAfter(resp)}
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errResp); err != nil || errResp.Message == "" {
			return "", fmt.Errorf("send failed: HTTP %d", resp.StatusCode)
		}
		if strings.EqualFold(errResp.Name, "rate_limit_exceeded") {
			return "", &RateLimitError{RetryAfter: DefaultRetryAfter}
		}
		return "", fmt.Errorf("send failed: %s", errResp.Message)
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.ID, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return DefaultRetryAfter
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return DefaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}
