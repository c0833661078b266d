// Package mailer sends individual messages through a hosted transactional
// email API. The provider enforces its own per-second rate limit and signals
// throttling with a distinguishable error carrying a retry-after hint.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is one outbound email
type Message struct {
	From    string            `json:"from"`
	To      string            `json:"to"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Sender sends one message and returns the provider message id
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// RateLimitError reports provider throttling with a cooldown hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// DefaultRetryAfter is used when the provider throttles without a hint.
const DefaultRetryAfter = time.Hour

// IsRateLimit reports whether err represents provider throttling: either the
// typed error or a message matching the provider's known throttle phrasings.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}

// RetryAfter extracts the cooldown hint from a rate-limit error, falling back
// to DefaultRetryAfter.
func RetryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	return DefaultRetryAfter
}
