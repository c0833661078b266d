package models

import (
	"strings"
	"time"
)

// Contact statuses
const (
	ContactStatusActive       = "active"
	ContactStatusUnsubscribed = "unsubscribed"
	ContactStatusBounced      = "bounced"
	ContactStatusPending      = "pending"
)

// Contact represents a subscriber. The sending core treats contacts as
// read-only; the email is the natural key for deduplication.
type Contact struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Status    string    `json:"status"`
	Lists     []string  `json:"lists,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizedEmail returns the contact email lower-cased and trimmed, the
// form used as the ledger dedup key.
func (c *Contact) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(c.Email))
}
