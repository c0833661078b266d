package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Send record statuses. Transitions are strictly pending -> sent|failed|bounced
// and never reversed.
const (
	SendStatusPending = "pending"
	SendStatusSent    = "sent"
	SendStatusFailed  = "failed"
	SendStatusBounced = "bounced"
)

// SendRecord is one ledger row per (campaign, contact) attempt. At most one
// record may exist per (campaign, contact_email) pair; the store enforces no
// uniqueness, so the reservation protocol enforces it in application logic.
// A pending record counts as "claimed" for dedup even before send
// confirmation.
type SendRecord struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"campaign_id"`
	ContactID    string     `json:"contact_id"`
	ContactEmail string     `json:"contact_email"` // denormalized dedup key, lower-cased
	Status       string     `json:"status"`
	ReservedAt   time.Time  `json:"reserved_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	MessageID    string     `json:"message_id,omitempty"` // provider id on success
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
}

// SendRecordID derives a deterministic record id from the (campaign, contact)
// pair. The store does not enforce uniqueness on ids, so this is a best-effort
// idempotency aid for the reservation insert, not a guarantee.
func SendRecordID(campaignID, contactID string) string {
	sum := sha256.Sum256([]byte(campaignID + ":" + contactID))
	return "send_" + hex.EncodeToString(sum[:12])
}

// SendCounts holds per-status ledger counts for one campaign
type SendCounts struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Bounced int `json:"bounced"`
}

// Delivered returns the number of records in a terminal state.
func (c SendCounts) Delivered() int {
	return c.Sent + c.Failed + c.Bounced
}
