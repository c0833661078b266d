package models

import "time"

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusSent      = "sent"
	CampaignStatusCancelled = "cancelled"
	CampaignStatusPaused    = "paused"
)

// Campaign represents an email campaign
type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"` // HTML body with {{variable}} tokens
	FromEmail string    `json:"from_email"`
	FromName  string    `json:"from_name"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Target audience: union of explicit contacts, tags and list memberships
	ContactIDs []string `json:"contact_ids,omitempty"`
	TargetTags []string `json:"target_tags,omitempty"`
	TargetLists []string `json:"target_lists,omitempty"`

	// Footer options
	IncludeUnsubscribe   bool `json:"include_unsubscribe"`
	IncludeViewInBrowser bool `json:"include_view_in_browser"`

	SendDate *time.Time `json:"send_date,omitempty"`
	SentAt   *time.Time `json:"sent_at,omitempty"`

	// Cooldown marker set when the email provider signals throttling
	RateLimitHitAt *time.Time `json:"rate_limit_hit_at,omitempty"`
	RetryAfterSec  int        `json:"retry_after_sec,omitempty"`

	// UI caches, refreshed from the ledger; never authoritative
	Progress *SendingProgress `json:"sending_progress,omitempty"`
	Stats    *CampaignStats   `json:"stats,omitempty"`
}

// SendingProgress is a display cache of in-flight campaign progress
type SendingProgress struct {
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Total       int       `json:"total"`
	Percentage  int       `json:"percentage"`
	LastBatchAt time.Time `json:"last_batch_at"`
}

// CampaignStats is the final snapshot written when a campaign completes
type CampaignStats struct {
	Sent         int     `json:"sent"`
	Delivered    int     `json:"delivered"`
	Opened       int     `json:"opened"`
	Clicked      int     `json:"clicked"`
	Bounced      int     `json:"bounced"`
	Unsubscribed int     `json:"unsubscribed"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
}

// InCooldown reports whether the campaign is inside a provider rate-limit
// cooldown window at the given time.
func (c *Campaign) InCooldown(now time.Time) bool {
	if c.RateLimitHitAt == nil || c.RetryAfterSec <= 0 {
		return false
	}
	return now.Before(c.RateLimitHitAt.Add(time.Duration(c.RetryAfterSec) * time.Second))
}

// DueAt reports whether the campaign is eligible for sending at the given
// time: it is already sending, or scheduled with a reached send date.
func (c *Campaign) DueAt(now time.Time) bool {
	switch c.Status {
	case CampaignStatusSending:
		return true
	case CampaignStatusScheduled:
		return c.SendDate == nil || !now.Before(*c.SendDate)
	default:
		return false
	}
}
