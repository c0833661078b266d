package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pelicanmail/pelican/internal/docstore"
	"github.com/pelicanmail/pelican/internal/models"
)

// Campaigns is the campaign repository
type Campaigns struct {
	store docstore.Store
}

func NewCampaigns(s docstore.Store) *Campaigns {
	return &Campaigns{store: s}
}

// GetByID returns a campaign by id, or docstore.ErrNotFound.
func (r *Campaigns) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	obj, err := r.store.Get(ctx, TypeCampaigns, id)
	if err != nil {
		return nil, err
	}
	c := &models.Campaign{}
	if err := obj.Decode(c); err != nil {
		return nil, fmt.Errorf("decode campaign %s: %w", id, err)
	}
	return c, nil
}

// Due returns campaigns eligible for sending at the given time: status
// sending, or scheduled with a reached send date. The send-date comparison
// happens in code because the store's query language has no range operators.
func (r *Campaigns) Due(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	q := docstore.NewQuery(TypeCampaigns).
		WhereIn("status", []string{models.CampaignStatusScheduled, models.CampaignStatusSending})

	objects, err := findAll(ctx, r.store, q, defaultPageSize)
	if err != nil {
		return nil, fmt.Errorf("query due campaigns: %w", err)
	}

	var due []models.Campaign
	for _, obj := range objects {
		var c models.Campaign
		if err := obj.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode campaign %s: %w", obj.ID, err)
		}
		if c.DueAt(now) {
			due = append(due, c)
		}
	}
	return due, nil
}

// Save persists the full campaign document.
func (r *Campaigns) Save(ctx context.Context, c *models.Campaign) error {
	c.UpdatedAt = time.Now()
	if err := r.store.Update(ctx, TypeCampaigns, c.ID, c); err != nil {
		return fmt.Errorf("save campaign %s: %w", c.ID, err)
	}
	return nil
}

// MarkSending transitions the campaign into sending.
func (r *Campaigns) MarkSending(ctx context.Context, c *models.Campaign) error {
	c.Status = models.CampaignStatusSending
	return r.Save(ctx, c)
}

// MarkSent finalizes a completed campaign: the status change, final stats
// snapshot and sent-at timestamp go out in one write.
func (r *Campaigns) MarkSent(ctx context.Context, c *models.Campaign, counts models.SendCounts, sentAt time.Time) error {
	c.Status = models.CampaignStatusSent
	c.SentAt = &sentAt
	c.RateLimitHitAt = nil
	c.RetryAfterSec = 0
	c.Stats = &models.CampaignStats{
		Sent:      counts.Sent,
		Delivered: counts.Sent,
		Bounced:   counts.Bounced,
	}
	c.Progress = &models.SendingProgress{
		Sent:        counts.Sent,
		Failed:      counts.Failed + counts.Bounced,
		Total:       counts.Total,
		Percentage:  100,
		LastBatchAt: sentAt,
	}
	return r.Save(ctx, c)
}

// MarkCancelled records an unrecoverable campaign-level failure.
func (r *Campaigns) MarkCancelled(ctx context.Context, c *models.Campaign) error {
	c.Status = models.CampaignStatusCancelled
	return r.Save(ctx, c)
}

// SaveProgress refreshes the UI progress cache from fresh ledger counts. The
// cache is best-effort; the ledger stays the source of truth and the next
// refresh self-corrects a lost update.
func (r *Campaigns) SaveProgress(ctx context.Context, c *models.Campaign, counts models.SendCounts, targetTotal int, at time.Time) error {
	pct := 0
	if targetTotal > 0 {
		pct = counts.Delivered() * 100 / targetTotal
		if pct > 100 {
			pct = 100
		}
	}
	c.Progress = &models.SendingProgress{
		Sent:        counts.Sent,
		Failed:      counts.Failed + counts.Bounced,
		Total:       targetTotal,
		Percentage:  pct,
		LastBatchAt: at,
	}
	return r.Save(ctx, c)
}

// SetCooldown persists a provider rate-limit cooldown marker.
func (r *Campaigns) SetCooldown(ctx context.Context, c *models.Campaign, hitAt time.Time, retryAfter time.Duration) error {
	c.RateLimitHitAt = &hitAt
	c.RetryAfterSec = int(retryAfter / time.Second)
	return r.Save(ctx, c)
}

// ClearCooldown removes an expired or manually reset cooldown marker.
func (r *Campaigns) ClearCooldown(ctx context.Context, c *models.Campaign) error {
	c.RateLimitHitAt = nil
	c.RetryAfterSec = 0
	return r.Save(ctx, c)
}
