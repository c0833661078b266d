// Package ledger maintains one durable send record per (campaign, contact)
// pair. The ledger is the deduplication and progress-tracking mechanism for
// campaign sending: a pending record claims a contact before the send, and
// the set of recorded emails for a campaign, regardless of status, is the
// "already contacted" set.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pelicanmail/pelican/internal/docstore"
	"github.com/pelicanmail/pelican/internal/models"
)

// TypeSendRecords is the send-record object type in the document store
const TypeSendRecords = "send-records"

const defaultPageSize = 100

// Ledger reads and writes send records
type Ledger struct {
	store    docstore.Store
	logger   *slog.Logger
	pageSize int

	// delay between reservation inserts, respecting the store's own limits
	insertDelay time.Duration
}

// Option configures a Ledger
type Option func(*Ledger)

// WithPageSize overrides the pagination size for full-campaign reads.
func WithPageSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// WithInsertDelay overrides the inter-insert throttle used by Reserve.
func WithInsertDelay(d time.Duration) Option {
	return func(l *Ledger) {
		l.insertDelay = d
	}
}

// New creates a ledger over the given store.
func New(s docstore.Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:       s,
		logger:      logger.With("component", "ledger"),
		pageSize:    defaultPageSize,
		insertDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SentEmails returns the set of lower-cased contact emails with any send
// record for the campaign. A pending record counts: the contact is claimed
// even before send confirmation. No records is an empty set, not an error.
func (l *Ledger) SentEmails(ctx context.Context, campaignID string) (map[string]struct{}, error) {
	q := docstore.NewQuery(TypeSendRecords).
		Where("campaign_id", campaignID).
		Select("id", "contact_email")

	emails := make(map[string]struct{})
	skip := 0
	for {
		page, err := l.store.Find(ctx, q.Page(l.pageSize, skip))
		if err != nil {
			return nil, fmt.Errorf("query send records for %s: %w", campaignID, err)
		}
		for _, obj := range page.Objects {
			var rec models.SendRecord
			if err := obj.Decode(&rec); err != nil {
				l.logger.Warn("skipping undecodable send record", "record_id", obj.ID, "error", err)
				continue
			}
			if rec.ContactEmail != "" {
				emails[strings.ToLower(rec.ContactEmail)] = struct{}{}
			}
		}
		if len(page.Objects) < l.pageSize || skip+len(page.Objects) >= page.Total {
			return emails, nil
		}
		skip += l.pageSize
	}
}

// PendingRecords returns the campaign's send records still in pending state.
// These are reservations abandoned by an interrupted run: the contact is
// claimed but the send never got a recorded outcome.
func (l *Ledger) PendingRecords(ctx context.Context, campaignID string) ([]models.SendRecord, error) {
	q := docstore.NewQuery(TypeSendRecords).
		Where("campaign_id", campaignID).
		Where("status", models.SendStatusPending)

	var records []models.SendRecord
	skip := 0
	for {
		page, err := l.store.Find(ctx, q.Page(l.pageSize, skip))
		if err != nil {
			return nil, fmt.Errorf("query pending records for %s: %w", campaignID, err)
		}
		for _, obj := range page.Objects {
			var rec models.SendRecord
			if err := obj.Decode(&rec); err != nil {
				l.logger.Warn("skipping undecodable send record", "record_id", obj.ID, "error", err)
				continue
			}
			records = append(records, rec)
		}
		if len(page.Objects) < l.pageSize || skip+len(page.Objects) >= page.Total {
			return records, nil
		}
		skip += l.pageSize
	}
}

// Stats returns per-status send counts for a campaign. Each status is an
// independent counted query; a query with no matches contributes zero, and
// one failing query must not zero out counts already obtained. An error is
// returned only when every query failed, so all-zero counts from a dead
// store are distinguishable from a genuinely empty ledger.
func (l *Ledger) Stats(ctx context.Context, campaignID string) (models.SendCounts, error) {
	var counts models.SendCounts
	failures := 0

	count := func(status string) (int, bool) {
		q := docstore.NewQuery(TypeSendRecords).
			Where("campaign_id", campaignID).
			Select("id").
			Page(1, 0)
		if status != "" {
			q = q.Where("status", status)
		}
		page, err := l.store.Find(ctx, q)
		if err != nil {
			l.logger.Warn("send stats query failed", "campaign_id", campaignID, "status", status, "error", err)
			return 0, false
		}
		return page.Total, true
	}

	queries := []struct {
		status string
		dst    *int
	}{
		{"", &counts.Total},
		{models.SendStatusSent, &counts.Sent},
		{models.SendStatusPending, &counts.Pending},
		{models.SendStatusFailed, &counts.Failed},
		{models.SendStatusBounced, &counts.Bounced},
	}
	for _, q := range queries {
		n, ok := count(q.status)
		if !ok {
			failures++
			continue
		}
		*q.dst = n
	}

	if failures == len(queries) {
		return counts, fmt.Errorf("all send stat queries failed for campaign %s", campaignID)
	}
	return counts, nil
}

// Outcome describes a terminal send result to record
type Outcome struct {
	CampaignID      string
	ContactID       string
	ContactEmail    string
	Status          string // sent, failed or bounced
	PendingRecordID string // update this record in place when set
	MessageID       string
	ErrorMessage    string
}

// RecordOutcome persists a send result. When the caller holds a pending
// record id from reservation, that record is updated in place so no second
// ledger row appears; otherwise a new record is inserted directly in the
// terminal state.
func (l *Ledger) RecordOutcome(ctx context.Context, o Outcome) error {
	now := time.Now()

	if o.PendingRecordID != "" {
		obj, err := l.store.Get(ctx, TypeSendRecords, o.PendingRecordID)
		if err != nil {
			return fmt.Errorf("load pending record %s: %w", o.PendingRecordID, err)
		}
		var rec models.SendRecord
		if err := obj.Decode(&rec); err != nil {
			return fmt.Errorf("decode pending record %s: %w", o.PendingRecordID, err)
		}

		rec.Status = o.Status
		rec.SentAt = &now
		rec.MessageID = o.MessageID
		rec.ErrorMessage = o.ErrorMessage
		rec.RetryCount++

		if err := l.store.Update(ctx, TypeSendRecords, rec.ID, rec); err != nil {
			return fmt.Errorf("update send record %s: %w", rec.ID, err)
		}
		return nil
	}

	// Fallback for callers that did not go through reservation.
	rec := models.SendRecord{
		ID:           models.SendRecordID(o.CampaignID, o.ContactID),
		CampaignID:   o.CampaignID,
		ContactID:    o.ContactID,
		ContactEmail: strings.ToLower(o.ContactEmail),
		Status:       o.Status,
		ReservedAt:   now,
		SentAt:       &now,
		MessageID:    o.MessageID,
		ErrorMessage: o.ErrorMessage,
	}
	if err := l.store.Insert(ctx, TypeSendRecords, rec.ID, rec); err != nil {
		return fmt.Errorf("insert send record %s: %w", rec.ID, err)
	}
	return nil
}
