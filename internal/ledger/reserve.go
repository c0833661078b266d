package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/pelicanmail/pelican/internal/docstore"
	"github.com/pelicanmail/pelican/internal/models"
)

// Reservation is the set of contacts this invocation has durably claimed,
// plus the pending-record id for each so outcomes update in place instead of
// inserting a second row.
type Reservation struct {
	Contacts  []models.Contact
	RecordIDs map[string]string // contact id -> pending record id
}

// Reserve claims up to len(candidates) contacts for the campaign by writing
// a pending send record per contact. The store has no unique constraints, so
// the claim is check-then-insert: a batch pre-check over all candidate
// emails, then a per-contact point check immediately before each insert.
// Contacts already recorded in any status are skipped; so is any contact
// whose insert fails (under-sending in one run beats double-sending).
//
// A concurrent invocation can in theory slip between the point check and the
// insert. That residual window is accepted: the campaign lock keeps
// concurrent invocations off the same campaign, and inserts here are
// sequential, so in practice the window never opens.
func (l *Ledger) Reserve(ctx context.Context, campaignID string, candidates []models.Contact) (*Reservation, error) {
	res := &Reservation{RecordIDs: make(map[string]string)}
	if len(candidates) == 0 {
		return res, nil
	}

	// One $in query for the whole batch instead of a point query per contact.
	emails := make([]string, 0, len(candidates))
	for _, contact := range candidates {
		emails = append(emails, contact.NormalizedEmail())
	}
	claimed, err := l.recordedEmails(ctx, campaignID, emails)
	if err != nil {
		return nil, err
	}

	for i, contact := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		email := contact.NormalizedEmail()
		if _, ok := claimed[email]; ok {
			continue
		}

		// Point check: another invocation may have claimed the contact
		// since the batch pre-check.
		exists, err := l.hasRecord(ctx, campaignID, email)
		if err != nil {
			l.logger.Warn("reservation check failed, skipping contact",
				"campaign_id", campaignID, "contact_id", contact.ID, "error", err)
			continue
		}
		if exists {
			continue
		}

		rec := models.SendRecord{
			ID:           models.SendRecordID(campaignID, contact.ID),
			CampaignID:   campaignID,
			ContactID:    contact.ID,
			ContactEmail: email,
			Status:       models.SendStatusPending,
			ReservedAt:   time.Now(),
		}
		if err := l.store.Insert(ctx, TypeSendRecords, rec.ID, rec); err != nil {
			l.logger.Warn("reservation insert failed, skipping contact",
				"campaign_id", campaignID, "contact_id", contact.ID, "error", err)
			continue
		}

		res.Contacts = append(res.Contacts, contact)
		res.RecordIDs[contact.ID] = rec.ID

		if l.insertDelay > 0 && i < len(candidates)-1 {
			if err := sleep(ctx, l.insertDelay); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// recordedEmails returns which of the given emails already carry a send
// record for the campaign, in any status.
func (l *Ledger) recordedEmails(ctx context.Context, campaignID string, emails []string) (map[string]struct{}, error) {
	claimed := make(map[string]struct{})

	q := docstore.NewQuery(TypeSendRecords).
		Where("campaign_id", campaignID).
		WhereIn("contact_email", emails).
		Select("id", "contact_email")

	skip := 0
	for {
		page, err := l.store.Find(ctx, q.Page(l.pageSize, skip))
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Objects {
			var rec models.SendRecord
			if err := obj.Decode(&rec); err != nil {
				continue
			}
			claimed[strings.ToLower(rec.ContactEmail)] = struct{}{}
		}
		if len(page.Objects) < l.pageSize || skip+len(page.Objects) >= page.Total {
			return claimed, nil
		}
		skip += l.pageSize
	}
}

func (l *Ledger) hasRecord(ctx context.Context, campaignID, email string) (bool, error) {
	q := docstore.NewQuery(TypeSendRecords).
		Where("campaign_id", campaignID).
		Where("contact_email", email).
		Select("id").
		Page(1, 0)
	page, err := l.store.Find(ctx, q)
	if err != nil {
		return false, err
	}
	return page.Total > 0, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
