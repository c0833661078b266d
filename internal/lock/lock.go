// Package lock implements a time-boxed advisory mutex on the document store,
// keyed by campaign id. A lock is a document created only when absent or
// expired, carrying a holder token and an expiry; a crashed holder is
// recovered by expiry. The lock keeps concurrent trigger invocations off the
// same campaign; it is advisory, and correctness rests on the ledger's
// check-before-insert.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pelicanmail/pelican/internal/docstore"
)

// TypeLocks is the lock object type in the document store
const TypeLocks = "campaign-locks"

// record is the stored lock document
type record struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Manager acquires and releases campaign locks
type Manager struct {
	store  docstore.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a lock manager. The TTL must exceed one realistic
// processing window so live holders never expire mid-run.
func NewManager(s docstore.Store, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Manager{
		store:  s,
		ttl:    ttl,
		logger: logger.With("component", "lock"),
		now:    time.Now,
	}
}

// Lease is a held lock
type Lease struct {
	mgr        *Manager
	id         string
	campaignID string
	holder     string
}

// Acquire tries to take the lock for a campaign. It returns (nil, false, nil)
// when another holder has it.
func (m *Manager) Acquire(ctx context.Context, campaignID string) (*Lease, bool, error) {
	id := "lock_" + campaignID
	holder := uuid.New().String()
	now := m.now()

	rec := record{
		ID:         id,
		CampaignID: campaignID,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}

	existing, err := m.store.Get(ctx, TypeLocks, id)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		if err := m.store.Insert(ctx, TypeLocks, id, rec); err != nil {
			return nil, false, fmt.Errorf("insert lock %s: %w", id, err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("read lock %s: %w", id, err)
	default:
		var held record
		if err := existing.Decode(&held); err != nil {
			return nil, false, fmt.Errorf("decode lock %s: %w", id, err)
		}
		if now.Before(held.ExpiresAt) {
			return nil, false, nil
		}
		// Expired holder: take over in place.
		m.logger.Warn("taking over expired lock", "campaign_id", campaignID, "previous_holder", held.Holder)
		if err := m.store.Update(ctx, TypeLocks, id, rec); err != nil {
			return nil, false, fmt.Errorf("take over lock %s: %w", id, err)
		}
	}

	return &Lease{mgr: m, id: id, campaignID: campaignID, holder: holder}, true, nil
}

// Release frees the lock if this lease still holds it. Releasing an expired
// or taken-over lock is a no-op so a slow holder cannot free someone else's
// lock.
func (l *Lease) Release(ctx context.Context) {
	obj, err := l.mgr.store.Get(ctx, TypeLocks, l.id)
	if errors.Is(err, docstore.ErrNotFound) {
		return
	}
	if err != nil {
		l.mgr.logger.Warn("lock release read failed", "campaign_id", l.campaignID, "error", err)
		return
	}

	var held record
	if err := obj.Decode(&held); err != nil || held.Holder != l.holder {
		return
	}
	if err := l.mgr.store.Delete(ctx, TypeLocks, l.id); err != nil {
		l.mgr.logger.Warn("lock release failed", "campaign_id", l.campaignID, "error", err)
	}
}
