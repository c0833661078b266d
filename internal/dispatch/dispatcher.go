// Package dispatch drives campaign batch sending: it reserves contacts
// through the ledger, drains reservations through the email sender at a
// governed rate, and decides campaign completion from fresh ledger counts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pelicanmail/pelican/internal/ledger"
	"github.com/pelicanmail/pelican/internal/lock"
	"github.com/pelicanmail/pelican/internal/mailer"
	"github.com/pelicanmail/pelican/internal/metrics"
	"github.com/pelicanmail/pelican/internal/models"
	"github.com/pelicanmail/pelican/internal/store"
)

// Config holds dispatcher tunables. None of them are semantically
// load-bearing; they bound one invocation's work and pace the provider.
type Config struct {
	EmailsPerSecond float64
	BatchSize       int
	MaxBatches      int
	BatchPause      time.Duration
	PublicBaseURL   string
}

// DefaultConfig returns the default dispatcher tunables.
func DefaultConfig() Config {
	return Config{
		EmailsPerSecond: 8,
		BatchSize:       50,
		MaxBatches:      5,
		BatchPause:      2 * time.Second,
		PublicBaseURL:   "http://localhost:8080",
	}
}

// QuotaGuard limits provider consumption across invocations. Allow reports
// whether one more send is permitted, with a wait hint when it is not.
type QuotaGuard interface {
	Allow() (bool, time.Duration)
}

// RunStats summarizes one trigger invocation
type RunStats struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
}

// configError marks an unrecoverable campaign configuration problem. It
// cancels the campaign rather than leaving it to retry forever.
type configError struct {
	reason string
}

func (e *configError) Error() string { return e.reason }

// errQuotaExhausted ends the invocation early without failing any contact.
var errQuotaExhausted = errors.New("provider quota exhausted")

// Dispatcher processes eligible campaigns
type Dispatcher struct {
	campaigns *store.Campaigns
	contacts  *store.Contacts
	ledger    *ledger.Ledger
	locks     *lock.Manager
	sender    mailer.Sender
	quota     QuotaGuard
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config
	clock     Clock
	pacer     *Pacer
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithClock injects a clock, for virtual-time tests.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithQuota installs a provider quota guard.
func WithQuota(q QuotaGuard) Option {
	return func(d *Dispatcher) { d.quota = q }
}

// WithMetrics installs prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a dispatcher.
func New(
	campaigns *store.Campaigns,
	contacts *store.Contacts,
	l *ledger.Ledger,
	locks *lock.Manager,
	sender mailer.Sender,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = DefaultConfig().MaxBatches
	}

	d := &Dispatcher{
		campaigns: campaigns,
		contacts:  contacts,
		ledger:    l,
		locks:     locks,
		sender:    sender,
		logger:    logger.With("component", "dispatch"),
		cfg:       cfg,
		clock:     RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pacer = NewPacer(cfg.EmailsPerSecond, d.clock)
	return d
}

// Run processes all campaigns currently eligible to send. It is idempotent
// to call repeatedly and safe to call concurrently with itself: the campaign
// lock keeps invocations off each other's campaigns, and the ledger makes
// re-processing converge instead of double-sending. One campaign's failure
// never stops the others.
func (d *Dispatcher) Run(ctx context.Context) (*RunStats, error) {
	started := d.clock.Now()
	due, err := d.campaigns.Due(ctx, started)
	if err != nil {
		return nil, fmt.Errorf("query due campaigns: %w", err)
	}

	stats := &RunStats{}
	for i := range due {
		campaign := &due[i]
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		switch d.runCampaign(ctx, campaign) {
		case outcomeCompleted:
			stats.Processed++
			stats.Completed++
		case outcomeCancelled:
			stats.Processed++
			stats.Cancelled++
		case outcomeSkipped:
			stats.Skipped++
		default:
			stats.Processed++
		}
	}

	if d.metrics != nil {
		d.metrics.DispatchDuration.Observe(d.clock.Now().Sub(started).Seconds())
	}
	return stats, nil
}

// Resume clears a campaign's cooldown and error state, marks it sending
// again and processes it immediately.
func (d *Dispatcher) Resume(ctx context.Context, campaignID string) error {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status == models.CampaignStatusSent {
		return fmt.Errorf("campaign %s is already sent", campaignID)
	}

	campaign.RateLimitHitAt = nil
	campaign.RetryAfterSec = 0
	if err := d.campaigns.MarkSending(ctx, campaign); err != nil {
		return err
	}

	d.runCampaign(ctx, campaign)
	return nil
}

// Progress returns the campaign's display progress alongside fresh ledger
// counts.
func (d *Dispatcher) Progress(ctx context.Context, campaignID string) (*models.Campaign, models.SendCounts, error) {
	campaign, err := d.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, models.SendCounts{}, err
	}
	counts, err := d.ledger.Stats(ctx, campaignID)
	if err != nil {
		return campaign, counts, err
	}
	return campaign, counts, nil
}

type outcome int

const (
	outcomeProgressed outcome = iota
	outcomeCompleted
	outcomeCancelled
	outcomeSkipped
)

// runCampaign handles one campaign under its lock: cooldown gate, lock
// acquisition, processing, and the cancel-on-config-error policy.
func (d *Dispatcher) runCampaign(ctx context.Context, campaign *models.Campaign) outcome {
	logger := d.logger.With("campaign_id", campaign.ID)
	now := d.clock.Now()

	if campaign.RateLimitHitAt != nil {
		if campaign.InCooldown(now) {
			logger.Info("campaign in rate-limit cooldown, skipping",
				"hit_at", campaign.RateLimitHitAt, "retry_after_sec", campaign.RetryAfterSec)
			return outcomeSkipped
		}
		if err := d.campaigns.ClearCooldown(ctx, campaign); err != nil {
			logger.Error("failed to clear cooldown", "error", err)
			return outcomeSkipped
		}
		logger.Info("rate-limit cooldown expired, resuming")
	}

	lease, acquired, err := d.locks.Acquire(ctx, campaign.ID)
	if err != nil {
		logger.Error("lock acquisition failed", "error", err)
		return outcomeSkipped
	}
	if !acquired {
		logger.Info("campaign locked by another invocation, skipping")
		return outcomeSkipped
	}
	defer lease.Release(ctx)

	completed, err := d.processCampaign(ctx, campaign, logger)
	if err != nil {
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			logger.Error("unrecoverable campaign error, cancelling", "reason", cfgErr.reason)
			if cancelErr := d.campaigns.MarkCancelled(ctx, campaign); cancelErr != nil {
				logger.Error("failed to cancel campaign", "error", cancelErr)
			}
			if d.metrics != nil {
				d.metrics.CampaignsCancelled.Inc()
			}
			return outcomeCancelled
		}
		if errors.Is(err, errQuotaExhausted) {
			logger.Info("provider quota exhausted, pausing until next trigger")
			return outcomeProgressed
		}
		logger.Error("campaign processing failed, will retry on next trigger", "error", err)
		return outcomeProgressed
	}
	if completed {
		return outcomeCompleted
	}
	return outcomeProgressed
}

// processCampaign runs up to MaxBatches reservation/send cycles and then
// decides completion from a fresh ledger read. It reports completed=true only
// on the Sending -> Sent transition.
func (d *Dispatcher) processCampaign(ctx context.Context, campaign *models.Campaign, logger *slog.Logger) (bool, error) {
	if err := validateCampaign(campaign); err != nil {
		return false, err
	}

	if campaign.Status == models.CampaignStatusScheduled {
		if err := d.campaigns.MarkSending(ctx, campaign); err != nil {
			return false, fmt.Errorf("mark sending: %w", err)
		}
		logger.Info("campaign activated", "send_date", campaign.SendDate)
	}

	audience, err := d.contacts.Audience(ctx, campaign)
	if err != nil {
		return false, fmt.Errorf("resolve audience: %w", err)
	}
	targetTotal := len(audience)
	logger.Info("processing campaign", "target_total", targetTotal)

	// Reservations abandoned by an interrupted run (crash, rate-limit abort)
	// stay pending. Drain them before claiming new contacts, or the campaign
	// can never reach pending == 0.
	if err := d.resumePending(ctx, campaign, audience, logger); err != nil {
		if mailer.IsRateLimit(err) {
			return false, nil
		}
		return false, err
	}

	for batch := 0; batch < d.cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		// Fresh claimed-set each batch: prior runs, concurrent or partially
		// failed, may have advanced the ledger since our last look.
		claimed, err := d.ledger.SentEmails(ctx, campaign.ID)
		if err != nil {
			return false, fmt.Errorf("read claimed set: %w", err)
		}

		candidates := nextCandidates(audience, claimed, d.cfg.BatchSize)
		if len(candidates) == 0 {
			break
		}

		reservation, err := d.ledger.Reserve(ctx, campaign.ID, candidates)
		if err != nil {
			return false, fmt.Errorf("reserve contacts: %w", err)
		}
		logger.Info("reserved batch", "batch", batch, "candidates", len(candidates), "reserved", len(reservation.Contacts))

		if err := d.sendReserved(ctx, campaign, reservation, logger); err != nil {
			if mailer.IsRateLimit(err) {
				// Cooldown persisted by sendReserved; remaining contacts stay
				// pending for the next trigger.
				return false, nil
			}
			return false, err
		}

		counts, err := d.ledger.Stats(ctx, campaign.ID)
		if err != nil {
			logger.Warn("progress refresh skipped, stats unavailable", "error", err)
		} else if err := d.campaigns.SaveProgress(ctx, campaign, counts, targetTotal, d.clock.Now()); err != nil {
			logger.Warn("failed to persist progress", "error", err)
		}

		if d.cfg.BatchPause > 0 {
			if err := d.clock.Sleep(ctx, d.cfg.BatchPause); err != nil {
				return false, err
			}
		}
	}

	return d.finalize(ctx, campaign, targetTotal, logger)
}

// resumePending re-sends the campaign's leftover pending reservations. The
// existing record ids are reused so outcomes update in place, exactly as if
// this invocation had reserved the contacts itself.
func (d *Dispatcher) resumePending(ctx context.Context, campaign *models.Campaign, audience []models.Contact, logger *slog.Logger) error {
	pending, err := d.ledger.PendingRecords(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("read pending records: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	byEmail := make(map[string]models.Contact, len(audience))
	for _, contact := range audience {
		byEmail[contact.NormalizedEmail()] = contact
	}

	res := &ledger.Reservation{RecordIDs: make(map[string]string)}
	for _, rec := range pending {
		contact, ok := byEmail[strings.ToLower(rec.ContactEmail)]
		if !ok {
			// The contact left the audience after reservation (unsubscribed,
			// deleted). Close the record so the campaign can still complete.
			if recErr := d.ledger.RecordOutcome(ctx, ledger.Outcome{
				CampaignID:      campaign.ID,
				ContactID:       rec.ContactID,
				ContactEmail:    rec.ContactEmail,
				Status:          models.SendStatusFailed,
				PendingRecordID: rec.ID,
				ErrorMessage:    "contact no longer in campaign audience",
			}); recErr != nil {
				logger.Error("failed to close orphaned pending record", "record_id", rec.ID, "error", recErr)
			}
			continue
		}
		res.Contacts = append(res.Contacts, contact)
		res.RecordIDs[contact.ID] = rec.ID
	}
	if len(res.Contacts) == 0 {
		return nil
	}

	logger.Info("resuming pending reservations", "count", len(res.Contacts))
	return d.sendReserved(ctx, campaign, res, logger)
}

// sendReserved drains one reservation through the email sender. A rate-limit
// failure persists the campaign cooldown and aborts with the typed error; any
// other failure marks that contact failed and continues.
func (d *Dispatcher) sendReserved(ctx context.Context, campaign *models.Campaign, res *ledger.Reservation, logger *slog.Logger) error {
	for i := range res.Contacts {
		contact := &res.Contacts[i]
		recordID := res.RecordIDs[contact.ID]

		if d.quota != nil {
			if ok, wait := d.quota.Allow(); !ok {
				logger.Info("provider quota reached", "retry_in", wait)
				return errQuotaExhausted
			}
		}

		if err := d.pacer.Wait(ctx); err != nil {
			return err
		}

		msg := renderMessage(campaign, contact, d.cfg.PublicBaseURL)
		messageID, err := d.sender.Send(ctx, msg)
		if err == nil {
			if d.metrics != nil {
				d.metrics.EmailsSent.Inc()
			}
			if recErr := d.ledger.RecordOutcome(ctx, ledger.Outcome{
				CampaignID:      campaign.ID,
				ContactID:       contact.ID,
				ContactEmail:    contact.Email,
				Status:          models.SendStatusSent,
				PendingRecordID: recordID,
				MessageID:       messageID,
			}); recErr != nil {
				// The mail is out; the record stays pending and the next
				// run's pre-check still sees it as claimed.
				logger.Error("sent but failed to record outcome",
					"contact_id", contact.ID, "record_id", recordID, "error", recErr)
			}
			continue
		}

		if mailer.IsRateLimit(err) {
			retryAfter := mailer.RetryAfter(err)
			logger.Warn("provider rate limit hit, pausing campaign",
				"contact_id", contact.ID, "retry_after", retryAfter)
			if d.metrics != nil {
				d.metrics.RateLimitHits.Inc()
			}
			if cdErr := d.campaigns.SetCooldown(ctx, campaign, d.clock.Now(), retryAfter); cdErr != nil {
				logger.Error("failed to persist cooldown", "error", cdErr)
			}
			// The contact stays pending and is retried after the cooldown.
			return err
		}

		// Per-contact failure: record and move on.
		logger.Warn("send failed", "contact_id", contact.ID, "error", err)
		if d.metrics != nil {
			d.metrics.EmailsFailed.Inc()
		}
		if recErr := d.ledger.RecordOutcome(ctx, ledger.Outcome{
			CampaignID:      campaign.ID,
			ContactID:       contact.ID,
			ContactEmail:    contact.Email,
			Status:          models.SendStatusFailed,
			PendingRecordID: recordID,
			ErrorMessage:    err.Error(),
		}); recErr != nil {
			logger.Error("failed to record failure", "contact_id", contact.ID, "error", recErr)
		}
	}
	return nil
}

// finalize re-reads the ledger and applies the completion transition. The
// decision never trusts in-memory counters from this invocation.
func (d *Dispatcher) finalize(ctx context.Context, campaign *models.Campaign, targetTotal int, logger *slog.Logger) (bool, error) {
	counts, err := d.ledger.Stats(ctx, campaign.ID)
	if err != nil {
		return false, fmt.Errorf("read final counts: %w", err)
	}

	if counts.Pending == 0 && counts.Delivered() >= targetTotal {
		sentAt := d.clock.Now()
		if err := d.campaigns.MarkSent(ctx, campaign, counts, sentAt); err != nil {
			return false, fmt.Errorf("mark sent: %w", err)
		}
		if d.metrics != nil {
			d.metrics.CampaignsCompleted.Inc()
		}
		logger.Info("campaign completed",
			"sent", counts.Sent, "failed", counts.Failed, "bounced", counts.Bounced)
		return true, nil
	}

	if err := d.campaigns.SaveProgress(ctx, campaign, counts, targetTotal, d.clock.Now()); err != nil {
		logger.Warn("failed to persist progress", "error", err)
	}
	logger.Info("campaign still sending",
		"delivered", counts.Delivered(), "pending", counts.Pending, "target_total", targetTotal)
	return false, nil
}

func validateCampaign(c *models.Campaign) error {
	if c.FromEmail == "" {
		return &configError{reason: "campaign has no sender address"}
	}
	if c.Subject == "" || c.Content == "" {
		return &configError{reason: "campaign has no subject or content"}
	}
	return nil
}

// nextCandidates picks up to batchSize audience contacts without a ledger
// record, preserving input order.
func nextCandidates(audience []models.Contact, claimed map[string]struct{}, batchSize int) []models.Contact {
	var out []models.Contact
	for _, contact := range audience {
		if _, ok := claimed[contact.NormalizedEmail()]; ok {
			continue
		}
		out = append(out, contact)
		if len(out) == batchSize {
			break
		}
	}
	return out
}
