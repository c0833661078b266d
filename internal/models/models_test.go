package models

import (
	"strings"
	"testing"
	"time"
)

func TestSendRecordIDDeterministic(t *testing.T) {
	a := SendRecordID("camp1", "c1")
	b := SendRecordID("camp1", "c1")
	if a != b {
		t.Fatalf("ids differ: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "send_") {
		t.Fatalf("id = %q", a)
	}
	if SendRecordID("camp1", "c2") == a || SendRecordID("camp2", "c1") == a {
		t.Fatal("different pairs must get different ids")
	}
}

func TestNormalizedEmail(t *testing.T) {
	c := Contact{Email: "  Pat.Doe@Example.COM "}
	if got := c.NormalizedEmail(); got != "pat.doe@example.com" {
		t.Fatalf("normalized = %q", got)
	}
}

func TestSendCountsDelivered(t *testing.T) {
	c := SendCounts{Total: 10, Sent: 6, Pending: 1, Failed: 2, Bounced: 1}
	if got := c.Delivered(); got != 9 {
		t.Fatalf("delivered = %d", got)
	}
}

func TestCampaignInCooldown(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	hit := now.Add(-30 * time.Minute)

	c := Campaign{RateLimitHitAt: &hit, RetryAfterSec: 3600}
	if !c.InCooldown(now) {
		t.Error("expected in cooldown 30m into a 1h window")
	}
	if c.InCooldown(now.Add(time.Hour)) {
		t.Error("cooldown must have expired")
	}

	if (&Campaign{}).InCooldown(now) {
		t.Error("campaign without a marker is never in cooldown")
	}
	if (&Campaign{RateLimitHitAt: &hit}).InCooldown(now) {
		t.Error("marker without retry-after is not a cooldown")
	}
}

func TestCampaignDueAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		c    Campaign
		want bool
	}{
		{"sending always due", Campaign{Status: CampaignStatusSending}, true},
		{"scheduled past date", Campaign{Status: CampaignStatusScheduled, SendDate: &past}, true},
		{"scheduled exact date", Campaign{Status: CampaignStatusScheduled, SendDate: &now}, true},
		{"scheduled future date", Campaign{Status: CampaignStatusScheduled, SendDate: &future}, false},
		{"scheduled no date", Campaign{Status: CampaignStatusScheduled}, true},
		{"draft never due", Campaign{Status: CampaignStatusDraft}, false},
		{"sent never due", Campaign{Status: CampaignStatusSent}, false},
		{"paused never due", Campaign{Status: CampaignStatusPaused}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.DueAt(now); got != tt.want {
				t.Errorf("DueAt = %v, want %v", got, tt.want)
			}
		})
	}
}
