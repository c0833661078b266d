package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/pelicanmail/pelican/internal/docstore"
	"github.com/pelicanmail/pelican/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(s docstore.Store) *Ledger {
	return New(s, testLogger(), WithInsertDelay(0))
}

func insertRecord(t *testing.T, s docstore.Store, rec models.SendRecord) {
	t.Helper()
	if rec.ID == "" {
		rec.ID = models.SendRecordID(rec.CampaignID, rec.ContactID)
	}
	if err := s.Insert(context.Background(), TypeSendRecords, rec.ID, rec); err != nil {
		t.Fatal(err)
	}
}

func TestSentEmailsEmptyLedger(t *testing.T) {
	l := newTestLedger(docstore.NewMemory())

	emails, err := l.SentEmails(context.Background(), "camp1")
	if err != nil {
		t.Fatalf("no records must be an empty set, got error %v", err)
	}
	if len(emails) != 0 {
		t.Fatalf("expected empty set, got %v", emails)
	}
}

func TestSentEmailsAnyStatusCountsLowercased(t *testing.T) {
	mem := docstore.NewMemory()
	l := newTestLedger(mem)

	insertRecord(t, mem, models.SendRecord{CampaignID: "camp1", ContactID: "c1", ContactEmail: "Sent@Example.com", Status: models.SendStatusSent})
	insertRecord(t, mem, models.SendRecord{CampaignID: "camp1", ContactID: "c2", ContactEmail: "pending@example.com", Status: models.SendStatusPending})
	insertRecord(t, mem, models.SendRecord{CampaignID: "camp2", ContactID: "c3", ContactEmail: "other@example.com", Status: models.SendStatusSent})

	emails, err := l.SentEmails(context.Background(), "camp1")
	if err != nil {
		t.Fatal(err)
	}
	if len(emails) != 2 {
		t.Fatalf("expected 2 claimed emails, got %v", emails)
	}
	if _, ok := emails["sent@example.com"]; !ok {
		t.Error("email not lower-cased")
	}
	if _, ok := emails["pending@example.com"]; !ok {
		t.Error("pending record must count as claimed")
	}
}

func TestSentEmailsPaginates(t *testing.T) {
	mem := docstore.NewMemory()
	l := New(mem, testLogger(), WithInsertDelay(0), WithPageSize(3))

	for i := 0; i < 10; i++ {
		insertRecord(t, mem, models.SendRecord{
			CampaignID:   "camp1",
			ContactID:    string(rune('a' + i)),
			ContactEmail: string(rune('a'+i)) + "@example.com",
			Status:       models.SendStatusSent,
		})
	}

	emails, err := l.SentEmails(context.Background(), "camp1")
	if err != nil {
		t.Fatal(err)
	}
	if len(emails) != 10 {
		t.Fatalf("expected 10 emails across pages, got %d", len(emails))
	}
}

func TestStatsCountsPerStatus(t *testing.T) {
	mem := docstore.NewMemory()
	l := newTestLedger(mem)

	statuses := []string{
		models.SendStatusSent, models.SendStatusSent, models.SendStatusSent,
		models.SendStatusPending, models.SendStatusPending,
		models.SendStatusFailed,
		models.SendStatusBounced,
	}
	for i, status := range statuses {
		insertRecord(t, mem, models.SendRecord{
			CampaignID:   "camp1",
			ContactID:    string(rune('a' + i)),
			ContactEmail: string(rune('a'+i)) + "@example.com",
			Status:       status,
		})
	}

	counts, err := l.Stats(context.Background(), "camp1")
	if err != nil {
		t.Fatal(err)
	}
	want := models.SendCounts{Total: 7, Sent: 3, Pending: 2, Failed: 1, Bounced: 1}
	if counts != want {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}
}

// failingStore fails Find calls whose filter carries the given status value.
type failingStore struct {
	docstore.Store
	failStatus string
}

func (s *failingStore) Find(ctx context.Context, q docstore.Query) (*docstore.Result, error) {
	if status, ok := q.Filter["status"]; ok && status == s.failStatus {
		return nil, errors.New("store unavailable")
	}
	return s.Store.Find(ctx, q)
}

func TestStatsPartialFailureKeepsOtherCounts(t *testing.T) {
	mem := docstore.NewMemory()
	insertRecord(t, mem, models.SendRecord{CampaignID: "camp1", ContactID: "c1", ContactEmail: "a@example.com", Status: models.SendStatusSent})
	insertRecord(t, mem, models.SendRecord{CampaignID: "camp1", ContactID: "c2", ContactEmail: "b@example.com", Status: models.SendStatusPending})

	l := newTestLedger(&failingStore{Store: mem, failStatus: models.SendStatusSent})

	counts, err := l.Stats(context.Background(), "camp1")
	if err != nil {
		t.Fatalf("partial failure must not be fatal: %v", err)
	}
	if counts.Total != 2 || counts.Pending != 1 {
		t.Fatalf("surviving counts corrupted: %+v", counts)
	}
	if counts.Sent != 0 {
		t.Fatalf("failed query must contribute zero, got %d", counts.Sent)
	}
}

// deadStore fails every Find.
type deadStore struct {
	docstore.Store
}

func (s *deadStore) Find(ctx context.Context, q docstore.Query) (*docstore.Result, error) {
	return nil, errors.New("store down")
}

func TestStatsTotalFailureIsAnError(t *testing.T) {
	l := newTestLedger(&deadStore{Store: docstore.NewMemory()})

	if _, err := l.Stats(context.Background(), "camp1"); err == nil {
		t.Fatal("all queries failing must be distinguishable from an empty ledger")
	}
}

func TestRecordOutcomeUpdatesPendingInPlace(t *testing.T) {
	mem := docstore.NewMemory()
	l := newTestLedger(mem)
	ctx := context.Background()

	recID := models.SendRecordID("camp1", "c1")
	insertRecord(t, mem, models.SendRecord{
		ID: recID, CampaignID: "camp1", ContactID: "c1",
		ContactEmail: "a@example.com", Status: models.SendStatusPending,
	})

	err := l.RecordOutcome(ctx, Outcome{
		CampaignID:      "camp1",
		ContactID:       "c1",
		ContactEmail:    "a@example.com",
		Status:          models.SendStatusSent,
		PendingRecordID: recID,
		MessageID:       "msg-123",
	})
	if err != nil {
		t.Fatal(err)
	}

	if n := mem.Count(TypeSendRecords); n != 1 {
		t.Fatalf("update must not create a second row, got %d", n)
	}

	obj, err := mem.Get(ctx, TypeSendRecords, recID)
	if err != nil {
		t.Fatal(err)
	}
	var rec models.SendRecord
	if err := obj.Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.Status != models.SendStatusSent || rec.MessageID != "msg-123" || rec.SentAt == nil {
		t.Fatalf("record not updated: %+v", rec)
	}
	if rec.RetryCount != 1 {
		t.Fatalf("retry count = %d", rec.RetryCount)
	}
}

func TestRecordOutcomeInsertsTerminalWithoutReservation(t *testing.T) {
	mem := docstore.NewMemory()
	l := newTestLedger(mem)

	err := l.RecordOutcome(context.Background(), Outcome{
		CampaignID:   "camp1",
		ContactID:    "c1",
		ContactEmail: "MiXeD@Example.com",
		Status:       models.SendStatusFailed,
		ErrorMessage: "mailbox full",
	})
	if err != nil {
		t.Fatal(err)
	}

	obj, err := mem.Get(context.Background(), TypeSendRecords, models.SendRecordID("camp1", "c1"))
	if err != nil {
		t.Fatal(err)
	}
	var rec models.SendRecord
	_ = obj.Decode(&rec)
	if rec.Status != models.SendStatusFailed || rec.ErrorMessage != "mailbox full" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ContactEmail != "mixed@example.com" {
		t.Fatalf("email not normalized: %q", rec.ContactEmail)
	}
}
