package store

import (
	"context"
	"testing"

	"github.com/pelicanmail/pelican/internal/docstore"
	"github.com/pelicanmail/pelican/internal/models"
)

func seedContact(t *testing.T, mem *docstore.Memory, c models.Contact) {
	t.Helper()
	if c.Status == "" {
		c.Status = models.ContactStatusActive
	}
	if err := mem.Insert(context.Background(), TypeContacts, c.ID, c); err != nil {
		t.Fatal(err)
	}
}

func TestAudienceUnionsTargetingModes(t *testing.T) {
	mem := docstore.NewMemory()
	r := NewContacts(mem)

	seedContact(t, mem, models.Contact{ID: "c1", Email: "one@example.com"})
	seedContact(t, mem, models.Contact{ID: "c2", Email: "two@example.com", Tags: []string{"news"}})
	seedContact(t, mem, models.Contact{ID: "c3", Email: "three@example.com", Lists: []string{"beta"}})
	seedContact(t, mem, models.Contact{ID: "c4", Email: "four@example.com", Tags: []string{"other"}})

	audience, err := r.Audience(context.Background(), &models.Campaign{
		ContactIDs:  []string{"c1"},
		TargetTags:  []string{"news"},
		TargetLists: []string{"beta"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]bool)
	for _, c := range audience {
		got[c.ID] = true
	}
	if len(got) != 3 || !got["c1"] || !got["c2"] || !got["c3"] {
		t.Fatalf("audience = %v", got)
	}
}

func TestAudienceDeduplicatesByEmail(t *testing.T) {
	mem := docstore.NewMemory()
	r := NewContacts(mem)

	// Same person reachable through an explicit id and a tag, with
	// different email casing.
	seedContact(t, mem, models.Contact{ID: "c1", Email: "Pat@Example.com", Tags: []string{"news"}})

	audience, err := r.Audience(context.Background(), &models.Campaign{
		ContactIDs: []string{"c1"},
		TargetTags: []string{"news"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(audience) != 1 {
		t.Fatalf("audience has %d entries, want 1", len(audience))
	}
}

func TestAudienceExcludesInactiveContacts(t *testing.T) {
	mem := docstore.NewMemory()
	r := NewContacts(mem)

	seedContact(t, mem, models.Contact{ID: "c1", Email: "active@example.com", Tags: []string{"news"}})
	seedContact(t, mem, models.Contact{ID: "c2", Email: "gone@example.com", Tags: []string{"news"}, Status: models.ContactStatusUnsubscribed})
	seedContact(t, mem, models.Contact{ID: "c3", Email: "bounced@example.com", Tags: []string{"news"}, Status: models.ContactStatusBounced})

	audience, err := r.Audience(context.Background(), &models.Campaign{TargetTags: []string{"news"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(audience) != 1 || audience[0].ID != "c1" {
		t.Fatalf("audience = %v", audience)
	}
}

func TestAudienceEmptyTargeting(t *testing.T) {
	mem := docstore.NewMemory()
	r := NewContacts(mem)
	seedContact(t, mem, models.Contact{ID: "c1", Email: "one@example.com"})

	audience, err := r.Audience(context.Background(), &models.Campaign{})
	if err != nil {
		t.Fatal(err)
	}
	if len(audience) != 0 {
		t.Fatalf("campaign with no targeting must have an empty audience, got %v", audience)
	}
}

func TestAudienceSkipsContactsWithoutEmail(t *testing.T) {
	mem := docstore.NewMemory()
	r := NewContacts(mem)

	seedContact(t, mem, models.Contact{ID: "c1", Email: "", Tags: []string{"news"}})
	seedContact(t, mem, models.Contact{ID: "c2", Email: "ok@example.com", Tags: []string{"news"}})

	audience, err := r.Audience(context.Background(), &models.Campaign{TargetTags: []string{"news"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(audience) != 1 || audience[0].ID != "c2" {
		t.Fatalf("audience = %v", audience)
	}
}
