package store

import (
	"context"
	"fmt"

	"github.com/pelicanmail/pelican/internal/docstore"
	"github.com/pelicanmail/pelican/internal/models"
)

// Contacts is the contact repository. The sending core only reads contacts.
type Contacts struct {
	store docstore.Store
}

func NewContacts(s docstore.Store) *Contacts {
	return &Contacts{store: s}
}

// Audience resolves a campaign's target contact set: the union of explicit
// contact ids, tag matches and list memberships, restricted to active
// contacts and deduplicated by normalized email.
func (r *Contacts) Audience(ctx context.Context, c *models.Campaign) ([]models.Contact, error) {
	var queries []docstore.Query
	base := docstore.NewQuery(TypeContacts).Where("status", models.ContactStatusActive)

	if len(c.ContactIDs) > 0 {
		queries = append(queries, base.WhereIn("id", c.ContactIDs))
	}
	if len(c.TargetTags) > 0 {
		queries = append(queries, base.WhereIn("tags", c.TargetTags))
	}
	if len(c.TargetLists) > 0 {
		queries = append(queries, base.WhereIn("lists", c.TargetLists))
	}

	seen := make(map[string]struct{})
	var audience []models.Contact

	for _, q := range queries {
		objects, err := findAll(ctx, r.store, q, defaultPageSize)
		if err != nil {
			return nil, fmt.Errorf("query audience: %w", err)
		}
		for _, obj := range objects {
			var contact models.Contact
			if err := obj.Decode(&contact); err != nil {
				return nil, fmt.Errorf("decode contact %s: %w", obj.ID, err)
			}
			email := contact.NormalizedEmail()
			if email == "" {
				continue
			}
			if _, dup := seen[email]; dup {
				continue
			}
			seen[email] = struct{}{}
			audience = append(audience, contact)
		}
	}

	return audience, nil
}
