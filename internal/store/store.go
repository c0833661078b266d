// Package store holds the typed repositories over the document store.
package store

import (
	"context"

	"github.com/pelicanmail/pelican/internal/docstore"
)

// Object type names in the document store
const (
	TypeCampaigns = "campaigns"
	TypeContacts  = "contacts"
)

const defaultPageSize = 100

// findAll pages through every object matching the query.
func findAll(ctx context.Context, s docstore.Store, q docstore.Query, pageSize int) ([]docstore.Object, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var objects []docstore.Object
	skip := 0
	for {
		page, err := s.Find(ctx, q.Page(pageSize, skip))
		if err != nil {
			return nil, err
		}
		objects = append(objects, page.Objects...)
		if len(page.Objects) < pageSize || len(objects) >= page.Total {
			return objects, nil
		}
		skip += pageSize
	}
}
