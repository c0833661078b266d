// Package docstore provides access to the hosted document store backing the
// application: typed objects with find/insert/update/delete and a small query
// language (equality, $in, pagination). The store has no transactions and no
// unique constraints; callers that need uniqueness enforce it themselves.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Get when no object with the given id exists.
// Find never returns it: an empty result is a success with zero objects.
var ErrNotFound = errors.New("docstore: object not found")

// Object is a stored document envelope
type Object struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the object payload into v.
func (o *Object) Decode(v any) error {
	return json.Unmarshal(o.Data, v)
}

// Result is a page of objects plus the total match count
type Result struct {
	Objects []Object `json:"objects"`
	Total   int      `json:"total"`
}

// Store is the document store contract used by repositories
type Store interface {
	// Find returns objects matching the query. An empty match is a success
	// with an empty result, never an error.
	Find(ctx context.Context, q Query) (*Result, error)

	// Get returns a single object by type and id, or ErrNotFound.
	Get(ctx context.Context, objType, id string) (*Object, error)

	// Insert creates a new object with the given id. The store does not
	// reject duplicate ids.
	Insert(ctx context.Context, objType, id string, data any) error

	// Update overwrites the payload of an existing object.
	Update(ctx context.Context, objType, id string, data any) error

	// Delete removes an object by id.
	Delete(ctx context.Context, objType, id string) error
}
