package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Memory is an in-memory Store used by tests and local development. It
// mirrors the production store's semantics: no unique constraints, no
// transactions, last write wins.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]map[string]json.RawMessage // type -> id -> payload
	order   map[string][]string                   // type -> insertion order
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]map[string]json.RawMessage),
		order:   make(map[string][]string),
	}
}

func (m *Memory) Find(ctx context.Context, q Query) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Object
	for _, id := range m.order[q.Type] {
		payload, ok := m.objects[q.Type][id]
		if !ok {
			continue
		}
		if !matches(payload, q.Filter) {
			continue
		}
		matched = append(matched, Object{ID: id, Type: q.Type, Data: payload})
	}

	total := len(matched)
	if q.Skip > 0 {
		if q.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Skip:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	return &Result{Objects: matched, Total: total}, nil
}

func (m *Memory) Get(ctx context.Context, objType, id string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.objects[objType][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{ID: id, Type: objType, Data: payload}, nil
}

func (m *Memory) Insert(ctx context.Context, objType, id string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.objects[objType] == nil {
		m.objects[objType] = make(map[string]json.RawMessage)
	}
	if _, exists := m.objects[objType][id]; !exists {
		m.order[objType] = append(m.order[objType], id)
	}
	m.objects[objType][id] = payload
	return nil
}

func (m *Memory) Update(ctx context.Context, objType, id string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[objType][id]; !ok {
		return ErrNotFound
	}
	m.objects[objType][id] = payload
	return nil
}

func (m *Memory) Delete(ctx context.Context, objType, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[objType][id]; !ok {
		return ErrNotFound
	}
	delete(m.objects[objType], id)

	ids := m.order[objType]
	for i, oid := range ids {
		if oid == id {
			m.order[objType] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Count returns the number of stored objects of a type; test helper.
func (m *Memory) Count(objType string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects[objType])
}

// IDs returns stored ids of a type, sorted; test helper.
func (m *Memory) IDs(objType string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.objects[objType]))
	for id := range m.objects[objType] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// matches evaluates the query filter against a stored payload. Conditions
// combine with AND, mirroring the hosted store's query language.
func matches(payload json.RawMessage, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return false
	}

	for field, cond := range filter {
		value, ok := doc[field]
		if !ok {
			return false
		}
		if in, isIn := cond.(In); isIn {
			if !matchIn(value, in) {
				return false
			}
			continue
		}
		if !matchEq(value, cond) {
			return false
		}
	}
	return true
}

// matchIn: scalar fields match when the value is in the set, array fields
// when they contain any of the set.
func matchIn(value any, set In) bool {
	if arr, ok := value.([]any); ok {
		for _, elem := range arr {
			if s, ok := elem.(string); ok && containsString(set, s) {
				return true
			}
		}
		return false
	}
	s, ok := value.(string)
	return ok && containsString(set, s)
}

// matchEq: arrays match when they contain the value.
func matchEq(value, want any) bool {
	if arr, ok := value.([]any); ok {
		for _, elem := range arr {
			if elem == want {
				return true
			}
		}
		return false
	}
	return value == want
}

func containsString(set In, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
