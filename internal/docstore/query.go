package docstore

import "encoding/json"

// In is a set-membership condition. On a scalar field it matches when the
// field value is one of the listed values; on an array field it matches when
// the field contains any of them.
type In []string

// Query describes a find operation: object type, field conditions (equality
// or In), optional projection and pagination.
type Query struct {
	Type   string
	Filter map[string]any
	Props  []string
	Limit  int
	Skip   int
}

// NewQuery returns a query for the given object type.
func NewQuery(objType string) Query {
	return Query{Type: objType, Filter: map[string]any{}}
}

// Where adds an equality condition.
func (q Query) Where(field string, value any) Query {
	q.Filter = cloneFilter(q.Filter)
	q.Filter[field] = value
	return q
}

// WhereIn adds a set-membership condition.
func (q Query) WhereIn(field string, values []string) Query {
	q.Filter = cloneFilter(q.Filter)
	q.Filter[field] = In(values)
	return q
}

// Page sets limit and skip.
func (q Query) Page(limit, skip int) Query {
	q.Limit = limit
	q.Skip = skip
	return q
}

// Select restricts returned fields.
func (q Query) Select(props ...string) Query {
	q.Props = props
	return q
}

// encode renders the filter in the store's wire query language:
// {"field":"value","other":{"$in":["a","b"]}}.
func (q Query) encode() (string, error) {
	wire := make(map[string]any, len(q.Filter))
	for field, cond := range q.Filter {
		if in, ok := cond.(In); ok {
			wire[field] = map[string]any{"$in": []string(in)}
			continue
		}
		wire[field] = cond
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func cloneFilter(f map[string]any) map[string]any {
	out := make(map[string]any, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}
