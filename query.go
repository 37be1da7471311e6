package loom

import (
	"context"
	"strings"
)

// Query is an immutable query expression over declared kinds. Methods
// return derived copies, so a query can be built once and reused or
// extended without affecting its ancestors:
//
//	base := loom.Select("order")
//	crowbars := base.Join("order_items", "item").
//	    Where(loom.Col("item", "description").EQ("MySQL Crowbar"))
//
// Execution resolves a query against a session; instances come out of
// the session's identity map when already resident.
type Query struct {
	root  string
	joins []string
	preds []Predicate
}

// Select starts a query returning instances of the named kind.
func Select(kind string) Query {
	return Query{root: kind}
}

// Join navigates the given relationship chain from the current kind,
// bringing each visited kind into scope for predicates. Joins filter the
// result set; they do not change the kind the query returns.
func (q Query) Join(rels ...string) Query {
	joins := make([]string, 0, len(q.joins)+len(rels))
	joins = append(joins, q.joins...)
	joins = append(joins, rels...)
	q.joins = joins
	return q
}

// Where adds a filter predicate. Multiple calls combine with AND.
func (q Query) Where(p Predicate) Query {
	preds := make([]Predicate, 0, len(q.preds)+1)
	preds = append(preds, q.preds...)
	preds = append(preds, p)
	q.preds = preds
	return q
}

// String returns a readable rendering of the query expression.
// Diagnostics only; the storage statement is derived at execution time.
func (q Query) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT " + q.root)
	if len(q.joins) > 0 {
		sb.WriteString(" JOIN " + strings.Join(q.joins, ", "))
	}
	if len(q.preds) > 0 {
		descs := make([]string, len(q.preds))
		for i, p := range q.preds {
			descs[i] = p.desc
		}
		sb.WriteString(" WHERE " + strings.Join(descs, " AND "))
	}
	return sb.String()
}

// Execute runs the query in the given session and returns the matching
// root instances in backend order, each appearing once. Joined-loading
// relationships of the root kind are fetched in the same round trip.
func (q Query) Execute(ctx context.Context, s *Session) ([]*Entity, error) {
	return s.execute(ctx, q)
}

// All is an alias for Execute.
func (q Query) All(ctx context.Context, s *Session) ([]*Entity, error) {
	return q.Execute(ctx, s)
}

// Only returns the single matching instance. Zero matches yield
// NotFoundError; more than one yields NotSingularError.
func (q Query) Only(ctx context.Context, s *Session) (*Entity, error) {
	got, err := q.Execute(ctx, s)
	if err != nil {
		return nil, err
	}
	switch len(got) {
	case 0:
		return nil, NewNotFoundError(q.root)
	case 1:
		return got[0], nil
	default:
		return nil, NewNotSingularError(q.root)
	}
}

// Cursor executes the query and returns a cursor over the results.
// Re-executing the query in the same session yields the same instances
// by identity for rows already resident.
func (q Query) Cursor(ctx context.Context, s *Session) (*Cursor, error) {
	items, err := q.Execute(ctx, s)
	if err != nil {
		return nil, err
	}
	return &Cursor{items: items, pos: -1}, nil
}

// Cursor iterates over the result set of an executed query.
type Cursor struct {
	items []*Entity
	pos   int
}

// Next advances the cursor. It returns false once the results are
// exhausted.
func (c *Cursor) Next() bool {
	c.pos++
	return c.pos < len(c.items)
}

// Entity returns the instance at the cursor position.
func (c *Cursor) Entity() *Entity {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil
	}
	return c.items[c.pos]
}

// Len returns the number of results.
func (c *Cursor) Len() int { return len(c.items) }
