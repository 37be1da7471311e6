package loom

import (
	"context"
	"fmt"
	"strings"

	"github.com/syssam/loom/dialect/sql"
	"github.com/syssam/loom/dialect/sql/sqlgraph"
	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/edge"
)

// planSegment maps a contiguous column range of the result rows onto the
// kind materialized from it. The first segment is always the query root;
// further segments belong to joined-loading relationships of the root.
type planSegment struct {
	kind *schema.Kind
	rel  *schema.Relationship // nil for the root segment.
	lo   int
	hi   int
}

type fetchPlan struct {
	root *schema.Kind
	spec *sqlgraph.FetchSpec
	segs []planSegment
}

// buildPlan turns a query expression into a storage fetch: inner joins
// for the explicit relationship chain, left joins and extra column
// segments for the root's joined-loading relationships, and the compiled
// predicate.
func (s *Session) buildPlan(q Query) (*fetchPlan, error) {
	root, err := s.reg.Kind(q.root)
	if err != nil {
		return nil, err
	}
	sc := &scope{reg: s.reg, kinds: map[string]*schema.Kind{root.Name: root}}
	plan := &fetchPlan{root: root, spec: &sqlgraph.FetchSpec{Table: root.Table}}
	tables := map[string]bool{root.Table: true}

	cur := root
	for _, name := range q.joins {
		r, err := cur.Relationship(name)
		if err != nil {
			return nil, err
		}
		for _, step := range r.Steps() {
			if tables[step.To.Table] {
				return nil, &SchemaError{Kind: cur.Name, Msg: fmt.Sprintf("relationship %q joins table %q twice", name, step.To.Table)}
			}
			plan.spec.Joins = append(plan.spec.Joins, stepJoin(step, false))
			tables[step.To.Table] = true
			sc.add(step.To)
		}
		cur = r.Next()
	}

	// Predicates resolve against the root and the explicit joins only;
	// joined-loading tables are out of predicate scope.
	for _, p := range q.preds {
		sp, err := p.build(sc)
		if err != nil {
			return nil, err
		}
		if plan.spec.Where != nil {
			plan.spec.Where = sql.And(plan.spec.Where, sp)
		} else {
			plan.spec.Where = sp
		}
	}

	plan.addSegment(root, nil)
	for _, r := range root.Relationships() {
		if r.Load != edge.Joined {
			continue
		}
		// Without table aliasing a relationship whose tables already
		// participate in the query cannot be joined again; it stays
		// unloaded and can be resolved explicitly.
		collide := false
		for _, step := range r.Steps() {
			if tables[step.To.Table] {
				collide = true
				break
			}
		}
		if collide {
			continue
		}
		for _, step := range r.Steps() {
			plan.spec.Joins = append(plan.spec.Joins, stepJoin(step, true))
			tables[step.To.Table] = true
		}
		plan.addSegment(r.Next(), r)
	}
	return plan, nil
}

func stepJoin(step schema.Step, left bool) sqlgraph.FetchJoin {
	j := sqlgraph.FetchJoin{Table: step.To.Table, Left: left}
	for i := range step.FromColumns {
		j.On = append(j.On, [2]string{
			sql.Table(step.From.Table).C(step.FromColumns[i]),
			sql.Table(step.To.Table).C(step.ToColumns[i]),
		})
	}
	return j
}

func (p *fetchPlan) addSegment(k *schema.Kind, rel *schema.Relationship) {
	lo := len(p.spec.Columns)
	for _, a := range k.Attributes() {
		p.spec.Columns = append(p.spec.Columns, sqlgraph.FetchColumn{
			Table:    k.Table,
			Column:   a.Column,
			Type:     a.Type,
			Nillable: a.Nillable || rel != nil,
		})
	}
	p.segs = append(p.segs, planSegment{kind: k, rel: rel, lo: lo, hi: len(p.spec.Columns)})
}

// execute runs the plan and materializes the result rows through the
// identity map. Root instances come back in backend row order, each
// once; joined-loading segments populate the roots' references and
// collections.
func (s *Session) execute(ctx context.Context, q Query) ([]*Entity, error) {
	plan, err := s.buildPlan(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.fetchRows(ctx, plan.spec)
	if err != nil {
		return nil, err
	}
	var out []*Entity
	seen := make(map[*Entity]bool)
	for _, row := range rows {
		rootSeg := plan.segs[0]
		re := s.materialize(plan.root, row[rootSeg.lo:rootSeg.hi])
		if re == nil || re.state == stateRemoved {
			continue
		}
		if !seen[re] {
			seen[re] = true
			out = append(out, re)
		}
		for _, seg := range plan.segs[1:] {
			ent := s.materialize(seg.kind, row[seg.lo:seg.hi])
			if seg.rel.Unique {
				if _, ok := re.refs[seg.rel.Name]; !ok {
					re.refs[seg.rel.Name] = ent
				}
				continue
			}
			c := re.colls[seg.rel.Name]
			if c == nil {
				c = &collection{}
				re.colls[seg.rel.Name] = c
			}
			c.loaded = true
			if ent != nil && !containsEntity(c.items, ent) {
				c.items = append(c.items, ent)
			}
		}
	}
	return out, nil
}

func containsEntity(items []*Entity, e *Entity) bool {
	for _, it := range items {
		if it == e {
			return true
		}
	}
	return false
}

// materialize turns one column segment into a session instance. An
// instance already resident for the same kind and key is returned as is;
// its in-memory state is authoritative over the fetched row. A segment
// with an incomplete key (all-NULL left join) yields nil.
func (s *Session) materialize(k *schema.Kind, vals []any) *Entity {
	attrs := k.Attributes()
	m := make(map[string]any, len(attrs))
	for i, a := range attrs {
		if vals[i] != nil {
			m[a.Name] = normalize(a.Type, vals[i])
		}
	}
	key := make([]any, len(k.ID()))
	for i, a := range k.ID() {
		v, ok := m[a.Name]
		if !ok {
			return nil
		}
		key[i] = v
	}
	id := identity(k.Name, key)
	if e, ok := s.identity[id]; ok {
		return e
	}
	e := &Entity{
		kind:   k,
		sess:   s,
		state:  stateManaged,
		values: m,
		dirty:  make(map[string]struct{}),
		colls:  make(map[string]*collection),
		refs:   make(map[string]*Entity),
		owner:  make(map[string]ownerRef),
	}
	s.identity[id] = e
	return e
}

// fetchRows reads result rows for the spec, through the client cache
// when one is installed. Cache keys are derived from the rendered
// statement and its arguments.
func (s *Session) fetchRows(ctx context.Context, spec *sqlgraph.FetchSpec) ([][]any, error) {
	cache := s.client.cache
	var key string
	if cache != nil {
		query, args := spec.Selector(s.store.Dialect()).Query()
		key = cacheKey(query, args)
		if rows, ok := cache.Get(key); ok {
			return rows, nil
		}
	}
	rows, err := s.store.Fetch(ctx, spec)
	if err != nil {
		return nil, NewBackendError("fetch", err)
	}
	if cache != nil {
		cache.Put(key, rows)
	}
	return rows, nil
}

func cacheKey(query string, args []any) string {
	var sb strings.Builder
	sb.WriteString(query)
	for _, a := range args {
		fmt.Fprintf(&sb, "\x00%v", a)
	}
	return sb.String()
}

// Resolve explicitly loads the named relationship of the instance. This
// is the only way unloaded (lazy) relationship data enters a session;
// reading an unloaded relationship never triggers hidden I/O. Resolving
// an already loaded relationship is a no-op.
func (s *Session) Resolve(ctx context.Context, e *Entity, rel string) error {
	if e.sess != s {
		return &SchemaError{Kind: e.kind.Name, Msg: "instance belongs to another session"}
	}
	r, err := e.kind.Relationship(rel)
	if err != nil {
		return err
	}
	if r.Unique {
		return s.resolveRef(ctx, e, r)
	}
	return s.resolveCollection(ctx, e, r)
}

func (s *Session) resolveRef(ctx context.Context, e *Entity, r *schema.Relationship) error {
	if _, ok := e.refs[r.Name]; ok {
		return nil
	}
	step := r.Steps()[0]
	target := r.Next()
	key := make([]any, len(step.FromColumns))
	for i, col := range step.FromColumns {
		a := attributeByColumn(e.kind, col)
		if a == nil || e.values[a.Name] == nil {
			// Unset foreign key; the reference is absent.
			e.refs[r.Name] = nil
			return nil
		}
		key[i] = e.values[a.Name]
	}
	if t, ok := s.identity[identity(target.Name, key)]; ok {
		e.refs[r.Name] = t
		return nil
	}
	spec := kindSpec(target)
	spec.Where = eqColumns(target.Table, step.ToColumns, key)
	rows, err := s.fetchRows(ctx, spec)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		e.refs[r.Name] = nil
		return nil
	}
	e.refs[r.Name] = s.materialize(target, rows[0])
	return nil
}

func (s *Session) resolveCollection(ctx context.Context, e *Entity, r *schema.Relationship) error {
	c := e.colls[r.Name]
	if c != nil && c.loaded {
		return nil
	}
	if c == nil {
		c = &collection{}
		e.colls[r.Name] = c
	}
	key, ok := e.Key()
	if !ok {
		// Transient owner; the collection is exactly what was appended.
		c.loaded = true
		return nil
	}
	target := r.Next()
	var spec *sqlgraph.FetchSpec
	steps := r.Steps()
	if r.Through != nil {
		// Rows come from the linking table joined to the target.
		link := steps[0]
		hop := steps[1]
		spec = &sqlgraph.FetchSpec{Table: r.Through.Table}
		spec.Joins = append(spec.Joins, stepJoin(hop, false))
		for _, a := range target.Attributes() {
			spec.Columns = append(spec.Columns, sqlgraph.FetchColumn{
				Table: target.Table, Column: a.Column, Type: a.Type, Nillable: a.Nillable,
			})
		}
		spec.Where = eqColumns(r.Through.Table, link.ToColumns, key)
	} else {
		spec = kindSpec(target)
		spec.Where = eqColumns(target.Table, steps[0].ToColumns, key)
	}
	rows, err := s.fetchRows(ctx, spec)
	if err != nil {
		return err
	}
	items := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		ent := s.materialize(target, row)
		if ent == nil || ent.state == stateRemoved {
			continue
		}
		if !containsEntity(items, ent) {
			items = append(items, ent)
		}
		if r.Through == nil {
			ent.owner[ownerKeyOf(e, r)] = ownerRef{owner: e, rel: r}
		}
	}
	// Keep instances appended before the load, after the fetched rows.
	for _, it := range c.items {
		if !containsEntity(items, it) {
			items = append(items, it)
		}
	}
	c.items = items
	c.loaded = true
	return nil
}

// kindSpec projects every attribute of the kind from its own table.
func kindSpec(k *schema.Kind) *sqlgraph.FetchSpec {
	spec := &sqlgraph.FetchSpec{Table: k.Table}
	for _, a := range k.Attributes() {
		spec.Columns = append(spec.Columns, sqlgraph.FetchColumn{
			Table: k.Table, Column: a.Column, Type: a.Type, Nillable: a.Nillable,
		})
	}
	return spec
}

func eqColumns(table string, cols []string, vals []any) *sql.Predicate {
	preds := make([]*sql.Predicate, len(cols))
	for i, col := range cols {
		preds[i] = sql.EQ(sql.Table(table).C(col), vals[i])
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return sql.And(preds...)
}
