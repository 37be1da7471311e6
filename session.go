package loom

import (
	"context"
	"fmt"

	"github.com/syssam/loom/dialect/sql/sqlgraph"
	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/edge"
)

// Session is the unit of work: it tracks the instances created, loaded,
// and deleted within one logical transaction and writes them out in
// foreign-key dependency order on Commit. Instances with the same kind
// and key tuple are represented by a single pointer for the lifetime of
// the session (the identity map).
//
// A Session is not safe for concurrent use.
type Session struct {
	client *Client
	reg    *schema.Registry
	store  *sqlgraph.Store

	identity map[string]*Entity

	staged    []*Entity // pending inserts, in Add order.
	stagedSet map[*Entity]struct{}
	dirty     []*Entity // pending updates, in first-touch order.
	dirtySet  map[*Entity]struct{}
	deleted   []*Entity // pending deletes, in Delete order.
}

// New creates a transient instance of the named kind. Attribute defaults
// are evaluated per instance; the given values are validated and
// override the defaults. The instance joins the write set only when it
// is passed to Add, directly or through a cascading relationship.
func (s *Session) New(kind string, values map[string]any) (*Entity, error) {
	k, err := s.reg.Kind(kind)
	if err != nil {
		return nil, err
	}
	e := &Entity{
		kind:   k,
		sess:   s,
		state:  stateTransient,
		values: make(map[string]any, len(k.Attributes())),
		dirty:  make(map[string]struct{}),
		colls:  make(map[string]*collection),
		refs:   make(map[string]*Entity),
		owner:  make(map[string]ownerRef),
	}
	for _, a := range k.Attributes() {
		if v, ok := a.DefaultValue(); ok {
			e.values[a.Name] = normalize(a.Type, v)
		}
	}
	for name, v := range values {
		if err := e.Set(name, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Add stages the instance for insertion at the next Commit. Staging
// cascades through save-update and delete-orphan relationships, so
// adding an owner stages every transient instance reachable through its
// cascading collections and references.
func (s *Session) Add(e *Entity) error {
	if e.sess != s {
		return &SchemaError{Kind: e.kind.Name, Msg: "instance belongs to another session"}
	}
	s.add(e)
	return nil
}

func (s *Session) add(e *Entity) {
	if e.state != stateTransient {
		return
	}
	if _, ok := s.stagedSet[e]; ok {
		return
	}
	s.stagedSet[e] = struct{}{}
	s.staged = append(s.staged, e)
	for _, r := range e.kind.Relationships() {
		if r.Rule == edge.CascadeNone {
			continue
		}
		if r.Unique {
			if t := e.refs[r.Name]; t != nil {
				s.add(t)
			}
			continue
		}
		if c := e.colls[r.Name]; c != nil {
			for _, it := range c.items {
				s.add(it)
			}
		}
	}
}

func (s *Session) markDirty(e *Entity) {
	if _, ok := s.dirtySet[e]; ok {
		return
	}
	s.dirtySet[e] = struct{}{}
	s.dirty = append(s.dirty, e)
}

// Remove takes child out of the owner's to-many collection. Under a
// delete-orphan cascade the orphaned child is scheduled for deletion at
// the next Commit; otherwise it merely leaves the collection.
func (s *Session) Remove(owner *Entity, rel string, child *Entity) error {
	r, err := owner.kind.Relationship(rel)
	if err != nil {
		return err
	}
	if r.Unique {
		return &SchemaError{Kind: owner.kind.Name, Msg: fmt.Sprintf("relationship %q is to-one, use SetRef(nil)", rel)}
	}
	c := owner.colls[rel]
	if c == nil {
		return nil
	}
	for i, it := range c.items {
		if it == child {
			c.items = append(c.items[:i], c.items[i+1:]...)
			delete(child.owner, ownerKeyOf(owner, r))
			if r.Owning() {
				return s.Delete(child)
			}
			return nil
		}
	}
	return nil
}

// Delete schedules the instance for deletion at the next Commit.
// Deletion cascades through delete-orphan collections; collections not
// loaded yet are resolved and cascaded during Commit. A transient
// instance is simply unstaged.
func (s *Session) Delete(e *Entity) error {
	if e.sess != s {
		return &SchemaError{Kind: e.kind.Name, Msg: "instance belongs to another session"}
	}
	if e.state == stateTransient {
		s.unstage(e)
		return nil
	}
	if e.state == stateRemoved {
		return nil
	}
	e.state = stateRemoved
	s.deleted = append(s.deleted, e)
	for _, r := range e.kind.Relationships() {
		if r.Rule != edge.DeleteOrphan || r.Unique {
			continue
		}
		if c := e.colls[r.Name]; c != nil && c.loaded {
			for _, it := range c.items {
				if err := s.Delete(it); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// expandDeletes completes the delete-orphan cascade for scheduled
// deletions whose collections were never loaded: an owner fetched by key
// alone still takes its association rows with it. The slice grows while
// cascading; newly scheduled deletions are expanded in turn.
func (s *Session) expandDeletes(ctx context.Context) error {
	for i := 0; i < len(s.deleted); i++ {
		e := s.deleted[i]
		for _, r := range e.kind.Relationships() {
			if r.Rule != edge.DeleteOrphan || r.Unique {
				continue
			}
			if c := e.colls[r.Name]; c == nil || !c.loaded {
				if err := s.Resolve(ctx, e, r.Name); err != nil {
					return err
				}
			}
			for _, it := range e.colls[r.Name].items {
				if err := s.Delete(it); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Session) unstage(e *Entity) {
	if _, ok := s.stagedSet[e]; !ok {
		return
	}
	delete(s.stagedSet, e)
	for i, it := range s.staged {
		if it == e {
			s.staged = append(s.staged[:i], s.staged[i+1:]...)
			break
		}
	}
}

// Rollback discards the pending write set without touching the backend.
// Staged instances return to plain transient state, scheduled deletions
// are cancelled, and dirty marks are cleared. In-memory attribute values
// keep whatever was last assigned.
func (s *Session) Rollback() {
	for _, e := range s.deleted {
		e.state = stateManaged
	}
	for _, e := range s.dirty {
		e.dirty = make(map[string]struct{})
	}
	s.staged = nil
	s.stagedSet = make(map[*Entity]struct{})
	s.dirty = nil
	s.dirtySet = make(map[*Entity]struct{})
	s.deleted = nil
}

// Get returns the instance of the named kind with the given key tuple.
// A session-resident instance is returned as is; otherwise the instance
// is fetched, together with its joined relationships, and entered into
// the identity map. Absence yields NotFoundError.
func (s *Session) Get(ctx context.Context, kind string, key ...any) (*Entity, error) {
	k, err := s.reg.Kind(kind)
	if err != nil {
		return nil, err
	}
	if len(key) != len(k.ID()) {
		return nil, &SchemaError{Kind: kind, Msg: fmt.Sprintf("key tuple has %d values, want %d", len(key), len(k.ID()))}
	}
	// Normalize into a copy; the variadic slice belongs to the caller.
	kv := make([]any, len(key))
	for i, a := range k.ID() {
		kv[i] = normalize(a.Type, key[i])
	}
	if e, ok := s.identity[identity(kind, kv)]; ok {
		if e.state == stateRemoved {
			return nil, NewNotFoundError(kind, kv...)
		}
		return e, nil
	}
	q := Select(kind).Where(keyPredicate(k, kv))
	got, err := q.Execute(ctx, s)
	if err != nil {
		return nil, err
	}
	switch len(got) {
	case 0:
		return nil, NewNotFoundError(kind, kv...)
	case 1:
		return got[0], nil
	default:
		return nil, NewNotSingularError(kind)
	}
}

func keyPredicate(k *schema.Kind, key []any) Predicate {
	preds := make([]Predicate, len(k.ID()))
	for i, a := range k.ID() {
		preds[i] = Col(k.Name, a.Name).EQ(key[i])
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return And(preds...)
}

// Commit flushes the pending write set in one backend transaction:
// deletions child-kind first, insertions owner-kind first, updates last.
// Constraint violations surface as ConstraintError with the pending sets
// left intact so the caller can repair the write set and retry; any
// other backend failure rolls back and surfaces as BackendError.
func (s *Session) Commit(ctx context.Context) error {
	if len(s.staged) == 0 && len(s.dirty) == 0 && len(s.deleted) == 0 {
		return nil
	}
	if err := s.expandDeletes(ctx); err != nil {
		return err
	}
	if err := s.precheck(); err != nil {
		return err
	}
	undo := &undoLog{}
	st, tx, err := s.store.Tx(ctx)
	if err != nil {
		return NewBackendError("flush", err)
	}
	if err := s.flush(ctx, st, undo); err != nil {
		_ = tx.Rollback()
		undo.revert()
		if sqlgraph.IsConstraintError(err) {
			return NewConstraintError(err.Error(), err)
		}
		return NewBackendError("flush", err)
	}
	if err := tx.Commit(); err != nil {
		undo.revert()
		if sqlgraph.IsConstraintError(err) {
			return NewConstraintError(err.Error(), err)
		}
		return NewBackendError("flush", err)
	}
	s.finalize()
	return nil
}

// precheck rejects write sets that can never flush, before any backend
// round trip: instances whose collection owner or to-one target is
// neither staged nor persistent, and required foreign keys with no
// pending source, would violate a constraint.
func (s *Session) precheck() error {
	for _, e := range s.staged {
		assigned := make(map[string]bool)
		for _, o := range e.owner {
			if o.owner.state == stateTransient {
				if _, ok := s.stagedSet[o.owner]; !ok {
					return NewConstraintError(
						fmt.Sprintf("%s depends on a %s that was never added", e.kind.Name, o.owner.kind.Name), nil)
				}
			}
			for _, col := range o.rel.Steps()[0].ToColumns {
				assigned[col] = true
			}
		}
		for name, t := range e.refs {
			if t == nil {
				continue
			}
			if t.state == stateTransient {
				if _, ok := s.stagedSet[t]; !ok {
					return NewConstraintError(
						fmt.Sprintf("%s.%s points at a %s that was never added", e.kind.Name, name, t.kind.Name), nil)
				}
			}
			r, err := e.kind.Relationship(name)
			if err != nil {
				return err
			}
			for _, col := range r.Steps()[0].FromColumns {
				assigned[col] = true
			}
		}
		for _, a := range e.kind.Attributes() {
			if a.Ref == nil || a.Nillable || a.Optional {
				continue
			}
			if e.values[a.Name] != nil || assigned[a.Column] {
				continue
			}
			return NewConstraintError(
				fmt.Sprintf("%s.%s references %s but no instance provides the key", e.kind.Name, a.Name, a.Ref.Kind), nil)
		}
	}
	return nil
}

// undoLog reverts attribute values assigned during a failed flush, such
// as backend-generated keys, so a retried commit starts clean.
type undoLog struct {
	entries []undoEntry
}

type undoEntry struct {
	ent  *Entity
	attr string
	old  any
	had  bool
}

func (u *undoLog) assign(e *Entity, attr string, v any) {
	old, had := e.values[attr]
	u.entries = append(u.entries, undoEntry{ent: e, attr: attr, old: old, had: had})
	e.values[attr] = v
}

func (u *undoLog) revert() {
	for i := len(u.entries) - 1; i >= 0; i-- {
		en := u.entries[i]
		if en.had {
			en.ent.values[en.attr] = en.old
		} else {
			delete(en.ent.values, en.attr)
		}
	}
}

func (s *Session) flush(ctx context.Context, st *sqlgraph.Store, undo *undoLog) error {
	order := s.kindOrder()
	rank := make(map[*schema.Kind]int, len(order))
	for i, k := range order {
		rank[k] = i
	}

	// Deletes first, child kinds before their owners.
	byRank := make([][]*Entity, len(order))
	for _, e := range s.deleted {
		r := rank[e.kind]
		byRank[r] = append(byRank[r], e)
	}
	for r := len(byRank) - 1; r >= 0; r-- {
		for _, e := range byRank[r] {
			key, ok := e.Key()
			if !ok {
				continue
			}
			if err := st.Delete(ctx, e.kind, key); err != nil {
				return err
			}
		}
	}

	// Inserts, owner kinds before their dependents so generated keys can
	// flow into foreign keys.
	byRank = make([][]*Entity, len(order))
	for _, e := range s.staged {
		r := rank[e.kind]
		byRank[r] = append(byRank[r], e)
	}
	for r := range byRank {
		for _, e := range byRank[r] {
			if err := s.insert(ctx, st, e, undo); err != nil {
				return err
			}
		}
	}

	// Updates of managed instances, changed columns only.
	for _, e := range s.dirty {
		if e.state != stateManaged || len(e.dirty) == 0 {
			continue
		}
		key, ok := e.Key()
		if !ok {
			continue
		}
		var cols []string
		var vals []any
		for _, a := range e.kind.Attributes() {
			if _, changed := e.dirty[a.Name]; !changed || a.PrimaryKey {
				continue
			}
			cols = append(cols, a.Column)
			vals = append(vals, e.values[a.Name])
		}
		if len(cols) == 0 {
			continue
		}
		if err := st.Update(ctx, e.kind, key, cols, vals); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) insert(ctx context.Context, st *sqlgraph.Store, e *Entity, undo *undoLog) error {
	// Pull foreign keys from the owning side now that owners are flushed.
	for _, o := range e.owner {
		if key, ok := o.owner.Key(); ok {
			step := o.rel.Steps()[0]
			for i, col := range step.ToColumns {
				if a := attributeByColumn(e.kind, col); a != nil {
					undo.assign(e, a.Name, normalize(a.Type, key[i]))
				}
			}
		}
	}
	for name, t := range e.refs {
		if t == nil {
			continue
		}
		key, ok := t.Key()
		if !ok {
			continue
		}
		r, err := e.kind.Relationship(name)
		if err != nil {
			return err
		}
		step := r.Steps()[0]
		for i, col := range step.FromColumns {
			if a := attributeByColumn(e.kind, col); a != nil {
				undo.assign(e, a.Name, normalize(a.Type, key[i]))
			}
		}
	}

	gen := sqlgraph.GeneratedKey(e.kind)
	genCol := ""
	if gen != nil && e.values[gen.Name] == nil {
		genCol = gen.Column
	}
	var cols []string
	var vals []any
	for _, a := range e.kind.Attributes() {
		v, ok := e.values[a.Name]
		if !ok || v == nil {
			continue
		}
		cols = append(cols, a.Column)
		vals = append(vals, v)
	}
	id, err := st.Insert(ctx, e.kind, cols, vals, genCol)
	if err != nil {
		return err
	}
	if genCol != "" {
		undo.assign(e, gen.Name, id)
	}
	return nil
}

// kindOrder returns the registry kinds topologically sorted so that every
// foreign-key target precedes the kinds referencing it, breaking ties by
// registration order.
func (s *Session) kindOrder() []*schema.Kind {
	kinds := s.reg.Kinds()
	indeg := make(map[*schema.Kind]int, len(kinds))
	deps := make(map[*schema.Kind][]*schema.Kind, len(kinds))
	for _, k := range kinds {
		indeg[k] += 0
		for _, a := range k.Attributes() {
			if a.Ref == nil || a.Ref.Kind == k.Name {
				continue
			}
			target, err := s.reg.Kind(a.Ref.Kind)
			if err != nil {
				continue
			}
			deps[target] = append(deps[target], k)
			indeg[k]++
		}
	}
	order := make([]*schema.Kind, 0, len(kinds))
	placed := make(map[*schema.Kind]bool, len(kinds))
	for len(order) < len(kinds) {
		var next *schema.Kind
		for _, k := range kinds {
			if placed[k] || indeg[k] > 0 {
				continue
			}
			if next == nil || k.Pos() < next.Pos() {
				next = k
			}
		}
		if next == nil {
			// Reference cycle; fall back to registration order for the rest.
			for _, k := range kinds {
				if !placed[k] {
					order = append(order, k)
					placed[k] = true
				}
			}
			break
		}
		placed[next] = true
		order = append(order, next)
		for _, d := range deps[next] {
			indeg[d]--
		}
	}
	return order
}

// finalize promotes the flushed write set: staged instances become
// managed and enter the identity map, deleted instances leave it, dirty
// marks clear, and the client cache is invalidated.
func (s *Session) finalize() {
	for _, e := range s.staged {
		e.state = stateManaged
		if key, ok := e.Key(); ok {
			s.identity[identity(e.kind.Name, key)] = e
		}
	}
	for _, e := range s.deleted {
		if key, ok := e.Key(); ok {
			delete(s.identity, identity(e.kind.Name, key))
		}
	}
	for _, e := range s.dirty {
		e.dirty = make(map[string]struct{})
	}
	s.staged = nil
	s.stagedSet = make(map[*Entity]struct{})
	s.dirty = nil
	s.dirtySet = make(map[*Entity]struct{})
	s.deleted = nil
	if s.client.cache != nil {
		s.client.cache.Clear()
	}
}
