package schema

import (
	"github.com/syssam/loom/schema/edge"
)

// Relationship is a declared, resolved relationship between two kinds.
// Join columns are computed once at declaration time from the foreign-key
// references of the kinds involved.
type Relationship struct {
	Name    string
	Owner   *Kind
	Target  *Kind
	Through *Kind // linking kind for association relationships, else nil.
	Unique  bool
	Inverse bool
	RefName string
	Rule    edge.Cascade
	Load    edge.Loading

	steps []Step
}

// Step is one storage-level join: From.FromColumns = To.ToColumns,
// pairwise in order.
type Step struct {
	From        *Kind
	To          *Kind
	FromColumns []string
	ToColumns   []string
}

// Steps returns the join steps from the owner to the kind the
// relationship introduces. Direct relationships have one step;
// association (Through) relationships have two.
func (rel *Relationship) Steps() []Step { return rel.steps }

// Next returns the kind introduced by navigating the relationship.
func (rel *Relationship) Next() *Kind { return rel.Target }

// Owning reports whether removing the owner (or removing a child from the
// owner's collection) deletes the child.
func (rel *Relationship) Owning() bool {
	return rel.Rule == edge.DeleteOrphan && !rel.Unique
}

// DefineRelationship attaches the relationship described by desc to the
// owner kind. Both endpoints (and the linking kind, for association
// relationships) must already be defined.
func (r *Registry) DefineRelationship(owner string, desc *edge.Descriptor) error {
	if r.frozen {
		return errf(owner, "registry is frozen")
	}
	o, ok := r.kinds[owner]
	if !ok {
		return errf(owner, "undeclared kind")
	}
	if _, ok := o.rels[desc.Name]; ok {
		return errf(owner, "duplicate relationship %q", desc.Name)
	}
	target, ok := r.kinds[desc.Kind]
	if !ok {
		return errf(owner, "relationship %q: undeclared target kind %q", desc.Name, desc.Kind)
	}
	rel := &Relationship{
		Name:    desc.Name,
		Owner:   o,
		Target:  target,
		Unique:  desc.Unique,
		Inverse: desc.Inverse,
		RefName: desc.RefName,
		Rule:    desc.Rule,
		Load:    desc.Load,
	}
	if desc.Through != "" {
		link, ok := r.kinds[desc.Through]
		if !ok {
			return errf(owner, "relationship %q: undeclared linking kind %q", desc.Name, desc.Through)
		}
		rel.Through = link
		if err := r.resolveThrough(rel); err != nil {
			return err
		}
	} else if err := r.resolveDirect(rel); err != nil {
		return err
	}
	if rel.Inverse && rel.RefName != "" {
		// The inverse declaration points at a To relationship on the
		// target; the two stay independent but must agree on the kinds.
		if ref, ok := target.rels[rel.RefName]; ok && ref.Target != o {
			return errf(owner, "relationship %q: reference %q on %q does not point back", desc.Name, rel.RefName, target.Name)
		}
	}
	o.rels[desc.Name] = rel
	o.relList = append(o.relList, rel)
	return nil
}

// foreignKeys returns the attributes of k that reference the full primary
// key of target, in target-key order. ok is false if the coverage is
// incomplete.
func foreignKeys(k, target *Kind) (cols []string, ok bool) {
	for _, id := range target.id {
		var found *Attribute
		for _, a := range k.attrs {
			if a.Ref != nil && a.Ref.Kind == target.Name && a.Ref.Attribute == id.Name {
				found = a
				break
			}
		}
		if found == nil {
			return nil, false
		}
		cols = append(cols, found.Column)
	}
	return cols, true
}

func keyColumns(k *Kind) []string {
	cols := make([]string, len(k.id))
	for i, a := range k.id {
		cols[i] = a.Column
	}
	return cols
}

func (r *Registry) resolveDirect(rel *Relationship) error {
	o, t := rel.Owner, rel.Target
	// FK on the declaring kind referencing the target key (to-one), or
	// FK on the target referencing the declaring kind's key (to-many).
	if fks, ok := foreignKeys(o, t); ok && rel.Unique {
		rel.steps = []Step{{From: o, To: t, FromColumns: fks, ToColumns: keyColumns(t)}}
		return nil
	}
	if fks, ok := foreignKeys(t, o); ok {
		rel.steps = []Step{{From: o, To: t, FromColumns: keyColumns(o), ToColumns: fks}}
		return nil
	}
	return errf(o.Name, "relationship %q: no foreign key connects %q and %q", rel.Name, o.Name, t.Name)
}

func (r *Registry) resolveThrough(rel *Relationship) error {
	o, t, link := rel.Owner, rel.Target, rel.Through
	ownerFKs, ok := foreignKeys(link, o)
	if !ok {
		return errf(o.Name, "relationship %q: linking kind %q does not reference %q", rel.Name, link.Name, o.Name)
	}
	targetFKs, ok := foreignKeys(link, t)
	if !ok {
		return errf(o.Name, "relationship %q: linking kind %q does not reference %q", rel.Name, link.Name, t.Name)
	}
	// The linking key must be drawn from the two endpoint keys so that
	// at most one association row exists per endpoint pair.
	endpoint := make(map[string]bool, len(ownerFKs)+len(targetFKs))
	for _, c := range ownerFKs {
		endpoint[c] = true
	}
	for _, c := range targetFKs {
		endpoint[c] = true
	}
	for _, id := range link.id {
		if !endpoint[id.Column] {
			return errf(o.Name, "relationship %q: linking key %q.%s is not part of either endpoint key", rel.Name, link.Name, id.Name)
		}
	}
	rel.steps = []Step{
		{From: o, To: link, FromColumns: keyColumns(o), ToColumns: ownerFKs},
		{From: link, To: t, FromColumns: targetFKs, ToColumns: keyColumns(t)},
	}
	return nil
}
