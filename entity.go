package loom

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/field"
)

type entityState uint8

const (
	stateTransient entityState = iota // created, not yet flushed.
	stateManaged                      // loaded or flushed, key assigned.
	stateRemoved                      // scheduled for deletion.
)

// Entity is an in-memory instance of an entity kind, owned by the session
// that created or loaded it. Relationship collections carry an explicit
// loaded tag; reading an unloaded collection returns NotLoadedError
// instead of triggering hidden I/O.
type Entity struct {
	kind  *schema.Kind
	sess  *Session
	state entityState

	values map[string]any
	dirty  map[string]struct{} // changed attributes of a managed entity.

	colls map[string]*collection // to-many collections by relationship name.
	refs  map[string]*Entity     // to-one references by relationship name.
	owner map[string]ownerRef    // reverse side of collection membership.
}

type collection struct {
	loaded bool
	items  []*Entity
}

type ownerRef struct {
	owner *Entity
	rel   *schema.Relationship
}

// Kind returns the entity kind.
func (e *Entity) Kind() *schema.Kind { return e.kind }

// Get returns the value of the named attribute, or nil.
func (e *Entity) Get(attr string) any { return e.values[attr] }

// String returns the string value of the named attribute.
func (e *Entity) String(attr string) string {
	s, _ := e.values[attr].(string)
	return s
}

// Int returns the int64 value of the named attribute.
func (e *Entity) Int(attr string) int64 {
	n, _ := e.values[attr].(int64)
	return n
}

// Float returns the float64 value of the named attribute.
func (e *Entity) Float(attr string) float64 {
	f, _ := e.values[attr].(float64)
	return f
}

// Time returns the time value of the named attribute.
func (e *Entity) Time(attr string) time.Time {
	t, _ := e.values[attr].(time.Time)
	return t
}

// Set assigns the named attribute, running its validators. Setting an
// attribute of a managed entity marks the entity dirty for the next flush.
func (e *Entity) Set(attr string, v any) error {
	a := e.kind.Attribute(attr)
	if a == nil {
		return &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("undeclared attribute %q", attr)}
	}
	if e.state == stateManaged && (a.Immutable || a.PrimaryKey) {
		return &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("attribute %q is immutable", attr)}
	}
	v = normalize(a.Type, v)
	if v != nil {
		if err := a.Validate(v); err != nil {
			return &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("attribute %q: %v", attr, err)}
		}
	}
	e.values[attr] = v
	if e.state == stateManaged {
		e.dirty[attr] = struct{}{}
		e.sess.markDirty(e)
	}
	return nil
}

// Key returns the primary-key tuple of the entity. ok is false while any
// key component is still unassigned (transient instances).
func (e *Entity) Key() (key []any, ok bool) {
	id := e.kind.ID()
	key = make([]any, len(id))
	for i, a := range id {
		v := e.values[a.Name]
		if v == nil {
			return nil, false
		}
		key[i] = v
	}
	return key, true
}

// Related returns the to-many collection of the named relationship.
// The collection must be loaded, either by an eager (joined) fetch or an
// explicit Session.Resolve call.
func (e *Entity) Related(rel string) ([]*Entity, error) {
	r, err := e.kind.Relationship(rel)
	if err != nil {
		return nil, err
	}
	if r.Unique {
		return nil, &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("relationship %q is to-one, use Ref", rel)}
	}
	c := e.colls[rel]
	if c == nil || !c.loaded {
		return nil, NewNotLoadedError(rel)
	}
	return c.items, nil
}

// Ref returns the to-one reference of the named relationship, or nil if
// unset. Loaded eagerly for joined relationships.
func (e *Entity) Ref(rel string) (*Entity, error) {
	r, err := e.kind.Relationship(rel)
	if err != nil {
		return nil, err
	}
	if !r.Unique {
		return nil, &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("relationship %q is to-many, use Related", rel)}
	}
	return e.refs[rel], nil
}

// Append adds child to the entity's to-many collection. Under a
// save-update or delete-orphan cascade the child becomes part of the
// owner's write set when the owner is added to the session; its foreign
// keys toward the owner are assigned at flush time.
func (e *Entity) Append(rel string, child *Entity) error {
	r, err := e.kind.Relationship(rel)
	if err != nil {
		return err
	}
	if r.Unique {
		return &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("relationship %q is to-one, use SetRef", rel)}
	}
	if r.Through != nil {
		return &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("relationship %q goes through %q, append to the association collection instead", rel, r.Through.Name)}
	}
	if child.kind != r.Next() {
		return &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("relationship %q expects kind %q, got %q", rel, r.Next().Name, child.kind.Name)}
	}
	c := e.colls[rel]
	if c == nil {
		c = &collection{loaded: true}
		e.colls[rel] = c
	}
	for _, it := range c.items {
		if it == child {
			return nil
		}
	}
	c.items = append(c.items, child)
	child.owner[ownerKeyOf(e, r)] = ownerRef{owner: e, rel: r}
	return nil
}

// SetRef sets the entity's to-one reference. The foreign-key attributes
// are assigned from the target's key at flush time if the target key is
// not yet known.
func (e *Entity) SetRef(rel string, target *Entity) error {
	r, err := e.kind.Relationship(rel)
	if err != nil {
		return err
	}
	if !r.Unique {
		return &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("relationship %q is to-many, use Append", rel)}
	}
	if target != nil && target.kind != r.Next() {
		return &SchemaError{Kind: e.kind.Name, Msg: fmt.Sprintf("relationship %q expects kind %q, got %q", rel, r.Next().Name, target.kind.Name)}
	}
	e.refs[rel] = target
	if target != nil {
		if key, ok := target.Key(); ok {
			e.assignForeignKey(r, key)
		}
	}
	return nil
}

// assignForeignKey copies the target key into the FK attributes of the
// relationship's single step.
func (e *Entity) assignForeignKey(r *schema.Relationship, key []any) {
	step := r.Steps()[0]
	for i, col := range step.FromColumns {
		a := attributeByColumn(e.kind, col)
		if a != nil {
			e.values[a.Name] = normalize(a.Type, key[i])
			if e.state == stateManaged {
				e.dirty[a.Name] = struct{}{}
			}
		}
	}
}

func attributeByColumn(k *schema.Kind, col string) *schema.Attribute {
	for _, a := range k.Attributes() {
		if a.Column == col {
			return a
		}
	}
	return nil
}

func ownerKeyOf(owner *Entity, r *schema.Relationship) string {
	return owner.kind.Name + "." + r.Name
}

// identity returns the identity-map key of the given kind and key tuple.
func identity(kind string, key []any) string {
	var sb strings.Builder
	sb.WriteString(kind)
	for _, v := range key {
		fmt.Fprintf(&sb, "\x00%v", v)
	}
	return sb.String()
}

// normalize coerces a caller or backend value into the canonical in-memory
// representation of the attribute type, so key tuples and comparisons are
// stable regardless of the value's origin.
func normalize(t field.Type, v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case field.TypeInt, field.TypeInt64:
		switch n := v.(type) {
		case int:
			return int64(n)
		case int32:
			return int64(n)
		case int64:
			return n
		case uint:
			return int64(n)
		case uint64:
			return int64(n)
		}
	case field.TypeFloat64:
		switch f := v.(type) {
		case float32:
			return float64(f)
		case float64:
			return f
		case int:
			return float64(f)
		case int64:
			return float64(f)
		}
	case field.TypeUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u.String()
		case string:
			return u
		}
	}
	return v
}
