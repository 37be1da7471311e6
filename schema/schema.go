// Package schema implements the entity registry: the process-wide,
// read-only description of entity kinds, their attributes, and the
// relationships between them.
//
// A registry is built once at startup with fluent field and edge
// descriptors and then frozen. Frozen registries are immutable and safe
// to share across any number of sessions:
//
//	reg := schema.NewRegistry()
//	reg.MustDefine("item",
//	    []*field.Descriptor{
//	        field.Int("item_id").Descriptor(),
//	        field.String("description").NotEmpty().Descriptor(),
//	        field.Float("price").Positive().Descriptor(),
//	    },
//	    schema.Keys("item_id"),
//	)
//	...
//	reg.Freeze()
package schema

import (
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/syssam/loom/schema/field"
)

// Error is a schema declaration or reference error. It is always surfaced
// immediately and never retried.
type Error struct {
	Kind string // entity kind involved, if known.
	Msg  string
}

// Error returns the error string.
func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("schema: %s: %s", e.Kind, e.Msg)
	}
	return "schema: " + e.Msg
}

func errf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Ref names the attribute of another kind a foreign key points at.
type Ref struct {
	Kind      string
	Attribute string
}

// Attribute is a resolved attribute of an entity kind.
type Attribute struct {
	Name       string
	Type       field.Type
	Column     string
	Nillable   bool
	Optional   bool
	Unique     bool
	Immutable  bool
	PrimaryKey bool
	Ref        *Ref // foreign-key target, if any.

	desc *field.Descriptor
}

// DefaultValue returns the attribute default, evaluated per call for
// function defaults. ok is false if the attribute has no default.
func (a *Attribute) DefaultValue() (any, bool) {
	return a.desc.DefaultValue()
}

// Validate runs the attribute validators against the given value.
func (a *Attribute) Validate(v any) error {
	for _, fn := range a.desc.Validators {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// Kind is a declared entity kind.
type Kind struct {
	Name  string
	Table string

	attrs   []*Attribute
	byName  map[string]*Attribute
	id      []*Attribute
	rels    map[string]*Relationship
	relList []*Relationship
	pos     int // registration order, used as a flush-order tie break.
}

// Attributes returns the attributes in declaration order.
func (k *Kind) Attributes() []*Attribute { return k.attrs }

// Attribute returns the named attribute, or nil.
func (k *Kind) Attribute(name string) *Attribute { return k.byName[name] }

// ID returns the primary-key attributes as an ordered tuple.
func (k *Kind) ID() []*Attribute { return k.id }

// Relationships returns the kind's relationships in declaration order.
func (k *Kind) Relationships() []*Relationship { return k.relList }

// Relationship returns the named relationship declared on the kind,
// or a schema error if it is undeclared.
func (k *Kind) Relationship(name string) (*Relationship, error) {
	r, ok := k.rels[name]
	if !ok {
		return nil, errf(k.Name, "undeclared relationship %q", name)
	}
	return r, nil
}

// Pos returns the registration order of the kind.
func (k *Kind) Pos() int { return k.pos }

// KindOption configures a kind at definition time.
type KindOption func(*kindConfig)

type kindConfig struct {
	table string
	keys  []string
	refs  []attrRef
}

type attrRef struct {
	attr   string
	kind   string
	target string
}

// Keys selects the ordered primary-key tuple of the kind.
func Keys(attrs ...string) KindOption {
	return func(c *kindConfig) { c.keys = attrs }
}

// Table overrides the derived table name.
func Table(name string) KindOption {
	return func(c *kindConfig) { c.table = name }
}

// Reference declares the attribute as a foreign key to kind.target.
// The target kind must already be defined.
func Reference(attr, kind, target string) KindOption {
	return func(c *kindConfig) {
		c.refs = append(c.refs, attrRef{attr: attr, kind: kind, target: target})
	}
}

// Registry holds the entity kinds of one application. It is mutable while
// being built and immutable after Freeze.
type Registry struct {
	kinds  map[string]*Kind
	order  []*Kind
	frozen bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*Kind)}
}

// Define declares a new entity kind with the given attributes.
// The primary key is selected with the Keys option and must name
// declared attributes; composite keys keep the Keys order.
func (r *Registry) Define(name string, fields []*field.Descriptor, opts ...KindOption) (*Kind, error) {
	if r.frozen {
		return nil, errf(name, "registry is frozen")
	}
	if name == "" {
		return nil, errf("", "kind name must not be empty")
	}
	if _, ok := r.kinds[name]; ok {
		return nil, errf(name, "kind already defined")
	}
	cfg := &kindConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.keys) == 0 {
		return nil, errf(name, "primary key is required")
	}
	k := &Kind{
		Name:   name,
		Table:  cfg.table,
		byName: make(map[string]*Attribute, len(fields)),
		rels:   make(map[string]*Relationship),
		pos:    len(r.order),
	}
	if k.Table == "" {
		k.Table = inflect.Underscore(name)
	}
	for _, fd := range fields {
		if fd.Err != nil {
			return nil, errf(name, "attribute %q: %v", fd.Name, fd.Err)
		}
		if !fd.Type.Valid() {
			return nil, errf(name, "attribute %q has invalid type", fd.Name)
		}
		if _, ok := k.byName[fd.Name]; ok {
			return nil, errf(name, "duplicate attribute %q", fd.Name)
		}
		a := &Attribute{
			Name:      fd.Name,
			Type:      fd.Type,
			Column:    fd.Column(),
			Nillable:  fd.Nillable,
			Optional:  fd.Optional,
			Unique:    fd.Unique,
			Immutable: fd.Immutable,
			desc:      fd,
		}
		k.attrs = append(k.attrs, a)
		k.byName[a.Name] = a
	}
	for _, key := range cfg.keys {
		a, ok := k.byName[key]
		if !ok {
			return nil, errf(name, "primary-key attribute %q is not declared", key)
		}
		if a.Nillable {
			return nil, errf(name, "primary-key attribute %q must not be nillable", key)
		}
		a.PrimaryKey = true
		k.id = append(k.id, a)
	}
	for _, ref := range cfg.refs {
		a, ok := k.byName[ref.attr]
		if !ok {
			return nil, errf(name, "foreign-key attribute %q is not declared", ref.attr)
		}
		target, ok := r.kinds[ref.kind]
		if !ok {
			return nil, errf(name, "foreign-key target kind %q is not declared", ref.kind)
		}
		if target.Attribute(ref.target) == nil {
			return nil, errf(name, "foreign-key target %s.%s is not declared", ref.kind, ref.target)
		}
		a.Ref = &Ref{Kind: ref.kind, Attribute: ref.target}
	}
	r.kinds[name] = k
	r.order = append(r.order, k)
	return k, nil
}

// MustDefine is like Define but panics on error. Intended for startup code.
func (r *Registry) MustDefine(name string, fields []*field.Descriptor, opts ...KindOption) *Kind {
	k, err := r.Define(name, fields, opts...)
	if err != nil {
		panic(err)
	}
	return k
}

// Kind returns the named kind, or a schema error if it is undeclared.
func (r *Registry) Kind(name string) (*Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return nil, errf(name, "undeclared kind")
	}
	return k, nil
}

// Kinds returns all kinds in registration order.
func (r *Registry) Kinds() []*Kind { return r.order }

// Freeze makes the registry immutable. Any later Define or
// DefineRelationship fails.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether the registry was frozen.
func (r *Registry) Frozen() bool { return r.frozen }
