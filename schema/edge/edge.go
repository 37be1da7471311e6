// Package edge provides fluent builders for declaring relationships
// between entity kinds.
//
// A relationship is declared on its owner kind and names the kind it
// navigates to. The two shapes the engine supports are one-to-many and
// many-to-many through an association kind that carries its own payload:
//
//	// Order has many OrderItems, which it owns.
//	edge.To("order_items", "order_item").
//	    Cascade(edge.DeleteOrphan)
//
//	// OrderItem references exactly one Item, fetched in the same
//	// round trip as its owner.
//	edge.To("item", "item").Unique().Loading(edge.Joined)
//
//	// The back-reference is declared independently on the child kind.
//	edge.From("order", "order").Ref("order_items").Unique()
//
// Association-object (many-to-many with payload) relationships go through
// the linking kind:
//
//	edge.To("items", "item").Through("order_item")
package edge

// Cascade controls how session operations propagate over a relationship.
type Cascade uint8

const (
	// CascadeNone propagates nothing.
	CascadeNone Cascade = iota
	// SaveUpdate propagates Add: adding the owner adds every transient
	// instance reachable over this relationship.
	SaveUpdate
	// DeleteOrphan includes SaveUpdate and additionally deletes an
	// instance once it is removed from its owner's collection, or when
	// the owner itself is deleted.
	DeleteOrphan
)

// String returns the cascade rule name.
func (c Cascade) String() string {
	switch c {
	case SaveUpdate:
		return "save-update"
	case DeleteOrphan:
		return "delete-orphan"
	default:
		return "none"
	}
}

// Loading controls when the relationship's data is fetched.
type Loading uint8

const (
	// Lazy defers the fetch to an explicit Session.Resolve call.
	Lazy Loading = iota
	// Joined fetches the relationship in the same backend round trip
	// as its owner.
	Joined
)

// String returns the loading strategy name.
func (l Loading) String() string {
	if l == Joined {
		return "joined"
	}
	return "lazy"
}

// A Descriptor for relationship configuration.
type Descriptor struct {
	Name    string  // relationship name on the owner kind.
	Kind    string  // target kind name.
	Through string  // linking kind for association relationships.
	RefName string  // inverse reference name (From edges).
	Inverse bool    // declared with From.
	Unique  bool    // to-one relationship.
	Require bool    // required on instance creation.
	Rule    Cascade // cascade rule.
	Load    Loading // loading strategy.
	Comment string  // relationship comment.
}

// To returns a builder for a relationship from the owner kind to the
// kind named by target.
func To(name, target string) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Kind: target}}
}

// From returns a builder for the inverse direction of a relationship
// declared on the target kind with To. The two directions are independent
// declarations kept consistent by the registry.
func From(name, target string) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Kind: target, Inverse: true}}
}

// Builder is the builder for relationship descriptors.
type Builder struct {
	desc *Descriptor
}

// Ref names the To relationship on the target kind this edge is the
// inverse of. Valid only for From edges.
func (b *Builder) Ref(name string) *Builder {
	b.desc.RefName = name
	return b
}

// Through routes the relationship over the given linking (association)
// kind. The linking kind's primary key must be the concatenation of the
// two endpoint keys, enforced by the registry.
func (b *Builder) Through(kind string) *Builder {
	b.desc.Through = kind
	return b
}

// Unique marks the relationship as to-one.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Required marks the relationship as required on instance creation.
func (b *Builder) Required() *Builder {
	b.desc.Require = true
	return b
}

// Cascade sets the cascade rule of the relationship.
func (b *Builder) Cascade(c Cascade) *Builder {
	b.desc.Rule = c
	return b
}

// Loading sets the loading strategy of the relationship.
func (b *Builder) Loading(l Loading) *Builder {
	b.desc.Load = l
	return b
}

// Comment sets the relationship comment.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Descriptor returns the descriptor of the relationship.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}
