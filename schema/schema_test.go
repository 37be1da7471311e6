package schema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/edge"
	"github.com/syssam/loom/schema/field"
)

func orderItemRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	reg.MustDefine("order",
		[]*field.Descriptor{
			field.Int("order_id").Descriptor(),
			field.String("customer_name").NotEmpty().Descriptor(),
		},
		schema.Keys("order_id"),
	)
	reg.MustDefine("item",
		[]*field.Descriptor{
			field.Int("item_id").Descriptor(),
			field.String("description").NotEmpty().Descriptor(),
			field.Float("price").Positive().Descriptor(),
		},
		schema.Keys("item_id"),
	)
	reg.MustDefine("order_item",
		[]*field.Descriptor{
			field.Int("order_id").Descriptor(),
			field.Int("item_id").Descriptor(),
			field.Float("price").Positive().Descriptor(),
		},
		schema.Keys("order_id", "item_id"),
		schema.Reference("order_id", "order", "order_id"),
		schema.Reference("item_id", "item", "item_id"),
	)
	return reg
}

func TestDefine(t *testing.T) {
	reg := orderItemRegistry(t)
	k, err := reg.Kind("order_item")
	require.NoError(t, err)
	require.Equal(t, "order_item", k.Table)
	require.Len(t, k.ID(), 2)
	require.Equal(t, "order_id", k.ID()[0].Name)
	require.Equal(t, "item_id", k.ID()[1].Name)
	require.NotNil(t, k.Attribute("price"))
	require.Nil(t, k.Attribute("missing"))
	require.Equal(t, "order", k.Attribute("order_id").Ref.Kind)
}

func TestDefineTableName(t *testing.T) {
	reg := schema.NewRegistry()
	k := reg.MustDefine("customer_account",
		[]*field.Descriptor{field.Int("id").Descriptor()},
		schema.Keys("id"),
	)
	require.Equal(t, "customer_account", k.Table)

	k = reg.MustDefine("invoice",
		[]*field.Descriptor{field.Int("id").Descriptor()},
		schema.Keys("id"), schema.Table("invoices"),
	)
	require.Equal(t, "invoices", k.Table)
}

func TestDefineErrors(t *testing.T) {
	reg := schema.NewRegistry()
	// Missing primary key.
	_, err := reg.Define("a", []*field.Descriptor{field.Int("x").Descriptor()})
	require.Error(t, err)
	var se *schema.Error
	require.ErrorAs(t, err, &se)

	// Undeclared key attribute.
	_, err = reg.Define("b", []*field.Descriptor{field.Int("x").Descriptor()}, schema.Keys("y"))
	require.Error(t, err)

	// Duplicate attribute.
	_, err = reg.Define("c",
		[]*field.Descriptor{field.Int("x").Descriptor(), field.Int("x").Descriptor()},
		schema.Keys("x"))
	require.Error(t, err)

	// Nillable key.
	_, err = reg.Define("d",
		[]*field.Descriptor{field.Int("x").Nillable().Descriptor()},
		schema.Keys("x"))
	require.Error(t, err)

	// Duplicate kind.
	reg.MustDefine("e", []*field.Descriptor{field.Int("x").Descriptor()}, schema.Keys("x"))
	_, err = reg.Define("e", []*field.Descriptor{field.Int("x").Descriptor()}, schema.Keys("x"))
	require.Error(t, err)

	// Undeclared foreign-key target.
	_, err = reg.Define("f",
		[]*field.Descriptor{field.Int("x").Descriptor()},
		schema.Keys("x"), schema.Reference("x", "nope", "id"))
	require.Error(t, err)
}

func TestFreeze(t *testing.T) {
	reg := orderItemRegistry(t)
	require.False(t, reg.Frozen())
	reg.Freeze()
	require.True(t, reg.Frozen())
	_, err := reg.Define("late", []*field.Descriptor{field.Int("x").Descriptor()}, schema.Keys("x"))
	require.Error(t, err)
	err = reg.DefineRelationship("order", edge.To("late", "item").Descriptor())
	require.Error(t, err)
}

func TestDirectRelationship(t *testing.T) {
	reg := orderItemRegistry(t)
	require.NoError(t, reg.DefineRelationship("order",
		edge.To("order_items", "order_item").Cascade(edge.DeleteOrphan).Descriptor()))
	require.NoError(t, reg.DefineRelationship("order_item",
		edge.To("item", "item").Unique().Descriptor()))

	o, _ := reg.Kind("order")
	rel, err := o.Relationship("order_items")
	require.NoError(t, err)
	require.False(t, rel.Unique)
	require.True(t, rel.Owning())
	require.Len(t, rel.Steps(), 1)
	step := rel.Steps()[0]
	require.Equal(t, []string{"order_id"}, step.FromColumns)
	require.Equal(t, []string{"order_id"}, step.ToColumns)
	require.Equal(t, "order_item", step.To.Name)

	oi, _ := reg.Kind("order_item")
	rel, err = oi.Relationship("item")
	require.NoError(t, err)
	require.True(t, rel.Unique)
	require.False(t, rel.Owning())
	step = rel.Steps()[0]
	require.Equal(t, []string{"item_id"}, step.FromColumns)
	require.Equal(t, []string{"item_id"}, step.ToColumns)

	_, err = o.Relationship("nope")
	require.Error(t, err)
}

func TestThroughRelationship(t *testing.T) {
	reg := orderItemRegistry(t)
	require.NoError(t, reg.DefineRelationship("order",
		edge.To("items", "item").Through("order_item").Descriptor()))

	o, _ := reg.Kind("order")
	rel, err := o.Relationship("items")
	require.NoError(t, err)
	require.NotNil(t, rel.Through)
	require.Equal(t, "order_item", rel.Through.Name)
	require.Len(t, rel.Steps(), 2)
	require.Equal(t, "order_item", rel.Steps()[0].To.Name)
	require.Equal(t, "item", rel.Steps()[1].To.Name)
}

func TestThroughKeyShape(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustDefine("a", []*field.Descriptor{field.Int("a_id").Descriptor()}, schema.Keys("a_id"))
	reg.MustDefine("b", []*field.Descriptor{field.Int("b_id").Descriptor()}, schema.Keys("b_id"))
	// Linking kind with a surrogate key that is not drawn from the
	// endpoint keys.
	reg.MustDefine("link",
		[]*field.Descriptor{
			field.Int("link_id").Descriptor(),
			field.Int("a_id").Descriptor(),
			field.Int("b_id").Descriptor(),
		},
		schema.Keys("link_id"),
		schema.Reference("a_id", "a", "a_id"),
		schema.Reference("b_id", "b", "b_id"),
	)
	err := reg.DefineRelationship("a", edge.To("bs", "b").Through("link").Descriptor())
	require.Error(t, err)
	require.Contains(t, err.Error(), "link_id")
}

func TestRelationshipWithoutForeignKey(t *testing.T) {
	reg := schema.NewRegistry()
	reg.MustDefine("a", []*field.Descriptor{field.Int("a_id").Descriptor()}, schema.Keys("a_id"))
	reg.MustDefine("b", []*field.Descriptor{field.Int("b_id").Descriptor()}, schema.Keys("b_id"))
	err := reg.DefineRelationship("a", edge.To("bs", "b").Descriptor())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no foreign key")
}

func TestDump(t *testing.T) {
	reg := orderItemRegistry(t)
	require.NoError(t, reg.DefineRelationship("order",
		edge.To("order_items", "order_item").Cascade(edge.DeleteOrphan).Descriptor()))
	var sb strings.Builder
	require.NoError(t, reg.Dump(&sb))
	out := sb.String()
	require.Contains(t, out, "name: order_item")
	require.Contains(t, out, "ref: order.order_id")
	require.Contains(t, out, "cascade: delete-orphan")
	require.Contains(t, out, "primary_key: true")
}
