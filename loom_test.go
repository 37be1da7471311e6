package loom_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/loom"
	"github.com/syssam/loom/dialect/sql"
	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/edge"
	"github.com/syssam/loom/schema/field"
)

func newTestRegistry(t *testing.T) *schema.Registry {
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
	require.NoError(t, reg.DefineRelationship("order",
		edge.To("order_items", "order_item").Cascade(edge.DeleteOrphan).Descriptor()))
	require.NoError(t, reg.DefineRelationship("order",
		edge.To("items", "item").Through("order_item").Descriptor()))
	require.NoError(t, reg.DefineRelationship("order_item",
		edge.To("item", "item").Unique().Loading(edge.Joined).Descriptor()))
	return reg
}

func newTestClient(t *testing.T, opts ...loom.Option) *loom.Client {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "loom.db") + "?_pragma=foreign_keys(1)"
	drv, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	client := loom.NewClient(newTestRegistry(t), drv, opts...)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.CreateTables(context.Background()))
	return client
}

// seedCatalog inserts the three catalog items and returns their session
// instances keyed by description.
func seedCatalog(t *testing.T, ctx context.Context, sess *loom.Session) map[string]*loom.Entity {
	t.Helper()
	items := make(map[string]*loom.Entity)
	for _, it := range []struct {
		desc  string
		price float64
	}{
		{"SA Mug", 6.50},
		{"SA Hat", 8.99},
		{"MySQL Crowbar", 16.99},
	} {
		item, err := sess.New("item", map[string]any{"description": it.desc, "price": it.price})
		require.NoError(t, err)
		require.NoError(t, sess.Add(item))
		items[it.desc] = item
	}
	require.NoError(t, sess.Commit(ctx))
	return items
}

// placeOrder creates an order for the given customer with one line per
// entry; a non-zero override replaces the catalog price.
func placeOrder(t *testing.T, ctx context.Context, sess *loom.Session, customer string, lines map[string]float64, items map[string]*loom.Entity) *loom.Entity {
	t.Helper()
	order, err := sess.New("order", map[string]any{"customer_name": customer})
	require.NoError(t, err)
	for _, desc := range []string{"SA Mug", "MySQL Crowbar", "SA Hat"} {
		price, ok := lines[desc]
		if !ok {
			continue
		}
		if price == 0 {
			price = items[desc].Float("price")
		}
		oi, err := sess.New("order_item", map[string]any{"price": price})
		require.NoError(t, err)
		require.NoError(t, oi.SetRef("item", items[desc]))
		require.NoError(t, order.Append("order_items", oi))
	}
	require.NoError(t, sess.Add(order))
	require.NoError(t, sess.Commit(ctx))
	return order
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)

	// The crowbar sells below catalog price on this order.
	order := placeOrder(t, ctx, sess, "john smith",
		map[string]float64{"SA Mug": 0, "MySQL Crowbar": 10.99, "SA Hat": 0}, items)
	key, ok := order.Key()
	require.True(t, ok)

	// A fresh session sees the committed state.
	sess2 := client.Session()
	got, err := sess2.Get(ctx, "order", key[0])
	require.NoError(t, err)
	require.Equal(t, "john smith", got.String("customer_name"))

	require.NoError(t, sess2.Resolve(ctx, got, "order_items"))
	lines, err := got.Related("order_items")
	require.NoError(t, err)
	require.Len(t, lines, 3)

	prices := make(map[string]float64)
	for _, line := range lines {
		require.NoError(t, sess2.Resolve(ctx, line, "item"))
		item, err := line.Ref("item")
		require.NoError(t, err)
		prices[item.String("description")] = line.Float("price")
	}
	require.Equal(t, map[string]float64{
		"SA Mug":        6.50,
		"SA Hat":        8.99,
		"MySQL Crowbar": 10.99, // override survives the round trip.
	}, prices)

	// Catalog price is untouched by the per-order override.
	crowbar, err := sess2.Get(ctx, "item", items["MySQL Crowbar"].Int("item_id"))
	require.NoError(t, err)
	require.Equal(t, 16.99, crowbar.Float("price"))
}

func TestThroughCollection(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)
	order := placeOrder(t, ctx, sess, "john smith",
		map[string]float64{"SA Mug": 0, "MySQL Crowbar": 10.99}, items)

	// Navigating through the association kind yields the target items.
	sess2 := client.Session()
	key, _ := order.Key()
	got, err := sess2.Get(ctx, "order", key[0])
	require.NoError(t, err)
	require.NoError(t, sess2.Resolve(ctx, got, "items"))
	linked, err := got.Related("items")
	require.NoError(t, err)
	descs := make([]string, len(linked))
	for i, it := range linked {
		descs[i] = it.String("description")
	}
	require.ElementsMatch(t, []string{"SA Mug", "MySQL Crowbar"}, descs)
}

func TestOrderLinesFollowRowOrder(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)

	// Lines appended in catalog key order, so backend row order is the
	// same whether the scan walks the table or the key index. The
	// override keeps price order from coinciding with it.
	order, err := sess.New("order", map[string]any{"customer_name": "john smith"})
	require.NoError(t, err)
	wantIDs := make([]int64, 0, 3)
	wantPrices := []float64{6.50, 8.99, 2.99}
	for i, desc := range []string{"SA Mug", "SA Hat", "MySQL Crowbar"} {
		oi, err := sess.New("order_item", map[string]any{"price": wantPrices[i]})
		require.NoError(t, err)
		require.NoError(t, oi.SetRef("item", items[desc]))
		require.NoError(t, order.Append("order_items", oi))
		wantIDs = append(wantIDs, items[desc].Int("item_id"))
	}
	require.NoError(t, sess.Add(order))
	require.NoError(t, sess.Commit(ctx))
	key, ok := order.Key()
	require.True(t, ok)

	// One collection entry per association row, in backend row order.
	sess2 := client.Session()
	got, err := sess2.Get(ctx, "order", key[0])
	require.NoError(t, err)
	require.NoError(t, sess2.Resolve(ctx, got, "order_items"))
	lines, err := got.Related("order_items")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	for i, line := range lines {
		require.Equal(t, wantIDs[i], line.Int("item_id"))
		require.Equal(t, wantPrices[i], line.Float("price"))
	}
}

func TestDumpRegistry(t *testing.T) {
	client := newTestClient(t)
	var sb strings.Builder
	require.NoError(t, client.Registry().Dump(&sb))
	require.Contains(t, sb.String(), "through: order_item")
}
