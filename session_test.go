package loom_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/loom"
)

func TestIdentityMap(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)

	// Same kind and key resolve to the same instance, however reached.
	mug, err := sess.Get(ctx, "item", items["SA Mug"].Int("item_id"))
	require.NoError(t, err)
	require.Same(t, items["SA Mug"], mug)

	again, err := loom.Select("item").
		Where(loom.Col("item", "description").EQ("SA Mug")).
		Only(ctx, sess)
	require.NoError(t, err)
	require.Same(t, mug, again)

	// Other sessions get their own instances.
	other, err := client.Session().Get(ctx, "item", mug.Int("item_id"))
	require.NoError(t, err)
	require.NotSame(t, mug, other)
}

func TestNewDoesNotStage(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	_, err := sess.New("item", map[string]any{"description": "SA Mug", "price": 6.50})
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))

	// Nothing was added, nothing was written.
	_, err = loom.Select("item").Only(ctx, client.Session())
	require.True(t, loom.IsNotFound(err))
}

func TestNewValidation(t *testing.T) {
	client := newTestClient(t)
	sess := client.Session()
	_, err := sess.New("item", map[string]any{"description": "", "price": 6.50})
	require.Error(t, err)
	require.True(t, loom.IsSchemaError(err))

	_, err = sess.New("item", map[string]any{"description": "x", "price": -1.0})
	require.Error(t, err)

	_, err = sess.New("nope", nil)
	require.True(t, loom.IsSchemaError(err))
}

func TestAddCascades(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)

	order, err := sess.New("order", map[string]any{"customer_name": "c"})
	require.NoError(t, err)
	oi, err := sess.New("order_item", map[string]any{"price": 1.0})
	require.NoError(t, err)
	require.NoError(t, oi.SetRef("item", items["SA Mug"]))
	require.NoError(t, order.Append("order_items", oi))

	// Adding the owner stages the whole collection.
	require.NoError(t, sess.Add(order))
	require.NoError(t, sess.Commit(ctx))
	key, ok := oi.Key()
	require.True(t, ok)
	require.Len(t, key, 2)
	require.Equal(t, order.Int("order_id"), key[0].(int64))
}

func TestOrphanWithoutOwnerIsConstraintError(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)

	order, err := sess.New("order", map[string]any{"customer_name": "c"})
	require.NoError(t, err)
	oi, err := sess.New("order_item", map[string]any{"price": 1.0})
	require.NoError(t, err)
	require.NoError(t, oi.SetRef("item", items["SA Mug"]))
	require.NoError(t, order.Append("order_items", oi))

	// The association is staged, its owning order is not.
	require.NoError(t, sess.Add(oi))
	err = sess.Commit(ctx)
	require.True(t, loom.IsConstraintError(err))

	// Pending sets survive; adding the owner makes the same commit pass.
	require.NoError(t, sess.Add(order))
	require.NoError(t, sess.Commit(ctx))
	_, ok := oi.Key()
	require.True(t, ok)
}

func TestConstraintRetryAfterBackendViolation(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)
	mugID := items["SA Mug"].Int("item_id")

	dup, err := sess.New("item", map[string]any{
		"item_id": mugID, "description": "copy", "price": 1.0,
	})
	require.NoError(t, err)
	require.NoError(t, sess.Add(dup))
	err = sess.Commit(ctx)
	require.True(t, loom.IsConstraintError(err))

	// Repair the write set and retry.
	require.NoError(t, dup.Set("item_id", mugID+100))
	require.NoError(t, sess.Commit(ctx))

	got, err := client.Session().Get(ctx, "item", mugID+100)
	require.NoError(t, err)
	require.Equal(t, "copy", got.String("description"))
}

func TestGeneratedKeyRevertedOnFailure(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)

	order, err := sess.New("order", map[string]any{"customer_name": "c"})
	require.NoError(t, err)
	oi, err := sess.New("order_item", map[string]any{"price": 1.0})
	require.NoError(t, err)
	require.NoError(t, oi.SetRef("item", items["SA Mug"]))
	require.NoError(t, order.Append("order_items", oi))
	require.NoError(t, sess.Add(order))

	// Force a violation after the order insert assigned a key: a second
	// association row with the same key pair.
	oi2, err := sess.New("order_item", map[string]any{"price": 2.0})
	require.NoError(t, err)
	require.NoError(t, oi2.SetRef("item", items["SA Mug"]))
	require.NoError(t, order.Append("order_items", oi2))
	require.NoError(t, sess.Add(oi2))

	err = sess.Commit(ctx)
	require.True(t, loom.IsConstraintError(err))
	// The generated order key was rolled back with the transaction.
	_, ok := order.Key()
	require.False(t, ok)

	// Dropping the duplicate makes the retry succeed.
	require.NoError(t, sess.Remove(order, "order_items", oi2))
	require.NoError(t, sess.Delete(oi2))
	require.NoError(t, sess.Commit(ctx))
	_, ok = order.Key()
	require.True(t, ok)
}

func TestUpdateDirty(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)

	require.NoError(t, items["SA Hat"].Set("price", 9.99))
	require.NoError(t, sess.Commit(ctx))

	got, err := client.Session().Get(ctx, "item", items["SA Hat"].Int("item_id"))
	require.NoError(t, err)
	require.Equal(t, 9.99, got.Float("price"))
}

func TestRollbackDiscardsPending(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	item, err := sess.New("item", map[string]any{"description": "x", "price": 1.0})
	require.NoError(t, err)
	require.NoError(t, sess.Add(item))
	sess.Rollback()
	require.NoError(t, sess.Commit(ctx))

	_, err = loom.Select("item").Only(ctx, client.Session())
	require.True(t, loom.IsNotFound(err))
}

func TestRemoveOrphanDeletes(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)
	order := placeOrder(t, ctx, sess, "c",
		map[string]float64{"SA Mug": 0, "SA Hat": 0}, items)

	lines, err := order.Related("order_items")
	require.NoError(t, err)
	require.Len(t, lines, 2)

	// Removing from a delete-orphan collection schedules the deletion.
	require.NoError(t, sess.Remove(order, "order_items", lines[0]))
	require.NoError(t, sess.Commit(ctx))

	sess2 := client.Session()
	key, _ := order.Key()
	got, err := sess2.Get(ctx, "order", key[0])
	require.NoError(t, err)
	require.NoError(t, sess2.Resolve(ctx, got, "order_items"))
	rest, err := got.Related("order_items")
	require.NoError(t, err)
	require.Len(t, rest, 1)
}

func TestDeleteOwnerCascades(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)
	order := placeOrder(t, ctx, sess, "c",
		map[string]float64{"SA Mug": 0, "MySQL Crowbar": 0}, items)

	require.NoError(t, sess.Delete(order))
	require.NoError(t, sess.Commit(ctx))

	sess2 := client.Session()
	key, _ := order.Key()
	_, err := sess2.Get(ctx, "order", key[0])
	require.True(t, loom.IsNotFound(err))
	// The association rows went with the order.
	got, err := loom.Select("order_item").All(ctx, sess2)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDeleteFetchedOwnerCascades(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)
	order := placeOrder(t, ctx, sess, "c",
		map[string]float64{"SA Mug": 0, "MySQL Crowbar": 0}, items)
	key, ok := order.Key()
	require.True(t, ok)

	// The fresh session never loads the order's lines; deleting the
	// order still takes them along at commit.
	sess2 := client.Session()
	got, err := sess2.Get(ctx, "order", key[0])
	require.NoError(t, err)
	require.NoError(t, sess2.Delete(got))
	require.NoError(t, sess2.Commit(ctx))

	sess3 := client.Session()
	_, err = sess3.Get(ctx, "order", key[0])
	require.True(t, loom.IsNotFound(err))
	lines, err := loom.Select("order_item").All(ctx, sess3)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestGetLeavesKeyArgumentUntouched(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)

	key := []any{int(items["SA Mug"].Int("item_id"))}
	got, err := sess.Get(ctx, "item", key...)
	require.NoError(t, err)
	require.Equal(t, "SA Mug", got.String("description"))
	// The variadic slice is the caller's; normalization works on a copy.
	require.IsType(t, int(0), key[0])
}

func TestImmutableAttribute(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)
	// Keys are writable while transient, frozen once managed.
	err := items["SA Mug"].Set("item_id", int64(99))
	require.Error(t, err)
	require.True(t, loom.IsSchemaError(err))
}

func TestNotLoadedCollection(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	sess := client.Session()
	items := seedCatalog(t, ctx, sess)
	order := placeOrder(t, ctx, sess, "c", map[string]float64{"SA Mug": 0}, items)

	sess2 := client.Session()
	key, _ := order.Key()
	got, err := sess2.Get(ctx, "order", key[0])
	require.NoError(t, err)
	_, err = got.Related("order_items")
	require.True(t, loom.IsNotLoaded(err))

	// Resolve tags the collection loaded, including when it is empty.
	require.NoError(t, sess2.Resolve(ctx, got, "order_items"))
	_, err = got.Related("order_items")
	require.NoError(t, err)
}

func TestConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	seedCatalog(t, ctx, client.Session())

	// One session per goroutine; the client and registry are shared.
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			sess := client.Session()
			items, err := loom.Select("item").All(ctx, sess)
			if err != nil {
				return err
			}
			for _, it := range items {
				if _, err := sess.Get(ctx, "item", it.Int("item_id")); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
