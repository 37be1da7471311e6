// Package loom is a minimal object-relational mapping engine built around
// the association-object pattern: many-to-many relationships whose links
// are first-class entities carrying their own payload.
//
// Entity kinds are declared once at startup on a schema.Registry using the
// schema/field and schema/edge builders. A Client binds a frozen registry
// to a storage driver; each logical transaction opens a Session, the unit
// of work that tracks created, loaded, and deleted instances and flushes
// them in foreign-key dependency order on Commit:
//
//	client := loom.NewClient(reg, drv)
//	sess := client.Session()
//	order, _ := sess.New("order", map[string]any{"customer_name": "john smith"})
//	order.Append("order_items", item)
//	sess.Add(order)
//	if err := sess.Commit(ctx); err != nil { ... }
//
// Queries are immutable expressions over declared kinds and relationships:
//
//	q := loom.Select("order").
//	    Join("order_items", "item").
//	    Where(loom.And(
//	        loom.Col("item", "description").EQ("MySQL Crowbar"),
//	        loom.Col("item", "price").GT(loom.Col("order_item", "price")),
//	    ))
//	orders, err := q.All(ctx, sess)
//
// A Session is not safe for concurrent use; Clients, frozen registries,
// and caches are.
package loom

import (
	"context"

	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql/sqlgraph"
	"github.com/syssam/loom/schema"
)

// Client binds a registry to a storage driver. It is cheap to copy around
// and safe for concurrent use by multiple sessions.
type Client struct {
	reg   *schema.Registry
	drv   dialect.Driver
	store *sqlgraph.Store
	cache Cache
}

// Option configures a Client.
type Option func(*Client)

// WithCache installs a read-through cache for backend fetches. The cache
// is cleared whenever any session commits through this client.
func WithCache(c Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// NewClient returns a client for the given registry and driver.
// The registry is frozen; no kinds or relationships can be declared
// after the first client is built on it.
func NewClient(reg *schema.Registry, drv dialect.Driver, opts ...Option) *Client {
	reg.Freeze()
	c := &Client{
		reg:   reg,
		drv:   drv,
		store: sqlgraph.NewStore(reg, drv),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the client's (frozen) registry.
func (c *Client) Registry() *schema.Registry { return c.reg }

// Session opens a new unit of work. Each logical transaction owns exactly
// one session, used by one caller context at a time.
func (c *Client) Session() *Session {
	return &Session{
		client:    c,
		reg:       c.reg,
		store:     c.store,
		identity:  make(map[string]*Entity),
		stagedSet: make(map[*Entity]struct{}),
		dirtySet:  make(map[*Entity]struct{}),
	}
}

// CreateTables creates the tables of every registered kind, in
// registration order so foreign-key targets exist first.
func (c *Client) CreateTables(ctx context.Context) error {
	for _, k := range c.reg.Kinds() {
		if err := c.store.CreateTable(ctx, k); err != nil {
			return NewBackendError("create table", err)
		}
	}
	return nil
}

// Close closes the underlying driver.
func (c *Client) Close() error { return c.drv.Close() }
