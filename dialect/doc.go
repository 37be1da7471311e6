// Package dialect provides the storage-backend abstraction for the loom engine.
//
// The package defines the interfaces the engine uses to talk to a relational
// backend, allowing loom to run against PostgreSQL, MySQL, and SQLite.
//
// # Dialect Constants
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
// The Driver interface is the unit the engine holds:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// The Tx interface extends ExecQuerier with Commit and Rollback; a flush
// issues all of its writes through one Tx so the write set applies
// atomically or not at all.
//
// # Usage
//
//	drv, err := sql.Open(dialect.SQLite, "file:orders.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// Wrap a driver with Debug to log every outgoing statement:
//
//	client := loom.NewClient(registry, dialect.Debug(drv))
//
// # Sub-packages
//
//   - dialect/sql: database/sql adapter and SQL statement builders
//   - dialect/sql/sqlgraph: schema-aware storage operations used by sessions
package dialect
