// Package sqlgraph implements the schema-aware storage operations the
// engine issues against a relational backend: table creation, row writes
// by key tuple, and join-based fetches that span a relationship graph.
package sqlgraph

import (
	"context"
	"fmt"

	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/field"
)

// Store executes storage operations for a registry of kinds over a
// dialect driver. It is safe for concurrent use; transactional stores
// returned by Tx are not.
type Store struct {
	reg     *schema.Registry
	conn    dialect.ExecQuerier
	drv     dialect.Driver // nil for transactional stores.
	dialect string
}

// NewStore returns a store issuing statements through the given driver.
func NewStore(reg *schema.Registry, drv dialect.Driver) *Store {
	return &Store{reg: reg, conn: drv, drv: drv, dialect: drv.Dialect()}
}

// Tx begins a backend transaction and returns a store bound to it
// together with the transaction scope. All writes of one flush go through
// a single Tx so the write set applies atomically.
func (s *Store) Tx(ctx context.Context) (*Store, dialect.Tx, error) {
	if s.drv == nil {
		return nil, nil, fmt.Errorf("sqlgraph: nested transaction")
	}
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return nil, nil, err
	}
	return &Store{reg: s.reg, conn: tx, dialect: s.dialect}, tx, nil
}

// Dialect returns the dialect name of the underlying driver.
func (s *Store) Dialect() string { return s.dialect }

// CreateTable creates the table of the given kind, including its
// composite primary key and foreign-key clauses. Idempotent.
func (s *Store) CreateTable(ctx context.Context, k *schema.Kind) error {
	t := sql.CreateTable(k.Table).SetDialect(s.dialect).IfNotExists()
	rowid := GeneratedKey(k) != nil && s.dialect == dialect.SQLite
	for _, a := range k.Attributes() {
		c := sql.Column(a.Column).Type(s.columnType(a, k))
		if !a.Nillable {
			c.Attr("NOT NULL")
		}
		if rowid && a.PrimaryKey {
			// SQLite generates keys for INTEGER PRIMARY KEY columns only.
			c.Attr("PRIMARY KEY")
		}
		if a.Unique {
			c.Attr("UNIQUE")
		}
		t.Columns(c)
	}
	if !rowid {
		t.PrimaryKey(keyColumns(k)...)
	}
	for _, a := range k.Attributes() {
		if a.Ref == nil {
			continue
		}
		target, err := s.reg.Kind(a.Ref.Kind)
		if err != nil {
			return err
		}
		t.ForeignKey(a.Column, target.Table, target.Attribute(a.Ref.Attribute).Column)
	}
	query, args := t.Query()
	if err := s.conn.Exec(ctx, query, args, nil); err != nil {
		return err
	}
	return nil
}

// GeneratedKey returns the primary-key attribute whose value the backend
// generates on insert, or nil if the kind's key is caller-assigned.
// Only a single integer key qualifies.
func GeneratedKey(k *schema.Kind) *schema.Attribute {
	id := k.ID()
	if len(id) == 1 && (id[0].Type == field.TypeInt || id[0].Type == field.TypeInt64) && id[0].Ref == nil {
		return id[0]
	}
	return nil
}

func (s *Store) columnType(a *schema.Attribute, k *schema.Kind) string {
	switch a.Type {
	case field.TypeInt, field.TypeInt64:
		if s.dialect == dialect.Postgres && GeneratedKey(k) == a {
			return "bigserial"
		}
		if s.dialect == dialect.SQLite {
			return "integer"
		}
		return "bigint"
	case field.TypeFloat64:
		switch s.dialect {
		case dialect.MySQL:
			return "double"
		case dialect.Postgres:
			return "double precision"
		default:
			return "real"
		}
	case field.TypeString:
		if s.dialect == dialect.MySQL {
			return "varchar(255)"
		}
		return "text"
	case field.TypeText:
		return "text"
	case field.TypeBool:
		return "boolean"
	case field.TypeTime:
		if s.dialect == dialect.Postgres {
			return "timestamp with time zone"
		}
		return "datetime"
	case field.TypeUUID:
		if s.dialect == dialect.Postgres {
			return "uuid"
		}
		return "text"
	default:
		return "text"
	}
}

// Insert inserts one row. When genKey is non-empty the backend-generated
// key of the new row is returned (RETURNING on postgres, last-insert-id
// elsewhere).
func (s *Store) Insert(ctx context.Context, k *schema.Kind, columns []string, values []any, genKey string) (int64, error) {
	ins := sql.Insert(k.Table).SetDialect(s.dialect).Columns(columns...).Values(values...)
	if genKey != "" && s.dialect == dialect.Postgres {
		ins.Returning(genKey)
		query, args := ins.Query()
		rows := &sql.Rows{}
		if err := s.conn.Query(ctx, query, args, rows); err != nil {
			return 0, err
		}
		defer rows.Close()
		if !rows.Next() {
			return 0, fmt.Errorf("sqlgraph: insert into %s returned no key", k.Table)
		}
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, rows.Err()
	}
	query, args := ins.Query()
	var res sql.Result
	if err := s.conn.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	if genKey == "" {
		return 0, nil
	}
	return res.LastInsertId()
}

// Update updates the given columns of the row identified by the key tuple.
func (s *Store) Update(ctx context.Context, k *schema.Kind, keyValues []any, columns []string, values []any) error {
	upd := sql.Update(k.Table).SetDialect(s.dialect)
	for i, c := range columns {
		upd.Set(c, values[i])
	}
	upd.Where(keyPredicate(k, keyValues))
	query, args := upd.Query()
	return s.conn.Exec(ctx, query, args, nil)
}

// Delete deletes the row identified by the key tuple.
func (s *Store) Delete(ctx context.Context, k *schema.Kind, keyValues []any) error {
	del := sql.Delete(k.Table).SetDialect(s.dialect).Where(keyPredicate(k, keyValues))
	query, args := del.Query()
	return s.conn.Exec(ctx, query, args, nil)
}

func keyPredicate(k *schema.Kind, keyValues []any) *sql.Predicate {
	id := k.ID()
	preds := make([]*sql.Predicate, len(id))
	for i, a := range id {
		preds[i] = sql.EQ(a.Column, keyValues[i])
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return sql.And(preds...)
}

func keyColumns(k *schema.Kind) []string {
	id := k.ID()
	cols := make([]string, len(id))
	for i, a := range id {
		cols[i] = a.Column
	}
	return cols
}

// FetchColumn is one projected column of a fetch.
type FetchColumn struct {
	Table    string
	Column   string
	Type     field.Type
	Nillable bool
}

// FetchJoin is one join of a fetch. On holds qualified column pairs.
type FetchJoin struct {
	Table string
	On    [][2]string
	Left  bool
}

// FetchSpec describes a join-based fetch: the root table, the joined
// tables, the projected columns, and the combined predicate.
type FetchSpec struct {
	Table   string
	Joins   []FetchJoin
	Columns []FetchColumn
	Where   *sql.Predicate
}

// Selector renders the spec into a SELECT statement builder.
func (spec *FetchSpec) Selector(dialect string) *sql.Selector {
	cols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = c.Table + "." + c.Column
	}
	sel := sql.Select(cols...).SetDialect(dialect).From(spec.Table)
	for _, j := range spec.Joins {
		if j.Left {
			sel.LeftJoin(j.Table)
		} else {
			sel.Join(j.Table)
		}
		for _, on := range j.On {
			sel.On(on[0], on[1])
		}
	}
	if spec.Where != nil {
		sel.Where(spec.Where)
	}
	return sel
}

// Fetch executes the spec and returns all result rows, typed per the
// projected columns. Row order is backend order; nullable columns yield
// nil values.
func (s *Store) Fetch(ctx context.Context, spec *FetchSpec) ([][]any, error) {
	query, args := spec.Selector(s.dialect).Query()
	rows := &sql.Rows{}
	if err := s.conn.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		dests := make([]any, len(spec.Columns))
		for i, c := range spec.Columns {
			dests[i] = scanDest(c.Type)
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		row := make([]any, len(dests))
		for i, d := range dests {
			row[i] = scanValue(d)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanDest(t field.Type) any {
	switch t {
	case field.TypeInt, field.TypeInt64:
		return &sql.NullInt64{}
	case field.TypeFloat64:
		return &sql.NullFloat64{}
	case field.TypeBool:
		return &sql.NullBool{}
	case field.TypeTime:
		return &sql.NullTime{}
	default:
		return &sql.NullString{}
	}
}

func scanValue(dest any) any {
	switch d := dest.(type) {
	case *sql.NullInt64:
		if d.Valid {
			return d.Int64
		}
	case *sql.NullFloat64:
		if d.Valid {
			return d.Float64
		}
	case *sql.NullBool:
		if d.Valid {
			return d.Bool
		}
	case *sql.NullTime:
		if d.Valid {
			return d.Time
		}
	case *sql.NullString:
		if d.Valid {
			return d.String
		}
	}
	return nil
}
