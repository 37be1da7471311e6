package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/loom/dialect"
)

// Querier wraps the Query method, returning the rendered statement
// and its bound arguments.
type Querier interface {
	Query() (string, []any)
}

// Builder is the base statement builder. Concrete builders embed it and
// share its identifier quoting, placeholder and argument handling.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// SetDialect sets the builder dialect. Affects quoting and placeholders.
func (b *Builder) SetDialect(dialect string) { b.dialect = dialect }

// Dialect returns the dialect of the builder.
func (b *Builder) Dialect() string { return b.dialect }

func (b *Builder) postgres() bool { return b.dialect == dialect.Postgres }

// Quote quotes the given identifier with the characters based
// on the configured dialect.
func (b *Builder) Quote(ident string) string {
	quote := `"`
	if b.dialect == dialect.MySQL {
		quote = "`"
	}
	return quote + ident + quote
}

// Ident writes the given identifier in the builder, quoting each
// dot-separated part (table.column references).
func (b *Builder) Ident(s string) *Builder {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		if i > 0 {
			b.sb.WriteByte('.')
		}
		b.sb.WriteString(b.Quote(p))
	}
	return b
}

// WriteString appends the string s to the statement.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Arg appends an argument to the statement and writes its placeholder.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	if b.postgres() {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteByte('?')
	}
	return b
}

// String returns the accumulated statement.
func (b *Builder) String() string { return b.sb.String() }

// Predicate is a where-clause predicate. It renders itself into a
// Builder when the statement is built, keeping argument order aligned
// with placeholder order.
type Predicate struct {
	fns []func(*Builder)
}

// P creates a new predicate.
func P(fns ...func(*Builder)) *Predicate {
	return &Predicate{fns: fns}
}

func (p *Predicate) append(fn func(*Builder)) *Predicate {
	p.fns = append(p.fns, fn)
	return p
}

func (p *Predicate) render(b *Builder) {
	for _, fn := range p.fns {
		fn(b)
	}
}

func expr(col, op string, v any) *Predicate {
	return P().append(func(b *Builder) {
		b.Ident(col).WriteString(" " + op + " ").Arg(v)
	})
}

func exprCols(col1, op, col2 string) *Predicate {
	return P().append(func(b *Builder) {
		b.Ident(col1).WriteString(" " + op + " ").Ident(col2)
	})
}

// EQ returns a `=` predicate on a column and a bound value.
func EQ(col string, v any) *Predicate { return expr(col, "=", v) }

// NEQ returns a `<>` predicate.
func NEQ(col string, v any) *Predicate { return expr(col, "<>", v) }

// GT returns a `>` predicate.
func GT(col string, v any) *Predicate { return expr(col, ">", v) }

// GTE returns a `>=` predicate.
func GTE(col string, v any) *Predicate { return expr(col, ">=", v) }

// LT returns a `<` predicate.
func LT(col string, v any) *Predicate { return expr(col, "<", v) }

// LTE returns a `<=` predicate.
func LTE(col string, v any) *Predicate { return expr(col, "<=", v) }

// ColumnsEQ returns a `=` predicate between two columns.
func ColumnsEQ(col1, col2 string) *Predicate { return exprCols(col1, "=", col2) }

// ColumnsNEQ returns a `<>` predicate between two columns.
func ColumnsNEQ(col1, col2 string) *Predicate { return exprCols(col1, "<>", col2) }

// ColumnsGT returns a `>` predicate between two columns.
func ColumnsGT(col1, col2 string) *Predicate { return exprCols(col1, ">", col2) }

// ColumnsGTE returns a `>=` predicate between two columns.
func ColumnsGTE(col1, col2 string) *Predicate { return exprCols(col1, ">=", col2) }

// ColumnsLT returns a `<` predicate between two columns.
func ColumnsLT(col1, col2 string) *Predicate { return exprCols(col1, "<", col2) }

// ColumnsLTE returns a `<=` predicate between two columns.
func ColumnsLTE(col1, col2 string) *Predicate { return exprCols(col1, "<=", col2) }

// IsNull returns an `IS NULL` predicate.
func IsNull(col string) *Predicate {
	return P().append(func(b *Builder) {
		b.Ident(col).WriteString(" IS NULL")
	})
}

// And combines the given predicates with AND, wrapped in parens.
func And(preds ...*Predicate) *Predicate {
	return P().append(func(b *Builder) {
		b.WriteString("(")
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" AND ")
			}
			p.render(b)
		}
		b.WriteString(")")
	})
}

// Or combines the given predicates with OR, wrapped in parens.
func Or(preds ...*Predicate) *Predicate {
	return P().append(func(b *Builder) {
		b.WriteString("(")
		for i, p := range preds {
			if i > 0 {
				b.WriteString(" OR ")
			}
			p.render(b)
		}
		b.WriteString(")")
	})
}

// Not negates the given predicate.
func Not(p *Predicate) *Predicate {
	return P().append(func(b *Builder) {
		b.WriteString("NOT (")
		p.render(b)
		b.WriteString(")")
	})
}

type join struct {
	table string
	kind  string // "JOIN" or "LEFT JOIN".
	on    [][2]string
}

// Selector is a builder for SELECT statements.
type Selector struct {
	dialect string
	columns []string
	from    string
	joins   []*join
	where   *Predicate
}

// Select returns a Selector for the given qualified columns.
func Select(columns ...string) *Selector {
	return &Selector{columns: columns}
}

// SetDialect sets the dialect used for rendering.
func (s *Selector) SetDialect(dialect string) *Selector {
	s.dialect = dialect
	return s
}

// From sets the table the columns are selected from.
func (s *Selector) From(table string) *Selector {
	s.from = table
	return s
}

// Join adds an inner join on the given table. The returned selector is the
// receiver; call On to add the join condition.
func (s *Selector) Join(table string) *Selector {
	s.joins = append(s.joins, &join{table: table, kind: "JOIN"})
	return s
}

// LeftJoin adds a left outer join on the given table.
func (s *Selector) LeftJoin(table string) *Selector {
	s.joins = append(s.joins, &join{table: table, kind: "LEFT JOIN"})
	return s
}

// On adds a column-pair condition to the last joined table. Multiple calls
// are combined with AND.
func (s *Selector) On(col1, col2 string) *Selector {
	if n := len(s.joins); n > 0 {
		s.joins[n-1].on = append(s.joins[n-1].on, [2]string{col1, col2})
	}
	return s
}

// Where sets or appends (with AND) the given predicate.
func (s *Selector) Where(p *Predicate) *Selector {
	if s.where != nil {
		s.where = And(s.where, p)
	} else {
		s.where = p
	}
	return s
}

// Query returns the rendered SELECT statement and its arguments.
func (s *Selector) Query() (string, []any) {
	b := &Builder{dialect: s.dialect}
	b.WriteString("SELECT ")
	for i, c := range s.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(c)
	}
	b.WriteString(" FROM ").Ident(s.from)
	for _, j := range s.joins {
		b.WriteString(" " + j.kind + " ").Ident(j.table)
		for i, on := range j.on {
			if i == 0 {
				b.WriteString(" ON ")
			} else {
				b.WriteString(" AND ")
			}
			b.Ident(on[0]).WriteString(" = ").Ident(on[1])
		}
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.render(b)
	}
	return b.String(), b.args
}

// String returns the rendered statement without its arguments.
// Used for debugging and diagnostics only.
func (s *Selector) String() string {
	query, _ := s.Query()
	return query
}

// InsertBuilder is a builder for INSERT statements.
type InsertBuilder struct {
	dialect   string
	table     string
	columns   []string
	values    []any
	returning string
}

// Insert returns an InsertBuilder for the given table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// SetDialect sets the dialect used for rendering.
func (i *InsertBuilder) SetDialect(dialect string) *InsertBuilder {
	i.dialect = dialect
	return i
}

// Columns sets the columns of the insert statement.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values sets the row values, positionally matching Columns.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values...)
	return i
}

// Returning adds a RETURNING clause. Only rendered for dialects that
// support it (postgres).
func (i *InsertBuilder) Returning(column string) *InsertBuilder {
	i.returning = column
	return i
}

// Query returns the rendered INSERT statement and its arguments.
func (i *InsertBuilder) Query() (string, []any) {
	b := &Builder{dialect: i.dialect}
	b.WriteString("INSERT INTO ").Ident(i.table).WriteString(" (")
	for j, c := range i.columns {
		if j > 0 {
			b.WriteString(", ")
		}
		b.Ident(c)
	}
	b.WriteString(") VALUES (")
	for j, v := range i.values {
		if j > 0 {
			b.WriteString(", ")
		}
		b.Arg(v)
	}
	b.WriteString(")")
	if i.returning != "" && b.postgres() {
		b.WriteString(" RETURNING ").Ident(i.returning)
	}
	return b.String(), b.args
}

// UpdateBuilder is a builder for UPDATE statements.
type UpdateBuilder struct {
	dialect string
	table   string
	columns []string
	values  []any
	where   *Predicate
}

// Update returns an UpdateBuilder for the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// SetDialect sets the dialect used for rendering.
func (u *UpdateBuilder) SetDialect(dialect string) *UpdateBuilder {
	u.dialect = dialect
	return u
}

// Set sets a column to the given value.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.columns = append(u.columns, column)
	u.values = append(u.values, v)
	return u
}

// Where sets or appends (with AND) the given predicate.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if u.where != nil {
		u.where = And(u.where, p)
	} else {
		u.where = p
	}
	return u
}

// Query returns the rendered UPDATE statement and its arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	b := &Builder{dialect: u.dialect}
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for j, c := range u.columns {
		if j > 0 {
			b.WriteString(", ")
		}
		b.Ident(c).WriteString(" = ").Arg(u.values[j])
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.render(b)
	}
	return b.String(), b.args
}

// DeleteBuilder is a builder for DELETE statements.
type DeleteBuilder struct {
	dialect string
	table   string
	where   *Predicate
}

// Delete returns a DeleteBuilder for the given table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// SetDialect sets the dialect used for rendering.
func (d *DeleteBuilder) SetDialect(dialect string) *DeleteBuilder {
	d.dialect = dialect
	return d
}

// Where sets or appends (with AND) the given predicate.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	if d.where != nil {
		d.where = And(d.where, p)
	} else {
		d.where = p
	}
	return d
}

// Query returns the rendered DELETE statement and its arguments.
func (d *DeleteBuilder) Query() (string, []any) {
	b := &Builder{dialect: d.dialect}
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.render(b)
	}
	return b.String(), b.args
}

// ColumnBuilder describes a single column in a CREATE TABLE statement.
type ColumnBuilder struct {
	name string
	typ  string
	attr []string
}

// Column returns a new ColumnBuilder with the given name.
func Column(name string) *ColumnBuilder { return &ColumnBuilder{name: name} }

// Type sets the rendered SQL type of the column.
func (c *ColumnBuilder) Type(t string) *ColumnBuilder {
	c.typ = t
	return c
}

// Attr adds an additional column attribute, e.g. "NOT NULL".
func (c *ColumnBuilder) Attr(a string) *ColumnBuilder {
	c.attr = append(c.attr, a)
	return c
}

type foreignKey struct {
	column    string
	refTable  string
	refColumn string
}

// TableBuilder is a builder for CREATE TABLE statements.
type TableBuilder struct {
	dialect     string
	name        string
	ifNotExists bool
	columns     []*ColumnBuilder
	primary     []string
	foreign     []foreignKey
}

// CreateTable returns a TableBuilder for the given table name.
func CreateTable(name string) *TableBuilder {
	return &TableBuilder{name: name}
}

// SetDialect sets the dialect used for rendering.
func (t *TableBuilder) SetDialect(dialect string) *TableBuilder {
	t.dialect = dialect
	return t
}

// IfNotExists appends the IF NOT EXISTS clause.
func (t *TableBuilder) IfNotExists() *TableBuilder {
	t.ifNotExists = true
	return t
}

// Columns adds the given columns to the table.
func (t *TableBuilder) Columns(columns ...*ColumnBuilder) *TableBuilder {
	t.columns = append(t.columns, columns...)
	return t
}

// PrimaryKey sets the (possibly composite) primary key of the table.
func (t *TableBuilder) PrimaryKey(columns ...string) *TableBuilder {
	t.primary = append(t.primary, columns...)
	return t
}

// ForeignKey adds a foreign-key clause referencing refTable(refColumn).
func (t *TableBuilder) ForeignKey(column, refTable, refColumn string) *TableBuilder {
	t.foreign = append(t.foreign, foreignKey{column, refTable, refColumn})
	return t
}

// Query returns the rendered CREATE TABLE statement.
func (t *TableBuilder) Query() (string, []any) {
	b := &Builder{dialect: t.dialect}
	b.WriteString("CREATE TABLE ")
	if t.ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.Ident(t.name).WriteString(" (")
	for i, c := range t.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(c.name).WriteString(" " + c.typ)
		for _, a := range c.attr {
			b.WriteString(" " + a)
		}
	}
	if len(t.primary) > 0 {
		b.WriteString(", PRIMARY KEY (")
		for i, c := range t.primary {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Ident(c)
		}
		b.WriteString(")")
	}
	for _, fk := range t.foreign {
		b.WriteString(", FOREIGN KEY (").Ident(fk.column).
			WriteString(") REFERENCES ").Ident(fk.refTable).
			WriteString(" (").Ident(fk.refColumn).WriteString(")")
	}
	b.WriteString(")")
	return b.String(), b.args
}

// Table returns a helper for qualifying column names with the given table.
func Table(name string) TableView { return TableView(name) }

// TableView qualifies column names for join conditions and predicates.
type TableView string

// C returns the qualified "table.column" reference.
func (t TableView) C(column string) string {
	return fmt.Sprintf("%s.%s", string(t), column)
}
