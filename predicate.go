package loom

import (
	"fmt"
	"strings"

	"github.com/syssam/loom/dialect/sql"
	"github.com/syssam/loom/schema"
)

// scope is the set of kinds a query expression may reference: the root
// kind plus every kind brought in by a join. Column references resolve
// against it at execution time.
type scope struct {
	reg   *schema.Registry
	kinds map[string]*schema.Kind
}

func (sc *scope) add(k *schema.Kind) { sc.kinds[k.Name] = k }

// column resolves a kind.attribute reference into its qualified column
// and attribute metadata.
func (sc *scope) column(kind, attr string) (string, *schema.Attribute, error) {
	k, ok := sc.kinds[kind]
	if !ok {
		if _, err := sc.reg.Kind(kind); err != nil {
			return "", nil, err
		}
		return "", nil, &SchemaError{Kind: kind, Msg: "kind is not part of the query, join it first"}
	}
	a := k.Attribute(attr)
	if a == nil {
		return "", nil, &SchemaError{Kind: kind, Msg: fmt.Sprintf("undeclared attribute %q", attr)}
	}
	return sql.Table(k.Table).C(a.Column), a, nil
}

// Predicate is a filter expression over the kinds of a query. Predicates
// are immutable values; they compile against the query scope when the
// query executes.
type Predicate struct {
	desc  string
	build func(sc *scope) (*sql.Predicate, error)
}

// ColumnRef names an attribute of a kind inside a query expression.
type ColumnRef struct {
	kind string
	attr string
}

// Col references the attribute of a kind for use in predicates. The kind
// must be the query root or joined into the query.
func Col(kind, attr string) ColumnRef { return ColumnRef{kind: kind, attr: attr} }

func (c ColumnRef) String() string { return c.kind + "." + c.attr }

// EQ compares the column for equality with a literal or another ColumnRef.
func (c ColumnRef) EQ(v any) Predicate { return c.cmp("=", v) }

// NEQ compares the column for inequality.
func (c ColumnRef) NEQ(v any) Predicate { return c.cmp("<>", v) }

// GT compares the column with greater-than.
func (c ColumnRef) GT(v any) Predicate { return c.cmp(">", v) }

// GTE compares the column with greater-or-equal.
func (c ColumnRef) GTE(v any) Predicate { return c.cmp(">=", v) }

// LT compares the column with less-than.
func (c ColumnRef) LT(v any) Predicate { return c.cmp("<", v) }

// LTE compares the column with less-or-equal.
func (c ColumnRef) LTE(v any) Predicate { return c.cmp("<=", v) }

// IsNil matches rows whose column is NULL.
func (c ColumnRef) IsNil() Predicate {
	return Predicate{
		desc: c.String() + " IS NULL",
		build: func(sc *scope) (*sql.Predicate, error) {
			col, _, err := sc.column(c.kind, c.attr)
			if err != nil {
				return nil, err
			}
			return sql.IsNull(col), nil
		},
	}
}

func (c ColumnRef) cmp(op string, v any) Predicate {
	return Predicate{
		desc: fmt.Sprintf("%s %s %v", c, op, v),
		build: func(sc *scope) (*sql.Predicate, error) {
			col, a, err := sc.column(c.kind, c.attr)
			if err != nil {
				return nil, err
			}
			if rc, ok := v.(ColumnRef); ok {
				col2, _, err := sc.column(rc.kind, rc.attr)
				if err != nil {
					return nil, err
				}
				return columnsPred(op, col, col2), nil
			}
			return valuePred(op, col, normalize(a.Type, v)), nil
		},
	}
}

func valuePred(op, col string, v any) *sql.Predicate {
	switch op {
	case "=":
		return sql.EQ(col, v)
	case "<>":
		return sql.NEQ(col, v)
	case ">":
		return sql.GT(col, v)
	case ">=":
		return sql.GTE(col, v)
	case "<":
		return sql.LT(col, v)
	default:
		return sql.LTE(col, v)
	}
}

func columnsPred(op, col1, col2 string) *sql.Predicate {
	switch op {
	case "=":
		return sql.ColumnsEQ(col1, col2)
	case "<>":
		return sql.ColumnsNEQ(col1, col2)
	case ">":
		return sql.ColumnsGT(col1, col2)
	case ">=":
		return sql.ColumnsGTE(col1, col2)
	case "<":
		return sql.ColumnsLT(col1, col2)
	default:
		return sql.ColumnsLTE(col1, col2)
	}
}

// And combines predicates with AND.
func And(preds ...Predicate) Predicate {
	return Predicate{
		desc: combineDesc("AND", preds),
		build: func(sc *scope) (*sql.Predicate, error) {
			ps, err := buildAll(sc, preds)
			if err != nil {
				return nil, err
			}
			return sql.And(ps...), nil
		},
	}
}

// Or combines predicates with OR.
func Or(preds ...Predicate) Predicate {
	return Predicate{
		desc: combineDesc("OR", preds),
		build: func(sc *scope) (*sql.Predicate, error) {
			ps, err := buildAll(sc, preds)
			if err != nil {
				return nil, err
			}
			return sql.Or(ps...), nil
		},
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return Predicate{
		desc: "NOT (" + p.desc + ")",
		build: func(sc *scope) (*sql.Predicate, error) {
			sp, err := p.build(sc)
			if err != nil {
				return nil, err
			}
			return sql.Not(sp), nil
		},
	}
}

func buildAll(sc *scope, preds []Predicate) ([]*sql.Predicate, error) {
	ps := make([]*sql.Predicate, len(preds))
	for i, p := range preds {
		sp, err := p.build(sc)
		if err != nil {
			return nil, err
		}
		ps[i] = sp
	}
	return ps, nil
}

func combineDesc(op string, preds []Predicate) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = p.desc
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}
