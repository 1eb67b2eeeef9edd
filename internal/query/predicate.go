// Package query defines composable predicates over metadata records.
//
// A Predicate is a small tagged expression tree: comparisons on one record
// field, combined with And, Or and Not. Stores either evaluate it directly
// (Match) or translate it into their own query language.
//
//	q := query.Query{
//	    Where:   query.And(query.Eq("compression_frq", 8), query.Ge("process", 100)),
//	    OrderBy: []query.Order{{Field: "timestamp", Desc: true}},
//	}
package query

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qass/buffercache/internal/schema"
)

// Op is the node type of a predicate.
type Op uint8

const (
	OpTrue Op = iota
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpPrefix
	OpAnd
	OpOr
	OpNot
)

var opSymbols = map[Op]string{
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpIn: "in", OpPrefix: "^=",
}

// Symbol returns the operator as written in terms, e.g. "<=".
func (o Op) Symbol() string { return opSymbols[o] }

// Predicate is a node of a filter expression. The zero value matches
// every record.
type Predicate struct {
	Op       Op          `json:"op"`
	Field    string      `json:"field,omitempty"`
	Value    any         `json:"value,omitempty"`
	Children []Predicate `json:"children,omitempty"`
}

// All matches every record.
func All() Predicate { return Predicate{Op: OpTrue} }

func newCmp(op Op, field string, v any) Predicate {
	return Predicate{Op: op, Field: field, Value: v}
}

func Eq(field string, v any) Predicate { return newCmp(OpEq, field, v) }
func Ne(field string, v any) Predicate { return newCmp(OpNe, field, v) }
func Lt(field string, v any) Predicate { return newCmp(OpLt, field, v) }
func Le(field string, v any) Predicate { return newCmp(OpLe, field, v) }
func Gt(field string, v any) Predicate { return newCmp(OpGt, field, v) }
func Ge(field string, v any) Predicate { return newCmp(OpGe, field, v) }

// In matches records whose field equals any of vs.
func In(field string, vs ...any) Predicate { return newCmp(OpIn, field, vs) }

// Prefix matches string fields starting with prefix.
func Prefix(field, prefix string) Predicate { return newCmp(OpPrefix, field, prefix) }

// Under matches records whose path lies below dir, at any depth.
func Under(dir string) Predicate {
	dir = filepath.Clean(dir)
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return Prefix(schema.PathField, dir)
}

// And matches when every child matches. Nested conjunctions are flattened.
func And(ps ...Predicate) Predicate { return combine(OpAnd, ps) }

// Or matches when any child matches.
func Or(ps ...Predicate) Predicate { return combine(OpOr, ps) }

// Not negates p.
func Not(p Predicate) Predicate { return Predicate{Op: OpNot, Children: []Predicate{p}} }

func combine(op Op, ps []Predicate) Predicate {
	var kids []Predicate
	for _, p := range ps {
		switch {
		case p.Op == op:
			kids = append(kids, p.Children...)
		case op == OpAnd && p.Op == OpTrue:
			// neutral element
		default:
			kids = append(kids, p)
		}
	}
	if op == OpAnd && len(kids) == 0 {
		return All()
	}
	if len(kids) == 1 {
		return kids[0]
	}
	return Predicate{Op: op, Children: kids}
}

// FromTemplate matches records equal to every field of tmpl.
func FromTemplate(tmpl map[string]any) Predicate {
	keys := make([]string, 0, len(tmpl))
	for k := range tmpl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ps := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		ps = append(ps, Eq(k, tmpl[k]))
	}
	return And(ps...)
}

// Normalize checks that every field exists and converts every value to the
// field's Go type. Stores only accept normalized predicates.
func (p Predicate) Normalize() (Predicate, error) {
	switch p.Op {
	case OpTrue:
		return p, nil
	case OpAnd, OpOr, OpNot:
		if p.Op == OpNot && len(p.Children) != 1 {
			return p, fmt.Errorf("not takes exactly one operand, got %d", len(p.Children))
		}
		if len(p.Children) == 0 {
			return p, fmt.Errorf("%s without operands", opName(p.Op))
		}
		out := Predicate{Op: p.Op, Children: make([]Predicate, len(p.Children))}
		for i, c := range p.Children {
			n, err := c.Normalize()
			if err != nil {
				return p, err
			}
			out.Children[i] = n
		}
		return out, nil
	}

	f, ok := schema.LookupField(p.Field)
	if !ok {
		return p, fmt.Errorf("unknown field %q", p.Field)
	}
	switch p.Op {
	case OpIn:
		vs, ok := p.Value.([]any)
		if !ok {
			return p, fmt.Errorf("field %s: in needs a list of values", p.Field)
		}
		if len(vs) == 0 {
			return p, fmt.Errorf("field %s: in needs at least one value", p.Field)
		}
		out := make([]any, len(vs))
		for i, v := range vs {
			c, err := f.Kind.Coerce(v)
			if err != nil {
				return p, fmt.Errorf("field %s: %w", p.Field, err)
			}
			out[i] = c
		}
		return Predicate{Op: OpIn, Field: p.Field, Value: out}, nil
	case OpPrefix:
		if f.Kind != schema.KindString {
			return p, fmt.Errorf("field %s: prefix needs a string field", p.Field)
		}
		fallthrough
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		c, err := f.Kind.Coerce(p.Value)
		if err != nil {
			return p, fmt.Errorf("field %s: %w", p.Field, err)
		}
		return Predicate{Op: p.Op, Field: p.Field, Value: c}, nil
	}
	return p, fmt.Errorf("unknown operator %d", p.Op)
}

func opName(op Op) string {
	switch op {
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpNot:
		return "not"
	}
	return op.Symbol()
}

// String renders p in the term syntax accepted by ParseTerm, with
// and/or/not spelled out.
func (p Predicate) String() string {
	switch p.Op {
	case OpTrue:
		return "true"
	case OpNot:
		return "not(" + p.Children[0].String() + ")"
	case OpAnd, OpOr:
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " "+opName(p.Op)+" ") + ")"
	case OpIn:
		return fmt.Sprintf("%s in %v", p.Field, p.Value)
	}
	return fmt.Sprintf("%s%s%v", p.Field, p.Op.Symbol(), p.Value)
}

// Order sorts by one field.
type Order struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query is a predicate plus ordering and paging. Results are ordered by
// OrderBy, then by path, so equal keys still come back in a stable order.
type Query struct {
	Where   Predicate `json:"where"`
	OrderBy []Order   `json:"order_by,omitempty"`
	Limit   int       `json:"limit,omitempty"`
	Offset  int       `json:"offset,omitempty"`
}

// Normalize validates the query and normalizes its predicate.
func (q Query) Normalize() (Query, error) {
	where, err := q.Where.Normalize()
	if err != nil {
		return q, err
	}
	for _, o := range q.OrderBy {
		if _, ok := schema.LookupField(o.Field); !ok {
			return q, fmt.Errorf("unknown order field %q", o.Field)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return q, fmt.Errorf("limit and offset must not be negative")
	}
	q.Where = where
	return q, nil
}
