package db

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
)

// builder compiles normalized predicates to SQL, collecting bind arguments.
type builder struct {
	d    Dialect
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.placeholder(len(b.args))
}

// where compiles p. It must be normalized: values already carry the Go type
// of their field.
func (b *builder) where(p query.Predicate) (string, error) {
	switch p.Op {
	case query.OpTrue:
		return "1 = 1", nil
	case query.OpAnd, query.OpOr:
		sep := " AND "
		if p.Op == query.OpOr {
			sep = " OR "
		}
		parts := make([]string, len(p.Children))
		for i, c := range p.Children {
			s, err := b.where(c)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	case query.OpNot:
		s, err := b.where(p.Children[0])
		if err != nil {
			return "", err
		}
		return "NOT (" + s + ")", nil
	}

	if _, ok := schema.LookupField(p.Field); !ok {
		return "", fmt.Errorf("unknown field %q", p.Field)
	}
	col := b.d.quote(p.Field)

	switch p.Op {
	case query.OpEq, query.OpNe, query.OpLt, query.OpLe, query.OpGt, query.OpGe:
		op := p.Op.Symbol()
		if p.Op == query.OpEq {
			op = "="
		} else if p.Op == query.OpNe {
			op = "<>"
		}
		return fmt.Sprintf("%s %s %s", col, op, b.bind(p.Value)), nil
	case query.OpIn:
		vs := p.Value.([]any)
		marks := make([]string, len(vs))
		for i, v := range vs {
			marks[i] = b.bind(v)
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")), nil
	case query.OpPrefix:
		// substr instead of LIKE: no wildcard escaping, same result on every dialect
		prefix := p.Value.(string)
		if prefix == "" {
			return "1 = 1", nil
		}
		n := utf8.RuneCountInString(prefix)
		return fmt.Sprintf("substr(%s, 1, %d) = %s", col, n, b.bind(prefix)), nil
	}
	return "", fmt.Errorf("unsupported operator %d", p.Op)
}

// selectSQL compiles a normalized query to a SELECT over every column.
func selectSQL(d Dialect, columns string, q query.Query) (string, []any, error) {
	b := &builder{d: d}
	w, err := b.where(q.Where)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE %s ORDER BY ", columns, d.quote(recordsTable), w)
	for _, o := range q.OrderBy {
		sb.WriteString(d.quote(o.Field))
		if o.Desc {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", ")
	}
	sb.WriteString(d.quote(schema.PathField))

	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit == 0 {
			limit = math.MaxInt64
		}
		sb.WriteString(" LIMIT " + strconv.Itoa(limit))
		if q.Offset > 0 {
			sb.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
		}
	}
	return sb.String(), b.args, nil
}

// countSQL compiles a normalized predicate to a COUNT query.
func countSQL(d Dialect, p query.Predicate) (string, []any, error) {
	b := &builder{d: d}
	w, err := b.where(p)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", d.quote(recordsTable), w), b.args, nil
}

func countStatesSQL(d Dialect) string {
	state := d.quote("state")
	return fmt.Sprintf("SELECT %s, COUNT(*) FROM %s GROUP BY %s", state, d.quote(recordsTable), state)
}
