package query

import (
	"cmp"
	"slices"
	"strings"

	"github.com/qass/buffercache/internal/schema"
)

// Match evaluates a normalized predicate against r.
func (p Predicate) Match(r *schema.Record) bool {
	switch p.Op {
	case OpTrue:
		return true
	case OpAnd:
		for _, c := range p.Children {
			if !c.Match(r) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.Children {
			if c.Match(r) {
				return true
			}
		}
		return false
	case OpNot:
		return !p.Children[0].Match(r)
	}

	f, ok := schema.LookupField(p.Field)
	if !ok {
		return false
	}
	v := f.Value(r)
	switch p.Op {
	case OpEq:
		return compare(v, p.Value) == 0
	case OpNe:
		return compare(v, p.Value) != 0
	case OpLt:
		return compare(v, p.Value) < 0
	case OpLe:
		return compare(v, p.Value) <= 0
	case OpGt:
		return compare(v, p.Value) > 0
	case OpGe:
		return compare(v, p.Value) >= 0
	case OpIn:
		for _, x := range p.Value.([]any) {
			if compare(v, x) == 0 {
				return true
			}
		}
		return false
	case OpPrefix:
		s, _ := v.(string)
		prefix, _ := p.Value.(string)
		return strings.HasPrefix(s, prefix)
	}
	return false
}

// compare orders two values of the same field kind.
func compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		y, _ := b.(int64)
		return cmp.Compare(x, y)
	case float64:
		y, _ := b.(float64)
		return cmp.Compare(x, y)
	case string:
		y, _ := b.(string)
		return strings.Compare(x, y)
	}
	return 0
}

// Sort orders records by orders, then by path.
func Sort(records []*schema.Record, orders []Order) {
	type key struct {
		f    schema.Field
		desc bool
	}
	keys := make([]key, 0, len(orders))
	for _, o := range orders {
		if f, ok := schema.LookupField(o.Field); ok {
			keys = append(keys, key{f, o.Desc})
		}
	}
	slices.SortStableFunc(records, func(a, b *schema.Record) int {
		for _, k := range keys {
			c := compare(k.f.Value(a), k.f.Value(b))
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.Path, b.Path)
	})
}

// Apply filters, sorts and pages records in memory. q must be normalized.
func Apply(records []*schema.Record, q Query) []*schema.Record {
	out := make([]*schema.Record, 0, len(records))
	for _, r := range records {
		if q.Where.Match(r) {
			out = append(out, r)
		}
	}
	Sort(out, q.OrderBy)
	return Page(out, q.Limit, q.Offset)
}

// Page skips offset records and keeps at most limit of the rest. Zero
// limit keeps all.
func Page(records []*schema.Record, limit, offset int) []*schema.Record {
	if offset > 0 {
		if offset >= len(records) {
			return records[:0]
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
