package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qass/buffercache/internal/schema"
)

var termOps = []struct {
	token string
	op    Op
}{
	{"==", OpEq}, {"!=", OpNe}, {"<=", OpLe}, {">=", OpGe}, {"^=", OpPrefix},
	{"=", OpEq}, {"<", OpLt}, {">", OpGt},
}

// splitTerm finds the leftmost operator in s. At equal positions the longer
// token wins, so "<=" is not read as "<".
func splitTerm(s string) (at int, token string, op Op) {
	at = -1
	for _, t := range termOps {
		i := strings.Index(s, t.token)
		if i < 0 {
			continue
		}
		if at < 0 || i < at || (i == at && len(t.token) > len(token)) {
			at, token, op = i, t.token, t.op
		}
	}
	return at, token, op
}

// ParseTerm parses a single comparison such as "compression_frq==8",
// "codec!=raw", "path^=/data/run1/" or "channel in 1,2,3". Values are
// converted to the field's kind; everything after the first operator is
// the value, so "path^=/data/x==y" is a prefix test for "/data/x==y".
func ParseTerm(s string) (Predicate, error) {
	s = strings.TrimSpace(s)
	at, token, op := splitTerm(s)

	if in := strings.Index(s, " in "); in >= 0 && (at < 0 || in < at) {
		field := strings.TrimSpace(s[:in])
		f, known := schema.LookupField(field)
		if !known {
			return Predicate{}, fmt.Errorf("unknown field %q", field)
		}
		var vs []any
		for _, raw := range strings.Split(s[in+len(" in "):], ",") {
			v, err := parseValue(f, raw)
			if err != nil {
				return Predicate{}, err
			}
			vs = append(vs, v)
		}
		return In(field, vs...), nil
	}

	switch {
	case at < 0:
		return Predicate{}, fmt.Errorf("no operator in term %q", s)
	case at == 0:
		return Predicate{}, fmt.Errorf("no field before %q in term %q", token, s)
	}
	field := strings.TrimSpace(s[:at])
	f, known := schema.LookupField(field)
	if !known {
		return Predicate{}, fmt.Errorf("unknown field %q", field)
	}
	v, err := parseValue(f, s[at+len(token):])
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{Op: op, Field: field, Value: v}, nil
}

// ParseTerms parses every term and joins them with And, or with Or when anyOf
// is set. No terms match everything.
func ParseTerms(terms []string, anyOf bool) (Predicate, error) {
	ps := make([]Predicate, 0, len(terms))
	for _, t := range terms {
		p, err := ParseTerm(t)
		if err != nil {
			return Predicate{}, err
		}
		ps = append(ps, p)
	}
	if len(ps) == 0 {
		return All(), nil
	}
	if anyOf {
		return Or(ps...), nil
	}
	return And(ps...), nil
}

func parseValue(f schema.Field, raw string) (any, error) {
	raw = strings.Trim(strings.TrimSpace(raw), `"'`)
	switch f.Kind {
	case schema.KindInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s needs an integer, got %q", f.Name, raw)
		}
		return v, nil
	case schema.KindFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s needs a number, got %q", f.Name, raw)
		}
		return v, nil
	}
	return raw, nil
}

// ParseOrder parses "field", "-field" or "field:desc".
func ParseOrder(s string) (Order, error) {
	s = strings.TrimSpace(s)
	o := Order{Field: s}
	switch {
	case strings.HasPrefix(s, "-"):
		o = Order{Field: s[1:], Desc: true}
	case strings.HasSuffix(s, ":desc"):
		o = Order{Field: strings.TrimSuffix(s, ":desc"), Desc: true}
	case strings.HasSuffix(s, ":asc"):
		o = Order{Field: strings.TrimSuffix(s, ":asc")}
	}
	if _, ok := schema.LookupField(o.Field); !ok {
		return Order{}, fmt.Errorf("unknown order field %q", o.Field)
	}
	return o, nil
}
