package cache

import (
	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
)

// Option adjusts a query.
type Option func(*options)

type options struct {
	order  []query.Order
	limit  int
	offset int
	filter func(*schema.Record) bool
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// OrderBy appends a sort key. Ties fall back to path order.
func OrderBy(field string, desc bool) Option {
	return func(o *options) { o.order = append(o.order, query.Order{Field: field, Desc: desc}) }
}

// SortBy appends several sort keys.
func SortBy(orders ...query.Order) Option {
	return func(o *options) { o.order = append(o.order, orders...) }
}

// Limit keeps at most n results.
func Limit(n int) Option {
	return func(o *options) { o.limit = n }
}

// Offset skips the first n results.
func Offset(n int) Option {
	return func(o *options) { o.offset = n }
}

// Filter keeps only records for which fn returns true. It runs after the
// predicate and before Limit and Offset.
func Filter(fn func(*schema.Record) bool) Option {
	return func(o *options) { o.filter = fn }
}
