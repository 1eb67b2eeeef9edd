// Package loadtest measures query latency of an index under concurrent
// readers.
//
// A workload is a list of cases, each a predicate with ordering and paging.
// RunConcurrentQueries spreads the cases over N clients and reports latency
// percentiles; VerifyConsistency runs readers against a scope that is being
// synchronized at the same time and checks that every result still matches
// the predicate it was returned for.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qass/buffercache/internal/cache"
	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
	"github.com/qass/buffercache/internal/sync"
)

// Target is the part of the cache a load test drives. *cache.Cache
// implements it.
type Target interface {
	Records(ctx context.Context, p query.Predicate, opts ...cache.Option) ([]*schema.Record, error)
	Synchronize(ctx context.Context, scope sync.Scope) (*sync.Report, error)
}

// Case is one query of a workload.
type Case struct {
	Name  string
	Where query.Predicate
	Order []query.Order
	Limit int
}

// prepare normalizes every case so results can be checked with Match.
func prepare(workload []Case) ([]Case, error) {
	if len(workload) == 0 {
		return nil, errors.New("empty workload")
	}
	out := make([]Case, len(workload))
	for i, c := range workload {
		where, err := c.Where.Normalize()
		if err != nil {
			return nil, fmt.Errorf("case %q: %w", c.Name, err)
		}
		c.Where = where
		out[i] = c
	}
	return out, nil
}

func (c Case) options() []cache.Option {
	opts := []cache.Option{cache.SortBy(c.Order...)}
	if c.Limit > 0 {
		opts = append(opts, cache.Limit(c.Limit))
	}
	return opts
}

// DefaultWorkload mixes equality lookups on indexed fields, a range scan
// with ordering and paging, and a set membership test.
func DefaultWorkload(frqs ...int32) []Case {
	if len(frqs) == 0 {
		frqs = []int32{4, 8, 16}
	}
	var w []Case
	for _, f := range frqs {
		w = append(w, Case{
			Name:  fmt.Sprintf("compression_frq==%d", f),
			Where: query.Eq("compression_frq", f),
		})
	}
	return append(w,
		Case{
			Name:  "process>=100 newest 50",
			Where: query.Ge("process", 100),
			Order: []query.Order{{Field: "timestamp", Desc: true}},
			Limit: 50,
		},
		Case{
			Name:  "channel in 1,2",
			Where: query.In("channel", 1, 2),
		},
	)
}

// LatencyStats summarizes the durations of successful queries.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// RunConcurrentQueries runs perClient queries on each of clients goroutines,
// cycling through the workload, and returns latency statistics. Failed
// queries are counted, not retried.
func RunConcurrentQueries(ctx context.Context, t Target, workload []Case, clients, perClient int) (*LatencyStats, error) {
	workload, err := prepare(workload)
	if err != nil {
		return nil, err
	}
	if clients < 1 || perClient < 1 {
		return nil, fmt.Errorf("clients and queries per client must be positive, got %d and %d", clients, perClient)
	}

	var (
		mu     gosync.Mutex
		all    = make([]time.Duration, 0, clients*perClient)
		errCnt atomic.Int64
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < clients; i++ {
		g.Go(func() error {
			durations := make([]time.Duration, 0, perClient)
			for j := 0; j < perClient; j++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c := workload[(i+j)%len(workload)]
				start := time.Now()
				_, err := t.Records(ctx, c.Where, c.options()...)
				elapsed := time.Since(start)
				if err != nil {
					errCnt.Add(1)
					continue
				}
				durations = append(durations, elapsed)
			}
			mu.Lock()
			all = append(all, durations...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("no successful queries completed (%d errors)", errCnt.Load())
	}
	stats := computeLatencyStats(all)
	stats.Errors = int(errCnt.Load())
	return stats, nil
}

// VerifyConsistency queries from clients goroutines for duration d while
// scope is synchronized over and over. It fails on the first record that is
// not indexed or does not match the predicate it came back for.
func VerifyConsistency(ctx context.Context, t Target, scope sync.Scope, workload []Case, clients int, d time.Duration) error {
	workload, err := prepare(workload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for ctx.Err() == nil {
			_, err := t.Synchronize(ctx, scope)
			if err != nil && ctx.Err() == nil && !errors.Is(err, sync.ErrScopeBusy) {
				return fmt.Errorf("synchronize failed: %w", err)
			}
		}
		return nil
	})

	for i := 0; i < clients; i++ {
		g.Go(func() error {
			for n := i; ctx.Err() == nil; n++ {
				c := workload[n%len(workload)]
				records, err := t.Records(ctx, c.Where, c.options()...)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("client %d query %q failed: %w", i, c.Name, err)
				}
				for _, r := range records {
					if r.State != schema.StateIndexed {
						return fmt.Errorf("client %d query %q returned %s record %s", i, c.Name, r.State, r.Path)
					}
					if !c.Where.Match(r) {
						return fmt.Errorf("client %d query %q returned non-matching record %s", i, c.Name, r.Path)
					}
				}
				if c.Limit > 0 && len(records) > c.Limit {
					return fmt.Errorf("client %d query %q returned %d records, limit %d", i, c.Name, len(records), c.Limit)
				}
			}
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(sorted),
		Durations:    sorted,
	}
}

// Print writes the statistics as an aligned block.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Queries: %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
