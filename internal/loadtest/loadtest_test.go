package loadtest

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/qass/buffercache/internal/buffer/buffertest"
	"github.com/qass/buffercache/internal/cache"
	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/store/memory"
	"github.com/qass/buffercache/internal/sync"
)

// setupTestCache indexes n buffers spread over two run directories.
func setupTestCache(t *testing.T, n int) (*cache.Cache, sync.Scope) {
	t.Helper()
	dir := t.TempDir()
	frqs := []int32{4, 8, 16}
	for i := 0; i < n; i++ {
		process := int32(i + 1)
		path := filepath.Join(dir, fmt.Sprintf("run%d", i%2), fmt.Sprintf("p%dc0b01", process))
		buffertest.Write(t, path, buffertest.Header(process, frqs[i%len(frqs)]))
	}

	c := cache.New(memory.New(), nil)
	t.Cleanup(func() { c.Close() })

	scope := sync.Scope{Roots: []string{dir}, Recursive: true}
	r, err := c.Synchronize(context.Background(), scope)
	if err != nil {
		t.Fatalf("Synchronize() failed: %v", err)
	}
	if r.Changed() != n {
		t.Fatalf("indexed %d files, want %d", r.Changed(), n)
	}
	return c, scope
}

func TestRunConcurrentQueries_Small(t *testing.T) {
	c, _ := setupTestCache(t, 30)

	stats, err := RunConcurrentQueries(context.Background(), c, DefaultWorkload(), 10, 5)
	if err != nil {
		t.Fatalf("RunConcurrentQueries() failed: %v", err)
	}
	if stats.Errors != 0 {
		t.Errorf("got %d errors during queries", stats.Errors)
	}
	if stats.TotalQueries != 50 {
		t.Errorf("TotalQueries = %d, want 50", stats.TotalQueries)
	}
	if stats.Min > stats.P50 || stats.P50 > stats.P95 || stats.P95 > stats.P99 || stats.P99 > stats.Max {
		t.Errorf("percentiles out of order: %+v", stats)
	}
}

func TestRunConcurrentQueries_InvalidInput(t *testing.T) {
	c, _ := setupTestCache(t, 3)
	ctx := context.Background()

	if _, err := RunConcurrentQueries(ctx, c, nil, 1, 1); err == nil {
		t.Error("expected error for empty workload")
	}
	if _, err := RunConcurrentQueries(ctx, c, DefaultWorkload(), 0, 1); err == nil {
		t.Error("expected error for zero clients")
	}
	bad := []Case{{Name: "bad", Where: query.Eq("no_such_field", 1)}}
	if _, err := RunConcurrentQueries(ctx, c, bad, 1, 1); err == nil || !strings.Contains(err.Error(), "no_such_field") {
		t.Errorf("expected unknown field error, got %v", err)
	}
}

func TestVerifyConsistency(t *testing.T) {
	c, scope := setupTestCache(t, 20)

	if err := VerifyConsistency(context.Background(), c, scope, DefaultWorkload(), 4, 200*time.Millisecond); err != nil {
		t.Fatalf("VerifyConsistency() failed: %v", err)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := computeLatencyStats(ds)

	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", s.P50)
	}
	if s.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", s.P99)
	}
	if s.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", s.Mean)
	}
	if ds[0] != 100*time.Millisecond {
		t.Error("input slice was reordered")
	}

	if z := computeLatencyStats(nil); z.TotalQueries != 0 {
		t.Errorf("empty stats = %+v", z)
	}
}

func TestLatencyStats_Print(t *testing.T) {
	var buf bytes.Buffer
	(&LatencyStats{TotalQueries: 3, P95: 2 * time.Millisecond}).Print(&buf)
	out := buf.String()
	for _, want := range []string{"Total Queries: 3", "P95:           2ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
