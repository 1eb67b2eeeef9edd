package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"testing"

	"github.com/qass/buffercache/internal/buffer"
	"github.com/qass/buffercache/internal/buffer/buffertest"
	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
	"github.com/qass/buffercache/internal/store"
	"github.com/qass/buffercache/internal/store/memory"
	"github.com/qass/buffercache/internal/store/storetest"
	"github.com/qass/buffercache/internal/sync"
)

// fixture writes buffers with the given frequency compressions, one per
// process number starting at 1, and indexes them.
func fixture(t *testing.T, frqs ...int32) (*Cache, string, []string) {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(frqs))
	for i, frq := range frqs {
		process := int32(i + 1)
		paths[i] = buffertest.Write(t, filepath.Join(dir, "p"+strconv.Itoa(int(process))+"c0b01"), buffertest.Header(process, frq))
	}
	c := New(memory.New(), nil)
	t.Cleanup(func() { c.Close() })
	if _, err := c.Synchronize(context.Background(), sync.Scope{Roots: []string{dir}, Recursive: true}); err != nil {
		t.Fatalf("Synchronize() failed: %v", err)
	}
	return c, dir, paths
}

func paths(hs []*Handle) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Path
	}
	return out
}

func TestQuery_EqualityOrdered(t *testing.T) {
	c, _, ps := fixture(t, 4, 8, 8, 16)

	got, err := c.Query(context.Background(), query.Eq("compression_frq", 8), OrderBy("timestamp", true))
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	// timestamps grow with the process number
	want := []string{ps[2], ps[1]}
	if !reflect.DeepEqual(paths(got), want) {
		t.Errorf("Query() = %v, want %v", paths(got), want)
	}
	for _, h := range got {
		if h.Record.CompressionFrq != 8 {
			t.Errorf("%s has compression_frq %d", h.Path, h.Record.CompressionFrq)
		}
	}
}

func TestQuery_Empty(t *testing.T) {
	c, _, _ := fixture(t, 4, 8)
	got, err := c.Query(context.Background(), query.Eq("process", 999))
	if err != nil {
		t.Fatalf("Query() with no match failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Query() = %v, want empty", paths(got))
	}
}

func TestQuery_ExcludesFailed(t *testing.T) {
	dir := t.TempDir()
	good := buffertest.Write(t, filepath.Join(dir, "p1c0b01"), buffertest.Header(1, 8))
	bad := buffertest.Write(t, filepath.Join(dir, "p2c0b01"), buffertest.Header(2, 8))
	buffertest.Truncate(t, bad, 40)

	c := New(memory.New(), nil)
	defer c.Close()
	ctx := context.Background()
	if _, err := c.Synchronize(ctx, sync.Scope{Roots: []string{dir}}); err != nil {
		t.Fatal(err)
	}

	files, err := c.Files(ctx, query.All())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(files, []string{good}) {
		t.Errorf("Files() = %v, want [%s]", files, good)
	}

	failed, err := c.Failed(ctx, query.All())
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Path != bad || failed[0].Error == "" {
		t.Errorf("Failed() = %+v, want %s with an error", failed, bad)
	}

	// an explicit state predicate cannot bring failed records back
	got, err := c.Query(ctx, query.Eq("state", string(schema.StateFailed)))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Query(state=failed) = %v, want empty", paths(got))
	}
}

func TestQuery_FilterAndPaging(t *testing.T) {
	c, _, ps := fixture(t, 1, 2, 3, 4, 5, 6)
	ctx := context.Background()

	even := Filter(func(r *schema.Record) bool { return r.CompressionFrq%2 == 0 })
	got, err := c.Files(ctx, query.All(), even, OrderBy("compression_frq", false), Offset(1), Limit(1))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{ps[3]}) {
		t.Errorf("Files() = %v, want [%s]", got, ps[3])
	}

	got, err = c.Files(ctx, query.Gt("compression_frq", 1), OrderBy("compression_frq", true), Limit(2))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{ps[5], ps[4]}) {
		t.Errorf("Files() = %v, want [%s %s]", got, ps[5], ps[4])
	}
}

func TestQuery_Template(t *testing.T) {
	c, _, ps := fixture(t, 4, 8, 8)
	got, err := c.Files(context.Background(), query.FromTemplate(map[string]any{"compression_frq": 8, "process": 2}))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{ps[1]}) {
		t.Errorf("Files() = %v, want [%s]", got, ps[1])
	}
}

func TestQuery_InvalidPredicate(t *testing.T) {
	c, _, _ := fixture(t, 4)
	if _, err := c.Query(context.Background(), query.Eq("no_such_field", 1)); err == nil {
		t.Error("Query() with an unknown field succeeded")
	}
}

func TestHandle_Open(t *testing.T) {
	c, _, ps := fixture(t, 8)
	hs, err := c.Query(context.Background(), query.All())
	if err != nil || len(hs) != 1 {
		t.Fatalf("Query() = %v, %v", hs, err)
	}

	b, err := hs[0].Open(context.Background())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer b.Close()
	if b.Path != ps[0] || b.Header.CompressionFrq != 8 {
		t.Errorf("opened %s with frq %d", b.Path, b.Header.CompressionFrq)
	}
	if b.Header.Hash != hs[0].Record.HeaderHash {
		t.Error("header hash differs from the indexed one")
	}
}

func TestHandle_OpenAfterDelete(t *testing.T) {
	c, _, ps := fixture(t, 8)
	hs, _ := c.Query(context.Background(), query.All())
	if err := os.Remove(ps[0]); err != nil {
		t.Fatal(err)
	}

	_, err := hs[0].Open(context.Background())
	var nf *buffer.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Open() error = %v, want NotFoundError", err)
	}
	if !errors.Is(err, buffer.ErrNotFound) {
		t.Error("NotFoundError does not match ErrNotFound")
	}

	called := false
	err = hs[0].With(context.Background(), func(*buffer.Buffer) error { called = true; return nil })
	if !errors.Is(err, buffer.ErrNotFound) || called {
		t.Errorf("With() = %v, called %v; want ErrNotFound without calling fn", err, called)
	}
}

func TestHandle_With(t *testing.T) {
	c, _, _ := fixture(t, 8)
	hs, _ := c.Query(context.Background(), query.All())

	boom := errors.New("boom")
	var opened *buffer.Buffer
	err := hs[0].With(context.Background(), func(b *buffer.Buffer) error {
		opened = b
		spectra, err := b.Payload.Spectra(0, 1)
		if err != nil {
			return err
		}
		if len(spectra) != 1 {
			t.Errorf("Spectra() returned %d spectra, want 1", len(spectra))
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("With() error = %v, want boom", err)
	}
	if _, err := opened.Payload.Spectra(0, 1); err == nil {
		t.Error("payload still readable after With returned")
	}
}

func TestRemove(t *testing.T) {
	c, dir, ps := fixture(t, 4, 8, 16)
	ctx := context.Background()

	if err := c.Remove(ctx, ps[0], filepath.Join(dir, "unknown")); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	files, _ := c.Files(ctx, query.All())
	if !reflect.DeepEqual(files, ps[1:]) {
		t.Errorf("Files() after Remove = %v, want %v", files, ps[1:])
	}

	// the file is still on disk, so the next pass brings it back
	r, err := c.Synchronize(ctx, sync.Scope{Roots: []string{dir}, Recursive: true})
	if err != nil {
		t.Fatal(err)
	}
	if r.Added != 1 {
		t.Errorf("Added = %d, want 1", r.Added)
	}
}

func TestSynchronize_DeletedFileDisappears(t *testing.T) {
	c, dir, ps := fixture(t, 4, 8, 16)
	ctx := context.Background()

	if err := os.Remove(ps[1]); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Synchronize(ctx, sync.Scope{Roots: []string{dir}, Recursive: true}); err != nil {
		t.Fatal(err)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 2 {
		t.Errorf("Indexed = %d, want 2", stats.Indexed)
	}
	files, _ := c.Files(ctx, query.All())
	for _, f := range files {
		if f == ps[1] {
			t.Errorf("deleted file %s still returned", f)
		}
	}
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	buffertest.Write(t, filepath.Join(dir, "p1c0b01"), buffertest.Header(1, 8))
	bad := buffertest.Write(t, filepath.Join(dir, "p2c0b01"), buffertest.Header(2, 8))
	buffertest.Truncate(t, bad, 40)

	c := New(memory.New(), nil)
	defer c.Close()
	if _, err := c.Synchronize(context.Background(), sync.Scope{Roots: []string{dir}}); err != nil {
		t.Fatal(err)
	}
	got, err := c.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := &Stats{Records: 2, Indexed: 1, Failed: 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestStats_ConsistentDuringWrites(t *testing.T) {
	st := memory.New()
	c := New(st, nil)
	defer c.Close()

	paths := []string{"/data/p1c0b01", "/data/p2c0b01"}
	flip := func(state schema.State) error {
		return store.WithTx(context.Background(), st, func(tx store.Tx) error {
			for _, p := range paths {
				r := storetest.Record(p, 8)
				if state == schema.StateFailed {
					r.State, r.Error = schema.StateFailed, "bad magic"
				}
				if err := tx.Upsert(context.Background(), r); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := flip(schema.StateIndexed); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		states := []schema.State{schema.StateFailed, schema.StateIndexed}
		for i := 0; ; i++ {
			select {
			case <-stop:
				done <- nil
				return
			default:
			}
			if err := flip(states[i%2]); err != nil {
				done <- err
				return
			}
		}
	}()

	for i := 0; i < 500; i++ {
		s, err := c.Stats(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if s.Records != 2 || (s.Indexed != 0 && s.Indexed != 2) {
			t.Fatalf("Stats() = %+v mixes two committed states", s)
		}
	}
	close(stop)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestPending(t *testing.T) {
	c, dir, _ := fixture(t, 4)
	fresh := buffertest.Write(t, filepath.Join(dir, "p9c0b01"), buffertest.Header(9, 4))

	got, err := c.Pending(context.Background(), sync.Scope{Roots: []string{dir}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != fresh || got[0].Reason != sync.PendingNew {
		t.Errorf("Pending() = %+v, want %s as new", got, fresh)
	}
}

func TestOpen_SQLitePersists(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	path := buffertest.Write(t, filepath.Join(data, "p1c0b01"), buffertest.Header(1, 8))
	cfg := Config{DSN: filepath.Join(dir, "index.db")}
	ctx := context.Background()

	c, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := c.Synchronize(ctx, sync.Scope{Roots: []string{data}}); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer c.Close()
	files, err := c.Files(ctx, query.Eq("compression_frq", 8))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(files, []string{path}) {
		t.Errorf("Files() after reopen = %v, want [%s]", files, path)
	}
}

func TestOpen_UnknownDialect(t *testing.T) {
	if _, err := Open(context.Background(), Config{Dialect: "oracle"}); err == nil {
		t.Error("Open() with unknown dialect succeeded")
	}
}
