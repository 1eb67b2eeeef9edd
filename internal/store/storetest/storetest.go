// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qass/buffercache/internal/query"
	"github.com/qass/buffercache/internal/schema"
	"github.com/qass/buffercache/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Record builds a valid indexed record for path.
func Record(path string, frq int64) *schema.Record {
	return &schema.Record{
		Path:           path,
		Directory:      filepath.Dir(path),
		Filename:       filepath.Base(path),
		Fingerprint:    fmt.Sprintf("st:%d:1", frq),
		State:          schema.StateIndexed,
		CompressionFrq: frq,
		Codec:          "raw",
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"UpsertAndQuery", testUpsertAndQuery},
		{"UpsertReplaces", testUpsertReplaces},
		{"DeleteAbsent", testDeleteAbsent},
		{"RollbackDiscards", testRollbackDiscards},
		{"UncommittedInvisible", testUncommittedInvisible},
		{"TxDone", testTxDone},
		{"OrderedEquality", testOrderedEquality},
		{"UnderPrefix", testUnderPrefix},
		{"CountAndState", testCountAndState},
		{"InvalidQuery", testInvalidQuery},
		{"WithTxError", testWithTxError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func put(t *testing.T, s store.Store, rs ...*schema.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, s, func(tx store.Tx) error {
		for _, r := range rs {
			if err := tx.Upsert(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
}

func all(t *testing.T, s store.Store) []string {
	t.Helper()
	rs, err := s.Query(context.Background(), query.Query{Where: query.All()})
	require.NoError(t, err)
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Path
	}
	return out
}

func testUpsertAndQuery(t *testing.T, s store.Store) {
	r := Record("/data/p1c0b01", 8)
	r.Comment = "first"
	r.SpecDuration = 81.92
	put(t, s, r)

	got, err := s.Query(context.Background(), query.Query{Where: query.Eq("path", "/data/p1c0b01")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r, got[0])
}

func testUpsertReplaces(t *testing.T, s store.Store) {
	put(t, s, Record("/data/p1c0b01", 4))
	put(t, s, Record("/data/p1c0b01", 16))

	got, err := s.Query(context.Background(), query.Query{Where: query.All()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(16), got[0].CompressionFrq)
}

func testDeleteAbsent(t *testing.T, s store.Store) {
	put(t, s, Record("/data/p1c0b01", 4))
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, s, func(tx store.Tx) error {
		if err := tx.Delete(ctx, "/data/missing"); err != nil {
			return err
		}
		return tx.Delete(ctx, "/data/p1c0b01")
	}))
	assert.Empty(t, all(t, s))
}

func testRollbackDiscards(t *testing.T, s store.Store) {
	put(t, s, Record("/data/p1c0b01", 4))
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Upsert(ctx, Record("/data/p2c0b01", 8)))
	require.NoError(t, tx.Delete(ctx, "/data/p1c0b01"))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, []string{"/data/p1c0b01"}, all(t, s))
}

func testUncommittedInvisible(t *testing.T, s store.Store) {
	put(t, s, Record("/data/p1c0b01", 4))
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Upsert(ctx, Record("/data/p2c0b01", 8)))
	require.NoError(t, tx.Delete(ctx, "/data/p1c0b01"))

	assert.Equal(t, []string{"/data/p1c0b01"}, all(t, s), "readers must see the last committed state")

	require.NoError(t, tx.Commit())
	assert.Equal(t, []string{"/data/p2c0b01"}, all(t, s))
}

func testTxDone(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Error(t, tx.Commit())
	assert.Error(t, tx.Upsert(ctx, Record("/data/p1c0b01", 4)))
	assert.Error(t, tx.Rollback())
}

func testOrderedEquality(t *testing.T, s store.Store) {
	a := Record("/data/p1c0b01", 4)
	b := Record("/data/p2c0b01", 8)
	b.Timestamp = 200
	c := Record("/data/p3c0b01", 8)
	c.Timestamp = 100
	d := Record("/data/p4c0b01", 16)
	put(t, s, a, b, c, d)

	got, err := s.Query(context.Background(), query.Query{
		Where:   query.Eq("compression_frq", 8),
		OrderBy: []query.Order{{Field: "timestamp"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/data/p3c0b01", got[0].Path)
	assert.Equal(t, "/data/p2c0b01", got[1].Path)

	got, err = s.Query(context.Background(), query.Query{
		Where:   query.Ge("compression_frq", 8),
		OrderBy: []query.Order{{Field: "compression_frq", Desc: true}},
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/data/p4c0b01", got[0].Path)
	assert.Equal(t, "/data/p2c0b01", got[1].Path, "ties are broken by path")
}

func testUnderPrefix(t *testing.T, s store.Store) {
	put(t, s,
		Record("/data/run_1/p1c0b01", 4),
		Record("/data/run_1/deep/p2c0b01", 4),
		Record("/data/runX1/p3c0b01", 4),
		Record("/data/run_10/p4c0b01", 4),
		Record("/data/100%/p5c0b01", 4),
		Record("/data/1000/p6c0b01", 4),
	)

	got, err := s.Query(context.Background(), query.Query{Where: query.Under("/data/run_1")})
	require.NoError(t, err)
	var paths []string
	for _, r := range got {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"/data/run_1/deep/p2c0b01", "/data/run_1/p1c0b01"}, paths)

	got, err = s.Query(context.Background(), query.Query{Where: query.Under("/data/100%")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/data/100%/p5c0b01", got[0].Path)
}

func testCountAndState(t *testing.T, s store.Store) {
	failed := Record("/data/p2c0b01", 0)
	failed.State = schema.StateFailed
	failed.Error = "bad magic"
	put(t, s, Record("/data/p1c0b01", 4), failed)

	n, err := s.Count(context.Background(), query.All())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(context.Background(), query.Eq("state", string(schema.StateIndexed)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	states, err := s.CountStates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[schema.State]int{schema.StateIndexed: 1, schema.StateFailed: 1}, states)

	got, err := s.Query(context.Background(), query.Query{Where: query.Eq("state", string(schema.StateFailed))})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bad magic", got[0].Error)

	got, err = s.Query(context.Background(), query.Query{Where: query.Eq("process", 999)})
	require.NoError(t, err)
	assert.Empty(t, got, "no match is an empty result, not an error")
}

func testInvalidQuery(t *testing.T, s store.Store) {
	_, err := s.Query(context.Background(), query.Query{Where: query.Eq("bogus", 1)})
	assert.Error(t, err)
	_, err = s.Count(context.Background(), query.Eq("process", "x"))
	assert.Error(t, err)
}

func testWithTxError(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.WithTx(ctx, s, func(tx store.Tx) error {
		if err := tx.Upsert(ctx, Record("/data/p1c0b01", 4)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, all(t, s))

	bad := Record("relative/path", 4)
	err = store.WithTx(ctx, s, func(tx store.Tx) error { return tx.Upsert(ctx, bad) })
	assert.ErrorIs(t, err, store.ErrStore)
}
