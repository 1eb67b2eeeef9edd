package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qass/buffercache/internal/schema"
)

func records() []*schema.Record {
	mk := func(path string, frq, process int64, ts int64) *schema.Record {
		return &schema.Record{
			Path:           path,
			CompressionFrq: frq,
			Process:        process,
			Timestamp:      ts,
			Codec:          "raw",
			State:          schema.StateIndexed,
		}
	}
	return []*schema.Record{
		mk("/data/a/p1c0b01", 4, 1, 400),
		mk("/data/a/p2c0b01", 8, 2, 100),
		mk("/data/b/p3c0b01", 8, 3, 300),
		mk("/data/b/sub/p4c0b01", 16, 4, 200),
	}
}

func paths(rs []*schema.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Path
	}
	return out
}

func run(t *testing.T, q Query) []string {
	t.Helper()
	n, err := q.Normalize()
	require.NoError(t, err)
	return paths(Apply(records(), n))
}

func TestApply_EqualityOrdered(t *testing.T) {
	got := run(t, Query{
		Where:   Eq("compression_frq", 8),
		OrderBy: []Order{{Field: "timestamp"}},
	})
	assert.Equal(t, []string{"/data/a/p2c0b01", "/data/b/p3c0b01"}, got)

	got = run(t, Query{
		Where:   Eq("compression_frq", 8),
		OrderBy: []Order{{Field: "timestamp", Desc: true}},
	})
	assert.Equal(t, []string{"/data/b/p3c0b01", "/data/a/p2c0b01"}, got)
}

func TestApply_Composition(t *testing.T) {
	tests := []struct {
		name  string
		where Predicate
		want  []string
	}{
		{"all", All(), []string{"/data/a/p1c0b01", "/data/a/p2c0b01", "/data/b/p3c0b01", "/data/b/sub/p4c0b01"}},
		{"and", And(Ge("compression_frq", 8), Lt("process", 4)), []string{"/data/a/p2c0b01", "/data/b/p3c0b01"}},
		{"or", Or(Eq("process", 1), Eq("process", 4)), []string{"/data/a/p1c0b01", "/data/b/sub/p4c0b01"}},
		{"not", Not(Eq("compression_frq", 8)), []string{"/data/a/p1c0b01", "/data/b/sub/p4c0b01"}},
		{"in", In("process", 2, 3), []string{"/data/a/p2c0b01", "/data/b/p3c0b01"}},
		{"under", Under("/data/b"), []string{"/data/b/p3c0b01", "/data/b/sub/p4c0b01"}},
		{"under excludes siblings", Under("/data/a/p1"), nil},
		{"template", FromTemplate(map[string]any{"compression_frq": 8, "process": 3}), []string{"/data/b/p3c0b01"}},
		{"none", Gt("compression_frq", 100), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, Query{Where: tt.where})
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_Paging(t *testing.T) {
	q := Query{Where: All(), OrderBy: []Order{{Field: "process", Desc: true}}, Limit: 2, Offset: 1}
	assert.Equal(t, []string{"/data/b/p3c0b01", "/data/a/p2c0b01"}, run(t, q))

	q.Offset = 10
	assert.Empty(t, run(t, q))
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name string
		q    Query
	}{
		{"unknown field", Query{Where: Eq("nope", 1)}},
		{"wrong kind", Query{Where: Eq("process", "seven")}},
		{"fractional int", Query{Where: Eq("process", 1.5)}},
		{"prefix on int", Query{Where: Prefix("process", "1")}},
		{"empty in", Query{Where: In("process")}},
		{"empty or", Query{Where: Predicate{Op: OpOr}}},
		{"unknown order", Query{Where: All(), OrderBy: []Order{{Field: "nope"}}}},
		{"negative limit", Query{Where: All(), Limit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.q.Normalize()
			assert.Error(t, err)
		})
	}
}

func TestAnd_Flattens(t *testing.T) {
	p := And(Eq("process", 1), And(Eq("channel", 2), All()))
	require.Equal(t, OpAnd, p.Op)
	assert.Len(t, p.Children, 2)

	assert.Equal(t, OpTrue, And().Op)
	assert.Equal(t, OpEq, And(Eq("process", 1)).Op)
}

func TestParseTerm(t *testing.T) {
	tests := []struct {
		in   string
		want Predicate
	}{
		{"compression_frq==8", Eq("compression_frq", int64(8))},
		{"compression_frq = 8", Eq("compression_frq", int64(8))},
		{"process>=100", Ge("process", int64(100))},
		{"process<3", Lt("process", int64(3))},
		{"codec!=raw", Ne("codec", "raw")},
		{"spec_duration>1.5", Gt("spec_duration", 1.5)},
		{"path^=/data/run1/", Prefix("path", "/data/run1/")},
		{"path^=/data/x==y", Prefix("path", "/data/x==y")},
		{"comment==a<b", Eq("comment", "a<b")},
		{"process<=3", Le("process", int64(3))},
		{"comment==x in y", Eq("comment", "x in y")},
		{`comment=="weld seam"`, Eq("comment", "weld seam")},
		{"channel in 1, 2", In("channel", int64(1), int64(2))},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTerm(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"process", "nope==1", "process==x", "==1", "channel in a"} {
		_, err := ParseTerm(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseTerms(t *testing.T) {
	p, err := ParseTerms(nil, false)
	require.NoError(t, err)
	assert.Equal(t, OpTrue, p.Op)

	p, err = ParseTerms([]string{"process==1", "process==2"}, true)
	require.NoError(t, err)
	assert.Equal(t, OpOr, p.Op)
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("-timestamp")
	require.NoError(t, err)
	assert.Equal(t, Order{Field: "timestamp", Desc: true}, o)

	o, err = ParseOrder("process:asc")
	require.NoError(t, err)
	assert.Equal(t, Order{Field: "process"}, o)

	_, err = ParseOrder("bogus")
	assert.Error(t, err)
}

func TestPredicate_String(t *testing.T) {
	p := And(Eq("process", 1), Not(Prefix("path", "/x/")))
	assert.Equal(t, "(process==1 and not(path^=/x/))", p.String())
}
