package sync

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/qass/buffercache/internal/query"
)

func TestScope_Normalize(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		want  []string
		err   bool
	}{
		{"dedupe and sort", Scope{Roots: []string{"/b", "/a", "/b/"}}, []string{"/a", "/b"}, false},
		{"nested roots collapse when recursive", Scope{Roots: []string{"/data/run1", "/data"}, Recursive: true}, []string{"/data"}, false},
		{"nested roots kept when flat", Scope{Roots: []string{"/data/run1", "/data"}}, []string{"/data", "/data/run1"}, false},
		{"sibling prefix is not nested", Scope{Roots: []string{"/data", "/data2"}, Recursive: true}, []string{"/data", "/data2"}, false},
		{"no roots", Scope{}, nil, true},
		{"empty root", Scope{Roots: []string{""}}, nil, true},
		{"bad pattern", Scope{Roots: []string{"/a"}, Pattern: "[z-a]"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.scope.Normalize()
			if (err != nil) != tt.err {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.err)
			}
			if tt.err {
				return
			}
			want := make([]string, len(tt.want))
			for i, w := range tt.want {
				want[i] = filepath.FromSlash(w)
			}
			if !reflect.DeepEqual(got.Roots, want) {
				t.Errorf("Roots = %v, want %v", got.Roots, want)
			}
		})
	}
}

func TestScope_Overlaps(t *testing.T) {
	tests := []struct {
		a, b []string
		want bool
	}{
		{[]string{"/data"}, []string{"/data"}, true},
		{[]string{"/data"}, []string{"/data/run1"}, true},
		{[]string{"/data/run1"}, []string{"/data"}, true},
		{[]string{"/data"}, []string{"/data2"}, false},
		{[]string{"/a", "/b"}, []string{"/c", "/b/x"}, true},
		{[]string{"/a"}, []string{"/b"}, false},
	}
	for _, tt := range tests {
		got := Scope{Roots: tt.a}.Overlaps(Scope{Roots: tt.b})
		if got != tt.want {
			t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestScope_Predicate(t *testing.T) {
	rec := Scope{Roots: []string{"/data"}, Recursive: true}.Predicate()
	if rec.Op != query.OpPrefix || rec.Value != "/data/" {
		t.Errorf("recursive predicate = %s, want path prefix /data/", rec)
	}
	flat := Scope{Roots: []string{"/a", "/b"}}.Predicate()
	if flat.Op != query.OpOr || len(flat.Children) != 2 || flat.Children[0].Field != "directory" {
		t.Errorf("flat predicate = %s, want or of directory equality", flat)
	}
}
