package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qass/buffercache/internal/buffer"
	"github.com/qass/buffercache/internal/fingerprint"
)

func TestFromHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p7c1b01")
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	h := &buffer.Header{
		Version:         4,
		Process:         7,
		Channel:         2,
		CompressionFrq:  8,
		CompressionTime: 4,
		EpochTime:       1700000000000,
		Codec:           buffer.CodecZstd,
		Hash:            "abc",
	}
	now := time.Now()

	r := FromHeader(path, fi, fingerprint.FromInfo(fi), h, now)
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if r.State != StateIndexed {
		t.Errorf("State = %q, want indexed", r.State)
	}
	if r.Directory != filepath.Dir(path) || r.Filename != "p7c1b01" {
		t.Errorf("Directory/Filename = %q/%q", r.Directory, r.Filename)
	}
	if r.Process != 7 || r.Channel != 2 || r.CompressionFrq != 8 {
		t.Errorf("header fields not copied: %+v", r)
	}
	if r.Codec != "zstd" {
		t.Errorf("Codec = %q, want zstd", r.Codec)
	}
	if r.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", r.Timestamp)
	}
	if r.Size != 4 {
		t.Errorf("Size = %d, want 4", r.Size)
	}
}

func TestFailed_KeepsPreviousHeader(t *testing.T) {
	prev := &Record{
		Path:           "/data/p1c0b01",
		Directory:      "/data",
		Filename:       "p1c0b01",
		Fingerprint:    "st:10:1",
		State:          StateIndexed,
		Process:        1,
		CompressionFrq: 16,
	}
	fp := fingerprint.Fingerprint{Size: 5, ModTime: 2}

	r := Failed(prev.Path, nil, fp, errors.New("bad magic"), prev, time.Unix(100, 0))
	if r.State != StateFailed || r.Error != "bad magic" {
		t.Errorf("State/Error = %q/%q", r.State, r.Error)
	}
	if r.CompressionFrq != 16 || r.Process != 1 {
		t.Error("previous header fields were dropped")
	}
	if r.Fingerprint != fp.String() {
		t.Errorf("Fingerprint = %q, want %q", r.Fingerprint, fp.String())
	}
	if prev.State != StateIndexed {
		t.Error("Failed() mutated the previous record")
	}
}

func TestValidate(t *testing.T) {
	good := Record{Path: "/a/b", Directory: "/a", Filename: "b", State: StateIndexed, Fingerprint: "st:1:1"}

	tests := []struct {
		name   string
		mutate func(r *Record)
	}{
		{"empty path", func(r *Record) { r.Path = "" }},
		{"relative path", func(r *Record) { r.Path, r.Directory = "a/b", "a" }},
		{"wrong directory", func(r *Record) { r.Directory = "/x" }},
		{"bad state", func(r *Record) { r.State = "stale" }},
		{"no fingerprint", func(r *Record) { r.Fingerprint = "" }},
	}

	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() on good record failed: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := good
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Error("Validate() succeeded, want error")
			}
		})
	}
}

func TestFields(t *testing.T) {
	r := &Record{Path: "/p", CompressionFrq: 8, SpecDuration: 1.5, State: StateFailed}

	cases := map[string]any{
		"path":            "/p",
		"compression_frq": int64(8),
		"spec_duration":   1.5,
		"state":           "failed",
	}
	for name, want := range cases {
		f, ok := LookupField(name)
		if !ok {
			t.Fatalf("LookupField(%q) not found", name)
		}
		if got := f.Value(r); got != want {
			t.Errorf("%s = %v (%T), want %v (%T)", name, got, got, want, want)
		}
	}

	f, _ := LookupField("process")
	*(f.Ptr(r).(*int64)) = 42
	if r.Process != 42 {
		t.Error("Ptr() does not point into the record")
	}

	if _, ok := LookupField("nope"); ok {
		t.Error("LookupField(nope) found a field")
	}
	if len(FieldNames()) != len(Fields()) {
		t.Error("FieldNames and Fields disagree")
	}
}

func TestKindCoerce(t *testing.T) {
	if v, err := KindInt.Coerce(8); err != nil || v != int64(8) {
		t.Errorf("KindInt.Coerce(8) = %v, %v", v, err)
	}
	if v, err := KindInt.Coerce(8.0); err != nil || v != int64(8) {
		t.Errorf("KindInt.Coerce(8.0) = %v, %v", v, err)
	}
	if _, err := KindInt.Coerce(8.5); err == nil {
		t.Error("KindInt.Coerce(8.5) succeeded")
	}
	if v, err := KindFloat.Coerce(2); err != nil || v != 2.0 {
		t.Errorf("KindFloat.Coerce(2) = %v, %v", v, err)
	}
	if _, err := KindString.Coerce(3); err == nil {
		t.Error("KindString.Coerce(3) succeeded")
	}
}
