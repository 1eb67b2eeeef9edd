package daemon

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/qass/buffercache/internal/sync"
)

var bufferPattern = regexp.MustCompile(sync.DefaultPattern)

func newWatcher(t *testing.T, recursive bool, roots ...string) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher(bufferPattern, recursive)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(roots...); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = fw.Stop() })
	return fw
}

// waitEvent returns the first event matching want, failing after a timeout.
func waitEvent(t *testing.T, fw *FileWatcher, want func(FileEvent) bool) FileEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-fw.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if want(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher(bufferPattern, true)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

func TestFileWatcher_StartStop(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWatcher(bufferPattern, true)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := fw.Start(dir); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}
	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if _, ok := <-fw.Events(); ok {
		t.Error("Events channel should be closed after Stop()")
	}
	// Stopping twice is a no-op.
	if err := fw.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestFileWatcher_MissingRoot(t *testing.T) {
	fw, err := NewFileWatcher(bufferPattern, true)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() on a missing root should fail")
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after a failed Start()")
	}
}

func TestFileWatcher_BufferFileCreated(t *testing.T) {
	dir := t.TempDir()
	fw := newWatcher(t, false, dir)

	path := filepath.Join(dir, "p1c0b01")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ev := waitEvent(t, fw, func(ev FileEvent) bool { return ev.Path == path })
	if ev.Op != OpCreate && ev.Op != OpModify {
		t.Errorf("Op = %s, want create or modify", ev.Op)
	}
	if ev.Dir {
		t.Error("file event marked as directory")
	}
}

func TestFileWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	fw := newWatcher(t, false, dir)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(dir, "p2c0b01")
	if err := os.WriteFile(marker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	// Events arrive in order, so anything before the marker must be about
	// the marker itself.
	waitEvent(t, fw, func(ev FileEvent) bool {
		if ev.Path != marker {
			t.Errorf("unexpected event for %s", ev.Path)
		}
		return ev.Path == marker
	})
}

func TestFileWatcher_Delete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p3c0b01")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	fw := newWatcher(t, false, dir)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, fw, func(ev FileEvent) bool { return ev.Path == path && ev.Op == OpDelete })
}

func TestFileWatcher_FollowsNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	fw := newWatcher(t, true, dir)

	sub := filepath.Join(dir, "run1")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, fw, func(ev FileEvent) bool { return ev.Path == sub })
	if !ev.Dir || ev.Op != OpCreate {
		t.Errorf("got %+v, want directory create", ev)
	}

	path := filepath.Join(sub, "p4c0b01")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, fw, func(ev FileEvent) bool { return ev.Path == path })

	if err := os.RemoveAll(sub); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, fw, func(ev FileEvent) bool { return ev.Path == sub && ev.Dir && ev.Op == OpDelete })
}

func TestEventOp_String(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{EventOp(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
