//go:build darwin || linux

package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquire_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "daemon.lock")

	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts too.
	if _, err := Acquire(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire() = %v, want ErrLocked", err)
	}

	if pid, ok := Owner(path); !ok || pid != os.Getpid() {
		t.Errorf("Owner() = %d, %v; want %d", pid, ok, os.Getpid())
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Errorf("second Release() failed: %v", err)
	}

	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() after Release() failed: %v", err)
	}
	defer again.Release()
	if again.Path() != path {
		t.Errorf("Path() = %q, want %q", again.Path(), path)
	}
}

func TestOwner_Missing(t *testing.T) {
	if _, ok := Owner(filepath.Join(t.TempDir(), "nope")); ok {
		t.Error("Owner() of a missing file should report false")
	}
}
