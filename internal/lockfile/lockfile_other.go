//go:build !(darwin || linux)

package lockfile

import "errors"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock is held by another process")

// Lock is a no-op on platforms without flock.
type Lock struct{ path string }

func Acquire(path string) (*Lock, error) { return &Lock{path: path}, nil }

func Owner(string) (int, bool) { return 0, false }

func (l *Lock) Path() string { return l.path }

func (l *Lock) Release() error { return nil }
