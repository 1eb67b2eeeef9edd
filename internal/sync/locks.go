package sync

import (
	"context"
	gosync "sync"
)

// scopeLocks serializes passes over overlapping scopes.
type scopeLocks struct {
	mu     gosync.Mutex
	active map[*held]struct{}
}

type held struct {
	scope Scope
	done  chan struct{}
}

// acquire waits until no active pass overlaps s and registers s. With
// failFast it returns ErrScopeBusy instead of waiting.
func (l *scopeLocks) acquire(ctx context.Context, s Scope, failFast bool) (release func(), err error) {
	for {
		l.mu.Lock()
		var blocker *held
		for h := range l.active {
			if h.scope.Overlaps(s) {
				blocker = h
				break
			}
		}
		if blocker == nil {
			if l.active == nil {
				l.active = make(map[*held]struct{})
			}
			h := &held{scope: s, done: make(chan struct{})}
			l.active[h] = struct{}{}
			l.mu.Unlock()
			return func() {
				l.mu.Lock()
				delete(l.active, h)
				l.mu.Unlock()
				close(h.done)
			}, nil
		}
		l.mu.Unlock()

		if failFast {
			return nil, ErrScopeBusy
		}
		select {
		case <-blocker.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
