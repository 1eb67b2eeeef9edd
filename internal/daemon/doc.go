// Package daemon keeps a buffer cache synchronized while an acquisition
// system writes files.
//
// # Architecture
//
// The daemon consists of two components:
//
//   - FileWatcher: fsnotify over the scope roots, following new subdirectories
//     of recursive scopes and filtering files by the scope's name pattern
//   - Daemon: queues changed directories, debounces them and runs a
//     synchronize pass per batch, plus a periodic full pass
//
// A write to /data/run1/p12c0b01 queues /data/run1. Once the directory has
// been quiet for DebounceInterval it is synchronized on its own, without
// walking the rest of the scope. A directory that is created or removed is
// queued recursively. Passes are spaced by at least MinSyncInterval.
//
//	d, err := daemon.New(syncer, sync.Scope{Roots: []string{"/data"}, Recursive: true})
//	if err != nil {
//	    return err
//	}
//	d.Subscribe(handler)
//	return d.Start(ctx) // blocks until ctx is done
//
// # Listeners
//
// Every pass, targeted or full, is reported to the subscribed listeners:
// OnSyncReport with the pass report, or OnSyncError when the pass failed
// and left the store unchanged. Listeners run on the daemon's goroutines
// and must not block.
//
// # Missed events
//
// fsnotify drops events when its queue overflows, and network filesystems
// often deliver none at all. The periodic full pass (ResyncInterval) bounds
// how long such a change stays invisible.
//
// # Graceful Shutdown
//
// Cancelling the context passed to Start, or calling Stop, cancels a pass in
// progress (which then leaves the store unchanged), closes the watcher and
// waits for the background goroutines.
package daemon
