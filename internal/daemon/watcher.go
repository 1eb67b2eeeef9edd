package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to a buffer file, or to a directory that may hold
// some.
type FileEvent struct {
	// Path is the absolute path that changed.
	Path string
	// Dir is set when Path is (or, for deletions, may have been) a directory.
	Dir bool
	Op  EventOp
}

// FileWatcher watches directory trees for buffer file changes. Directories
// created below a watched root are watched as they appear.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	pattern   *regexp.Regexp
	recursive bool

	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	watched map[string]bool
}

// NewFileWatcher creates a FileWatcher reporting files whose base name
// matches pattern. The watcher must be started with Start() before it will
// emit events.
func NewFileWatcher(pattern *regexp.Regexp, recursive bool) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher:   watcher,
		pattern:   pattern,
		recursive: recursive,
		events:    make(chan FileEvent, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
		watched:   make(map[string]bool),
	}, nil
}

// Start begins watching roots, and every directory below them when the
// watcher is recursive.
func (fw *FileWatcher) Start(roots ...string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	for _, root := range roots {
		if err := fw.addTree(root); err != nil {
			for dir := range fw.watched {
				_ = fw.watcher.Remove(dir)
			}
			fw.watched = make(map[string]bool)
			return err
		}
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// addTree watches dir and, when recursive, its subdirectories. Callers hold
// fw.mu.
func (fw *FileWatcher) addTree(dir string) error {
	if !fw.recursive {
		return fw.add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch directory %s: %w", dir, err)
			}
			// unreadable subtree; the synchronizer reports it
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return fw.add(path)
	})
}

func (fw *FileWatcher) add(dir string) error {
	if fw.watched[dir] {
		return nil
	}
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	fw.watched[dir] = true
	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.mu.Unlock()

	// Signal shutdown
	close(fw.done)

	// Close the underlying watcher (this will unblock the event loop)
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	// Wait for event processing to finish
	fw.wg.Wait()

	// Close channels
	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// processEvents is the main event loop that processes fsnotify events
// and converts them to FileEvent notifications.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent converts an fsnotify event to a FileEvent.
// Returns (FileEvent, true) if the event should be processed,
// or (FileEvent{}, false) if the event should be ignored.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return FileEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// a rename shows up as a create under the new name
		op = OpDelete
	default:
		// Ignore chmod and other events
		return FileEvent{}, false
	}

	if op == OpDelete {
		fw.mu.Lock()
		wasDir := fw.watched[path]
		if wasDir {
			delete(fw.watched, path)
		}
		fw.mu.Unlock()
		if wasDir {
			return FileEvent{Path: path, Dir: true, Op: op}, true
		}
		if fw.pattern.MatchString(filepath.Base(path)) {
			return FileEvent{Path: path, Op: op}, true
		}
		return FileEvent{}, false
	}

	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileEvent{}, false
		}
		return FileEvent{}, false
	}
	if fi.IsDir() {
		if op != OpCreate || !fw.recursive {
			return FileEvent{}, false
		}
		fw.mu.Lock()
		err := fw.addTree(path)
		fw.mu.Unlock()
		if err != nil {
			select {
			case fw.errors <- err:
			default:
			}
		}
		return FileEvent{Path: path, Dir: true, Op: op}, true
	}
	if !fw.pattern.MatchString(fi.Name()) {
		return FileEvent{}, false
	}
	return FileEvent{Path: path, Op: op}, true
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}
