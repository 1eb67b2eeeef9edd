package sync

import (
	"context"
	"errors"
	"time"
)

// Syncer keeps the record store in sync with buffer files on disk.
type Syncer interface {
	// Synchronize brings the records under scope in line with the files
	// under scope. Per-file decode failures are reported, not returned; the
	// error is non-nil only when the pass as a whole failed (cancellation,
	// store failure, busy scope), in which case the store is unchanged.
	Synchronize(ctx context.Context, scope Scope) (*Report, error)

	// Pending lists files under scope that are new or changed since they
	// were last indexed, without decoding them.
	Pending(ctx context.Context, scope Scope) ([]PendingFile, error)
}

// ErrScopeBusy is returned in fail-fast mode when another pass holds an
// overlapping scope.
var ErrScopeBusy = errors.New("scope is being synchronized")

// Report summarizes one Synchronize pass.
type Report struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Scope     Scope         `json:"scope" yaml:"scope"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`

	Added     int `json:"added" yaml:"added"`
	Updated   int `json:"updated" yaml:"updated"`
	Removed   int `json:"removed" yaml:"removed"`
	Failed    int `json:"failed" yaml:"failed"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`

	// Failures lists the files that could not be decoded in this pass.
	Failures []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`

	// Skipped lists directories that could not be read. Records below them
	// are left alone.
	Skipped []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Changed returns the number of records written or deleted.
func (r *Report) Changed() int {
	return r.Added + r.Updated + r.Removed + r.Failed
}

// Failure is a file that could not be decoded.
type Failure struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// PendingReason says why a file needs synchronizing.
type PendingReason string

const (
	PendingNew   PendingReason = "new"
	PendingStale PendingReason = "stale"
)

// PendingFile is a file the next pass would decode.
type PendingFile struct {
	Path   string        `json:"path" yaml:"path"`
	Reason PendingReason `json:"reason" yaml:"reason"`
}
