package buffer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors for decode failures. Typed errors below match them with
// errors.Is, so callers can classify without type switches.
var (
	// ErrFormat indicates the source is not a buffer this decoder understands:
	// bad magic, unsupported version or codec, invalid header values, or a
	// checksum mismatch.
	ErrFormat = errors.New("invalid buffer format")

	// ErrTruncated indicates the source ends before the preamble, the header,
	// or the declared payload.
	ErrTruncated = errors.New("buffer truncated")

	// ErrIO indicates the underlying read failed. These may be transient.
	ErrIO = errors.New("buffer i/o error")

	// ErrNotFound indicates the buffer file does not exist.
	ErrNotFound = errors.New("buffer not found")
)

// FormatError reports a structural problem in a buffer file.
type FormatError struct {
	Path   string
	Offset int64
	Reason string
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid buffer at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("invalid buffer %s at offset %d: %s", e.Path, e.Offset, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// TruncatedError reports a source shorter than what its header requires.
type TruncatedError struct {
	Path string
	What string // "preamble", "header", "payload" or "block"
	Want int64
	Got  int64
}

func (e *TruncatedError) Error() string {
	name := e.Path
	if name == "" {
		name = "source"
	}
	return fmt.Sprintf("buffer %s truncated: %s needs %d bytes, have %d", name, e.What, e.Want, e.Got)
}

func (e *TruncatedError) Is(target error) bool { return target == ErrTruncated }

// IOError wraps a failed filesystem operation.
type IOError struct {
	Path string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("buffer %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// NotFoundError reports a buffer path that no longer exists.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("buffer %s not found", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsRetryable reports whether err is a transient I/O failure worth another
// attempt. Timeouts, cancellations, missing files and format problems are
// not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrFormat) || errors.Is(err, ErrTruncated) {
		return false
	}
	return errors.Is(err, ErrIO)
}

// ioError classifies a filesystem error for path.
func ioError(path, op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &NotFoundError{Path: path, Err: err}
	}
	return &IOError{Path: path, Op: op, Err: err}
}

// withPath stamps path onto errors produced by the path-less decoder.
func withPath(err error, path string) error {
	var fe *FormatError
	if errors.As(err, &fe) && fe.Path == "" {
		fe.Path = path
		return fe
	}
	var te *TruncatedError
	if errors.As(err, &te) && te.Path == "" {
		te.Path = path
		return te
	}
	var ie *IOError
	if errors.As(err, &ie) && ie.Path == "" {
		ie.Path = path
		return ie
	}
	return err
}
