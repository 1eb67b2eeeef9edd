// Package fingerprint computes cheap, comparable change markers for files.
//
// Two modes are available. ModeStat combines file size and modification time
// and never reads file content. It misses an edit that keeps the size and
// lands within the filesystem's mtime granularity of the previous write
// (1-2s on some network and FAT filesystems); deployments that cannot accept
// that use ModeContent, which hashes the full file with BLAKE3.
package fingerprint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

// Mode selects how fingerprints are derived.
type Mode string

const (
	ModeStat    Mode = "stat"
	ModeContent Mode = "content"
)

// ParseMode accepts "stat" or "content"; empty means ModeStat.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeStat:
		return ModeStat, nil
	case ModeContent:
		return ModeContent, nil
	}
	return "", fmt.Errorf("unknown fingerprint mode %q", s)
}

// Fingerprint identifies one version of a file's content. Values are
// comparable with ==.
type Fingerprint struct {
	Size    int64
	ModTime int64  // unix nanoseconds
	Hash    string // hex BLAKE3, ModeContent only
}

// String encodes f for storage. Parse reverses it.
func (f Fingerprint) String() string {
	if f.Hash != "" {
		return fmt.Sprintf("b3:%d:%s", f.Size, f.Hash)
	}
	return fmt.Sprintf("st:%d:%d", f.Size, f.ModTime)
}

// IsZero reports whether f is the zero value.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// Parse decodes a stored fingerprint string.
func Parse(s string) (Fingerprint, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Fingerprint{}, fmt.Errorf("malformed fingerprint %q", s)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("malformed fingerprint size %q: %w", s, err)
	}
	switch parts[0] {
	case "st":
		mt, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("malformed fingerprint mtime %q: %w", s, err)
		}
		return Fingerprint{Size: size, ModTime: mt}, nil
	case "b3":
		return Fingerprint{Size: size, Hash: parts[2]}, nil
	}
	return Fingerprint{}, fmt.Errorf("unknown fingerprint kind in %q", s)
}

// FromInfo returns the ModeStat fingerprint for an already-stat'ed file.
func FromInfo(fi fs.FileInfo) Fingerprint {
	return Fingerprint{Size: fi.Size(), ModTime: fi.ModTime().UnixNano()}
}

// Of computes the fingerprint of path in the given mode.
func Of(path string, mode Mode) (Fingerprint, error) {
	if mode != ModeContent {
		fi, err := os.Stat(path)
		if err != nil {
			return Fingerprint{}, err
		}
		return FromInfo(fi), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()
	return hash(f, path)
}

type result struct {
	fp  Fingerprint
	err error
}

// OfContext is Of bounded by ctx. In ModeContent the hash runs on its own
// goroutine; when ctx ends first the descriptor is closed, which unblocks a
// read stuck on a slow filesystem, and the returned error wraps ctx.Err().
func OfContext(ctx context.Context, path string, mode Mode) (Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return Fingerprint{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if mode != ModeContent {
		return Of(path, mode)
	}

	var (
		mu        sync.Mutex
		file      *os.File
		abandoned bool
	)
	done := make(chan result, 1)

	go func() {
		f, err := os.Open(path)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer f.Close()
		mu.Lock()
		if abandoned {
			mu.Unlock()
			done <- result{err: context.Canceled}
			return
		}
		file = f
		mu.Unlock()

		fp, err := hash(f, path)
		done <- result{fp: fp, err: err}
	}()

	select {
	case r := <-done:
		return r.fp, r.err
	case <-ctx.Done():
		mu.Lock()
		abandoned = true
		if file != nil {
			_ = file.Close()
		}
		mu.Unlock()
		return Fingerprint{}, fmt.Errorf("failed to hash %s: %w", path, ctx.Err())
	}
}

func hash(f *os.File, path string) (Fingerprint, error) {
	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return Fingerprint{Size: n, Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

// IsNotExist reports whether err means the file vanished while being
// fingerprinted.
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }
