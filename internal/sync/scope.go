package sync

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/qass/buffercache/internal/query"
)

// DefaultPattern matches buffer file names: process, channel and buffer
// number, as in "p1234c0b01". It is matched anywhere in the base name.
const DefaultPattern = `p[0-9]*c[0-9]b[0-9]{2}`

// Scope is a set of directories a pass covers.
type Scope struct {
	Roots     []string `json:"roots" yaml:"roots"`
	Recursive bool     `json:"recursive" yaml:"recursive"`

	// Pattern selects buffer files by base name. Empty means DefaultPattern.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// Normalize returns the scope with absolute, cleaned, sorted and
// de-duplicated roots. For recursive scopes, roots inside another root are
// dropped.
func (s Scope) Normalize() (Scope, error) {
	if len(s.Roots) == 0 {
		return s, fmt.Errorf("scope has no roots")
	}
	if _, err := s.Matcher(); err != nil {
		return s, err
	}

	seen := make(map[string]bool, len(s.Roots))
	var roots []string
	for _, r := range s.Roots {
		if r == "" {
			return s, fmt.Errorf("scope root must not be empty")
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			return s, fmt.Errorf("failed to resolve root %s: %w", r, err)
		}
		if !seen[abs] {
			seen[abs] = true
			roots = append(roots, abs)
		}
	}
	sort.Strings(roots)

	if s.Recursive {
		kept := roots[:0]
		for _, r := range roots {
			if len(kept) > 0 && within(r, kept[len(kept)-1]) {
				continue
			}
			kept = append(kept, r)
		}
		roots = kept
	}

	out := s
	out.Roots = roots
	return out, nil
}

// Overlaps reports whether any root of s equals or contains a root of o,
// or the other way round.
func (s Scope) Overlaps(o Scope) bool {
	for _, a := range s.Roots {
		for _, b := range o.Roots {
			if within(a, b) || within(b, a) {
				return true
			}
		}
	}
	return false
}

// Predicate matches the records a pass over s owns: every record below a
// root for recursive scopes, only direct children otherwise.
func (s Scope) Predicate() query.Predicate {
	ps := make([]query.Predicate, len(s.Roots))
	for i, r := range s.Roots {
		if s.Recursive {
			ps[i] = query.Under(r)
		} else {
			ps[i] = query.Eq("directory", r)
		}
	}
	if len(ps) == 1 {
		return ps[0]
	}
	return query.Or(ps...)
}

// Matcher compiles the file name pattern of s.
func (s Scope) Matcher() (*regexp.Regexp, error) {
	pattern := s.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
	}
	return re, nil
}

// within reports whether path equals dir or lies below it.
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// underAny reports whether path lies below one of dirs.
func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if within(path, d) {
			return true
		}
	}
	return false
}
