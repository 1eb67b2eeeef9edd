package sync

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"regexp"
)

// candidate is an enumerated buffer file.
type candidate struct {
	path string
	info fs.FileInfo
}

// listing is the result of enumerating a scope.
type listing struct {
	files []candidate

	// unreadable directories; records below them must survive the pass
	unreadable []string
}

// enumerate lists the regular files under s whose base name matches re.
// Missing roots contribute nothing; unreadable directories are collected,
// not fatal. Symbolic links are not followed.
func enumerate(ctx context.Context, s Scope, re *regexp.Regexp) (*listing, error) {
	l := &listing{}
	seen := make(map[string]bool)

	for _, root := range s.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				if d == nil || d.IsDir() {
					l.unreadable = append(l.unreadable, path)
					if d != nil {
						return fs.SkipDir
					}
					return nil
				}
				return nil
			}
			if d.IsDir() {
				if path != root && !s.Recursive {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !re.MatchString(d.Name()) || seen[path] {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				// vanished between readdir and stat
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				l.unreadable = append(l.unreadable, path)
				return nil
			}
			seen[path] = true
			l.files = append(l.files, candidate{path: path, info: info})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return l, nil
}
