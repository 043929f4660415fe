// Package discovery expands a directory into an ordered, filtered list of
// transfer items using shell-glob include/exclude rules.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Item is one regular file selected for transfer.
type Item struct {
	Path    string // absolute or caller-relative path
	RelPath string // path relative to the discovery root
	Name    string // bare filename
	Size    int64
}

// Error reports an unusable discovery root. It is fatal to the whole batch;
// no partial run is attempted.
type Error struct {
	Root string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discovery root %s: %v", e.Root, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var errNotDirectory = errors.New("not a directory")

// Discover walks root recursively and returns every regular file that passes
// the filters, in lexicographic order. Exclude patterns are evaluated first,
// against both the bare filename and the root-relative path; directories
// whose name matches an exclude pattern are pruned before descent. When
// include patterns are given a file must match at least one; when none are
// given everything not excluded is included.
func Discover(root string, include, exclude []string) ([]Item, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &Error{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Root: root, Err: errNotDirectory}
	}
	for _, p := range append(append([]string{}, include...), exclude...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, &Error{Root: root, Err: fmt.Errorf("pattern %q: %w", p, err)}
		}
	}

	var items []Item
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}

		if d.IsDir() {
			if path != root && matchAny(exclude, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchAny(exclude, d.Name()) || matchAny(exclude, rel) {
			return nil
		}
		if len(include) > 0 && !matchAny(include, d.Name()) && !matchAny(include, rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, Item{
			Path:    path,
			RelPath: rel,
			Name:    d.Name(),
			Size:    fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, &Error{Root: root, Err: err}
	}
	return items, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
