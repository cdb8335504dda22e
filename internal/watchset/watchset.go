// Package watchset resolves which paths the watcher subscribes to and which
// changes it ignores.
package watchset

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidIgnorePattern is returned when the ignore pattern does not compile.
var ErrInvalidIgnorePattern = errors.New("invalid ignore pattern")

var (
	// Editor swap files, backups and other hidden entries.
	hiddenName = regexp.MustCompile(`(^[.#]|(?:__|~)$)`)
	// Vite writes these next to config files while bundling.
	viteTemp = regexp.MustCompile(`\.timestamp-.*\.mjs$`)
	artifact = regexp.MustCompile(`\.(log|lock|tmp)$`)
)

// Config describes the watch request built from configuration and flags.
type Config struct {
	Root          string
	Watch         []string
	Ignore        []string
	IgnorePattern string
	// MountTargets are the filesystem directories of configured mounts, in
	// declaration order.
	MountTargets []string
}

// Set is the resolved watch set.
type Set struct {
	Paths   []string
	ignored []func(string) bool
	roots   map[string]struct{}
}

// Resolve computes the watch paths and the ignore predicate. An explicit
// watch list replaces the root and suppresses mount auto-discovery.
func Resolve(cfg Config) (*Set, error) {
	var paths []string
	if len(cfg.Watch) > 0 {
		paths = append(paths, cfg.Watch...)
	} else {
		paths = append(paths, cfg.Root)
		paths = append(paths, cfg.MountTargets...)
	}

	s := &Set{
		Paths: paths,
		roots: make(map[string]struct{}, len(paths)),
		ignored: []func(string) bool{
			func(p string) bool {
				return p != "." && hiddenName.MatchString(filepath.Base(p))
			},
			viteTemp.MatchString,
			artifact.MatchString,
		},
	}
	for _, p := range paths {
		s.roots[filepath.Clean(p)] = struct{}{}
	}

	for _, ign := range cfg.Ignore {
		if ign == "" {
			continue
		}
		prefix := filepath.Clean(ign)
		s.ignored = append(s.ignored, func(p string) bool {
			p = filepath.Clean(p)
			return p == prefix || strings.HasPrefix(p, prefix+string(filepath.Separator))
		})
	}

	if cfg.IgnorePattern != "" {
		re, err := regexp.Compile(cfg.IgnorePattern)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidIgnorePattern, cfg.IgnorePattern, err)
		}
		s.ignored = append(s.ignored, re.MatchString)
	}
	return s, nil
}

// Ignored reports whether changes to p should be dropped. Watch roots are
// never ignored.
func (s *Set) Ignored(p string) bool {
	if _, ok := s.roots[filepath.Clean(p)]; ok {
		return false
	}
	for _, fn := range s.ignored {
		if fn(p) {
			return true
		}
	}
	return false
}
