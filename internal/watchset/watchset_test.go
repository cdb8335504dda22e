package watchset_test

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/zsprackett/devserve/internal/watchset"
)

func p(s string) string { return filepath.FromSlash(s) }

func TestResolve_MountAutoWatch(t *testing.T) {
	set, err := watchset.Resolve(watchset.Config{
		Root:         p("/site"),
		MountTargets: []string{p("/site/node_modules")},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{p("/site"), p("/site/node_modules")}
	if !reflect.DeepEqual(set.Paths, want) {
		t.Errorf("got %v want %v", set.Paths, want)
	}
}

func TestResolve_ExplicitWatchSuppressesMounts(t *testing.T) {
	set, err := watchset.Resolve(watchset.Config{
		Root:         p("/site"),
		Watch:        []string{p("/site/src")},
		MountTargets: []string{p("/site/node_modules")},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{p("/site/src")}
	if !reflect.DeepEqual(set.Paths, want) {
		t.Errorf("got %v want %v", set.Paths, want)
	}
}

func TestResolve_DefaultIsRoot(t *testing.T) {
	set, err := watchset.Resolve(watchset.Config{Root: p("/site")})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(set.Paths, []string{p("/site")}) {
		t.Errorf("got %v", set.Paths)
	}
}

func TestIgnored_Baseline(t *testing.T) {
	set, err := watchset.Resolve(watchset.Config{Root: p("/site")})
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{
		"/site/.git":                           true,
		"/site/#index.html#":                   true,
		"/site/index.html~":                    true,
		"/site/cache__":                        true,
		"/site/vite.config.js.timestamp-1.mjs": true,
		"/site/npm-debug.log":                  true,
		"/site/package.lock":                   true,
		"/site/upload.tmp":                     true,
		"/site/index.html":                     false,
		"/site/css/style.css":                  false,
		"/site":                                false,
	}
	for path, want := range cases {
		if got := set.Ignored(p(path)); got != want {
			t.Errorf("Ignored(%q): got %v want %v", path, got, want)
		}
	}
}

func TestIgnored_PathsAndPattern(t *testing.T) {
	set, err := watchset.Resolve(watchset.Config{
		Root:          p("/site"),
		Ignore:        []string{p("/site/dist")},
		IgnorePattern: `\.map$`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !set.Ignored(p("/site/dist")) || !set.Ignored(p("/site/dist/app.js")) {
		t.Error("expected ignore path and its children to be ignored")
	}
	if set.Ignored(p("/site/distribution/app.js")) {
		t.Error("prefix match must stop at a path separator")
	}
	if !set.Ignored(p("/site/app.js.map")) {
		t.Error("expected ignore pattern to match")
	}
}

func TestResolve_InvalidPattern(t *testing.T) {
	_, err := watchset.Resolve(watchset.Config{Root: p("/site"), IgnorePattern: "("})
	if !errors.Is(err, watchset.ErrInvalidIgnorePattern) {
		t.Fatalf("expected ErrInvalidIgnorePattern, got %v", err)
	}
}
