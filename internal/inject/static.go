package inject

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxInjectSize bounds the file size read into memory for tag
// detection. Larger files are streamed unmodified.
const DefaultMaxInjectSize = 10 << 20

// ErrorFunc renders a request-handling error.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, status int, err error)

// StaticConfig configures a Static handler.
type StaticConfig struct {
	// Root is a directory, or a single file served for every request.
	Root string
	// Next handles requests that are not GET/HEAD or that miss.
	Next    http.Handler
	OnError ErrorFunc
	Logger  *slog.Logger
	// Snippet overrides the embedded client script.
	Snippet       []byte
	MaxInjectSize int64
	// LookupEnv resolves ${NAME} tokens. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Static serves files below Root, injecting the live-reload client into
// HTML-like files requested without an Origin header.
type Static struct {
	cfg    StaticConfig
	isFile bool
}

// NewStatic validates the root and returns a handler for it. A missing root
// is not an error; every request then falls through to Next.
func NewStatic(cfg StaticConfig) (*Static, error) {
	s := &Static{cfg: cfg}
	info, err := os.Stat(cfg.Root)
	switch {
	case err == nil:
		s.isFile = !info.IsDir()
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("stat root %s: %w", cfg.Root, err)
	}
	if s.cfg.Snippet == nil {
		s.cfg.Snippet = Snippet()
	}
	if s.cfg.MaxInjectSize <= 0 {
		s.cfg.MaxInjectSize = DefaultMaxInjectSize
	}
	if s.cfg.LookupEnv == nil {
		s.cfg.LookupEnv = os.LookupEnv
	}
	if s.cfg.Logger == nil {
		s.cfg.Logger = slog.Default()
	}
	if s.cfg.Next == nil {
		s.cfg.Next = http.NotFoundHandler()
	}
	if s.cfg.OnError == nil {
		s.cfg.OnError = func(w http.ResponseWriter, _ *http.Request, status int, err error) {
			http.Error(w, err.Error(), status)
		}
	}
	return s, nil
}

func (s *Static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.cfg.Next.ServeHTTP(w, r)
		return
	}

	name := s.cfg.Root
	if !s.isFile {
		upath := r.URL.Path
		if !strings.HasPrefix(upath, "/") {
			upath = "/" + upath
		}
		clean := path.Clean(upath)
		if hasDotSegment(clean) {
			s.cfg.Next.ServeHTTP(w, r)
			return
		}
		name = filepath.Join(s.cfg.Root, filepath.FromSlash(clean))
	}

	info, err := os.Stat(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if info.IsDir() {
		if !strings.HasSuffix(r.URL.Path, "/") {
			redirectDir(w, r)
			return
		}
		name = filepath.Join(name, "index.html")
		info, err = os.Stat(name)
		if err != nil || info.IsDir() {
			s.cfg.Next.ServeHTTP(w, r)
			return
		}
	}

	if r.Header.Get("Origin") == "" && IsInjectable(name) && info.Size() <= s.cfg.MaxInjectSize {
		if s.serveInjected(w, r, name, info.ModTime()) {
			return
		}
	}

	f, err := os.Open(name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// serveInjected writes the rewritten file and reports whether it did.
func (s *Static) serveInjected(w http.ResponseWriter, r *http.Request, name string, mod time.Time) bool {
	raw, err := os.ReadFile(name)
	if err != nil {
		return false
	}

	dec := Decide(SubstituteEnv(raw, s.cfg.LookupEnv))
	if !dec.ShouldInject {
		s.cfg.Logger.Debug("inject: failed to inject refresh script",
			"file", name,
			"tags", []Tag{TagBody, TagSVG, TagHead},
		)
		return false
	}

	body := Rewrite(SubstituteEnv(raw, s.cfg.LookupEnv), dec.Tag, s.cfg.Snippet)
	http.ServeContent(w, r, filepath.Base(name), mod, bytes.NewReader(body))
	return true
}

func (s *Static) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.cfg.Next.ServeHTTP(w, r)
	case errors.Is(err, fs.ErrPermission):
		s.cfg.OnError(w, r, http.StatusForbidden, err)
	default:
		s.cfg.OnError(w, r, http.StatusInternalServerError, err)
	}
}

func redirectDir(w http.ResponseWriter, r *http.Request) {
	// Echo the path the client asked for, before any mount prefix was stripped.
	pathname := r.URL.Path
	if u, err := url.ParseRequestURI(r.RequestURI); err == nil && u.Path != "" {
		pathname = u.Path
	}
	w.Header().Set("Location", pathname+"/")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusMovedPermanently)
	fmt.Fprintf(w, "Redirecting to %s/", html.EscapeString(pathname))
}

func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}
