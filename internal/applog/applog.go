// Package applog configures structured logging and the rotating files used
// for the request log.
package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxDays is how many daily files a rotator keeps.
const DefaultMaxDays = 7

// DailyRotator writes to <dir>/<prefix>-YYYY-MM-DD.log, switching files when
// the date changes and pruning files beyond maxDays.
type DailyRotator struct {
	mu      sync.Mutex
	dir     string
	prefix  string
	date    string
	file    *os.File
	maxDays int
	now     func() time.Time
}

func NewDailyRotator(dir, prefix string, maxDays int) *DailyRotator {
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}
	return &DailyRotator{
		dir:     dir,
		prefix:  prefix,
		maxDays: maxDays,
		now:     time.Now,
	}
}

// SetNow replaces the time source. Used in tests only.
func (r *DailyRotator) SetNow(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = fn
}

// Path returns the file the next write on the current date goes to.
func (r *DailyRotator) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pathFor(r.now().Format("2006-01-02"))
}

func (r *DailyRotator) pathFor(date string) string {
	return filepath.Join(r.dir, r.prefix+"-"+date+".log")
}

func (r *DailyRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.now().Format("2006-01-02")
	if today != r.date || r.file == nil {
		if err := r.rotate(today); err != nil {
			return 0, err
		}
	}
	return r.file.Write(p)
}

func (r *DailyRotator) rotate(date string) error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(r.pathFor(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.date = date
	r.prune()
	return nil
}

func (r *DailyRotator) prune() {
	matches, err := filepath.Glob(filepath.Join(r.dir, r.prefix+"-*.log"))
	if err != nil || len(matches) <= r.maxDays {
		return
	}
	sort.Strings(matches)
	for _, f := range matches[:len(matches)-r.maxDays] {
		os.Remove(f)
	}
}

// Close closes the current file. A later Write reopens it.
func (r *DailyRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Verbosity levels accepted on the command line.
const (
	VerbosityQuiet   = 0
	VerbosityWarn    = 1
	VerbosityDefault = 2
	VerbosityVerbose = 3
)

// LevelForVerbosity maps the 0..3 verbosity scale to a slog level.
func LevelForVerbosity(v int) slog.Level {
	switch {
	case v <= VerbosityQuiet:
		return slog.LevelError
	case v == VerbosityWarn:
		return slog.LevelWarn
	case v == VerbosityDefault:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

type InitConfig struct {
	// Level names a slog level. When empty, Verbosity is used.
	Level     string
	Verbosity int
	// Output defaults to stderr.
	Output io.Writer
}

// Init builds the process logger and installs it as slog.Default and as the
// stdlib log output.
func Init(cfg InitConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := LevelForVerbosity(cfg.Verbosity)
	if cfg.Level != "" {
		level = ParseLevel(cfg.Level)
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	log.SetOutput(out)
	log.SetFlags(0)
	return logger
}

// ParseLevel converts a level string to slog.Level. Defaults to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
