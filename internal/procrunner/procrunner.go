// Package procrunner starts and supervises the external build or dev command
// that runs alongside the server.
package procrunner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Mode selects how the command line is interpreted.
type Mode string

const (
	// ModeExec runs the command through the shell.
	ModeExec Mode = "exec"
	// ModeNPM runs a package.json script with npm run.
	ModeNPM Mode = "npm"
	// ModePM2 hands the command to pm2, which daemonizes it.
	ModePM2 Mode = "pm2"
)

const (
	// MaxLogs is the number of output lines kept per process.
	MaxLogs = 1000
	// DefaultGrace is how long Stop waits after SIGTERM before SIGKILL.
	DefaultGrace = 5 * time.Second
)

// ErrScriptNotFound is returned when an npm script is missing from package.json.
var ErrScriptNotFound = errors.New("script not found in package.json")

type Options struct {
	Dir  string
	Mode Mode
	// Name is the pm2 application name.
	Name   string
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	Grace  time.Duration
	// OnLine, when set, is called for every output line.
	OnLine func(stream, line string)
}

// LogEntry is one captured output line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"type"`
	Line      string    `json:"output"`
}

// Handle is a running (or finished) process.
type Handle struct {
	cmd    *exec.Cmd
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	logs    []LogEntry
	exitErr error

	done     chan struct{}
	stopOnce sync.Once
}

// Start launches command according to opts.Mode.
func Start(command string, opts Options) (*Handle, error) {
	if opts.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		opts.Dir = wd
	}
	if opts.Mode == "" {
		opts.Mode = ModeExec
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}

	var args []string
	switch opts.Mode {
	case ModeExec:
		args = shell(command)
	case ModeNPM:
		if err := checkScript(opts.Dir, command); err != nil {
			return nil, err
		}
		args = []string{npmBinary(), "run", command}
	case ModePM2:
		pm2, err := exec.LookPath(binary("pm2"))
		if err != nil {
			return nil, fmt.Errorf("pm2 not installed (npm install -g pm2): %w", err)
		}
		args = append([]string{pm2}, pm2Args(command, opts)...)
	default:
		return nil, fmt.Errorf("unknown process mode %q", opts.Mode)
	}

	h := &Handle{
		opts:   opts,
		logger: opts.Logger.With("command", command),
		done:   make(chan struct{}),
	}
	stdout := &lineWriter{stream: "stdout", tee: opts.Stdout, h: h}
	stderr := &lineWriter{stream: "stderr", tee: opts.Stderr, h: h}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = opts.Dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Children that inherit the pipes must not hold Wait open forever.
	cmd.WaitDelay = time.Second
	setProcessGroup(cmd)
	h.cmd = cmd

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}
	h.logger.Info("procrunner: started", "pid", cmd.Process.Pid, "mode", string(opts.Mode))

	go func() {
		err := cmd.Wait()
		stdout.flush()
		stderr.flush()
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()

		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr) && exitErr.ExitCode() == -1:
			h.logger.Warn("procrunner: process killed by signal", "state", exitErr.String())
		case err != nil:
			h.logger.Error("procrunner: process exited", "err", err)
		default:
			h.logger.Info("procrunner: process exited")
		}
		close(h.done)
	}()
	return h, nil
}

// lineWriter splits process output into lines, echoing each to tee.
type lineWriter struct {
	stream string
	tee    io.Writer
	h      *Handle

	mu  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimSuffix(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) emit(line string) {
	fmt.Fprintln(w.tee, line)
	w.h.record(w.stream, line)
	if w.h.opts.OnLine != nil {
		w.h.opts.OnLine(w.stream, line)
	}
}

func (h *Handle) record(stream, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, LogEntry{Timestamp: time.Now(), Stream: stream, Line: line})
	if over := len(h.logs) - MaxLogs; over > 0 {
		h.logs = append(h.logs[:0], h.logs[over:]...)
	}
}

// IsRunning reports whether the process has not exited yet.
func (h *Handle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done is closed when the process exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the exit error once the process is done.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// PID returns the operating system process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Logs returns the last n captured lines, oldest first. n <= 0 means 100.
func (h *Handle) Logs(n int) []LogEntry {
	if n <= 0 {
		n = 100
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > len(h.logs) {
		n = len(h.logs)
	}
	out := make([]LogEntry, n)
	copy(out, h.logs[len(h.logs)-n:])
	return out
}

// Stop sends SIGTERM to the process group, then SIGKILL if the process is
// still alive after the grace period, and waits for it to exit.
func (h *Handle) Stop() error {
	if h == nil || !h.IsRunning() {
		return nil
	}
	h.stopOnce.Do(func() {
		h.logger.Info("procrunner: stopping process")
		if err := signalGroup(h.cmd.Process, syscall.SIGTERM); err != nil {
			signalGroup(h.cmd.Process, syscall.SIGKILL)
		}
		select {
		case <-h.done:
		case <-time.After(h.opts.Grace):
			h.logger.Warn("procrunner: force killing process", "grace", h.opts.Grace)
			signalGroup(h.cmd.Process, syscall.SIGKILL)
		}
	})
	<-h.done
	return nil
}

func shell(command string) []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C", command}
	}
	return []string{"sh", "-c", command}
}

func binary(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".cmd"
	}
	return name
}

func npmBinary() string { return binary("npm") }

func checkScript(dir, script string) error {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return fmt.Errorf("package.json not found in %s: %w", dir, err)
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return fmt.Errorf("read package.json: %w", err)
	}
	if _, ok := pkg.Scripts[script]; !ok {
		names := make([]string, 0, len(pkg.Scripts))
		for name := range pkg.Scripts {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("%w: %q (available: %s)", ErrScriptNotFound, script, strings.Join(names, ", "))
	}
	return nil
}

func pm2Args(command string, opts Options) []string {
	name := opts.Name
	if name == "" {
		name = "devserve-app"
	}
	args := []string{"start"}
	if rest, ok := strings.CutPrefix(command, "npm "); ok {
		rest = strings.TrimPrefix(rest, "run ")
		args = append(args, "npm", "--", "run", rest)
	} else {
		args = append(args, command)
	}
	return append(args, "--name", name, "--cwd", opts.Dir)
}
