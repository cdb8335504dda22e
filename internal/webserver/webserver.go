// Package webserver runs one live-reload server instance: it binds the
// listener, serves the request pipeline, watches the filesystem and pushes
// reload messages to connected browsers until shut down.
package webserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/zsprackett/devserve/internal/applog"
	"github.com/zsprackett/devserve/internal/browser"
	"github.com/zsprackett/devserve/internal/classify"
	"github.com/zsprackett/devserve/internal/config"
	"github.com/zsprackett/devserve/internal/events"
	"github.com/zsprackett/devserve/internal/journal"
	"github.com/zsprackett/devserve/internal/livereload"
	"github.com/zsprackett/devserve/internal/pipeline"
	"github.com/zsprackett/devserve/internal/procrunner"
	"github.com/zsprackett/devserve/internal/stats"
	"github.com/zsprackett/devserve/internal/tunnel"
	"github.com/zsprackett/devserve/internal/watcher"
	"github.com/zsprackett/devserve/internal/watchset"
)

type State string

const (
	StateStopped   State = "stopped"
	StateStarting  State = "starting"
	StateListening State = "listening"
	StateStopping  State = "stopping"
)

const (
	DefaultPortRetryDelay = time.Second
	DefaultRestartDelay   = 2 * time.Second
	// MaxRestarts caps auto-restarts after startup or serve failures.
	MaxRestarts = 5
	// deferredStart delays the owned subprocess and test-mode shutdown.
	deferredStart = 500 * time.Millisecond
)

type Options struct {
	Config config.Config
	Logger *slog.Logger
	// Out receives the banner and the shutdown report. Defaults to stdout.
	Out            io.Writer
	Clock          clockwork.Clock
	PortRetryDelay time.Duration
	RestartDelay   time.Duration
	// CertDir caches the self-signed certificate.
	CertDir string
	// OpenBrowser replaces browser.Open.
	OpenBrowser func(targets []string, app string)
	// StartTunnel replaces tunnel.StartTunnel.
	StartTunnel func(port int, service string, o tunnel.Options) (*tunnel.Tunnel, error)
}

// Instance is one running server.
type Instance struct {
	opts   Options
	cfg    config.Config
	logger *slog.Logger
	clock  clockwork.Clock
	root   string

	stats      *stats.Stats
	hub        *livereload.Hub
	metrics    *pipeline.Metrics
	classifier *classify.Classifier
	watchSet   *watchset.Set
	journal    *journal.Store
	rotator    *applog.DailyRotator
	requestLog *pipeline.RequestLog
	tlsConfig  *tls.Config
	srv        *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	ln       net.Listener
	watcher  *watcher.Watcher
	proc     *procrunner.Handle
	tun      *tunnel.Tunnel
	restarts int
	listened sync.Once
	done     chan struct{}
}

// Start validates opts.Config, builds the pipeline and blocks until the
// listener is bound. A port already in use is retried on a random port; other
// listen failures are retried only with AutoRestart, up to MaxRestarts.
func Start(ctx context.Context, opts Options) (*Instance, error) {
	in, err := newInstance(opts)
	if err != nil {
		return nil, err
	}
	if err := in.listen(ctx); err != nil {
		in.Shutdown(context.Background())
		return nil, err
	}
	return in, nil
}

func newInstance(opts Options) (*Instance, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PortRetryDelay <= 0 {
		opts.PortRetryDelay = DefaultPortRetryDelay
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.CertDir == "" {
		opts.CertDir = config.CertDir()
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = func(targets []string, app string) { browser.Open(targets, app, opts.Logger) }
	}
	if opts.StartTunnel == nil {
		opts.StartTunnel = tunnel.StartTunnel
	}

	root := cfg.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := LoadTLS(cfg.HTTPS, opts.CertDir)
	if err != nil {
		return nil, err
	}

	mounts, err := cfg.Mounts()
	if err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(mounts))
	for _, m := range mounts {
		targets = append(targets, m.Path)
	}
	set, err := watchset.Resolve(watchset.Config{
		Root:          root,
		Watch:         underRoot(root, cfg.Watch),
		Ignore:        underRoot(root, cfg.Ignore),
		IgnorePattern: cfg.IgnorePattern,
		MountTargets:  targets,
	})
	if err != nil {
		return nil, err
	}

	st := stats.New()
	st.Reset()
	hub := livereload.NewHub(livereload.HubConfig{
		Wait:   time.Duration(cfg.WaitMillis) * time.Millisecond,
		Clock:  opts.Clock,
		Logger: opts.Logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	in := &Instance{
		opts:   opts,
		cfg:    cfg,
		logger: opts.Logger,
		clock:  opts.Clock,
		root:   root,
		stats:  st,
		hub:    hub,
		metrics: pipeline.NewMetrics(pipeline.MetricSources{
			Requests: st.Requests,
			Reloads:  st.Reloads,
			Clients:  hub.Len,
		}),
		classifier: &classify.Classifier{Root: root, CSSInjectDisabled: cfg.NoCSSInject, Counter: st},
		watchSet:   set,
		tlsConfig:  tlsConfig,
		ctx:        ctx,
		cancel:     cancel,
		state:      StateStarting,
		done:       make(chan struct{}),
	}

	if err := in.openLogs(); err != nil {
		in.closeLogs()
		cancel()
		return nil, err
	}

	h, err := in.handler(cfg)
	if err != nil {
		in.closeLogs()
		cancel()
		return nil, err
	}
	in.srv = &http.Server{
		Handler:           h,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
	}
	return in, nil
}

func (in *Instance) openLogs() error {
	if !in.cfg.LogFile && in.cfg.LogDB == "" {
		return nil
	}
	in.requestLog = &pipeline.RequestLog{Logger: in.logger}
	if in.cfg.LogFile {
		dir := in.cfg.LogDir
		if dir == "" {
			dir = filepath.Join(in.root, ".devserve", "logs")
		}
		in.rotator = applog.NewDailyRotator(dir, "requests", applog.DefaultMaxDays)
		in.requestLog.W = in.rotator
	}
	if in.cfg.LogDB != "" {
		store, err := journal.Open(in.cfg.LogDB)
		if err != nil {
			return fmt.Errorf("open request journal: %w", err)
		}
		in.journal = store
		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrate request journal: %w", err)
		}
		in.requestLog.Store = store
	}
	return nil
}

func (in *Instance) closeLogs() {
	if in.rotator != nil {
		in.rotator.Close()
	}
	if in.journal != nil {
		in.journal.Close()
	}
}

func underRoot(root string, paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		out = append(out, p)
	}
	return out
}

func (in *Instance) listen(ctx context.Context) error {
	port := in.cfg.Port
	for {
		addr := net.JoinHostPort(in.cfg.Host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			in.serve(ln)
			return nil
		}

		if errors.Is(err, syscall.EADDRINUSE) {
			in.logger.Warn("port in use, retrying on a random port", "port", port, "retry_in", in.opts.PortRetryDelay)
			port = 0
			if err := in.sleep(ctx, in.opts.PortRetryDelay); err != nil {
				return err
			}
			continue
		}
		if n, ok := in.nextRestart(); ok {
			in.logger.Error("startup failed, restarting", "addr", addr, "err", err, "attempt", n, "max", MaxRestarts)
			if err := in.sleep(ctx, in.opts.RestartDelay); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	}
}

func (in *Instance) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-in.ctx.Done():
		return errors.New("server shutting down")
	case <-in.clock.After(d):
		return nil
	}
}

func (in *Instance) nextRestart() (int, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.cfg.AutoRestart || in.restarts >= MaxRestarts {
		return in.restarts, false
	}
	in.restarts++
	return in.restarts, true
}

func (in *Instance) serve(ln net.Listener) {
	in.mu.Lock()
	if in.state == StateStopping || in.state == StateStopped {
		in.mu.Unlock()
		ln.Close()
		return
	}
	in.ln = ln
	in.state = StateListening
	in.mu.Unlock()

	go func() {
		var err error
		if in.tlsConfig != nil {
			err = in.srv.ServeTLS(ln, "", "")
		} else {
			err = in.srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) || in.stopping() {
			return
		}
		in.logger.Error("server failed", "err", err)
		if n, ok := in.nextRestart(); ok {
			in.logger.Warn("restarting server", "attempt", n, "max", MaxRestarts, "in", in.opts.RestartDelay)
			if in.sleep(in.ctx, in.opts.RestartDelay) == nil && in.listen(in.ctx) == nil {
				return
			}
		}
		in.Shutdown(context.Background())
	}()

	in.listened.Do(in.onListening)
}

func (in *Instance) stopping() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state == StateStopping || in.state == StateStopped
}

// onListening runs the once-only side effects of the first successful bind.
func (in *Instance) onListening() {
	w, err := watcher.New(in.watchSet, in.onChange, in.logger)
	if err != nil {
		in.logger.Error("watcher: cannot start", "err", err)
	} else {
		in.mu.Lock()
		in.watcher = w
		in.mu.Unlock()
		go w.Run(in.ctx)
	}

	port := in.Port()
	if in.cfg.Verbosity > applog.VerbosityQuiet {
		fmt.Fprintln(in.opts.Out, in.banner(port, w))
	}

	if in.cfg.ExecMode() {
		in.clock.AfterFunc(deferredStart, in.startProcess)
	} else if !in.cfg.NoBrowser {
		paths := in.cfg.Open
		if len(paths) == 0 {
			paths = []string{""}
		}
		in.opts.OpenBrowser(browser.URLs(in.scheme(), in.cfg.Host, port, paths), in.cfg.Browser)
	}

	if in.cfg.Tunnel.Enabled {
		in.startTunnel(port)
	}
	if in.cfg.Test {
		in.clock.AfterFunc(deferredStart, func() {
			in.logger.Info("test mode: shutting down")
			in.Shutdown(context.Background())
		})
	}
}

func (in *Instance) onChange(ev events.ChangeEvent) {
	res := in.classifier.Classify(ev)
	if res.CSS {
		in.logger.Info("CSS change detected", "path", res.RelPath)
	} else {
		in.logger.Info("change detected", "path", res.RelPath, "kind", string(ev.Kind))
	}
	n := in.hub.Broadcast(res.Message)
	if in.journal != nil {
		if err := in.journal.RecordReload(in.ctx, ev, res.Message, n); err != nil && in.ctx.Err() == nil {
			in.logger.Warn("journal: record reload failed", "err", err)
		}
	}
}

func (in *Instance) startProcess() {
	p := in.cfg.Process
	mode, command := procrunner.ModeExec, p.Exec
	if p.NPMScript != "" {
		mode, command = procrunner.ModeNPM, p.NPMScript
	}
	if p.PM2 {
		if mode == procrunner.ModeNPM {
			command = "npm run " + command
		}
		mode = procrunner.ModePM2
	}

	h, err := procrunner.Start(command, procrunner.Options{
		Dir:    in.root,
		Mode:   mode,
		Name:   p.PM2Name,
		Logger: in.logger,
	})
	if err != nil {
		in.logger.Error("process: failed to start", "command", command, "err", err)
		return
	}
	in.mu.Lock()
	if in.state == StateStopping || in.state == StateStopped {
		in.mu.Unlock()
		h.Stop()
		return
	}
	in.proc = h
	in.mu.Unlock()
}

func (in *Instance) startTunnel(port int) {
	t := in.cfg.Tunnel
	tun, err := in.opts.StartTunnel(port, t.Service, tunnel.Options{
		Subdomain: t.Subdomain,
		AuthToken: t.AuthToken,
		Region:    t.Region,
		Logger:    in.logger,
		OnURL: func(u string) {
			if in.cfg.Verbosity > applog.VerbosityQuiet {
				fmt.Fprintln(in.opts.Out, tunnelLine(u))
			}
		},
	})
	if err != nil {
		in.logger.Error("tunnel: failed to start", "service", t.Service, "err", err)
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.tun = tun
}

// Shutdown stops the watcher, the listener, every live-reload client, the
// owned subprocess and the tunnel. Calls after the first return nil.
func (in *Instance) Shutdown(ctx context.Context) error {
	in.mu.Lock()
	if in.state == StateStopping || in.state == StateStopped {
		in.mu.Unlock()
		return nil
	}
	wasListening := in.ln != nil
	in.state = StateStopping
	w, proc, tun := in.watcher, in.proc, in.tun
	in.mu.Unlock()

	in.cancel()

	var g errgroup.Group
	if w != nil {
		g.Go(w.Close)
	}
	if in.srv != nil {
		g.Go(func() error { return in.srv.Shutdown(ctx) })
	}
	g.Go(func() error {
		in.hub.Close()
		return nil
	})
	if proc.IsRunning() {
		g.Go(proc.Stop)
	}
	if tun != nil {
		g.Go(tun.StopTunnel)
	}
	err := g.Wait()
	in.closeLogs()

	if wasListening && in.cfg.Verbosity > applog.VerbosityQuiet {
		fmt.Fprintln(in.opts.Out, in.report())
	}

	in.mu.Lock()
	in.state = StateStopped
	in.mu.Unlock()
	close(in.done)
	return err
}

var (
	_ events.Broadcaster = (*Instance)(nil)
	_ events.Broadcaster = (*livereload.Hub)(nil)
)

// Broadcast sends msg to every connected client.
func (in *Instance) Broadcast(msg events.Message) int { return in.hub.Broadcast(msg) }

// Clients returns the number of connected live-reload clients.
func (in *Instance) Clients() int { return in.hub.Len() }

func (in *Instance) Stats() *stats.Stats { return in.stats }

// Root is the absolute directory being served.
func (in *Instance) Root() string { return in.root }

func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Done is closed once Shutdown has finished.
func (in *Instance) Done() <-chan struct{} { return in.done }

// Addr returns the bound address, or nil before the first bind.
func (in *Instance) Addr() net.Addr {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.ln == nil {
		return nil
	}
	return in.ln.Addr()
}

// Port returns the bound port, or 0 before the first bind.
func (in *Instance) Port() int {
	if a, ok := in.Addr().(*net.TCPAddr); ok {
		return a.Port
	}
	return 0
}

// URL is the local address browsers should open.
func (in *Instance) URL() string {
	return browser.URLs(in.scheme(), in.cfg.Host, in.Port(), []string{""})[0]
}

func (in *Instance) scheme() string {
	if in.tlsConfig != nil {
		return "https"
	}
	return "http"
}
