package webserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/zsprackett/devserve/internal/applog"
	"github.com/zsprackett/devserve/internal/config"
	"github.com/zsprackett/devserve/internal/health"
	"github.com/zsprackett/devserve/internal/inject"
	"github.com/zsprackett/devserve/internal/pipeline"
)

const execBanner = "devserve live reload server"

// handler assembles the request pipeline for cfg. Upgrade requests go to the
// hub before any middleware runs.
func (in *Instance) handler(cfg config.Config) (http.Handler, error) {
	logger := in.logger
	stages, err := cfg.Stages()
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()

	if !cfg.NoCompression {
		r.Use(middleware.Compress(5))
	}
	r.Use(pipeline.Access(in.stats, accessLevel(cfg.Verbosity), logger))
	if in.requestLog != nil {
		r.Use(in.requestLog.Middleware())
	}
	if cfg.Upload {
		r.Use(postOnly("/upload", &pipeline.Upload{Dir: filepath.Join(in.root, "uploads"), Logger: logger}))
	}

	if !cfg.NoHealth {
		h := &health.Handler{Stats: in.stats, Clients: in.hub}
		for _, p := range health.Paths {
			r.Get(p, h.ServeHTTP)
		}
	}
	if hasStage(stages, pipeline.StagePerformance) {
		r.Handle("/metrics", in.metrics.Handler())
	}

	errPage := &pipeline.ErrorPage{ShowDetails: cfg.Verbosity >= 2, Logger: logger}
	var onError inject.ErrorFunc
	notFound := http.NotFoundHandler()
	if !cfg.NoErrorPage {
		onError = errPage.Render
		notFound = errPage.NotFound()
	}

	mounts, err := cfg.Mounts()
	if err != nil {
		return nil, err
	}
	proxies, err := cfg.Proxies()
	if err != nil {
		return nil, err
	}

	var users pipeline.Htpasswd
	if cfg.Htpasswd != "" {
		if users, err = pipeline.LoadHtpasswd(cfg.Htpasswd); err != nil {
			return nil, err
		}
	}

	var root http.Handler
	if cfg.ExecMode() {
		root = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprintln(w, execBanner)
		})
	} else {
		root, err = in.staticChain(cfg, logger, onError, notFound)
		if err != nil {
			return nil, err
		}
	}

	r.Group(func(r chi.Router) {
		for _, st := range stages {
			r.Use(in.stage(st))
		}
		if cfg.RateLimit > 0 {
			r.Use(pipeline.NewRateLimiter(cfg.RateLimit).Middleware())
		}
		if users != nil {
			r.Use(pipeline.BasicAuth(users))
		}
		if cfg.CORS {
			r.Use(pipeline.CORS())
		}

		seen := make(map[string]bool)
		claim := func(route string) bool {
			if seen[route] {
				logger.Warn("duplicate route skipped", "route", route)
				return false
			}
			seen[route] = true
			return true
		}
		if !cfg.ExecMode() {
			for _, m := range mounts {
				if !claim(m.Route) {
					continue
				}
				h, err := inject.NewStatic(inject.StaticConfig{
					Root:    m.Path,
					Next:    restorePath(root),
					OnError: onError,
					Logger:  logger,
				})
				if err != nil {
					logger.Warn("mount skipped", "route", m.Route, "path", m.Path, "err", err)
					continue
				}
				logger.Info("mapping", "route", m.Route, "path", m.Path)
				r.Mount(m.Route, http.StripPrefix(m.Route, h))
			}
		}
		for _, p := range proxies {
			if !claim(p.Route) {
				continue
			}
			h, _ := pipeline.NewProxy(pipeline.ProxyConfig{Target: p.Target, Logger: logger})
			logger.Info("proxying", "route", p.Route, "target", p.Target.String())
			r.Mount(p.Route, http.StripPrefix(p.Route, h))
		}
		r.Handle("/*", root)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if websocket.IsWebSocketUpgrade(req) {
			in.hub.ServeHTTP(w, req)
			return
		}
		r.ServeHTTP(w, req)
	}), nil
}

// staticChain is static root, then entry file, then directory listing, then
// the not-found page.
func (in *Instance) staticChain(cfg config.Config, logger *slog.Logger, onError inject.ErrorFunc, notFound http.Handler) (http.Handler, error) {
	tail := &pipeline.Listing{Root: in.root, Next: notFound, OnError: onError}
	if onError == nil {
		tail.OnError = func(w http.ResponseWriter, _ *http.Request, status int, err error) {
			http.Error(w, err.Error(), status)
		}
	}
	var next http.Handler = tail

	if cfg.EntryFile != "" {
		entry, err := inject.NewStatic(inject.StaticConfig{
			Root:    in.root,
			Next:    tail,
			OnError: onError,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		next = pipeline.EntryFile(cfg.EntryFile, entry)
	}

	return inject.NewStatic(inject.StaticConfig{
		Root:    in.root,
		Next:    next,
		OnError: onError,
		Logger:  logger,
	})
}

func (in *Instance) stage(st pipeline.Stage) pipeline.Middleware {
	switch st {
	case pipeline.StageSPA:
		return pipeline.SPA(false)
	case pipeline.StageSPAIgnoreAssets:
		return pipeline.SPA(true)
	case pipeline.StageSecurity:
		return pipeline.Security()
	case pipeline.StagePerformance:
		return pipeline.Performance(in.metrics)
	}
	// Resolve rejects anything else.
	return func(h http.Handler) http.Handler { return h }
}

func hasStage(stages []pipeline.Stage, st pipeline.Stage) bool {
	for _, s := range stages {
		if s == st {
			return true
		}
	}
	return false
}

func accessLevel(verbosity int) pipeline.AccessLogLevel {
	switch {
	case verbosity >= applog.VerbosityVerbose:
		return pipeline.AccessLogAll
	case verbosity == applog.VerbosityDefault:
		return pipeline.AccessLogErrors
	default:
		return pipeline.AccessLogOff
	}
}

// postOnly answers POST requests for exactly p with h and passes everything
// else on.
func postOnly(p string, h http.Handler) pipeline.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == p {
				h.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// restorePath undoes http.StripPrefix so a mount miss reaches the root chain
// with the path the client asked for.
func restorePath(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := url.ParseRequestURI(r.RequestURI)
		if err != nil {
			h.ServeHTTP(w, r)
			return
		}
		r2 := new(http.Request)
		*r2 = *r
		r2.URL = new(url.URL)
		*r2.URL = *r.URL
		r2.URL.Path = u.Path
		r2.URL.RawPath = u.RawPath
		h.ServeHTTP(w, r2)
	})
}
