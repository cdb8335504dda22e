package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

// ProxyConfig describes one reverse-proxy route.
type ProxyConfig struct {
	Target *url.URL
	Logger *slog.Logger
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Breaker settings, zero values pick the defaults below.
	MaxFailures uint32
	OpenFor     time.Duration
}

const (
	defaultMaxFailures = 5
	defaultOpenFor     = 10 * time.Second
)

// NewProxy returns a reverse proxy to cfg.Target that keeps the incoming
// Host header and adds a Via header. Upstream transport failures trip a
// circuit breaker; while it is open requests fail fast with 502.
func NewProxy(cfg ProxyConfig) (http.Handler, *gobreaker.CircuitBreaker) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.OpenFor == 0 {
		cfg.OpenFor = defaultOpenFor
	}

	logger := cfg.Logger.With("proxy", cfg.Target.String())
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "proxy " + cfg.Target.Host,
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("proxy: circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	target := cfg.Target
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = pr.In.Host
			pr.SetXForwarded()
			pr.Out.Header.Add("Via", fmt.Sprintf("%d.%d devserve", pr.In.ProtoMajor, pr.In.ProtoMinor))
		},
		Transport: &breakerTransport{cb: cb, base: cfg.Transport},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				logger.Debug("proxy: rejected while breaker open", "url", r.URL.String())
			} else {
				logger.Warn("proxy: upstream error", "url", r.URL.String(), "err", err)
			}
			http.Error(w, "502 Bad Gateway", http.StatusBadGateway)
		},
	}
	return rp, cb
}

type breakerTransport struct {
	cb   *gobreaker.CircuitBreaker
	base http.RoundTripper
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.cb.Execute(func() (interface{}, error) {
		return t.base.RoundTrip(req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*http.Response), nil
}
