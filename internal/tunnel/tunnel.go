// Package tunnel exposes the local server on a public URL through one of the
// common tunnelling CLIs.
package tunnel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/zsprackett/devserve/internal/procrunner"
)

// ErrUnknownService is returned for a service name that is not supported.
var ErrUnknownService = errors.New("unknown tunnel service")

type Options struct {
	Subdomain string
	AuthToken string
	Region    string
	Logger    *slog.Logger
	// OnURL is called once when the public URL is seen.
	OnURL func(url string)
	// start replaces procrunner.Start in tests.
	start func(command string, opts procrunner.Options) (*procrunner.Handle, error)
}

// Service is a supported tunnel provider.
type Service struct {
	Name    string
	Aliases []string
	// Command builds the shell command line for port.
	Command func(port int, o Options) string
	// URL matches the public URL in the CLI's output.
	URL *regexp.Regexp
}

var services = []Service{
	{
		Name:    "localtunnel",
		Aliases: []string{"lt"},
		Command: func(port int, o Options) string {
			cmd := "npx --yes localtunnel --port " + strconv.Itoa(port)
			if o.Subdomain != "" {
				cmd += " --subdomain " + shellQuote(o.Subdomain)
			}
			return cmd
		},
		URL: regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.loca\.lt`),
	},
	{
		Name:    "cloudflared",
		Aliases: []string{"cloudflare", "cf"},
		Command: func(port int, o Options) string {
			return "cloudflared tunnel --no-autoupdate --url http://localhost:" + strconv.Itoa(port)
		},
		URL: regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`),
	},
	{
		Name: "ngrok",
		Command: func(port int, o Options) string {
			cmd := "ngrok http " + strconv.Itoa(port) + " --log stdout --log-format logfmt"
			if o.AuthToken != "" {
				cmd += " --authtoken " + shellQuote(o.AuthToken)
			}
			if o.Region != "" {
				cmd += " --region " + shellQuote(o.Region)
			}
			return cmd
		},
		URL: regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.ngrok(?:-free)?\.(?:io|app|dev)`),
	},
	{
		Name: "pinggy",
		Command: func(port int, o Options) string {
			return "ssh -o StrictHostKeyChecking=no -o ServerAliveInterval=30 -p 443 -R0:localhost:" +
				strconv.Itoa(port) + " a.pinggy.io"
		},
		URL: regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.pinggy\.(?:link|online|io)`),
	},
}

// Lookup finds a service by name or alias, case-insensitively.
func Lookup(name string) (Service, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "localtunnel"
	}
	for _, s := range services {
		if s.Name == name {
			return s, nil
		}
		for _, a := range s.Aliases {
			if a == name {
				return s, nil
			}
		}
	}
	return Service{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
}

// Tunnel is a running tunnel process.
type Tunnel struct {
	Service Service
	proc    *procrunner.Handle

	mu  sync.Mutex
	url string
}

// StartTunnel launches the CLI for service and forwards port. The public URL
// is reported through Options.OnURL and URL once the CLI prints it.
func StartTunnel(port int, service string, o Options) (*Tunnel, error) {
	svc, err := Lookup(service)
	if err != nil {
		return nil, err
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	start := o.start
	if start == nil {
		start = procrunner.Start
	}
	logger := o.Logger.With("tunnel", svc.Name)

	t := &Tunnel{Service: svc}
	proc, err := start(svc.Command(port, o), procrunner.Options{
		Mode:   procrunner.ModeExec,
		Stdout: io.Discard,
		Stderr: io.Discard,
		Logger: logger,
		OnLine: func(_, line string) {
			m := svc.URL.FindString(line)
			if m == "" {
				return
			}
			t.mu.Lock()
			first := t.url == ""
			if first {
				t.url = m
			}
			t.mu.Unlock()
			if first {
				logger.Info("tunnel: public URL ready", "url", m)
				if o.OnURL != nil {
					o.OnURL(m)
				}
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start %s tunnel: %w", svc.Name, err)
	}
	t.proc = proc
	return t, nil
}

// URL returns the public URL, or "" if it has not been printed yet.
func (t *Tunnel) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

// IsRunning reports whether the tunnel process is alive.
func (t *Tunnel) IsRunning() bool {
	return t != nil && t.proc.IsRunning()
}

// StopTunnel stops the tunnel process. Safe on a nil or stopped tunnel.
func (t *Tunnel) StopTunnel() error {
	if t == nil {
		return nil
	}
	return t.proc.Stop()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
