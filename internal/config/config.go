// Package config holds the server settings loaded from a config file and
// overridden by command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/zsprackett/devserve/internal/pipeline"
)

type TunnelConfig struct {
	Enabled   bool   `json:"enabled" toml:"enabled" yaml:"enabled"`
	Service   string `json:"service" toml:"service" yaml:"service"`
	Subdomain string `json:"subdomain" toml:"subdomain" yaml:"subdomain"`
	AuthToken string `json:"authtoken" toml:"authtoken" yaml:"authtoken"`
	Region    string `json:"region" toml:"region" yaml:"region"`
}

type ProcessConfig struct {
	Exec      string `json:"exec" toml:"exec" yaml:"exec"`
	NPMScript string `json:"npmScript" toml:"npm_script" yaml:"npmScript"`
	PM2       bool   `json:"pm2" toml:"pm2" yaml:"pm2"`
	PM2Name   string `json:"pm2Name" toml:"pm2_name" yaml:"pm2Name"`
}

type Config struct {
	Root string   `json:"root" toml:"root" yaml:"root"`
	Host string   `json:"host" toml:"host" yaml:"host"`
	Port int      `json:"port" toml:"port" yaml:"port"`
	Open []string `json:"open" toml:"open" yaml:"open"`
	// NoBrowser suppresses opening a browser.
	NoBrowser     bool     `json:"noBrowser" toml:"no_browser" yaml:"noBrowser"`
	Browser       string   `json:"browser" toml:"browser" yaml:"browser"`
	Watch         []string `json:"watch" toml:"watch" yaml:"watch"`
	Ignore        []string `json:"ignore" toml:"ignore" yaml:"ignore"`
	IgnorePattern string   `json:"ignorePattern" toml:"ignore_pattern" yaml:"ignorePattern"`
	NoCSSInject   bool     `json:"noCssInject" toml:"no_css_inject" yaml:"noCssInject"`
	EntryFile     string   `json:"file" toml:"file" yaml:"file"`
	SPA           bool     `json:"spa" toml:"spa" yaml:"spa"`
	// Verbosity is 0 (errors only) to 3 (every request).
	Verbosity  int      `json:"logLevel" toml:"log_level" yaml:"logLevel"`
	Mount      []string `json:"mount" toml:"mount" yaml:"mount"`
	Proxy      []string `json:"proxy" toml:"proxy" yaml:"proxy"`
	WaitMillis int      `json:"wait" toml:"wait" yaml:"wait"`
	Htpasswd   string   `json:"htpasswd" toml:"htpasswd" yaml:"htpasswd"`
	CORS       bool     `json:"cors" toml:"cors" yaml:"cors"`
	// HTTPS is a JSON file naming certFile and keyFile, or "self-signed".
	HTTPS         string   `json:"https" toml:"https" yaml:"https"`
	Middleware    []string `json:"middleware" toml:"middleware" yaml:"middleware"`
	NoCompression bool     `json:"noCompression" toml:"no_compression" yaml:"noCompression"`
	Performance   bool     `json:"performance" toml:"performance" yaml:"performance"`
	Security      bool     `json:"security" toml:"security" yaml:"security"`
	RateLimit     int      `json:"rateLimit" toml:"rate_limit" yaml:"rateLimit"`
	Upload        bool     `json:"upload" toml:"upload" yaml:"upload"`
	NoHealth      bool     `json:"noHealth" toml:"no_health" yaml:"noHealth"`
	NoErrorPage   bool     `json:"noErrorPage" toml:"no_error_page" yaml:"noErrorPage"`
	// LogFile enables the JSON request log under LogDir.
	LogFile     bool          `json:"logFile" toml:"log_file" yaml:"logFile"`
	LogDir      string        `json:"logDir" toml:"log_dir" yaml:"logDir"`
	LogDB       string        `json:"logDb" toml:"log_db" yaml:"logDb"`
	AutoRestart bool          `json:"autoRestart" toml:"auto_restart" yaml:"autoRestart"`
	Test        bool          `json:"test" toml:"test" yaml:"test"`
	Tunnel      TunnelConfig  `json:"tunnel" toml:"tunnel" yaml:"tunnel"`
	Process     ProcessConfig `json:"process" toml:"process" yaml:"process"`
}

// Mount maps a URL prefix to a directory or file outside the root.
type Mount struct {
	Route string
	Path  string
}

// Proxy forwards a URL prefix to an upstream server.
type Proxy struct {
	Route  string
	Target *url.URL
}

func Defaults() Config {
	return Config{
		Host:       "0.0.0.0",
		Port:       8080,
		Verbosity:  2,
		WaitMillis: 100,
		Tunnel:     TunnelConfig{Service: "localtunnel"},
	}
}

// DefaultPath is the per-user config file consulted when no path is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".devserve.json")
}

// CertDir holds the cached self-signed certificate.
func CertDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".devserve", "certs")
}

// Load reads path on top of Defaults. The format follows the extension:
// .toml, .yaml/.yml, anything else is JSON. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ExecMode reports whether an owned subprocess serves the site instead of
// the static handler.
func (c Config) ExecMode() bool {
	return c.Process.Exec != "" || c.Process.NPMScript != ""
}

// Mounts parses the ROUTE:PATH entries. Paths are resolved against cwd.
func (c Config) Mounts() ([]Mount, error) {
	out := make([]Mount, 0, len(c.Mount))
	for _, m := range c.Mount {
		route, p, ok := strings.Cut(m, ":")
		if !ok || route == "" || p == "" {
			return nil, fmt.Errorf("invalid mount %q: expected ROUTE:PATH", m)
		}
		if !strings.HasPrefix(route, "/") {
			route = "/" + route
		}
		route = strings.TrimSuffix(route, "/")
		if route == "" {
			return nil, fmt.Errorf("invalid mount %q: route must not be /", m)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("mount %q: %w", m, err)
		}
		out = append(out, Mount{Route: route, Path: abs})
	}
	return out, nil
}

// Proxies parses the ROUTE:URL entries.
func (c Config) Proxies() ([]Proxy, error) {
	out := make([]Proxy, 0, len(c.Proxy))
	for _, p := range c.Proxy {
		route, raw, ok := strings.Cut(p, ":")
		if !ok || route == "" || raw == "" {
			return nil, fmt.Errorf("invalid proxy %q: expected ROUTE:URL", p)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy target %q", raw)
		}
		if !strings.HasPrefix(route, "/") {
			route = "/" + route
		}
		route = strings.TrimSuffix(route, "/")
		if route == "" {
			return nil, fmt.Errorf("invalid proxy %q: route must not be /", p)
		}
		out = append(out, Proxy{Route: route, Target: u})
	}
	return out, nil
}

// Stages returns the named pipeline stages, including spa when SPA is set.
func (c Config) Stages() ([]pipeline.Stage, error) {
	names := append([]string(nil), c.Middleware...)
	if c.SPA {
		names = append(names, string(pipeline.StageSPA))
	}
	if c.Security {
		names = append(names, string(pipeline.StageSecurity))
	}
	if c.Performance {
		names = append(names, string(pipeline.StagePerformance))
	}
	return pipeline.Resolve(names)
}

// Validate reports configuration errors that must stop startup before any
// socket is opened.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Verbosity < 0 || c.Verbosity > 3 {
		errs = append(errs, fmt.Errorf("invalid log level %d: expected 0-3", c.Verbosity))
	}
	if c.WaitMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid wait %dms", c.WaitMillis))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("invalid rate limit %d", c.RateLimit))
	}
	if c.IgnorePattern != "" {
		if _, err := regexp.Compile(c.IgnorePattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid ignore pattern: %w", err))
		}
	}
	if _, err := c.Stages(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Mounts(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Proxies(); err != nil {
		errs = append(errs, err)
	}
	if c.Process.Exec != "" && c.Process.NPMScript != "" {
		errs = append(errs, errors.New("--exec and --npm-script are mutually exclusive"))
	}
	if c.Htpasswd != "" {
		if _, err := os.Stat(c.Htpasswd); err != nil {
			errs = append(errs, fmt.Errorf("htpasswd: %w", err))
		}
	}
	return errors.Join(errs...)
}
