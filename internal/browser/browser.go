// Package browser opens the served site in the user's browser.
package browser

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// URLs builds one address per path on host:port. An unspecified host
// (0.0.0.0, ::, "") is replaced by 127.0.0.1.
func URLs(scheme, host string, port int, paths []string) []string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	base := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(port))}
	if len(paths) == 0 {
		paths = []string{""}
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		u := base
		if p != "" && !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		u.Path = p
		out = append(out, u.String())
	}
	return out
}

// Command returns the command that opens target. app, when set, names the
// browser application to use.
func Command(goos, target, app string) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		if app != "" {
			return exec.Command("open", "-a", app, target), nil
		}
		return exec.Command("open", target), nil
	case "windows":
		if app != "" {
			return exec.Command("cmd", "/c", "start", "", app, target), nil
		}
		return exec.Command("cmd", "/c", "start", "", target), nil
	case "linux", "freebsd", "openbsd", "netbsd":
		if app != "" {
			return exec.Command(app, target), nil
		}
		return exec.Command("xdg-open", target), nil
	default:
		return nil, fmt.Errorf("cannot open browser on %s", goos)
	}
}

// Open launches the browser for every target and does not wait for it.
func Open(targets []string, app string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, t := range targets {
		cmd, err := Command(runtime.GOOS, t, app)
		if err != nil {
			logger.Warn("browser: "+err.Error(), "url", t)
			continue
		}
		if err := cmd.Start(); err != nil {
			logger.Warn("browser: failed to open, please visit manually", "url", t, "err", err)
			continue
		}
		go cmd.Wait()
	}
}
