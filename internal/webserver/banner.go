package webserver

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/zsprackett/devserve/internal/watcher"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))
	urlStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	pathStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	boxStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#374151")).
			Padding(0, 1)
)

func label(s string) string { return dimStyle.Render(fmt.Sprintf("%-10s", s)) }

func (in *Instance) banner(port int, w *watcher.Watcher) string {
	lines := []string{titleStyle.Render("devserve")}
	if in.cfg.ExecMode() {
		cmd := in.cfg.Process.Exec
		if in.cfg.Process.NPMScript != "" {
			cmd = "npm run " + in.cfg.Process.NPMScript
		}
		lines = append(lines, label("Running")+pathStyle.Render(cmd))
	} else {
		lines = append(lines, label("Serving")+pathStyle.Render(in.root))
	}
	lines = append(lines, label("Local")+urlStyle.Render(in.URL()))
	for _, u := range networkURLs(in.scheme(), in.cfg.Host, port) {
		lines = append(lines, label("Network")+urlStyle.Render(u))
	}
	if w != nil {
		lines = append(lines, label("Watching")+dimStyle.Render(fmt.Sprintf("%d paths, %d directories", len(in.watchSet.Paths), w.WatchedDirs())))
	}
	if in.cfg.WaitMillis > 0 {
		lines = append(lines, label("Debounce")+dimStyle.Render(strconv.Itoa(in.cfg.WaitMillis)+"ms"))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func (in *Instance) report() string {
	snap := in.stats.Snapshot()
	lines := []string{
		titleStyle.Render("devserve stopped"),
		label("Uptime") + snap.Uptime.Round(time.Second).String(),
		label("Requests") + humanize.Comma(snap.Requests),
		label("Reloads") + humanize.Comma(snap.Reloads),
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func tunnelLine(u string) string {
	return label("Public") + urlStyle.Render(u)
}

// networkURLs lists the non-loopback IPv4 addresses a wildcard bind is
// reachable on. A specific host yields nothing.
func networkURLs(scheme, host string, port int) []string {
	if host != "" && host != "0.0.0.0" && host != "::" {
		return nil
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() || ipn.IP.To4() == nil {
			continue
		}
		out = append(out, scheme+"://"+net.JoinHostPort(ipn.IP.String(), strconv.Itoa(port)))
	}
	return out
}
