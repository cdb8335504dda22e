package tunnel_test

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/zsprackett/devserve/internal/procrunner"
	"github.com/zsprackett/devserve/internal/tunnel"
)

func TestLookup(t *testing.T) {
	for name, want := range map[string]string{
		"":            "localtunnel",
		"lt":          "localtunnel",
		"CF":          "cloudflared",
		"cloudflared": "cloudflared",
		"ngrok":       "ngrok",
		"pinggy":      "pinggy",
	} {
		svc, err := tunnel.Lookup(name)
		if err != nil || svc.Name != want {
			t.Errorf("Lookup(%q): %q, %v", name, svc.Name, err)
		}
	}
	if _, err := tunnel.Lookup("serveo"); !errors.Is(err, tunnel.ErrUnknownService) {
		t.Errorf("expected ErrUnknownService, got %v", err)
	}
}

func TestCommands(t *testing.T) {
	lt, _ := tunnel.Lookup("lt")
	if got := lt.Command(8080, tunnel.Options{Subdomain: "demo"}); !strings.Contains(got, "--port 8080") || !strings.Contains(got, "--subdomain 'demo'") {
		t.Errorf("localtunnel command %q", got)
	}
	ng, _ := tunnel.Lookup("ngrok")
	if got := ng.Command(3000, tunnel.Options{AuthToken: "tok"}); !strings.HasPrefix(got, "ngrok http 3000") || !strings.Contains(got, "--authtoken 'tok'") {
		t.Errorf("ngrok command %q", got)
	}
}

func TestStartTunnel_ReportsURL(t *testing.T) {
	var gotCommand string
	urls := make(chan string, 1)
	o := tunnel.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnURL:  func(u string) { urls <- u },
	}
	o = tunnel.WithStarter(o, func(command string, po procrunner.Options) (*procrunner.Handle, error) {
		gotCommand = command
		return procrunner.Start("echo starting; echo 'your url is: https://quiet-fox.loca.lt'; exec sleep 30", po)
	})

	tun, err := tunnel.StartTunnel(4321, "localtunnel", o)
	if err != nil {
		t.Fatal(err)
	}
	defer tun.StopTunnel()

	select {
	case u := <-urls:
		if u != "https://quiet-fox.loca.lt" {
			t.Errorf("url %q", u)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no URL reported")
	}
	if tun.URL() != "https://quiet-fox.loca.lt" {
		t.Errorf("URL() %q", tun.URL())
	}
	if !strings.Contains(gotCommand, "--port 4321") {
		t.Errorf("command %q", gotCommand)
	}
	if !tun.IsRunning() {
		t.Error("tunnel not running")
	}
	if err := tun.StopTunnel(); err != nil {
		t.Fatal(err)
	}
	if tun.IsRunning() {
		t.Error("tunnel still running after stop")
	}
}

func TestStopTunnel_Nil(t *testing.T) {
	var tun *tunnel.Tunnel
	if err := tun.StopTunnel(); err != nil {
		t.Error(err)
	}
}
