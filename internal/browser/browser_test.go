package browser_test

import (
	"reflect"
	"testing"

	"github.com/zsprackett/devserve/internal/browser"
)

func TestURLs(t *testing.T) {
	got := browser.URLs("http", "0.0.0.0", 8080, []string{"", "docs/", "/admin"})
	want := []string{
		"http://127.0.0.1:8080",
		"http://127.0.0.1:8080/docs/",
		"http://127.0.0.1:8080/admin",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}

	if got := browser.URLs("https", "::1", 443, nil); got[0] != "https://[::1]:443" {
		t.Errorf("ipv6 url %q", got[0])
	}
}

func TestCommand(t *testing.T) {
	cases := []struct {
		goos, app string
		want      []string
	}{
		{"darwin", "", []string{"open", "http://x"}},
		{"darwin", "Firefox", []string{"open", "-a", "Firefox", "http://x"}},
		{"linux", "", []string{"xdg-open", "http://x"}},
		{"linux", "firefox", []string{"firefox", "http://x"}},
		{"windows", "", []string{"cmd", "/c", "start", "", "http://x"}},
	}
	for _, tc := range cases {
		cmd, err := browser.Command(tc.goos, "http://x", tc.app)
		if err != nil {
			t.Fatalf("%s: %v", tc.goos, err)
		}
		if !reflect.DeepEqual(cmd.Args, tc.want) {
			t.Errorf("%s/%s: args %v want %v", tc.goos, tc.app, cmd.Args, tc.want)
		}
	}
	if _, err := browser.Command("plan9", "http://x", ""); err == nil {
		t.Error("expected error for unsupported platform")
	}
}
