package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/zsprackett/devserve/internal/config"
	"github.com/zsprackett/devserve/internal/pipeline"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/path/config.json")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 || cfg.Host != "0.0.0.0" || cfg.WaitMillis != 100 || cfg.Verbosity != 2 {
		t.Errorf("defaults %+v", cfg)
	}
}

func TestLoadFormats(t *testing.T) {
	cases := map[string]string{
		"devserve.json": `{"port": 3000, "spa": true, "mount": ["/libs:./node_modules"], "tunnel": {"service": "ngrok"}}`,
		"devserve.toml": "port = 3000\nspa = true\nmount = [\"/libs:./node_modules\"]\n[tunnel]\nservice = \"ngrok\"\n",
		"devserve.yaml": "port: 3000\nspa: true\nmount:\n  - /libs:./node_modules\ntunnel:\n  service: ngrok\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := os.WriteFile(path, []byte(body), 0644); err != nil {
				t.Fatal(err)
			}
			cfg, err := config.Load(path)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Port != 3000 || !cfg.SPA || cfg.Tunnel.Service != "ngrok" {
				t.Errorf("loaded %+v", cfg)
			}
			if !reflect.DeepEqual(cfg.Mount, []string{"/libs:./node_modules"}) {
				t.Errorf("mount %v", cfg.Mount)
			}
			if cfg.Host != "0.0.0.0" {
				t.Errorf("defaults not kept: host %q", cfg.Host)
			}
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte(`{"port":`), 0644)
	if _, err := config.Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestMounts(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mount = []string{"/libs:/site/node_modules", "assets/:/srv/assets"}
	mounts, err := cfg.Mounts()
	if err != nil {
		t.Fatal(err)
	}
	want := []config.Mount{
		{Route: "/libs", Path: filepath.Clean("/site/node_modules")},
		{Route: "/assets", Path: filepath.Clean("/srv/assets")},
	}
	if !reflect.DeepEqual(mounts, want) {
		t.Errorf("got %+v", mounts)
	}

	cfg.Mount = []string{"/:/srv"}
	if _, err := cfg.Mounts(); err == nil {
		t.Error("expected error for root mount")
	}
}

func TestProxies(t *testing.T) {
	cfg := config.Defaults()
	cfg.Proxy = []string{"/api:http://localhost:9000/v1"}
	proxies, err := cfg.Proxies()
	if err != nil {
		t.Fatal(err)
	}
	if len(proxies) != 1 || proxies[0].Route != "/api" || proxies[0].Target.String() != "http://localhost:9000/v1" {
		t.Errorf("got %+v", proxies)
	}

	cfg.Proxy = []string{"/api:not a url"}
	if _, err := cfg.Proxies(); err == nil {
		t.Error("expected error for bad target")
	}
}

func TestStages(t *testing.T) {
	cfg := config.Defaults()
	cfg.Middleware = []string{"security"}
	cfg.SPA = true
	cfg.Security = true
	got, err := cfg.Stages()
	if err != nil {
		t.Fatal(err)
	}
	want := []pipeline.Stage{pipeline.StageSecurity, pipeline.StageSPA}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	cfg := config.Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	cfg.IgnorePattern = "("
	cfg.Middleware = []string{"nope"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, pipeline.ErrUnknownStage) {
		t.Errorf("expected joined ErrUnknownStage, got %v", err)
	}
}

func TestExecMode(t *testing.T) {
	cfg := config.Defaults()
	if cfg.ExecMode() {
		t.Error("exec mode by default")
	}
	cfg.Process.NPMScript = "dev"
	if !cfg.ExecMode() {
		t.Error("npm script should enable exec mode")
	}
}
