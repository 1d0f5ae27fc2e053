package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_MissingConfigFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(filepath.Join(home, "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	wantDataDir, err := expandPath(defaultDataDir)
	if err != nil {
		t.Fatalf("expandPath(defaultDataDir) returned error: %v", err)
	}
	want := Config{
		Origin:       defaultOrigin,
		BackendURL:   defaultBackendURL,
		APIPrefixes:  []string{"/api/"},
		APIHosts:     []string{"127.0.0.1:8000"},
		Listen:       defaultListen,
		DataDir:      wantDataDir,
		Namespace:    defaultNamespace,
		PollInterval: 5 * time.Second,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ParsesAndTrimsConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := writeConfig(t, `
origin = "  https://notes.example  "
backend_url = "https://api.notes.example"
api_prefixes = ["/api/", " /v2/ "]
api_hosts = ["CDN.notes.example", "api.notes.example"]
listen = " 127.0.0.1:9000 "
data_dir = "  ~/.tether  "
manifest = "~/manifest.json"
api_token = " secret "
poll_seconds = 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Origin != "https://notes.example" || cfg.Listen != "127.0.0.1:9000" || cfg.APIToken != "secret" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if diff := cmp.Diff([]string{"/api/", "/v2/"}, cfg.APIPrefixes); diff != "" {
		t.Fatalf("APIPrefixes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"cdn.notes.example", "api.notes.example"}, cfg.APIHosts); diff != "" {
		t.Fatalf("APIHosts mismatch (-want +got):\n%s", diff)
	}
	if cfg.DataDir != filepath.Join(home, ".tether") {
		t.Fatalf("DataDir = %q, want it under HOME %q", cfg.DataDir, home)
	}
	if cfg.ManifestPath != filepath.Join(home, "manifest.json") {
		t.Fatalf("ManifestPath = %q", cfg.ManifestPath)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("PollInterval = %v", cfg.PollInterval)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TETHER_BACKEND_URL", "http://10.0.0.5:8000")
	t.Setenv("TETHER_API_PREFIXES", "/api/,/rpc/")
	t.Setenv("TETHER_POLL_SECONDS", "2")

	path := writeConfig(t, `
backend_url = "http://127.0.0.1:8000"
poll_seconds = 30
namespace = "notes"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BackendURL != "http://10.0.0.5:8000" {
		t.Fatalf("BackendURL = %q", cfg.BackendURL)
	}
	if diff := cmp.Diff([]string{"/api/", "/rpc/"}, cfg.APIPrefixes); diff != "" {
		t.Fatalf("APIPrefixes mismatch (-want +got):\n%s", diff)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.Namespace != "notes" {
		t.Fatalf("Namespace = %q, want file value", cfg.Namespace)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid toml", body: `origin = [`, want: "parse config"},
		{name: "relative origin", body: `origin = "/app"`, want: "origin"},
		{name: "non-http backend", body: `backend_url = "ftp://files"`, want: "backend_url"},
		{name: "prefix without slash", body: `api_prefixes = ["api"]`, want: "api prefix"},
		{name: "negative poll", body: `poll_seconds = -1`, want: "poll_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("Load returned nil error, want %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load error = %q, want it to mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Config{DataDir: "/var/lib/tether"}
	got := []string{cfg.LogPath(), cfg.QueuePath(), cfg.CacheDir(), cfg.LifecycleStatePath()}
	want := []string{
		"/var/lib/tether/tether.log",
		"/var/lib/tether/queue.db",
		"/var/lib/tether/cache",
		"/var/lib/tether/lifecycle.json",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestDerivedPaths_DefaultWhenDataDirEmpty(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	var cfg Config
	got := cfg.LogPath()
	if !strings.HasPrefix(got, home) {
		t.Fatalf("LogPath = %q, want it under HOME %q", got, home)
	}
	if !strings.HasSuffix(got, filepath.FromSlash("/tether.log")) {
		t.Fatalf("LogPath = %q, want it to end with /tether.log", got)
	}
}

func TestExpandPath_ExpandsTildeAndReturnsAbs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := expandPath("~/a/b")
	if err != nil {
		t.Fatalf("expandPath returned error: %v", err)
	}
	want := filepath.Join(home, "a/b")
	if got != want {
		t.Fatalf("expandPath = %q, want %q", got, want)
	}
}

func TestExpandPath_EmptyErrors(t *testing.T) {
	if _, err := expandPath("   "); err == nil {
		t.Fatalf("expandPath returned nil error, want error")
	}
}
