package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// Config is the daemon configuration after file, environment and defaults
// have been merged.
type Config struct {
	Origin       string
	BackendURL   string
	APIPrefixes  []string
	APIHosts     []string
	Listen       string
	DataDir      string
	Namespace    string
	ManifestPath string
	APIToken     string
	PollInterval time.Duration
}

const (
	defaultConfigPath  = "~/.config/tether/config.toml"
	defaultDataDir     = "~/.local/share/tether"
	defaultOrigin      = "http://127.0.0.1:3000"
	defaultBackendURL  = "http://127.0.0.1:8000"
	defaultListen      = "127.0.0.1:7480"
	defaultNamespace   = "tether"
	defaultPollSeconds = 5
)

var defaultAPIPrefixes = []string{"/api/"}

type fileConfig struct {
	Origin      string   `toml:"origin"`
	BackendURL  string   `toml:"backend_url"`
	APIPrefixes []string `toml:"api_prefixes"`
	APIHosts    []string `toml:"api_hosts"`
	Listen      string   `toml:"listen"`
	DataDir     string   `toml:"data_dir"`
	Namespace   string   `toml:"namespace"`
	Manifest    string   `toml:"manifest"`
	APIToken    string   `toml:"api_token"`
	PollSeconds int      `toml:"poll_seconds"`
}

// envConfig holds TETHER_* overrides. Unset variables leave zero values,
// which do not override the file.
type envConfig struct {
	Origin      string   `env:"TETHER_ORIGIN"`
	BackendURL  string   `env:"TETHER_BACKEND_URL"`
	APIPrefixes []string `env:"TETHER_API_PREFIXES" envSeparator:","`
	APIHosts    []string `env:"TETHER_API_HOSTS" envSeparator:","`
	Listen      string   `env:"TETHER_LISTEN"`
	DataDir     string   `env:"TETHER_DATA_DIR"`
	Namespace   string   `env:"TETHER_NAMESPACE"`
	Manifest    string   `env:"TETHER_MANIFEST"`
	APIToken    string   `env:"TETHER_API_TOKEN"`
	PollSeconds int      `env:"TETHER_POLL_SECONDS"`
}

// Load reads the config file at path (the default location when empty),
// applies TETHER_* environment overrides and fills defaults. A missing file
// is not an error.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	var raw fileConfig
	file, err := os.Open(resolved)
	switch {
	case err == nil:
		defer file.Close()
		bytes, err := io.ReadAll(file)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(bytes, &raw); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("open config: %w", err)
	}

	var over envConfig
	if err := env.Parse(&over); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	raw.merge(over)

	return raw.resolve()
}

func (f *fileConfig) merge(o envConfig) {
	setString(&f.Origin, o.Origin)
	setString(&f.BackendURL, o.BackendURL)
	setString(&f.Listen, o.Listen)
	setString(&f.DataDir, o.DataDir)
	setString(&f.Namespace, o.Namespace)
	setString(&f.Manifest, o.Manifest)
	setString(&f.APIToken, o.APIToken)
	if len(o.APIPrefixes) > 0 {
		f.APIPrefixes = o.APIPrefixes
	}
	if len(o.APIHosts) > 0 {
		f.APIHosts = o.APIHosts
	}
	if o.PollSeconds != 0 {
		f.PollSeconds = o.PollSeconds
	}
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func (f fileConfig) resolve() (Config, error) {
	cfg := Config{
		Origin:     orDefault(f.Origin, defaultOrigin),
		BackendURL: orDefault(f.BackendURL, defaultBackendURL),
		Listen:     orDefault(f.Listen, defaultListen),
		DataDir:    mustExpand(orDefault(f.DataDir, defaultDataDir)),
		Namespace:  orDefault(f.Namespace, defaultNamespace),
		APIToken:   strings.TrimSpace(f.APIToken),
	}
	if m := strings.TrimSpace(f.Manifest); m != "" {
		cfg.ManifestPath = mustExpand(m)
	}

	if f.PollSeconds < 0 {
		return Config{}, fmt.Errorf("poll_seconds must not be negative, got %d", f.PollSeconds)
	}
	poll := f.PollSeconds
	if poll == 0 {
		poll = defaultPollSeconds
	}
	cfg.PollInterval = time.Duration(poll) * time.Second

	for _, p := range f.APIPrefixes {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			return Config{}, fmt.Errorf("api prefix %q must start with /", p)
		}
		cfg.APIPrefixes = append(cfg.APIPrefixes, p)
	}
	if len(cfg.APIPrefixes) == 0 {
		cfg.APIPrefixes = append([]string(nil), defaultAPIPrefixes...)
	}

	if _, err := absoluteURL("origin", cfg.Origin); err != nil {
		return Config{}, err
	}
	backend, err := absoluteURL("backend_url", cfg.BackendURL)
	if err != nil {
		return Config{}, err
	}

	seen := map[string]bool{}
	for _, h := range append(f.APIHosts, backend.Host) {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		cfg.APIHosts = append(cfg.APIHosts, h)
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func absoluteURL(field, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%s %q must be an absolute http(s) URL", field, raw)
	}
	return u, nil
}

// LogPath is the daemon log file.
func (c Config) LogPath() string { return filepath.Join(c.dataDir(), "tether.log") }

// QueuePath is the pending-write database.
func (c Config) QueuePath() string { return filepath.Join(c.dataDir(), "queue.db") }

// CacheDir is the root of the cache generations.
func (c Config) CacheDir() string { return filepath.Join(c.dataDir(), "cache") }

// LifecycleStatePath records the active app version across restarts.
func (c Config) LifecycleStatePath() string { return filepath.Join(c.dataDir(), "lifecycle.json") }

func (c Config) dataDir() string {
	if strings.TrimSpace(c.DataDir) == "" {
		return mustExpand(defaultDataDir)
	}
	return c.DataDir
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
