package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

// DefaultAssets is the app shell precached when no manifest file is given.
var DefaultAssets = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/icon-192x192.png",
	"/icon-512x512.png",
}

// Manifest describes one version of the app: the assets to precache.
type Manifest struct {
	// Version overrides the tag derived from Assets.
	Version string   `json:"version,omitempty"`
	Assets  []string `json:"precache"`
}

// DefaultManifest returns the built-in manifest.
func DefaultManifest() Manifest {
	return Manifest{Assets: append([]string(nil), DefaultAssets...)}
}

// LoadManifest reads a JSON-with-comments manifest. An empty path, or a path
// that does not exist, yields DefaultManifest.
func LoadManifest(path string) (Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultManifest(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultManifest(), nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes a manifest, allowing comments and trailing commas.
func ParseManifest(data []byte) (Manifest, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(standardized, &m); err != nil {
		return Manifest{}, fmt.Errorf("invalid JSON: %w", err)
	}
	assets := m.Assets[:0]
	for _, a := range m.Assets {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !strings.HasPrefix(a, "/") {
			return Manifest{}, fmt.Errorf("asset %q must be an absolute path", a)
		}
		assets = append(assets, a)
	}
	if len(assets) == 0 {
		return Manifest{}, errors.New("manifest lists no precache assets")
	}
	m.Assets = assets
	m.Version = strings.TrimSpace(m.Version)
	return m, nil
}

// Tag is the version tag used in generation names: Version if set, else the
// first 8 hex digits of the sha256 of the asset list.
func (m Manifest) Tag() string {
	if m.Version != "" {
		return m.Version
	}
	sum := sha256.Sum256([]byte(strings.Join(m.Assets, "\n")))
	return hex.EncodeToString(sum[:])[:8]
}

// GenerationNames returns the precache and runtime generation names for
// version tag under namespace.
func GenerationNames(namespace, tag string) (precache, runtime string) {
	return namespace + "-precache-" + tag, namespace + "-runtime-" + tag
}
