// Package config loads the tether daemon configuration.
//
// # Resolution Order
//
// Load merges three sources, later ones winning:
//
//  1. Built-in defaults
//  2. The TOML file (~/.config/tether/config.toml unless a path is given)
//  3. TETHER_* environment variables
//
// A missing config file is not an error. Empty values fall back to the
// defaults, so a file can set only what it needs.
//
// # TOML Format
//
//	origin = "http://127.0.0.1:3000"        # the notes web app
//	backend_url = "http://127.0.0.1:8000"   # the notes API
//	api_prefixes = ["/api/"]
//	api_hosts = []                          # backend host is always added
//	listen = "127.0.0.1:7480"
//	data_dir = "~/.local/share/tether"
//	namespace = "tether"
//	manifest = "~/.config/tether/manifest.json"
//	api_token = ""
//	poll_seconds = 5
//
// # Environment
//
// Every field has a TETHER_ override named after its TOML key, for example
// TETHER_BACKEND_URL or TETHER_POLL_SECONDS. List fields are comma
// separated.
//
// # Derived Paths
//
// The data directory holds the daemon log (tether.log), the pending-write
// database (queue.db), the cache generations (cache/) and the active version
// record (lifecycle.json). Tilde paths are expanded and relative paths made
// absolute.
package config
