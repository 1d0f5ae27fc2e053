package fetch

import (
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Strategy is how the interceptor serves a request.
type Strategy int

const (
	// Passthrough sends the request to the network untouched.
	Passthrough Strategy = iota
	// NetworkFirst tries the network and falls back to the caches.
	NetworkFirst
	// CacheFirst serves from the caches and only fetches on a miss.
	CacheFirst
)

func (s Strategy) String() string {
	switch s {
	case Passthrough:
		return "passthrough"
	case NetworkFirst:
		return "network-first"
	case CacheFirst:
		return "cache-first"
	default:
		return "unknown"
	}
}

// Classify picks the strategy for req. The first matching rule wins:
// cross-origin requests pass through, the API surface is network-first and
// everything else on the app origin is cache-first.
func (i *Interceptor) Classify(req *http.Request) Strategy {
	if req == nil || req.URL == nil {
		return Passthrough
	}
	host := strings.ToLower(req.URL.Host)
	apiHost := i.apiHosts[host]
	if !apiHost && !i.sameOrigin(req.URL) {
		return Passthrough
	}
	if apiHost || i.isAPIPath(req.URL.Path) {
		return NetworkFirst
	}
	return CacheFirst
}

func (i *Interceptor) sameOrigin(u *url.URL) bool {
	if u.Host == "" {
		return true
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = i.origin.Scheme
	}
	return strings.EqualFold(scheme, i.origin.Scheme) && strings.EqualFold(u.Host, i.origin.Host)
}

func (i *Interceptor) isAPIPath(p string) bool {
	for _, prefix := range i.apiPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// isNavigation reports whether req loads a page: the client said so with
// Sec-Fetch-Mode, or the first media range it accepts is text/html.
func isNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	accept := req.Header.Get("Accept")
	if accept == "" {
		return false
	}
	first, _, _ := strings.Cut(accept, ",")
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(first))
	if err != nil {
		return false
	}
	return mediaType == "text/html"
}

// noteTarget locates a note resource in an API path: "notes" for the
// collection, "notes/{id}" for one note. ok is false for anything else.
func (i *Interceptor) noteTarget(p string) (id string, collection bool, ok bool) {
	rest := p
	for _, prefix := range i.apiPrefixes {
		if strings.HasPrefix(rest, prefix) {
			rest = strings.TrimPrefix(rest, prefix)
			break
		}
	}
	rest = strings.Trim(rest, "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] == "notes":
		return "", true, true
	case len(parts) == 2 && parts[0] == "notes" && parts[1] != "":
		id, err := url.PathUnescape(parts[1])
		if err != nil {
			return "", false, false
		}
		return id, false, true
	}
	return "", false, false
}
