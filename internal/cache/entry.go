package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HitHeader is set on responses rebuilt from a cache entry.
const HitHeader = "X-Tether-Cache"

// Key identifies a cached response: request method plus absolute URL.
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// KeyFor derives the cache key of req. Fragments never reach the network,
// so they are dropped.
func KeyFor(req *http.Request) Key {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return Key{Method: strings.ToUpper(method), URL: u.String()}
}

// KeyForURL is the GET key for rawURL.
func KeyForURL(rawURL string) (Key, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Key{}, fmt.Errorf("parse cache url %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return Key{}, fmt.Errorf("cache url %q is not absolute", rawURL)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return Key{Method: http.MethodGet, URL: u.String()}, nil
}

func (k Key) String() string { return k.Method + " " + k.URL }

func (k Key) filename() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:]) + ".json"
}

// Entry is a stored response snapshot.
type Entry struct {
	Key      Key         `json:"key"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Connection-level headers that describe one transfer, not the resource.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

// Snapshot copies resp into an Entry for key. The body is read in full and
// resp.Body is replaced with an equivalent reader, so the caller can still
// hand resp to its own consumer.
func Snapshot(key Key, resp *http.Response, now time.Time) (Entry, error) {
	if resp == nil {
		return Entry{}, fmt.Errorf("snapshot %s: response is nil", key)
	}
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return Entry{}, fmt.Errorf("snapshot %s: read body: %w", key, err)
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	return Entry{
		Key:      key,
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: now.UTC(),
	}, nil
}

// Response rebuilds an *http.Response for req from the entry. Each call
// returns an independent body.
func (e Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	header.Set(HitHeader, "hit")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
