package cache

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/five82/tether/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return m
}

func mustOpen(t *testing.T, m *Manager, name string) *Generation {
	t.Helper()
	g, err := m.Open(name)
	if err != nil {
		t.Fatalf("Open(%q) returned error: %v", name, err)
	}
	return g
}

func mustKey(t *testing.T, raw string) Key {
	t.Helper()
	k, err := KeyForURL(raw)
	if err != nil {
		t.Fatalf("KeyForURL(%q) returned error: %v", raw, err)
	}
	return k
}

func TestGeneration_PutMatchRoundTrip(t *testing.T) {
	m := newTestManager(t)
	g := mustOpen(t, m, "tether-runtime-v1")
	key := mustKey(t, "http://app.local/api/notes")

	body := []byte(`[{"id":"n-1","title":"groceries"}]` + "\x00\xff")
	entry := Entry{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"application/json"}},
		Body:     body,
		StoredAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := g.Put(key, entry); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	got, ok, err := g.Match(key)
	if err != nil || !ok {
		t.Fatalf("Match = (%v, %v), want hit", ok, err)
	}
	if got.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", got.Status)
	}
	if !bytes.Equal(got.Body, body) {
		t.Fatalf("body = %q, want %q", got.Body, body)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content-type = %q", got.Header.Get("Content-Type"))
	}
	if got.Key != key {
		t.Fatalf("key = %+v, want %+v", got.Key, key)
	}
}

func TestGeneration_PutOverwrites(t *testing.T) {
	m := newTestManager(t)
	g := mustOpen(t, m, "tether-runtime-v1")
	key := mustKey(t, "http://app.local/api/notes")

	if err := g.Put(key, Entry{Status: 200, Body: []byte("old")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := g.Put(key, Entry{Status: 200, Body: []byte("new")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, ok, err := g.Match(key)
	if err != nil || !ok {
		t.Fatalf("Match = (%v, %v), want hit", ok, err)
	}
	if string(got.Body) != "new" {
		t.Fatalf("body = %q, want new", got.Body)
	}
	keys, err := g.Keys()
	if err != nil {
		t.Fatalf("Keys returned error: %v", err)
	}
	if diff := cmp.Diff([]Key{key}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestGeneration_MethodIsPartOfKey(t *testing.T) {
	m := newTestManager(t)
	g := mustOpen(t, m, "gen")
	get := Key{Method: http.MethodGet, URL: "http://app.local/x"}
	head := Key{Method: http.MethodHead, URL: "http://app.local/x"}

	if err := g.Put(get, Entry{Status: 200, Body: []byte("get")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if _, ok, _ := g.Match(head); ok {
		t.Fatalf("HEAD matched an entry stored for GET")
	}
}

func TestManager_DeleteGenerationIsolation(t *testing.T) {
	m := newTestManager(t)
	oldGen := mustOpen(t, m, "tether-runtime-old")
	newGen := mustOpen(t, m, "tether-runtime-new")
	key := mustKey(t, "http://app.local/index.html")

	if err := oldGen.Put(key, Entry{Status: 200, Body: []byte("old")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := newGen.Put(key, Entry{Status: 200, Body: []byte("new")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	existed, err := m.DeleteGeneration("tether-runtime-old")
	if err != nil || !existed {
		t.Fatalf("DeleteGeneration = (%v, %v), want (true, nil)", existed, err)
	}

	if _, ok, _ := m.Match(key, "tether-runtime-old"); ok {
		t.Fatalf("deleted generation still matches")
	}
	got, ok, err := newGen.Match(key)
	if err != nil || !ok || string(got.Body) != "new" {
		t.Fatalf("surviving generation Match = (%q, %v, %v)", got.Body, ok, err)
	}

	names, err := m.Generations()
	if err != nil {
		t.Fatalf("Generations returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"tether-runtime-new"}, names); diff != "" {
		t.Fatalf("generations mismatch (-want +got):\n%s", diff)
	}

	err = oldGen.Put(key, Entry{Status: 200})
	if !errors.Is(err, ErrDeleted) || !storage.IsStorage(err) {
		t.Fatalf("Put on deleted generation error = %v, want storage ErrDeleted", err)
	}

	existed, err = m.DeleteGeneration("never-existed")
	if err != nil || existed {
		t.Fatalf("DeleteGeneration(missing) = (%v, %v), want (false, nil)", existed, err)
	}
}

func TestManager_MatchSearchesInOrder(t *testing.T) {
	m := newTestManager(t)
	pre := mustOpen(t, m, "pre")
	run := mustOpen(t, m, "run")
	key := mustKey(t, "http://app.local/")

	if err := run.Put(key, Entry{Status: 200, Body: []byte("runtime")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, ok, err := m.Match(key, "pre", "run")
	if err != nil || !ok || string(got.Body) != "runtime" {
		t.Fatalf("Match fallthrough = (%q, %v, %v)", got.Body, ok, err)
	}

	if err := pre.Put(key, Entry{Status: 200, Body: []byte("precache")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, _, _ = m.Match(key, "pre", "run")
	if string(got.Body) != "precache" {
		t.Fatalf("first generation did not win: %q", got.Body)
	}
	got, _, _ = m.Match(key, "run", "pre")
	if string(got.Body) != "runtime" {
		t.Fatalf("order not honoured: %q", got.Body)
	}

	if _, ok, err := m.Match(key, "absent"); ok || err != nil {
		t.Fatalf("Match(absent) = (%v, %v)", ok, err)
	}
	names, _ := m.Generations()
	for _, n := range names {
		if n == "absent" {
			t.Fatalf("Match created generation %q", n)
		}
	}
}

func TestManager_ReopenSeesEntries(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	m1, err := New(root)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	key := mustKey(t, "http://app.local/manifest.json")
	if err := mustOpen(t, m1, "gen/with slash").Put(key, Entry{Status: 200, Body: []byte("{}")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	m2, err := New(root)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	names, err := m2.Generations()
	if err != nil {
		t.Fatalf("Generations returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"gen/with slash"}, names); diff != "" {
		t.Fatalf("generations mismatch (-want +got):\n%s", diff)
	}
	if _, ok, err := m2.Match(key, "gen/with slash"); !ok || err != nil {
		t.Fatalf("Match after reopen = (%v, %v)", ok, err)
	}
}

func TestSnapshot_LeavesBodyReadable(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/html")
	rec.Header().Set("Connection", "keep-alive")
	rec.WriteHeader(http.StatusOK)
	_, _ = rec.WriteString("<html>shell</html>")
	resp := rec.Result()

	req, err := http.NewRequest(http.MethodGet, "http://app.local/#top", nil)
	if err != nil {
		t.Fatalf("NewRequest returned error: %v", err)
	}
	key := KeyFor(req)
	if key.URL != "http://app.local/" {
		t.Fatalf("fragment kept in key: %q", key.URL)
	}

	entry, err := Snapshot(key, resp, time.Now())
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if entry.Header.Get("Connection") != "" {
		t.Fatalf("hop-by-hop header stored")
	}
	rest, _ := io.ReadAll(resp.Body)
	if string(rest) != "<html>shell</html>" {
		t.Fatalf("original body consumed: %q", rest)
	}

	rebuilt := entry.Response(req)
	again, _ := io.ReadAll(rebuilt.Body)
	if rebuilt.StatusCode != http.StatusOK || string(again) != "<html>shell</html>" {
		t.Fatalf("rebuilt response = %d %q", rebuilt.StatusCode, again)
	}
	if rebuilt.Header.Get(HitHeader) != "hit" {
		t.Fatalf("rebuilt response missing %s", HitHeader)
	}
	if !strings.HasPrefix(rebuilt.Status, "200") {
		t.Fatalf("status line = %q", rebuilt.Status)
	}
}

func TestKeyForURL_RejectsRelative(t *testing.T) {
	if _, err := KeyForURL("/index.html"); err == nil {
		t.Fatalf("KeyForURL accepted a relative url")
	}
}
