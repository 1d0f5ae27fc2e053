package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/five82/tether/internal/fetch"
	"github.com/five82/tether/internal/lifecycle"
	"github.com/five82/tether/internal/notes"
	"github.com/five82/tether/internal/queue"
)

func serve(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNewProxy_RejectsRelativeOrigin(t *testing.T) {
	h := newHarness(t, notesAPI())
	if _, err := NewProxy(h.router, "/app"); err == nil {
		t.Fatal("expected error for relative origin")
	}
}

func TestProxy_ServesAppThroughCache(t *testing.T) {
	h := newHarness(t, notesAPI())

	rec := serve(t, h.proxy, http.MethodGet, "/api/notes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("online status = %d", rec.Code)
	}
	online := rec.Body.String()

	h.transport.set(true)
	rec = serve(t, h.proxy, http.MethodGet, "/api/notes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("offline status = %d", rec.Code)
	}
	if rec.Body.String() != online {
		t.Fatalf("offline body = %q, want %q", rec.Body.String(), online)
	}

	rec = serve(t, h.proxy, http.MethodGet, "/api/folders", "")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("uncached offline status = %d, want 504", rec.Code)
	}
}

func TestProxy_QueuesOfflineWrite(t *testing.T) {
	h := newHarness(t, notesAPI())
	h.transport.set(true)

	rec := serve(t, h.proxy, http.MethodPut, "/api/notes/n1", `{"title":"Milk"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if rec.Header().Get(fetch.QueuedHeader) == "" {
		t.Fatalf("missing queued header in %v", rec.Header())
	}

	rec = serve(t, h.proxy, http.MethodGet, "/__tether/pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pending status = %d", rec.Code)
	}
	items := decode[[]PendingItem](t, rec)
	if len(items) != 1 {
		t.Fatalf("pending = %+v", items)
	}
	if items[0].Action != queue.ActionUpdate || items[0].NoteID != "n1" || items[0].Title != "Milk" {
		t.Fatalf("pending item = %+v", items[0])
	}
}

func TestProxy_RewritesOriginRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, testOrigin+"/new?x=1", http.StatusFound)
	})
	mux.HandleFunc("GET /away", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://elsewhere.example/", http.StatusFound)
	})
	h := newHarness(t, mux)

	rec := serve(t, h.proxy, http.MethodGet, "/old", "")
	if got := rec.Header().Get("Location"); got != "/new?x=1" {
		t.Fatalf("Location = %q", got)
	}
	rec = serve(t, h.proxy, http.MethodGet, "/away", "")
	if got := rec.Header().Get("Location"); got != "https://elsewhere.example/" {
		t.Fatalf("Location = %q", got)
	}
}

func TestProxy_Status(t *testing.T) {
	h := newHarness(t, notesAPI())
	h.life.status = lifecycle.Status{
		Active:  &lifecycle.Worker{Version: "v1", State: lifecycle.StateActive},
		Waiting: &lifecycle.Worker{Version: "v2", State: lifecycle.StateWaiting},
	}
	if _, err := h.queue.Enqueue(context.Background(), queue.Delete{NoteID: "n1"}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	rec := serve(t, h.proxy, http.MethodGet, "/__tether/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	got := decode[StatusResponse](t, rec)
	if !got.Online || got.QueueDepth != 1 || !got.UpdateAvailable {
		t.Fatalf("status = %+v", got)
	}
	if got.Lifecycle.Active == nil || got.Lifecycle.Active.Version != "v1" {
		t.Fatalf("lifecycle = %+v", got.Lifecycle)
	}
}

func TestProxy_SyncDrainsQueue(t *testing.T) {
	h := newHarness(t, notesAPI())
	ctx := context.Background()
	for _, op := range []queue.Op{
		queue.Create{Draft: notes.Draft{Title: "a"}},
		queue.Delete{NoteID: "n2"},
	} {
		if _, err := h.queue.Enqueue(ctx, op); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}

	rec := serve(t, h.proxy, http.MethodPost, "/__tether/sync", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[SyncResponse](t, rec)
	want := SyncResponse{Delivered: []int64{1, 2}, Failed: []int64{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sync mismatch (-want +got):\n%s", diff)
	}
}

func TestProxy_SkipWaiting(t *testing.T) {
	h := newHarness(t, notesAPI())

	rec := serve(t, h.proxy, http.MethodPost, "/__tether/skip-waiting", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if w := decode[lifecycle.Worker](t, rec); w.Version != "v2" {
		t.Fatalf("worker = %+v", w)
	}

	h.life.skipErr = lifecycle.ErrNotWaiting
	rec = serve(t, h.proxy, http.MethodPost, "/__tether/skip-waiting", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestProxy_CacheURLs(t *testing.T) {
	h := newHarness(t, notesAPI())

	rec := serve(t, h.proxy, http.MethodPost, "/__tether/cache-urls", `{"urls":["/a","/b"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[cacheURLsResponse](t, rec); got.Stored != 2 || got.Error != "" {
		t.Fatalf("response = %+v", got)
	}

	h.life.cacheErr = errors.New("fetch /b: 404")
	rec = serve(t, h.proxy, http.MethodPost, "/__tether/cache-urls", `{"urls":["/b"]}`)
	if got := decode[cacheURLsResponse](t, rec); got.Error == "" {
		t.Fatalf("expected error in response, got %+v", got)
	}

	h.life.cacheErr = lifecycle.ErrNoActive
	rec = serve(t, h.proxy, http.MethodPost, "/__tether/cache-urls", `{"urls":["/b"]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	rec = serve(t, h.proxy, http.MethodPost, "/__tether/cache-urls", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProxy_DiscardPending(t *testing.T) {
	h := newHarness(t, notesAPI())
	ctx := context.Background()
	for _, id := range []string{"n1", "n2", "n3"} {
		if _, err := h.queue.Enqueue(ctx, queue.Delete{NoteID: id}); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}

	rec := serve(t, h.proxy, http.MethodDelete, "/__tether/pending/2", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("discard status = %d", rec.Code)
	}
	if n, _ := h.queue.Count(ctx); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	rec = serve(t, h.proxy, http.MethodDelete, "/__tether/pending/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}

	rec = serve(t, h.proxy, http.MethodDelete, "/__tether/pending", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}
	if n, _ := h.queue.Count(ctx); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}

func TestProxy_UnknownControlPath(t *testing.T) {
	h := newHarness(t, notesAPI())
	rec := serve(t, h.proxy, http.MethodGet, "/__tether/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
