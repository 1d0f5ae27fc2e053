package worker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/five82/tether/internal/fetch"
	"github.com/five82/tether/internal/lifecycle"
	"github.com/five82/tether/internal/queue"
	"github.com/five82/tether/internal/storage"
)

// ControlPrefix is the path prefix of the daemon's own endpoints on the
// proxy listener.
const ControlPrefix = "/__tether/"

const maxControlBody = 1 << 20

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy is the local listener's http.Handler: control endpoints under
// ControlPrefix, everything else dispatched as a fetch event.
type Proxy struct {
	router *Router
	origin *url.URL
	mux    *http.ServeMux
}

// NewProxy serves requests for origin through router.
func NewProxy(router *Router, origin string) (*Proxy, error) {
	if router == nil {
		return nil, errors.New("worker: router is required")
	}
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("worker: origin must be an absolute URL")
	}
	p := &Proxy{router: router, origin: &url.URL{Scheme: u.Scheme, Host: u.Host}, mux: http.NewServeMux()}
	p.mux.HandleFunc("GET "+ControlPrefix+"status", p.handleStatus)
	p.mux.HandleFunc("POST "+ControlPrefix+"sync", p.handleSync)
	p.mux.HandleFunc("POST "+ControlPrefix+"skip-waiting", p.handleSkipWaiting)
	p.mux.HandleFunc("POST "+ControlPrefix+"cache-urls", p.handleCacheURLs)
	p.mux.HandleFunc("GET "+ControlPrefix+"pending", p.handleListPending)
	p.mux.HandleFunc("DELETE "+ControlPrefix+"pending", p.handleClearPending)
	p.mux.HandleFunc("DELETE "+ControlPrefix+"pending/{id}", p.handleDiscardPending)
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, ControlPrefix) {
		p.mux.ServeHTTP(w, r)
		return
	}
	p.serveFetch(w, r)
}

func (p *Proxy) serveFetch(w http.ResponseWriter, r *http.Request) {
	out := r.Clone(r.Context())
	out.RequestURI = ""
	if !out.URL.IsAbs() {
		out.URL.Scheme = p.origin.Scheme
		out.URL.Host = p.origin.Host
	}
	out.Host = out.URL.Host
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	if r.ContentLength == 0 {
		out.Body = nil
	}

	res, err := p.router.Dispatch(r.Context(), Event{Kind: EventFetch, Request: out})
	if err != nil {
		switch {
		case errors.Is(err, fetch.ErrNoContent):
			http.Error(w, "offline and not cached", http.StatusGatewayTimeout)
		default:
			p.router.logger.Error("fetch failed", "url", out.URL.String(), "error", err)
			http.Error(w, "tether: "+err.Error(), http.StatusServiceUnavailable)
		}
		return
	}
	resp := res.Response
	defer func() { _ = resp.Body.Close() }()

	header := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	if loc := header.Get("Location"); loc != "" {
		header.Set("Location", p.localLocation(loc))
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// localLocation keeps redirects to the origin pointed at the proxy.
func (p *Proxy) localLocation(loc string) string {
	u, err := url.Parse(loc)
	if err != nil || !u.IsAbs() {
		return loc
	}
	if strings.EqualFold(u.Scheme, p.origin.Scheme) && strings.EqualFold(u.Host, p.origin.Host) {
		u.Scheme, u.Host = "", ""
		return u.String()
	}
	return loc
}

// StatusResponse is the body of GET /__tether/status.
type StatusResponse struct {
	Online          bool             `json:"online"`
	QueueDepth      int              `json:"queue_depth"`
	UpdateAvailable bool             `json:"update_available"`
	Lifecycle       lifecycle.Status `json:"lifecycle"`
}

func (p *Proxy) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := p.router.deps.Queue.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	st := p.router.deps.Lifecycle.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Online:          p.router.Online(),
		QueueDepth:      depth,
		UpdateAvailable: st.UpdateAvailable(),
		Lifecycle:       st,
	})
}

// SyncResponse is the body of POST /__tether/sync.
type SyncResponse struct {
	Delivered []int64 `json:"delivered"`
	Failed    []int64 `json:"failed"`
	Remaining int     `json:"remaining"`
	Coalesced bool    `json:"coalesced"`
}

func (p *Proxy) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := p.router.Dispatch(r.Context(), Event{Kind: EventSync})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	rep := res.Report
	out := SyncResponse{Delivered: rep.Delivered, Remaining: rep.Remaining, Coalesced: rep.Coalesced}
	if out.Delivered == nil {
		out.Delivered = []int64{}
	}
	out.Failed = make([]int64, 0, len(rep.Failed))
	for _, f := range rep.Failed {
		out.Failed = append(out.Failed, f.ID)
	}
	writeJSON(w, http.StatusOK, out)
}

func (p *Proxy) handleSkipWaiting(w http.ResponseWriter, r *http.Request) {
	res, err := p.router.Dispatch(r.Context(), Event{Kind: EventSkipWaiting})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res.Worker)
}

type cacheURLsRequest struct {
	URLs []string `json:"urls"`
}

type cacheURLsResponse struct {
	Stored int    `json:"stored"`
	Error  string `json:"error,omitempty"`
}

func (p *Proxy) handleCacheURLs(w http.ResponseWriter, r *http.Request) {
	var req cacheURLsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := p.router.Dispatch(r.Context(), Event{Kind: EventCacheURLs, URLs: req.URLs})
	if errors.Is(err, lifecycle.ErrNoActive) {
		writeError(w, http.StatusConflict, err)
		return
	}
	out := cacheURLsResponse{Stored: res.Stored}
	if err != nil {
		out.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// PendingItem is one entry of GET /__tether/pending.
type PendingItem struct {
	ID        int64        `json:"id"`
	Action    queue.Action `json:"action"`
	NoteID    string       `json:"note_id"`
	Title     string       `json:"title,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

func (p *Proxy) handleListPending(w http.ResponseWriter, r *http.Request) {
	list, err := p.router.deps.Queue.List(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	items := make([]PendingItem, 0, len(list))
	for _, m := range list {
		items = append(items, PendingItem{
			ID:        m.ID,
			Action:    m.Action(),
			NoteID:    m.NoteRef(),
			Title:     m.Title(),
			CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (p *Proxy) handleClearPending(w http.ResponseWriter, r *http.Request) {
	if err := p.router.deps.Queue.Clear(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	p.router.logger.Info("pending writes discarded")
	w.WriteHeader(http.StatusNoContent)
}

func (p *Proxy) handleDiscardPending(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("invalid pending id"))
		return
	}
	if err := p.router.deps.Queue.Remove(r.Context(), id); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	p.router.logger.Info("pending write discarded", "pending_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotWaiting):
		return http.StatusConflict
	case storage.IsStorage(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
