package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/five82/tether/internal/lifecycle"
	"github.com/five82/tether/internal/syncer"
)

// NoticeKind names a message for the UI.
type NoticeKind string

const (
	NoticeUpdateAvailable NoticeKind = "update-available"
	NoticeActivated       NoticeKind = "activated"
	NoticeSynced          NoticeKind = "synced"
	NoticeSyncFailed      NoticeKind = "sync-failed"
	NoticeOnline          NoticeKind = "online"
	NoticeOffline         NoticeKind = "offline"
)

// Notice is one message for subscribers.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Version string     `json:"version,omitempty"`
	At      time.Time  `json:"at"`
}

// Hub fans notices out to subscribers. A subscriber that falls behind loses
// notices rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Notice
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Notice)}
}

// Subscribe returns a channel of notices and a function that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Notice, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notice, buffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers n to every subscriber that has room for it.
func (h *Hub) Publish(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// LifecycleNotice publishes the UI notice for a lifecycle change. It is
// meant as the lifecycle manager's Notify.
func (h *Hub) LifecycleNotice(n lifecycle.Notice) {
	switch n.Kind {
	case lifecycle.NoticeUpdateAvailable:
		h.Publish(Notice{Kind: NoticeUpdateAvailable, Version: n.Version,
			Message: "A new version is ready. Update when you are done editing."})
	case lifecycle.NoticeActivated:
		h.Publish(Notice{Kind: NoticeActivated, Version: n.Version,
			Message: "Now running version " + n.Version})
	}
}

// SyncEvent publishes a notice when a drain ends with something to report.
// It is meant as the coordinator's Notify.
func (h *Hub) SyncEvent(ev syncer.Event) {
	if ev.Kind != syncer.EventDrained {
		return
	}
	rep := ev.Report
	switch {
	case ev.Err != nil:
		h.Publish(Notice{Kind: NoticeSyncFailed, Message: "Sync stopped: " + ev.Err.Error()})
	case len(rep.Failed) > 0:
		h.Publish(Notice{Kind: NoticeSyncFailed,
			Message: fmt.Sprintf("%d change(s) could not be synced", len(rep.Failed))})
	case len(rep.Delivered) > 0:
		h.Publish(Notice{Kind: NoticeSynced,
			Message: fmt.Sprintf("Synced %d offline change(s)", len(rep.Delivered))})
	}
}
