package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/five82/tether/internal/lifecycle"
	"github.com/five82/tether/internal/queue"
	"github.com/five82/tether/internal/syncer"
)

// offlineThreshold is how many failed probes in a row mark the backend
// offline. One failure alone is treated as a blip.
const offlineThreshold = 2

// Snapshot represents the latest data available to the UI.
type Snapshot struct {
	Pending             []queue.Mutation
	Lifecycle           lifecycle.Status
	LastSync            syncer.Report
	LastSyncErr         error
	LastSyncAt          time.Time
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int // Number of consecutive failed health probes
}

// IsOffline returns true when the backend has been unreachable for multiple
// probes.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= offlineThreshold
}

// QueueDepth is the number of writes waiting to be synced.
func (s Snapshot) QueueDepth() int { return len(s.Pending) }

// Store coordinates concurrent updates to the snapshot.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// Update records one poll. The pending list and lifecycle status are local
// and always replace the stored values. probeErr is the backend health
// result: nil resets the failure count, non-nil increments it.
func (s *Store) Update(pending []queue.Mutation, life lifecycle.Status, probeErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Pending = clonePending(pending)
	s.snapshot.Lifecycle = life
	s.snapshot.LastUpdated = time.Now()
	if probeErr != nil {
		s.snapshot.LastError = probeErr
		s.snapshot.ConsecutiveFailures++
		return
	}
	s.snapshot.LastError = nil
	s.snapshot.ConsecutiveFailures = 0
}

// RecordSync stores the outcome of the latest drain.
func (s *Store) RecordSync(rep syncer.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.LastSync = cloneReport(rep)
	s.snapshot.LastSyncErr = err
	s.snapshot.LastSyncAt = time.Now()
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Pending = clonePending(s.snapshot.Pending)
	snap.LastSync = cloneReport(s.snapshot.LastSync)
	if s.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", s.snapshot.LastError)
	}
	if s.snapshot.LastSyncErr != nil {
		snap.LastSyncErr = fmt.Errorf("%w", s.snapshot.LastSyncErr)
	}
	return snap
}

func clonePending(items []queue.Mutation) []queue.Mutation {
	if len(items) == 0 {
		return nil
	}
	dup := make([]queue.Mutation, len(items))
	copy(dup, items)
	return dup
}

func cloneReport(rep syncer.Report) syncer.Report {
	if rep.Delivered != nil {
		rep.Delivered = append([]int64(nil), rep.Delivered...)
	}
	if rep.Failed != nil {
		rep.Failed = append([]syncer.Failure(nil), rep.Failed...)
	}
	return rep
}
