package state

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/five82/tether/internal/lifecycle"
	"github.com/five82/tether/internal/queue"
	"github.com/five82/tether/internal/syncer"
)

func pending(ids ...int64) []queue.Mutation {
	out := make([]queue.Mutation, 0, len(ids))
	for _, id := range ids {
		out = append(out, queue.Mutation{ID: id, Op: queue.Delete{NoteID: "n"}})
	}
	return out
}

func TestStore_UpdateAndSnapshotClone(t *testing.T) {
	var s Store

	life := lifecycle.Status{Active: &lifecycle.Worker{Version: "v1"}}
	before := time.Now()
	s.Update(pending(1, 2), life, nil)

	snap := s.Snapshot()
	if snap.QueueDepth() != 2 || snap.Pending[0].ID != 1 {
		t.Fatalf("snapshot pending = %#v, want 2 items", snap.Pending)
	}
	if snap.Lifecycle.Active == nil || snap.Lifecycle.Active.Version != "v1" {
		t.Fatalf("snapshot lifecycle = %#v", snap.Lifecycle)
	}
	if snap.LastUpdated.Before(before) {
		t.Fatalf("LastUpdated = %v, want >= %v", snap.LastUpdated, before)
	}
	if snap.LastError != nil {
		t.Fatalf("LastError = %v, want nil", snap.LastError)
	}

	// Returned snapshot should be independent of the stored one.
	snap.Pending[0].ID = 999
	if again := s.Snapshot(); again.Pending[0].ID != 1 {
		t.Fatalf("Snapshot should clone pending; got id %d want 1", again.Pending[0].ID)
	}
}

func TestStore_FailedProbeStillRefreshesPending(t *testing.T) {
	var s Store

	s.Update(pending(1), lifecycle.Status{}, nil)
	origErr := errors.New("connection refused")
	s.Update(pending(1, 2, 3), lifecycle.Status{}, origErr)

	snap := s.Snapshot()
	if snap.QueueDepth() != 3 {
		t.Fatalf("QueueDepth = %d, want 3", snap.QueueDepth())
	}
	if snap.LastError == nil || snap.LastError.Error() != "connection refused" {
		t.Fatalf("LastError = %v, want connection refused", snap.LastError)
	}
	if reflect.ValueOf(snap.LastError).Pointer() == reflect.ValueOf(origErr).Pointer() {
		t.Fatalf("Snapshot should clone error instance")
	}
}

func TestStore_ConsecutiveFailures(t *testing.T) {
	var s Store

	if snap := s.Snapshot(); snap.ConsecutiveFailures != 0 || snap.IsOffline() {
		t.Fatalf("zero store = %+v, want online", snap)
	}

	steps := []struct {
		err         error
		wantCount   int
		wantOffline bool
	}{
		{err: errors.New("fail 1"), wantCount: 1, wantOffline: false},
		{err: errors.New("fail 2"), wantCount: 2, wantOffline: true},
		{err: errors.New("fail 3"), wantCount: 3, wantOffline: true},
		{err: nil, wantCount: 0, wantOffline: false},
	}
	for i, step := range steps {
		s.Update(nil, lifecycle.Status{}, step.err)
		snap := s.Snapshot()
		if snap.ConsecutiveFailures != step.wantCount {
			t.Fatalf("step %d: ConsecutiveFailures = %d, want %d", i, snap.ConsecutiveFailures, step.wantCount)
		}
		if snap.IsOffline() != step.wantOffline {
			t.Fatalf("step %d: IsOffline = %v, want %v", i, snap.IsOffline(), step.wantOffline)
		}
	}
}

func TestStore_RecordSync(t *testing.T) {
	var s Store

	rep := syncer.Report{Delivered: []int64{1, 2}, Failed: []syncer.Failure{{ID: 3}}, Remaining: 1}
	s.RecordSync(rep, nil)
	rep.Delivered[0] = 42

	snap := s.Snapshot()
	if snap.LastSync.Delivered[0] != 1 {
		t.Fatalf("RecordSync should clone the report; got %v", snap.LastSync.Delivered)
	}
	if snap.LastSync.Remaining != 1 || len(snap.LastSync.Failed) != 1 {
		t.Fatalf("LastSync = %+v", snap.LastSync)
	}
	if snap.LastSyncAt.IsZero() || snap.LastSyncErr != nil {
		t.Fatalf("LastSyncAt = %v, LastSyncErr = %v", snap.LastSyncAt, snap.LastSyncErr)
	}

	s.RecordSync(syncer.Report{}, errors.New("queue unavailable"))
	if snap := s.Snapshot(); snap.LastSyncErr == nil {
		t.Fatal("LastSyncErr = nil, want error")
	}
}
