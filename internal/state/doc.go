// Package state holds the snapshot the terminal UI renders.
//
// The poller is the writer: each tick it records the pending writes, the
// lifecycle status and the result of the backend health probe. Sync results
// are recorded as drains finish. The UI reads copies on its own schedule.
//
//	Poller                          UI
//	store.Update(pending, life, err) ──→ store.Snapshot()
//	store.RecordSync(report, err)
//
// Pending writes and lifecycle status are local, so a failed probe still
// refreshes them: the queue badge keeps counting while the backend is down.
// The backend counts as offline after two failed probes in a row.
//
// Store is safe for concurrent use and ready as a zero value. Snapshots are
// deep enough copies that the UI may modify them freely.
package state
