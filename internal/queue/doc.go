// Package queue implements the durable pending-write store: an on-disk queue
// of note mutations that could not reach the server.
//
// # Storage
//
// Mutations live in a SQLite database (modernc.org/sqlite, WAL journal) in a
// single table:
//
//	pending_mutations(id AUTOINCREMENT, action, payload JSON, idempotency_key, created_at ms)
//
// indexed by created_at and by action. AUTOINCREMENT guarantees identifiers
// are never reused, even after Remove or Clear, so ascending id order is
// enqueue order is delivery order.
//
// # Payloads
//
// The payload is a tagged variant: Create, Update and Delete each carry only
// the fields their backend call needs. A Create queued offline gets a local
// note id ("local-<uuid>"); edits made before it is delivered reference that
// id, and the sync coordinator records the server id with BindAlias once the
// create succeeds.
//
// # Errors
//
// Every failure of the database itself is returned as a *storage.Error.
// Validation failures (an update without a note id, an empty patch) are plain
// errors and never reach the database.
package queue
