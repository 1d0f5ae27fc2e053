// Package syncer delivers queued note mutations to the backend.
//
// The Coordinator drains the pending-write store strictly in id order and
// removes a mutation only once the backend acknowledged it, so delivery is
// at-least-once; every call carries the mutation's idempotency key. Drains
// never overlap: a request that arrives mid-drain is folded into one extra
// pass of the running drain.
//
// The Saver is the UI write path. It calls the backend directly when nothing
// is queued and queues the write when the network is down, so a note edited
// offline is delivered on the next drain.
package syncer
