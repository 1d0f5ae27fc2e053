// Package notes provides an HTTP client for the note backend API.
//
// # Overview
//
// The client covers the calls the offline layer needs: the three writes the
// sync coordinator replays (create, update, delete), two reads used by the
// UI and tests, and the health probe the connectivity poller uses.
//
//	client, err := notes.NewClient("http://127.0.0.1:8000", notes.WithToken(token))
//	if err != nil {
//		return err
//	}
//	note, err := client.CreateNote(ctx, key, notes.Draft{Title: "groceries"})
//
// # API Endpoints
//
//   - POST /notes/: create, 201 with the stored note
//   - PUT /notes/{id}: partial update, 200 with the stored note
//   - DELETE /notes/{id}: 204
//   - GET /notes/{id}, GET /notes/: reads
//   - GET /health: reachability probe
//
// Write calls send the mutation's idempotency key in the Idempotency-Key
// header so a replayed delivery can be recognised by the server.
//
// # Error Handling
//
// Errors fall into three groups, which callers tell apart with helpers:
//
//   - *NetworkError (IsNetworkError): no response at all. The offline layer
//     recovers from these by serving the cache or queueing the write.
//   - *APIError (IsRejection): the server answered 4xx/5xx. Detail carries the
//     backend's {"detail": "..."} message. Rejections are never queued.
//   - everything else: request construction or response decoding failures.
//
// # Thread Safety
//
// Client is safe for concurrent use.
package notes
