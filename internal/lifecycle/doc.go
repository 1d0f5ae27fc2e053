// Package lifecycle manages versioned rollover of the cached app.
//
// A version is identified by a tag derived from its precache asset list and
// owns two cache generations, "<ns>-precache-<tag>" and "<ns>-runtime-<tag>".
// A worker moves through installing, waiting, activating, active and
// redundant:
//
//   - Install fetches every precache asset. On failure the worker stays
//     installing and the caller retries later.
//   - With no active version, an installed worker activates at once.
//     Otherwise it waits, and a newer install replaces the waiting one.
//   - SkipWaiting is the only way a waiting worker becomes active. Activation
//     deletes every generation not belonging to the new version.
//
// The waiting state keeps one session from being served a mix of old and
// new assets: the old version keeps answering until the user approves the
// update.
package lifecycle
