// Package ui is the terminal dashboard for the tether daemon.
//
// The dashboard shows connectivity, the pending-write queue and the active
// app shell version, and lets the user force a sync, apply a waiting update,
// discard queued writes or jot a quick note. It polls state.Store for
// snapshots and subscribes to the worker notice hub for toasts.
//
// The model follows the Bubble Tea architecture: Update is pure with respect
// to the Model value and all I/O runs in tea.Cmd functions.
package ui
