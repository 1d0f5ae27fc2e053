// Package app is tether's composition root.
//
// Run loads the configuration, opens the daemon log, wires every component
// into a Daemon, binds the local proxy listener and starts the poller. It
// then hands the terminal to the UI, or in headless mode waits for the
// context to end.
//
//	Run()
//	 ├─> config.Load()        file, TETHER_* env, defaults
//	 ├─> NewDaemon()          queue, caches, lifecycle, syncer, router, proxy
//	 ├─> Listen()/Serve()     proxy on cfg.Listen
//	 ├─> Poller.Start()       health probe + connectivity events
//	 └─> ui.Run()             blocks until quit
//
// # Polling
//
// Each tick probes the backend's /health with a short timeout, records the
// pending writes and lifecycle status in the state store, and turns
// connectivity changes into router events: two failed probes in a row
// dispatch "offline", the next good probe dispatches "online", which drains
// the pending-write queue. While the backend is down the interval doubles
// per failure up to 30 seconds.
//
// A good probe also retries the manifest install if it has not succeeded
// yet, and drains writes the proxy queued during a blip too short to count
// as offline.
//
// # Logging
//
// Components log through slog into <data_dir>/tether.log; the UI's log
// view tails that file. Headless runs also log to stderr.
package app
