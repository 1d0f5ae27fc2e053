// Package worker ties the caching components to the outside world.
//
// A Router owns an explicit table from event kind to handler: fetch, sync,
// install, skip-waiting, cache-urls, online and offline. The Proxy serves
// the local listener, turning app requests into fetch events and exposing
// control endpoints under /__tether/. Notices for the UI fan out through a
// Hub.
package worker
