// Package logtail reads the tail of the daemon log for the UI log view.
//
// Read keeps a ring buffer of the last N lines, so memory stays bounded by
// N however large the file grows. Parse understands the key=value records
// written by slog.TextHandler and pulls out time, level, msg and the
// component attribute every tether component tags its logger with; other
// lines (panic traces, for example) come back unparsed at info level.
package logtail
