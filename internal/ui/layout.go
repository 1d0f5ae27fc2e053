package ui

import "time"

// Terminal width thresholds for responsive layouts.
const (
	// LayoutCompactWidth is the threshold below which the header drops the
	// proxy address and last sync time.
	LayoutCompactWidth = 100

	// LayoutQueuedWidth is the minimum width to show the queued-at column.
	LayoutQueuedWidth = 80
)

// Log display limits.
const (
	// LogFetchLimit is the maximum number of log lines read per refresh.
	LogFetchLimit = 2000
)

// Timing constants.
const (
	// DefaultUIInterval is the default UI refresh interval.
	DefaultUIInterval = time.Second

	// ToastTTL is how long a toast stays on screen.
	ToastTTL = 4 * time.Second
)

const (
	maxToasts    = 3
	noticeBuffer = 16
)
