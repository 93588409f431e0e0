package middleware

import "time"

// Cache enables the cache middleware for a request handler.
type Cache struct {
	// MaxAge is how long an entry stays fresh. Zero means it never goes
	// stale.
	MaxAge time.Duration

	// Sliding restarts the MaxAge window every time a fresh entry is served.
	Sliding bool

	// OnlyForOffline serves cached values only while Connectivity reports
	// offline. Online calls always reach the handler and refresh the entry.
	OnlyForOffline bool
}

// OfflineAvailable enables the offline middleware for a request handler.
type OfflineAvailable struct {
	// MaxAge bounds how old a stored value may be and still be served.
	// Zero accepts any age.
	MaxAge time.Duration
}

// Throttle drops events that arrive within Cooldown of the last event the
// handler ran for.
type Throttle struct {
	Cooldown time.Duration
}

// Sample delivers only the last event seen in each fixed Window.
type Sample struct {
	Window time.Duration
}

// TimerRefresh re-runs a stream handler every Interval after it has been
// drained, until the consumer stops.
type TimerRefresh struct {
	Interval time.Duration
}
