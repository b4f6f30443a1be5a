package core

import "time"

// RunnerStats represents runtime observability state for a runner goroutine.
type RunnerStats struct {
	Name       string
	Pending    int
	Running    bool
	Executed   int64
	Rejected   int64
	Panicked   int64
	Closed     bool
	LastTaskAt time.Time
}

// DispatcherStats is a point-in-time view of dispatcher traffic.
type DispatcherStats struct {
	Submitted        int64
	Completed        int64
	Rejected         int64
	Timeouts         int64
	InFlight         int64
	ExternalInFlight bool
	OutstandingRefs  int
	Initialized      bool
}
