// Package events defines the event types published on the internal bus by
// the curtailment scheduler.
package events

import "time"

// FetchAttemptEvent reports one fetch attempt against the price source.
type FetchAttemptEvent struct {
	Attempt int
	Start   time.Time
	End     time.Time
	Err     error
}

// NoDataEvent reports that the price source had no points for the batch.
type NoDataEvent struct {
	Start time.Time
	End   time.Time
}

// DecisionEvent reports a per-slot threshold decision.
type DecisionEvent struct {
	SlotStart time.Time
	Price     float64
	Limit     float64
	Curtailed bool
}

// DispatchEvent reports the outcome of one per-site dispatch call.
type DispatchEvent struct {
	MicrogridID int
	SlotStart   time.Time
	Err         error
}

// CycleEvent summarizes a completed scheduling cycle.
type CycleEvent struct {
	Unresolved int
	Resolved   int
	Attempts   int
	NoData     bool
	Duration   time.Duration
}
