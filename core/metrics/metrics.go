// Package metrics defines the observability sink contracts for the
// curtailment service.
package metrics

import "time"

// Decision represents a per-slot threshold decision to be recorded.
type Decision struct {
	SlotStart time.Time
	Price     float64
	Limit     float64
	Curtailed bool
	Time      time.Time
}

// Sink records threshold decisions.
type Sink interface {
	RecordDecision(decisions []Decision) error
}

// DispatchResult represents one per-site dispatch outcome.
type DispatchResult struct {
	MicrogridID int
	SlotStart   time.Time
	PowerW      float64
	DryRun      bool
	Succeeded   bool
	Error       string
	Time        time.Time
}

// DispatchRecorder is implemented by sinks able to record dispatch outcomes.
type DispatchRecorder interface {
	RecordDispatchResult(results []DispatchResult) error
}

// CycleStats summarizes a scheduling cycle.
type CycleStats struct {
	Unresolved    int
	ResolvedNow   int
	FetchAttempts int
	NoData        bool
	Failed        bool
	Duration      time.Duration
	Time          time.Time
}

// CycleRecorder is implemented by sinks able to record cycle summaries.
type CycleRecorder interface {
	RecordCycle(stats CycleStats) error
}

// NopSink implements all recorder interfaces with no-op methods.
type NopSink struct{}

func (NopSink) RecordDecision([]Decision) error             { return nil }
func (NopSink) RecordDispatchResult([]DispatchResult) error { return nil }
func (NopSink) RecordCycle(CycleStats) error                { return nil }
