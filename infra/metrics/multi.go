package metrics

import coremetrics "github.com/kilianp07/curtaild/core/metrics"

// MultiSink fanouts records to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDecision forwards the decisions to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordDecision(decisions []coremetrics.Decision) error {
	for _, s := range m.Sinks {
		if err := s.RecordDecision(decisions); err != nil {
			return err
		}
	}
	return nil
}

// RecordDispatchResult forwards dispatch outcomes to the sinks that record them.
func (m *MultiSink) RecordDispatchResult(results []coremetrics.DispatchResult) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.DispatchRecorder); ok {
			if err := rec.RecordDispatchResult(results); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCycle forwards cycle summaries to the sinks that record them.
func (m *MultiSink) RecordCycle(stats coremetrics.CycleStats) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.CycleRecorder); ok {
			if err := rec.RecordCycle(stats); err != nil {
				return err
			}
		}
	}
	return nil
}
