package metrics

import (
	"testing"

	coremetrics "github.com/kilianp07/curtaild/core/metrics"
)

type recordSink struct {
	count int
}

func (r *recordSink) RecordDecision([]coremetrics.Decision) error {
	r.count++
	return nil
}

func (r *recordSink) RecordDispatchResult([]coremetrics.DispatchResult) error {
	r.count++
	return nil
}

func (r *recordSink) RecordCycle(coremetrics.CycleStats) error {
	r.count++
	return nil
}

// decisionOnlySink does not implement the optional recorder interfaces.
type decisionOnlySink struct {
	count int
}

func (d *decisionOnlySink) RecordDecision([]coremetrics.Decision) error {
	d.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordDecision(nil); err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if err := m.RecordDispatchResult(nil); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	if err := m.RecordCycle(coremetrics.CycleStats{}); err != nil {
		t.Fatalf("record cycle: %v", err)
	}
	if s1.count != 3 || s2.count != 3 {
		t.Fatalf("records not forwarded")
	}
}

func TestMultiSinkSkipsOptionalRecorders(t *testing.T) {
	d := &decisionOnlySink{}
	m := NewMultiSink(d)
	if err := m.RecordDispatchResult(nil); err != nil {
		t.Fatalf("record dispatch: %v", err)
	}
	if err := m.RecordCycle(coremetrics.CycleStats{}); err != nil {
		t.Fatalf("record cycle: %v", err)
	}
	if d.count != 0 {
		t.Fatalf("optional recorders should be skipped")
	}
	if err := m.RecordDecision(nil); err != nil {
		t.Fatalf("record decision: %v", err)
	}
	if d.count != 1 {
		t.Fatalf("decision not forwarded")
	}
}
