// Package contract tracks the rolling set of delivery slots awaiting a
// curtailment decision.
package contract

import (
	"sort"
	"time"
)

// Horizon is how far ahead of now the window extends.
const Horizon = 48 * time.Hour

// Contract is one delivery slot being tracked for a curtailment decision.
// Resolved flips to true once a decision was made for the slot: a dispatch
// was sent successfully or the price was below the limit.
type Contract struct {
	SlotStart time.Time
	Resolved  bool
}

// Window owns the in-memory contract map. It is not safe for concurrent use;
// the scheduling loop is its only caller.
type Window struct {
	freq  time.Duration
	slots map[int64]*Contract
}

// NewWindow creates an empty window for the given slot frequency.
func NewWindow(freq time.Duration) *Window {
	return &Window{freq: freq, slots: make(map[int64]*Contract)}
}

// Refresh recomputes the target slot set for now and diffs it against the
// tracked set. New slots enter unresolved, slots outside the window are
// dropped regardless of resolved state. The returned added/removed slices
// are for observability only. Refresh is idempotent: calling it twice with
// the same now yields empty diffs the second time.
func (w *Window) Refresh(now time.Time) (added, removed []time.Time) {
	target := make(map[int64]time.Time)
	end := now.Add(Horizon)
	for t := ceil(now, w.freq); t.Before(end); t = t.Add(w.freq) {
		target[t.UnixNano()] = t
	}

	for key, c := range w.slots {
		if _, ok := target[key]; !ok {
			removed = append(removed, c.SlotStart)
			delete(w.slots, key)
		}
	}
	for key, t := range target {
		if _, ok := w.slots[key]; !ok {
			w.slots[key] = &Contract{SlotStart: t}
			added = append(added, t)
		}
	}
	sortTimes(added)
	sortTimes(removed)
	return added, removed
}

// Unresolved returns copies of the tracked contracts with Resolved == false,
// ordered by slot start ascending.
func (w *Window) Unresolved() []Contract {
	var out []Contract
	for _, c := range w.slots {
		if !c.Resolved {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotStart.Before(out[j].SlotStart) })
	return out
}

// Resolve marks the contract for the given slot as decided. It reports
// whether the slot is tracked.
func (w *Window) Resolve(slot time.Time) bool {
	c, ok := w.slots[slot.UnixNano()]
	if !ok {
		return false
	}
	c.Resolved = true
	return true
}

// Len returns the number of tracked contracts.
func (w *Window) Len() int { return len(w.slots) }

// ceil rounds t up to the next multiple of d; a t already on a boundary is
// returned unchanged.
func ceil(t time.Time, d time.Duration) time.Time {
	tt := t.Truncate(d)
	if tt.Before(t) {
		tt = tt.Add(d)
	}
	return tt
}

func sortTimes(ts []time.Time) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}
