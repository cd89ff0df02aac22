package price

import "time"

// Series indexes price points by their slot start for O(1) lookup during
// evaluation. Keys are UTC nanoseconds so that equal instants match
// regardless of location.
type Series map[int64]float64

// NewSeries builds a Series from the fetched points. Later duplicates win.
func NewSeries(points []Point) Series {
	s := make(Series, len(points))
	for _, p := range points {
		s[p.SlotStart.UnixNano()] = p.Price
	}
	return s
}

// Lookup returns the price for the given slot start, if present.
func (s Series) Lookup(slot time.Time) (float64, bool) {
	p, ok := s[slot.UnixNano()]
	return p, ok
}
