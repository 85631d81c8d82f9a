package segments

import (
	"slices"
	"time"
)

// Span is a segment with the upper bound of the time its messages can belong to.
type Span struct {
	Segment
	Until time.Time // exclusive
}

// EndOfDay is the first instant of the next day in the segment offset.
func EndOfDay(start time.Time) time.Time {
	y, m, d := start.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, start.Location())
}

// Coverage computes, for each segment of the scope, the latest time its messages can have.
// Appends only go to a segment on its own start date, so a segment never outlives its day,
// nor the start of the following segment of the same channel present in the scope.
// The result keeps the scope order.
func Coverage(scope []Segment) []Span {
	sorted := slices.Clone(scope)
	sortSegments(sorted)

	until := make(map[Segment]time.Time, len(sorted))
	for i, s := range sorted {
		u := EndOfDay(s.Start)
		if i+1 < len(sorted) && sorted[i+1].Channel == s.Channel && sorted[i+1].Start.Before(u) {
			u = sorted[i+1].Start
		}
		until[s] = u
	}

	spans := make([]Span, len(scope))
	for i, s := range scope {
		spans[i] = Span{Segment: s, Until: until[s]}
	}
	return spans
}

// EntirelyBefore reports if no message of the span can be at or after t.
func (s Span) EntirelyBefore(t time.Time) bool {
	return !s.Until.After(t)
}
