package search

import (
	"sync"

	"irclog/internal/common"
	"irclog/internal/record"
	"irclog/internal/segments"
)

// Hit groups every match found in one message.
type Hit struct {
	Message record.Message
	Matches []common.Location // offsets within Message.Text
}

// Count is the number of matches on the message.
func (h Hit) Count() int { return len(h.Matches) }

// Consumer receives the results of a scan, segment after segment, in file order.
// For a segment it gets SegmentAdmitted, zero or more Match calls, then SegmentDone.
// A cancelled or failed scan does not call SegmentDone for the segment it stopped in.
// Calls come from the scanning goroutine.
type Consumer interface {
	SegmentAdmitted(seg segments.Segment)
	Match(seg segments.Segment, hit Hit)
	SegmentDone(seg segments.Segment)
}

// ProgressFunc is told how many admitted segments were scanned so far.
type ProgressFunc func(scanned, total int)

// SegmentResult is what a Collector gathered for one segment.
type SegmentResult struct {
	Segment segments.Segment
	Hits    []Hit
	Done    bool
}

// Collector is a Consumer that keeps every result in memory. It is safe to read while a scan runs.
type Collector struct {
	mu      sync.Mutex
	results []SegmentResult
}

func (c *Collector) SegmentAdmitted(seg segments.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, SegmentResult{Segment: seg})
}

func (c *Collector) Match(seg segments.Segment, hit Hit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := &c.results[len(c.results)-1]
	last.Hits = append(last.Hits, hit)
}

func (c *Collector) SegmentDone(seg segments.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[len(c.results)-1].Done = true
}

// Results returns a copy of the gathered results.
func (c *Collector) Results() []SegmentResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SegmentResult, len(c.results))
	for i, r := range c.results {
		r.Hits = append([]Hit(nil), r.Hits...)
		out[i] = r
	}
	return out
}

// Hits flattens the results of all segments.
func (c *Collector) Hits() []Hit {
	var hits []Hit
	for _, r := range c.Results() {
		hits = append(hits, r.Hits...)
	}
	return hits
}

// Files lists the segments that had at least one hit.
func (c *Collector) Files() []segments.Segment {
	var files []segments.Segment
	for _, r := range c.Results() {
		if len(r.Hits) > 0 {
			files = append(files, r.Segment)
		}
	}
	return files
}
