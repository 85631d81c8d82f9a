package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"irclog/internal/common"
	"irclog/internal/logreader"
	"irclog/internal/record"
	"irclog/internal/segments"
)

// cancelCheckEvery is how many reported matches may pass between two cancellation checks.
const cancelCheckEvery = 20

// cancelCheckRecords is how many records a streamed segment may decode between two cancellation checks.
const cancelCheckRecords = 256

// Scanner streams the matches of a query out of a scope of segments.
type Scanner struct {
	logger  *zap.Logger
	workers int
	cache   *SegmentCache
}

type Option func(*Scanner)

// WithWorkers decodes and matches up to n segments at once. Results are still emitted in scope order.
func WithWorkers(n int) Option {
	return func(s *Scanner) { s.workers = max(n, 1) }
}

// WithCache serves unchanged segments from memory.
func WithCache(c *SegmentCache) Option {
	return func(s *Scanner) { s.cache = c }
}

func NewScanner(logger *zap.Logger, opts ...Option) *Scanner {
	s := &Scanner{logger: logger, workers: 1}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan runs the matcher over the scope and blocks until it is done.
// Segments are visited in scope order and messages in file order; consumer calls follow the same order
// no matter how many workers are used. A cancelled ctx stops the scan with common.ErrCancelled,
// the first segment that cannot be read stops it with common.ErrStorage.
// Whatever was reported before stopping stays valid.
func (s *Scanner) Scan(ctx context.Context, scope []segments.Segment, mt *Matcher, consumer Consumer, progress ProgressFunc) error {
	var admitted []segments.Span
	for _, span := range segments.Coverage(scope) {
		if mt.AdmitSegment(span) {
			admitted = append(admitted, span)
		}
	}

	st := &scanState{ctx: ctx, consumer: consumer, progress: progress, total: len(admitted)}
	st.reportProgress()

	if s.workers > 1 && len(admitted) > 1 {
		return s.scanParallel(st, admitted, mt)
	}
	return s.scanSequential(st, admitted, mt)
}

func (s *Scanner) scanSequential(st *scanState, spans []segments.Span, mt *Matcher) error {
	for _, span := range spans {
		if err := st.checkpoint(); err != nil {
			return err
		}
		if s.cache == nil {
			if err := s.stream(st, span, mt); err != nil {
				return err
			}
			continue
		}
		messages, err := s.load(span.Path)
		if err != nil {
			return err
		}

		st.consumer.SegmentAdmitted(span.Segment)
		for _, m := range messages {
			hit, ok := match(mt, m)
			if !ok {
				continue
			}
			if err := st.report(span.Segment, hit); err != nil {
				return err
			}
		}
		st.segmentDone(span.Segment)
	}
	return nil
}

// stream matches records as they are decoded, so a large segment is never held in memory
// and a cancelled scan stops inside it.
func (s *Scanner) stream(st *scanState, span segments.Span, mt *Matcher) error {
	r, err := logreader.Open(span.Path)
	if err != nil {
		return err
	}
	defer r.Close()

	st.consumer.SegmentAdmitted(span.Segment)
	decoded := 0
	for m, err := range r.All() {
		if err != nil {
			var pe *record.ParseError
			if !errors.As(err, &pe) {
				return err
			}
			s.logger.Warn("skip malformed record", zap.String("file", span.Path), zap.Int64("offset", pe.Offset), zap.String("reason", pe.Reason))
			continue
		}
		if decoded++; decoded%cancelCheckRecords == 0 {
			if err := st.checkpoint(); err != nil {
				return err
			}
		}
		hit, ok := match(mt, m)
		if !ok {
			continue
		}
		if err := st.report(span.Segment, hit); err != nil {
			return err
		}
	}
	st.segmentDone(span.Segment)
	return nil
}

// scanParallel matches segments in a bounded pool while the calling goroutine emits the results
// strictly in scope order. At most 2*workers segments are in flight or waiting to be emitted.
func (s *Scanner) scanParallel(st *scanState, spans []segments.Span, mt *Matcher) error {
	ctx, cancel := context.WithCancel(st.ctx)
	defer cancel()

	results := make([]chan common.ErrVal[[]Hit], len(spans))
	for i := range results {
		results[i] = make(chan common.ErrVal[[]Hit], 1)
	}

	var g errgroup.Group
	g.SetLimit(s.workers)
	window := make(chan struct{}, 2*s.workers)
	launched := make(chan struct{})

	go func() {
		defer close(launched)
		for i, span := range spans {
			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				for _, r := range results[i:] {
					r <- common.NewErrValE[[]Hit](ctx.Err())
				}
				return
			}
			g.Go(func() error {
				hits, err := s.collect(ctx, span, mt)
				if err != nil {
					results[i] <- common.NewErrValE[[]Hit](err)
					return err
				}
				results[i] <- common.NewErrValV(hits)
				return nil
			})
		}
	}()

	stop := func(err error) error {
		cancel()
		<-launched
		_ = g.Wait()
		return err
	}

	for i, span := range spans {
		if err := st.checkpoint(); err != nil {
			return stop(err)
		}
		hits, err := (<-results[i]).Get()
		if err != nil {
			if st.ctx.Err() != nil {
				return stop(st.checkpoint())
			}
			return stop(err)
		}
		<-window

		st.consumer.SegmentAdmitted(span.Segment)
		for _, hit := range hits {
			if err := st.report(span.Segment, hit); err != nil {
				return stop(err)
			}
		}
		st.segmentDone(span.Segment)
	}

	<-launched
	return g.Wait()
}

// collect gathers the hits of one segment.
func (s *Scanner) collect(ctx context.Context, span segments.Span, mt *Matcher) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	messages, err := s.load(span.Path)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	for _, m := range messages {
		if hit, ok := match(mt, m); ok {
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

func (s *Scanner) load(path string) ([]record.Message, error) {
	if s.cache != nil {
		return s.cache.Load(path)
	}
	return readSegment(path, s.logger)
}

func match(mt *Matcher, m record.Message) (Hit, bool) {
	if !mt.AdmitMessage(m) {
		return Hit{}, false
	}
	found := mt.Find(m.Text)
	if len(found) == 0 {
		return Hit{}, false
	}
	return Hit{Message: m, Matches: found}, true
}

// scanState tracks the emitting side of a scan.
type scanState struct {
	ctx      context.Context
	consumer Consumer
	progress ProgressFunc

	total, scanned int
	reported       int // matches reported since the last cancellation check
}

func (st *scanState) checkpoint() error {
	if err := st.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCancelled, err)
	}
	return nil
}

func (st *scanState) report(seg segments.Segment, hit Hit) error {
	st.consumer.Match(seg, hit)
	st.reported += hit.Count()
	if st.reported >= cancelCheckEvery {
		st.reported = 0
		return st.checkpoint()
	}
	return nil
}

func (st *scanState) segmentDone(seg segments.Segment) {
	st.consumer.SegmentDone(seg)
	st.scanned++
	st.reportProgress()
}

func (st *scanState) reportProgress() {
	if st.progress != nil {
		st.progress(st.scanned, st.total)
	}
}
