package search

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"irclog/internal/common"
	"irclog/internal/segments"
)

// Handle controls a search running in the background.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel asks the scan to stop. It returns immediately, use Wait to know when the scan is over.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the scan is over.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the scan is over and returns its outcome.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Search validates the query and starts scanning the scope in a new goroutine.
// A query that does not compile is rejected before anything is scanned.
func (s *Scanner) Search(
	ctx context.Context,
	scope []segments.Segment,
	q Query,
	consumer Consumer,
	progress ProgressFunc,
) (*Handle, error) {
	mt, err := q.Compile()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()

		t := time.Now()
		h.err = s.Scan(ctx, scope, mt, consumer, progress)
		switch {
		case h.err == nil:
			s.logger.Debug("search done", zap.String("pattern", q.Pattern), zap.Int("segments", len(scope)), zap.Duration("took", time.Since(t)))
		case errors.Is(h.err, common.ErrCancelled):
			s.logger.Debug("search cancelled", zap.String("pattern", q.Pattern))
		default:
			s.logger.Error("search failed", zap.String("pattern", q.Pattern), zap.Error(h.err))
		}
	}()

	return h, nil
}

// Search runs a sequential uncached search.
func Search(
	ctx context.Context,
	scope []segments.Segment,
	q Query,
	consumer Consumer,
	progress ProgressFunc,
) (*Handle, error) {
	return NewScanner(zap.NewNop()).Search(ctx, scope, q, consumer, progress)
}
