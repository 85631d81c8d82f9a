package history

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"irclog/internal/appender"
	"irclog/internal/common"
	"irclog/internal/logreader"
	"irclog/internal/record"
	"irclog/internal/segments"
)

// Channel owns the segment index of one channel and the appender of its active segment.
// It serializes its own calls, so several goroutines may log to the same channel.
type Channel struct {
	name   string
	index  *segments.Index
	logger *zap.Logger

	mu     sync.Mutex
	active segments.Segment
	writer *appender.Appender // nil until the first append
}

// OpenChannel collects the existing segments of the channel stored under accountDir.
func OpenChannel(accountDir, name string, clock func() time.Time, logger *zap.Logger) (*Channel, error) {
	logger = logger.With(zap.String("channel", name))
	ix := segments.NewIndex(segments.ChannelDir(accountDir, name), name, clock, logger)
	if err := ix.Collect(); err != nil {
		return nil, fmt.Errorf("open channel %s: %w", name, err)
	}
	return &Channel{name: name, index: ix, logger: logger}, nil
}

func (c *Channel) Name() string           { return c.name }
func (c *Channel) Kind() segments.Kind    { return segments.KindOf(c.name) }
func (c *Channel) Index() *segments.Index { return c.index }

// Segments is a snapshot of the channel segments, oldest first.
func (c *Channel) Segments() []segments.Segment { return c.index.Segments() }

// Append adds m to the active segment, in memory only until the next Commit.
// When the day changed since the previous append the old segment is committed
// and a new one is started. A message stamped after the day of the active segment is refused.
func (c *Channel) Append(m record.Message) (segments.Segment, record.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.switchSegment(); err != nil {
		return segments.Segment{}, record.Message{}, err
	}
	if err := c.checkDay(m); err != nil {
		return segments.Segment{}, record.Message{}, err
	}
	m, err := c.writer.Append(m)
	if err != nil {
		return segments.Segment{}, record.Message{}, err
	}
	return c.active, m, nil
}

// Replace swaps the newest pending message picked by decide for m, or appends m.
// See appender.Appender.AppendOrReplace.
func (c *Channel) Replace(m record.Message, decide func(record.Message) appender.Verdict) (record.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.switchSegment(); err != nil {
		return record.Message{}, false, err
	}
	if err := c.checkDay(m); err != nil {
		return record.Message{}, false, err
	}
	return c.writer.AppendOrReplace(m, decide)
}

// checkDay keeps messages of a segment before the end of its day, searches bound segments by it.
func (c *Channel) checkDay(m record.Message) error {
	if end := segments.EndOfDay(c.active.Start); !m.Time.Before(end) {
		return common.ConfigurationErr(
			"message at %s is past the day of segment %s",
			m.Time.Format(record.TimeFormat), c.active.Start.Format(record.TimeFormat),
		)
	}
	return nil
}

// switchSegment points the writer to the active segment. Must be called with the lock held.
func (c *Channel) switchSegment() error {
	seg, err := c.index.Active()
	if err != nil {
		return err
	}
	if c.writer != nil && c.active.Start.Equal(seg.Start) {
		return nil
	}

	if c.writer != nil {
		if err := c.writer.CommitPending(); err != nil {
			return fmt.Errorf("commit rotated segment: %w", err)
		}
		c.logger.Debug("segment closed", zap.String("file", c.writer.Path()), zap.Int("messages", c.writer.Len()))
	}

	w, err := appender.Load(seg.Path, c.logger)
	if err != nil {
		return fmt.Errorf("open active segment: %w", err)
	}
	c.active, c.writer = seg, w
	return nil
}

// Commit writes pending messages of the active segment.
func (c *Channel) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writer == nil {
		return nil
	}
	return c.writer.CommitPending()
}

// Pending is the number of appended messages not committed yet.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writer == nil {
		return 0
	}
	return c.writer.Pending()
}

// History returns the messages of a segment. The segment being written includes pending messages.
// Any malformed record fails the load.
func (c *Channel) History(seg segments.Segment) ([]record.Message, error) {
	c.mu.Lock()
	if c.writer != nil && c.active.Start.Equal(seg.Start) {
		defer c.mu.Unlock()
		return c.writer.Messages(), nil
	}
	c.mu.Unlock()

	messages, _, err := logreader.ReadAll(seg.Path, true)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", c.name, err)
	}
	return messages, nil
}
