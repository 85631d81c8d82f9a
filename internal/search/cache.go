package search

import (
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"irclog/internal/common"
	"irclog/internal/logreader"
	"irclog/internal/record"
)

type cachedSegment struct {
	size     int64
	modTime  time.Time
	messages []record.Message
}

// SegmentCache keeps decoded segments in memory, least recently used are evicted first.
// An entry is only served while the file keeps the size and mtime it had when decoded,
// so a segment still growing is simply decoded again.
type SegmentCache struct {
	entries *lru.Cache[string, cachedSegment]
	logger  *zap.Logger
}

func NewSegmentCache(size int, logger *zap.Logger) (*SegmentCache, error) {
	entries, err := lru.New[string, cachedSegment](size)
	if err != nil {
		return nil, common.ConfigurationErr("segment cache: %s", err)
	}
	return &SegmentCache{entries: entries, logger: logger}, nil
}

// Load returns the valid messages of the segment, from memory when the file did not change.
func (c *SegmentCache) Load(path string) ([]record.Message, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, common.StorageErr("stat segment", path, err)
	}

	if e, ok := c.entries.Get(path); ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
		return e.messages, nil
	}

	messages, err := readSegment(path, c.logger)
	if err != nil {
		return nil, err
	}
	c.entries.Add(path, cachedSegment{size: info.Size(), modTime: info.ModTime(), messages: messages})
	return messages, nil
}

func (c *SegmentCache) Len() int { return c.entries.Len() }

func (c *SegmentCache) Purge() { c.entries.Purge() }

// readSegment decodes every valid record of the file, malformed lines are logged and skipped.
func readSegment(path string, logger *zap.Logger) ([]record.Message, error) {
	messages, skipped, err := logreader.ReadAll(path, false)
	if err != nil {
		return nil, err
	}
	for _, pe := range skipped {
		logger.Warn("skip malformed record", zap.String("file", path), zap.Int64("offset", pe.Offset), zap.String("reason", pe.Reason))
	}
	return messages, nil
}
