// Package segments keeps the time-ordered list of log segments of a channel.
//
// A segment is a file holding one calendar day of a channel history (see rotation in Active).
// The index only looks at file names, segment contents are never read here.
package segments

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"irclog/internal/common"
)

// Segment is one log file of a channel, keyed by its start time (second precision).
type Segment struct {
	Channel string
	Start   time.Time
	Path    string
}

func (s Segment) String() string { return s.Channel + "@" + s.Start.Format(time.RFC3339) }

func compareStart(a, b Segment) int { return a.Start.Compare(b.Start) }

// SameDay reports if t falls on the date of day, using the offset of day.
// This is the single timezone policy of the rotation: a segment owns the calendar day of its own start offset.
func SameDay(day, t time.Time) bool {
	y1, m1, d1 := day.Date()
	y2, m2, d2 := t.In(day.Location()).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Index is the segment index of a single channel.
// Its state is guarded by a mutex, but creating segments and committing to them
// is still expected to come from the single writer of the channel.
type Index struct {
	channel string
	dir     string
	clock   func() time.Time
	logger  *zap.Logger

	mu       sync.RWMutex
	segments []Segment // sorted by Start
}

// NewIndex makes an empty index for the channel whose segments live in dir.
// Call Collect to load existing segments.
func NewIndex(dir, channel string, clock func() time.Time, logger *zap.Logger) *Index {
	if clock == nil {
		clock = time.Now
	}
	return &Index{
		channel: channel,
		dir:     dir,
		clock:   clock,
		logger:  logger.With(zap.String("channel", channel)),
	}
}

func (ix *Index) Channel() string { return ix.channel }
func (ix *Index) Dir() string     { return ix.dir }

// Collect enumerates the segment files of the channel directory and replaces the index content.
// A missing directory is an empty channel.
func (ix *Index) Collect() error {
	ix.mu.Lock()
	found, err := ix.scan()
	if err != nil {
		ix.mu.Unlock()
		return err
	}
	ix.segments = found
	ix.mu.Unlock()
	ix.logger.Debug("segments collected", zap.Int("segments", len(found)))
	return nil
}

// Refresh re-scans the directory: entries whose file disappeared are dropped,
// files that appeared since the last scan are added.
// The directory is listed with the lock held, a segment created meanwhile by Active is never lost.
func (ix *Index) Refresh() error {
	ix.mu.Lock()
	found, err := ix.scan()
	if err != nil {
		ix.mu.Unlock()
		return err
	}
	old := ix.segments
	ix.segments = found
	ix.mu.Unlock()

	removed, added := 0, 0
	for _, s := range old {
		if _, ok := slices.BinarySearchFunc(found, s, compareStart); !ok {
			removed++
		}
	}
	for _, s := range found {
		if _, ok := slices.BinarySearchFunc(old, s, compareStart); !ok {
			added++
		}
	}
	if removed > 0 || added > 0 {
		ix.logger.Debug("segments refreshed", zap.Int("added", added), zap.Int("removed", removed))
	}
	return nil
}

func (ix *Index) scan() ([]Segment, error) {
	entries, err := os.ReadDir(ix.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, common.StorageErr("list segments", ix.dir, err)
	}

	found := make([]Segment, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileSuffix) {
			continue
		}
		start, err := ParseFileName(e.Name())
		if err != nil {
			ix.logger.Warn("skip segment file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		found = append(found, Segment{Channel: ix.channel, Start: start, Path: filepath.Join(ix.dir, e.Name())})
	}
	slices.SortFunc(found, compareStart)
	// two names for the same instant (different offsets) collapse to the first one
	found = slices.CompactFunc(found, func(a, b Segment) bool { return a.Start.Equal(b.Start) })
	return found, nil
}

// Segments returns a snapshot of the index, oldest first.
func (ix *Index) Segments() []Segment {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return slices.Clone(ix.segments)
}

// Last returns the most recent segment.
func (ix *Index) Last() (Segment, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.segments) == 0 {
		return Segment{}, false
	}
	return ix.segments[len(ix.segments)-1], true
}

// Get finds the segment with the exact start key.
func (ix *Index) Get(start time.Time) (Segment, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	i, ok := ix.find(start.Truncate(time.Second))
	if !ok {
		return Segment{}, false
	}
	return ix.segments[i], true
}

func (ix *Index) find(start time.Time) (int, bool) {
	return slices.BinarySearchFunc(ix.segments, Segment{Start: start}, compareStart)
}

// Active returns the segment new messages go to.
// The last segment is reused when it starts on the current date (whatever the gap since its last write),
// otherwise a new segment keyed by the current time is created.
func (ix *Index) Active() (Segment, error) {
	now := ix.clock()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if n := len(ix.segments); n > 0 && SameDay(ix.segments[n-1].Start, now) {
		return ix.segments[n-1], nil
	}
	s, err := ix.create(now)
	if err != nil {
		return Segment{}, err
	}
	ix.logger.Info("segment rotated", zap.String("file", filepath.Base(s.Path)))
	return s, nil
}

// GetOrCreate returns the segment starting exactly at start, creating an empty one if needed.
func (ix *Index) GetOrCreate(start time.Time) (Segment, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.create(start)
}

// create inserts a segment keyed by start, making its empty backing file.
// Existing segments are returned as is. Must be called with the lock held.
func (ix *Index) create(start time.Time) (Segment, error) {
	start = start.Truncate(time.Second)
	i, ok := ix.find(start)
	if ok {
		return ix.segments[i], nil
	}

	s := Segment{Channel: ix.channel, Start: start, Path: filepath.Join(ix.dir, FileName(start))}
	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return Segment{}, common.StorageErr("create channel dir", ix.dir, err)
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Segment{}, common.StorageErr("create segment", s.Path, err)
	}
	if err = f.Close(); err != nil {
		return Segment{}, common.StorageErr("create segment", s.Path, err)
	}

	ix.segments = slices.Insert(ix.segments, i, s)
	return s, nil
}

// IsLast refreshes the index and tells if s is still its most recent segment.
func (ix *Index) IsLast(s Segment) (bool, error) {
	if err := ix.Refresh(); err != nil {
		return false, fmt.Errorf("is last: %w", err)
	}
	last, ok := ix.Last()
	return ok && last.Start.Equal(s.Start), nil
}

// IsActive tells if s is the segment appends go to right now, without creating anything.
func (ix *Index) IsActive(s Segment) bool {
	last, ok := ix.Last()
	return ok && last.Start.Equal(s.Start) && SameDay(s.Start, ix.clock())
}

func sortSegments(s []Segment) {
	slices.SortStableFunc(s, func(a, b Segment) int {
		if c := cmp.Compare(a.Channel, b.Channel); c != 0 {
			return c
		}
		return compareStart(a, b)
	})
}
