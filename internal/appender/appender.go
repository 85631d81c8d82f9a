// Package appender keeps the in-memory messages of an active segment in sync with its file.
//
// Storage is only ever appended to. The single exception is the first commit of an appender
// that never flushed anything: the file is truncated once and written from scratch.
// An Appender is not safe for concurrent use, there must be a single writer per segment.
package appender

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"go.uber.org/zap"

	"irclog/internal/common"
	"irclog/internal/logreader"
	"irclog/internal/record"
)

// nothingFlushed marks an appender whose file has not been truncated yet.
const nothingFlushed = -1

// commitBuffers holds the encoding buffers of commits, most commits are a few records.
var commitBuffers = common.NewBufferPool([]int{4 << 10, 64 << 10, 1 << 20})

// syncFile is replaced in tests to simulate a failing disk.
var syncFile = (*os.File).Sync

type Appender struct {
	path   string
	logger *zap.Logger

	messages []record.Message
	length   int64 // total encoded length of messages
	lines    int   // total text lines of messages

	flushed   int   // index of the last message already in storage
	committed int64 // storage length matching messages[:flushed+1]

	// the file ends without a record delimiter, the next incremental commit writes it first
	unterminated bool
}

// New makes an appender whose first commit replaces whatever the file holds.
func New(path string, logger *zap.Logger) *Appender {
	return &Appender{path: path, logger: logger, flushed: nothingFlushed}
}

// Load reads an existing segment, every loaded message counts as flushed.
// Any malformed record aborts the load: appending after bytes we could not account for
// would break the offsets of everything that follows.
func Load(path string, logger *zap.Logger) (*Appender, error) {
	a := New(path, logger)
	messages, _, err := logreader.ReadAll(path, true)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return a, nil
		}
		return nil, fmt.Errorf("load segment: %w", err)
	}
	for _, m := range messages {
		a.length += int64(m.RecordLength)
		a.lines += m.LineCount
	}
	a.messages = messages
	if len(messages) > 0 {
		a.flushed = len(messages) - 1
		a.committed = a.length
		if a.unterminated, err = endsUnterminated(path); err != nil {
			return nil, err
		}
		if a.unterminated {
			// offsets of new records account for the delimiter the next commit adds
			a.messages[a.flushed].RecordLength++
			a.length++
			logger.Warn("segment misses its final delimiter", zap.String("file", path))
		}
	}
	return a, nil
}

// endsUnterminated reports whether a non-empty file does not end with the record delimiter,
// which happens when the last write was cut short or the file was edited by hand.
func endsUnterminated(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, common.StorageErr("open segment", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return false, common.StorageErr("stat segment", path, err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err = f.ReadAt(last, info.Size()-1); err != nil {
		return false, common.StorageErr("read segment", path, err)
	}
	return last[0] != record.RecordDelimiter, nil
}

func (a *Appender) Path() string { return a.path }

// Len is the number of messages, flushed or not.
func (a *Appender) Len() int { return len(a.messages) }

// Length is the encoded length of all messages, i.e. the file size once everything is committed.
func (a *Appender) Length() int64 { return a.length }

// Lines is the total count of text lines.
func (a *Appender) Lines() int { return a.lines }

// Pending is the number of messages not in storage yet.
func (a *Appender) Pending() int { return len(a.messages) - 1 - a.flushed }

// Messages returns a snapshot of the message list.
func (a *Appender) Messages() []record.Message { return slices.Clone(a.messages) }

// Append adds a message to the in-memory list and returns it with its layout filled in.
// Storage is not touched. On error nothing changes.
func (a *Appender) Append(m record.Message) (record.Message, error) {
	if _, err := record.AppendRecord(nil, &m); err != nil {
		return record.Message{}, err
	}
	m.RecordOffset = a.length
	m.LineIndex = a.lines

	a.messages = append(a.messages, m)
	a.length += int64(m.RecordLength)
	a.lines += m.LineCount
	return m, nil
}

// CommitPending writes every message after the flushed index.
// Calling it again without appending in between does nothing.
func (a *Appender) CommitPending() error {
	last := len(a.messages) - 1
	if a.flushed == last {
		return nil
	}

	pending := a.length
	if a.flushed != nothingFlushed {
		pending -= a.committed
	}
	b := commitBuffers.Get(int(pending))
	defer b.Close()
	if a.unterminated && a.flushed != nothingFlushed {
		b.Buf = append(b.Buf, record.RecordDelimiter)
	}
	for i := a.flushed + 1; i <= last; i++ {
		m := a.messages[i]
		var err error
		if b.Buf, err = record.AppendRecord(b.Buf, &m); err != nil {
			return fmt.Errorf("commit %s: %w", a.path, err)
		}
	}
	buf := b.Buf

	var (
		f   *os.File
		err error
	)
	truncate := a.flushed == nothingFlushed
	if truncate {
		f, err = os.OpenFile(a.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	} else {
		f, err = os.OpenFile(a.path, os.O_WRONLY|os.O_CREATE, 0o644)
	}
	if err != nil {
		return common.StorageErr("open segment", a.path, err)
	}
	defer f.Close()

	base := int64(0)
	if !truncate {
		base = a.committed
		if err = a.checkSize(f); err != nil {
			return err
		}
		if _, err = f.Seek(base, io.SeekStart); err != nil {
			return common.StorageErr("seek segment", a.path, err)
		}
	}

	if _, err = f.Write(buf); err != nil {
		a.rollback(base)
		return common.StorageErr("write segment", a.path, err)
	}
	if err = syncFile(f); err != nil {
		a.rollback(base)
		return common.StorageErr("sync segment", a.path, err)
	}
	if err = f.Close(); err != nil {
		a.rollback(base)
		return common.StorageErr("close segment", a.path, err)
	}

	a.logger.Debug(
		"segment committed",
		zap.String("file", a.path),
		zap.Int("messages", last-a.flushed),
		zap.Bool("rewrite", truncate),
	)
	a.flushed = last
	a.committed = base + int64(len(buf))
	a.unterminated = false
	return nil
}

// rollback puts the file back to the committed prefix so the next commit does not duplicate records.
func (a *Appender) rollback(base int64) {
	if err := os.Truncate(a.path, base); err != nil {
		a.logger.Error("rollback failed commit", zap.String("file", a.path), zap.Error(err))
	}
}

// checkSize refuses to append when the file does not end where the last commit left it.
func (a *Appender) checkSize(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return common.StorageErr("stat segment", a.path, err)
	}
	if info.Size() != a.committed {
		return common.StorageErr(
			"append segment", a.path,
			fmt.Errorf("file is %d bytes, %d were committed", info.Size(), a.committed),
		)
	}
	return nil
}

// RewriteAll overwrites the whole segment from the in-memory list.
// If it fails the appender stays in the unflushed state, so the next commit rewrites everything again.
func (a *Appender) RewriteAll() error {
	a.flushed = nothingFlushed
	a.committed = 0
	a.unterminated = false
	if len(a.messages) == 0 {
		if err := os.Truncate(a.path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
			return common.StorageErr("truncate segment", a.path, err)
		}
		return nil
	}
	return a.CommitPending()
}
