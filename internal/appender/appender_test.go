package appender

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"irclog/internal/common"
	"irclog/internal/logreader"
	"irclog/internal/record"
)

func newSegment(t *testing.T) string {
	return filepath.Join(t.TempDir(), "20240729T100000+0200.irc.log")
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func modTime(t *testing.T, path string) time.Time {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.ModTime()
}

func TestAppendDoesNotTouchStorage(t *testing.T) {
	path := newSegment(t)
	a := New(path, zap.NewNop())
	for _, m := range common.SampleMessages() {
		_, err := a.Append(m)
		require.NoError(t, err)
	}
	require.NoFileExists(t, path)
	require.Equal(t, 3, a.Pending())
}

func TestOffsetsConsistency(t *testing.T) {
	path := newSegment(t)
	a := New(path, zap.NewNop())

	msgs := append(
		common.SampleMessages(),
		record.NewMessage(common.MakeTimeV("2024-07-29T10:06:00+02:00"), nil, "line one\nline two", 0, "carol", record.System),
		record.NewMessage(common.MakeTimeV("2024-07-29T10:07:00+02:00"), &record.Sender{Nick: "carol"}, "tab\tand \\", record.SelfColor, "carol", record.Chat),
	)
	var (
		total int64
		lines int
	)
	for _, m := range msgs {
		got, err := a.Append(m)
		require.NoError(t, err)
		require.Equal(t, total, got.RecordOffset)
		require.Equal(t, lines, got.LineIndex)
		total += int64(got.RecordLength)
		lines += got.LineCount
	}
	require.Equal(t, total, a.Length())
	require.Equal(t, lines, a.Lines())
	require.Equal(t, 3+2+1, lines)

	require.NoError(t, a.CommitPending())
	require.Equal(t, total, fileSize(t, path))

	// what the reader reconstructs from the file is what the appender computed
	stored, _, err := logreader.ReadAll(path, true)
	require.NoError(t, err)
	inMemory := a.Messages()
	require.Len(t, stored, len(inMemory))
	for i := range stored {
		require.Equal(t, inMemory[i].RecordOffset, stored[i].RecordOffset)
		require.Equal(t, inMemory[i].RecordLength, stored[i].RecordLength)
		require.Equal(t, inMemory[i].LineIndex, stored[i].LineIndex)
		require.Equal(t, inMemory[i].TextOffset, stored[i].TextOffset)
		require.Equal(t, inMemory[i].Text, stored[i].Text)
	}
}

func TestCommitIsIncrementalAndIdempotent(t *testing.T) {
	path := newSegment(t)
	a := New(path, zap.NewNop())
	msgs := common.SampleMessages()

	_, err := a.Append(msgs[0])
	require.NoError(t, err)
	require.NoError(t, a.CommitPending())
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	// second commit without appends performs no write
	mt := modTime(t, path)
	require.NoError(t, os.Chmod(path, 0o444))
	require.NoError(t, a.CommitPending())
	require.Equal(t, mt, modTime(t, path))
	require.NoError(t, os.Chmod(path, 0o644))

	_, err = a.Append(msgs[1])
	require.NoError(t, err)
	_, err = a.Append(msgs[2])
	require.NoError(t, err)
	require.NoError(t, a.CommitPending())

	all, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(all), string(first)), "committed bytes are a prefix")
	require.Equal(t, a.Length(), int64(len(all)))
	require.Equal(t, 0, a.Pending())
}

func TestFirstCommitTruncates(t *testing.T) {
	path := newSegment(t)
	require.NoError(t, os.WriteFile(path, []byte("stale content that must go away\n"), 0o644))

	a := New(path, zap.NewNop())
	_, err := a.Append(common.SampleMessages()[0])
	require.NoError(t, err)
	require.NoError(t, a.CommitPending())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(b), "stale")
	require.Equal(t, a.Length(), int64(len(b)))
}

func TestLoadContinuesExistingSegment(t *testing.T) {
	dir := t.TempDir()
	msgs := common.SampleMessages()
	path, layouts := common.MakeSegmentFile(t, dir, "20240729T100000+0200.irc.log", msgs[:2])
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	a, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 2, a.Len())
	require.Equal(t, 0, a.Pending())
	require.Equal(t, layouts[1].End(), a.Length())

	third, err := a.Append(msgs[2])
	require.NoError(t, err)
	require.Equal(t, layouts[1].End(), third.RecordOffset)
	require.Equal(t, 2, third.LineIndex)
	require.NoError(t, a.CommitPending())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(after), string(before)))
	require.Equal(t, a.Length(), int64(len(after)))
}

func TestLoadRepairsMissingFinalDelimiter(t *testing.T) {
	path := newSegment(t)
	msgs := common.SampleMessages()
	first, err := record.AppendRecord(nil, &msgs[0])
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, first[:len(first)-1], 0o644))

	a, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, int64(len(first)), a.Length())

	second, err := a.Append(msgs[1])
	require.NoError(t, err)
	require.Equal(t, int64(len(first)), second.RecordOffset)
	require.NoError(t, a.CommitPending())
	require.Equal(t, a.Length(), fileSize(t, path))

	stored, _, err := logreader.ReadAll(path, true)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, msgs[0].Text, stored[0].Text)
	require.Equal(t, second.RecordOffset, stored[1].RecordOffset)

	// a second commit appends normally
	_, err = a.Append(msgs[2])
	require.NoError(t, err)
	require.NoError(t, a.CommitPending())
	stored, _, err = logreader.ReadAll(path, true)
	require.NoError(t, err)
	require.Len(t, stored, 3)
}

func TestFailedSyncRollsBack(t *testing.T) {
	path := newSegment(t)
	a := New(path, zap.NewNop())
	msgs := common.SampleMessages()
	_, _ = a.Append(msgs[0])
	require.NoError(t, a.CommitPending())
	committed := fileSize(t, path)

	syncFile = func(*os.File) error { return errors.New("disk gone") }
	t.Cleanup(func() { syncFile = (*os.File).Sync })

	_, _ = a.Append(msgs[1])
	err := a.CommitPending()
	require.ErrorIs(t, err, common.ErrStorage)
	require.Equal(t, committed, fileSize(t, path))
	require.Equal(t, 1, a.Pending())

	// once the disk is back the pending message goes through
	syncFile = (*os.File).Sync
	require.NoError(t, a.CommitPending())
	stored, _, err := logreader.ReadAll(path, true)
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestLoadMissingAndCorruptSegments(t *testing.T) {
	a, err := Load(filepath.Join(t.TempDir(), "missing.irc.log"), zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 0, a.Len())

	path := newSegment(t)
	require.NoError(t, os.WriteFile(path, []byte("corrupted\n"), 0o644))
	_, err = Load(path, zap.NewNop())
	var pe *record.ParseError
	require.ErrorAs(t, err, &pe)
}

func TestExternalModificationIsAStorageError(t *testing.T) {
	path := newSegment(t)
	a := New(path, zap.NewNop())
	msgs := common.SampleMessages()
	_, _ = a.Append(msgs[0])
	require.NoError(t, a.CommitPending())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, _ = f.WriteString("someone else wrote here\n")
	require.NoError(t, f.Close())

	_, _ = a.Append(msgs[1])
	err = a.CommitPending()
	require.ErrorIs(t, err, common.ErrStorage)
	require.Equal(t, 1, a.Pending(), "state unchanged on failure")

	// a full rewrite recovers
	require.NoError(t, a.RewriteAll())
	stored, _, err := logreader.ReadAll(path, true)
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestRewriteAll(t *testing.T) {
	path := newSegment(t)
	a := New(path, zap.NewNop())
	for _, m := range common.SampleMessages() {
		_, _ = a.Append(m)
	}
	require.NoError(t, a.CommitPending())
	want, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	require.NoError(t, a.RewriteAll())
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, 0, a.Pending())

	empty := New(path, zap.NewNop())
	require.NoError(t, empty.RewriteAll())
	require.Equal(t, int64(0), fileSize(t, path))
}

func TestAppendRejectsInvalidMessages(t *testing.T) {
	a := New(newSegment(t), zap.NewNop())
	_, err := a.Append(record.Message{Time: time.Now(), Type: record.Chat, MyNick: "bad\tnick"})
	require.ErrorIs(t, err, record.ErrInvalidMessage)
	require.Equal(t, 0, a.Len())
	require.Equal(t, int64(0), a.Length())
}
