package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"irclog/internal/appender"
	"irclog/internal/common"
	"irclog/internal/logreader"
	"irclog/internal/record"
	"irclog/internal/segments"
)

type testClock struct{ now time.Time }

func (c *testClock) set(value string) { c.now = common.MakeTimeV(value) }
func (c *testClock) get() time.Time   { return c.now }

func say(ts, nick, text string) record.Message {
	return record.NewMessage(common.MakeTimeV(ts), &record.Sender{Nick: nick}, text, 1, "carol", record.Chat)
}

func TestChannelRotation(t *testing.T) {
	clock := &testClock{}
	clock.set("2024-07-29T10:00:00+02:00")
	acc := NewAccount(t.TempDir(), common.SampleAccount, clock.get, zap.NewNop())
	ch, err := acc.Channel(common.SampleChannel)
	require.NoError(t, err)
	require.Equal(t, segments.Group, ch.Kind())

	msgs := common.SampleMessages()
	seg1, _, err := ch.Append(msgs[0])
	require.NoError(t, err)
	clock.set("2024-07-29T23:59:59+02:00")
	same, _, err := ch.Append(msgs[1])
	require.NoError(t, err)
	require.Equal(t, seg1, same)
	require.Equal(t, 2, ch.Pending())

	// the day ends in the offset of the segment
	clock.set("2024-07-29T22:00:00Z")
	seg2, stored, err := ch.Append(say("2024-07-29T22:00:00Z", "bob", "past midnight"))
	require.NoError(t, err)
	require.NotEqual(t, seg1.Path, seg2.Path)
	require.Equal(t, int64(0), stored.RecordOffset, "a new segment starts empty")

	// the previous segment got committed on rotation and holds only its own day
	old, _, err := logreader.ReadAll(seg1.Path, true)
	require.NoError(t, err)
	require.Len(t, old, 2)
	require.Equal(t, 1, ch.Pending())

	require.NoError(t, ch.Commit())
	require.Equal(t, 0, ch.Pending())
	current, err := ch.History(seg2)
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, "past midnight", current[0].Text)

	require.Equal(t, []segments.Segment{seg1, seg2}, ch.Segments())
	history, err := ch.History(seg1)
	require.NoError(t, err)
	require.Equal(t, msgs[1].Text, history[1].Text)
}

func TestChannelHistoryIncludesPendingMessages(t *testing.T) {
	clock := &testClock{}
	clock.set("2024-07-29T10:00:00+02:00")
	acc := NewAccount(t.TempDir(), common.SampleAccount, clock.get, zap.NewNop())
	ch, err := acc.Channel(common.SampleChannel)
	require.NoError(t, err)

	seg, _, err := ch.Append(common.SampleMessages()[0])
	require.NoError(t, err)
	messages, err := ch.History(seg)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	onDisk, _, err := logreader.ReadAll(seg.Path, true)
	require.NoError(t, err)
	require.Empty(t, onDisk)
}

func TestChannelContinuesActiveSegment(t *testing.T) {
	root := t.TempDir()
	clock := &testClock{}
	clock.set("2024-07-29T10:00:00+02:00")
	msgs := common.SampleMessages()

	first := NewAccount(root, common.SampleAccount, clock.get, zap.NewNop())
	ch, err := first.Channel(common.SampleChannel)
	require.NoError(t, err)
	for _, m := range msgs[:2] {
		_, _, err = ch.Append(m)
		require.NoError(t, err)
	}
	require.NoError(t, first.Commit())

	// a new process picks up the segment of the day
	clock.set("2024-07-29T18:00:00+02:00")
	second := NewAccount(root, common.SampleAccount, clock.get, zap.NewNop())
	ch, err = second.Channel(common.SampleChannel)
	require.NoError(t, err)
	require.Len(t, ch.Segments(), 1)

	seg, stored, err := ch.Append(msgs[2])
	require.NoError(t, err)
	info, err := os.Stat(seg.Path)
	require.NoError(t, err)
	require.Equal(t, info.Size(), stored.RecordOffset)
	require.Equal(t, 2, stored.LineIndex)
	require.NoError(t, second.Commit())

	all, _, err := logreader.ReadAll(seg.Path, true)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestChannelRefusesMessagesPastTheSegmentDay(t *testing.T) {
	clock := &testClock{}
	clock.set("2024-07-29T10:00:00+02:00")
	acc := NewAccount(t.TempDir(), common.SampleAccount, clock.get, zap.NewNop())
	ch, err := acc.Channel(common.SampleChannel)
	require.NoError(t, err)

	_, _, err = ch.Append(say("2024-07-31T09:00:00+02:00", "bob", "future hi"))
	require.ErrorIs(t, err, common.ErrConfiguration)
	_, _, err = ch.Append(say("2024-07-30T00:00:00+02:00", "bob", "midnight hi"))
	require.ErrorIs(t, err, common.ErrConfiguration)
	_, _, err = ch.Replace(say("2024-07-30T09:00:00+02:00", "bob", "future hi"), func(record.Message) appender.Verdict {
		return appender.Continue
	})
	require.ErrorIs(t, err, common.ErrConfiguration)
	require.Equal(t, 0, ch.Pending())

	// late and earlier messages of the same day are fine
	seg, _, err := ch.Append(say("2024-07-29T23:59:59+02:00", "bob", "late hi"))
	require.NoError(t, err)
	_, _, err = ch.Append(say("2024-07-28T12:00:00+02:00", "bob", "old hi"))
	require.NoError(t, err)
	require.NoError(t, ch.Commit())

	// every stored message stays within the span searches prune by
	scope, err := acc.Scope()
	require.NoError(t, err)
	spans := segments.Coverage(scope)
	require.Len(t, spans, 1)
	require.Equal(t, seg, spans[0].Segment)
	stored, err := ch.History(seg)
	require.NoError(t, err)
	for _, m := range stored {
		require.True(t, m.Time.Before(spans[0].Until), m.Text)
	}
}

func TestChannelReplace(t *testing.T) {
	clock := &testClock{}
	clock.set("2024-07-29T10:00:00+02:00")
	acc := NewAccount(t.TempDir(), common.SampleAccount, clock.get, zap.NewNop())
	ch, err := acc.Channel("bob")
	require.NoError(t, err)
	require.Equal(t, segments.P2P, ch.Kind())

	msgs := common.SampleMessages()
	for _, m := range msgs {
		_, _, err = ch.Append(m)
		require.NoError(t, err)
	}
	edited := msgs[1]
	edited.Text = "bob: hi there!"
	_, replaced, err := ch.Replace(edited, func(m record.Message) appender.Verdict {
		if m.Nick() == "bob" {
			return appender.Match
		}
		return appender.Continue
	})
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, 3, ch.Pending())
}

func TestAccountChannelsAndScope(t *testing.T) {
	clock := &testClock{}
	clock.set("2024-07-29T10:00:00+02:00")
	root := t.TempDir()
	acc := NewAccount(root, common.SampleAccount, clock.get, zap.NewNop())
	require.Equal(t, filepath.Join(root, "libera-channels"), acc.Dir())

	names, err := acc.Channels()
	require.NoError(t, err)
	require.Empty(t, names)

	for _, name := range []string{"#golang", "alice"} {
		ch, err := acc.Channel(name)
		require.NoError(t, err)
		_, _, err = ch.Append(common.SampleMessages()[0])
		require.NoError(t, err)
	}
	_, err = acc.Channel("#rust") // opened, nothing logged yet
	require.NoError(t, err)
	require.NoError(t, acc.Commit())

	names, err = acc.Channels()
	require.NoError(t, err)
	require.Equal(t, []string{"#golang", "#rust", "alice"}, names)

	// a fresh account only sees what is on disk
	fresh := NewAccount(root, common.SampleAccount, clock.get, zap.NewNop())
	names, err = fresh.Channels()
	require.NoError(t, err)
	require.Equal(t, []string{"#golang", "alice"}, names)

	scope, err := fresh.Scope()
	require.NoError(t, err)
	require.Len(t, scope, 2)
	require.Equal(t, "#golang", scope[0].Channel)
	require.Equal(t, "alice", scope[1].Channel)

	scope, err = fresh.Scope("alice")
	require.NoError(t, err)
	require.Len(t, scope, 1)

	for _, bad := range []string{"", ".", "..", "../escape", "a/b"} {
		_, err = acc.Channel(bad)
		require.ErrorIs(t, err, common.ErrConfiguration, bad)
	}
}

func TestAccountWatch(t *testing.T) {
	root := t.TempDir()
	acc := NewAccount(root, common.SampleAccount, nil, zap.NewNop())
	ch, err := acc.Channel(common.SampleChannel)
	require.NoError(t, err)

	w, err := segments.NewWatcher(10*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, acc.Watch(w))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// another process rotates the channel
	start := common.MakeTimeV("2024-07-29T10:00:00+02:00")
	name := filepath.Join(segments.ChannelDir(acc.Dir(), common.SampleChannel), segments.FileName(start))
	require.NoError(t, os.WriteFile(name, nil, 0o644))

	require.Eventually(t, func() bool { return len(ch.Segments()) == 1 }, 2*time.Second, 10*time.Millisecond)
}
