package record

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var zone = time.FixedZone("", 3*3600)

func sampleTime() time.Time { return time.Date(2024, 7, 29, 10, 15, 42, 0, zone) }

// requireSameMessage compares messages field by field, times are compared as instants with the same offset.
func requireSameMessage(t *testing.T, want, got Message) {
	t.Helper()
	require.True(t, want.Time.Equal(got.Time), "time %s != %s", want.Time, got.Time)
	_, wantOff := want.Time.Zone()
	_, gotOff := got.Time.Zone()
	require.Equal(t, wantOff, gotOff)
	want.Time, got.Time = time.Time{}, time.Time{}
	require.Equal(t, want, got)
}

func TestRoundTrip(t *testing.T) {
	tests := []Message{
		NewMessage(sampleTime(), &Sender{"alice", "al", "example.org"}, "hello bob", 3, "bob", Chat),
		NewMessage(sampleTime(), nil, "alice has joined", 0, "bob", System),
		NewMessage(sampleTime(), &Sender{"bob", "~b", "10.0.0.1"}, "two\nlines\nand three", SelfColor, "bob", Chat),
		NewMessage(sampleTime(), &Sender{"eve", "e", "h"}, "tab\there \\t not a tab\\", 7, "bob", Notification),
		NewMessage(sampleTime(), nil, "", 0, "", Error),
		NewMessage(sampleTime(), &Sender{"carol", "", ""}, "crlf\r\n and | pipes", 12, "bob", Chat),
		NewMessage(sampleTime(), &Sender{}, "empty sender parts", 1, "bob", Chat),
	}

	for i, m := range tests {
		t.Run(
			fmt.Sprintf("test %d", i), func(t *testing.T) {
				b, err := Encode(m)
				require.NoError(t, err)
				require.Equal(t, 1, strings.Count(string(b), "\n"), "one record per line")
				require.Equal(t, byte(RecordDelimiter), b[len(b)-1])

				got, err := DecodeRecord(b)
				require.NoError(t, err)

				want := m
				want.RecordLength = len(b)
				want.LineCount = strings.Count(m.Text, "\n") + 1
				want.TextOffset = got.TextOffset
				requireSameMessage(t, want, got)

				// the text field starts exactly where the codec says
				require.True(t, strings.HasPrefix(string(b[got.TextOffset:]), strings.Split(string(b), "\t")[2]))
			},
		)
	}
}

func TestEncodeFillsLayout(t *testing.T) {
	m := NewMessage(sampleTime(), &Sender{"alice", "al", "host"}, "a\nb", 2, "bob", Chat)
	b, err := AppendRecord([]byte("prefix"), &m)
	require.NoError(t, err)

	rec := b[len("prefix"):]
	require.Equal(t, len(rec), m.RecordLength)
	require.Equal(t, 2, m.LineCount)
	require.Equal(t, len("2024-07-29T10:15:42+03:00\talice!al@host\t"), m.TextOffset)
	require.Equal(t, "2024-07-29T10:15:42+03:00\talice!al@host\ta\\nb\t2\tbob\tCHAT\n", string(rec))
}

func TestEncodeTruncatesSubSeconds(t *testing.T) {
	m := Message{Time: sampleTime().Add(987 * time.Millisecond), Text: "x", Type: System}
	b, err := Encode(m)
	require.NoError(t, err)
	got, err := DecodeRecord(b)
	require.NoError(t, err)
	require.True(t, got.Time.Equal(sampleTime()))
}

func TestEncodeRejectsUnrepresentableMessages(t *testing.T) {
	tests := []Message{
		{Time: sampleTime(), Type: 0},
		{Time: sampleTime(), Type: Chat, Sender: &Sender{Nick: "a!b"}},
		{Time: sampleTime(), Type: Chat, Sender: &Sender{Nick: "a", User: "u@x"}},
		{Time: sampleTime(), Type: Chat, Sender: &Sender{Nick: "a\tb"}},
		{Time: sampleTime(), Type: Chat, Sender: &Sender{Nick: "a", Host: "h\n"}},
		{Time: sampleTime(), Type: Chat, MyNick: "me\t"},
	}
	for i, m := range tests {
		t.Run(
			fmt.Sprintf("test %d", i), func(t *testing.T) {
				_, err := Encode(m)
				require.ErrorIs(t, err, ErrInvalidMessage)
			},
		)
	}
}

func TestDecodeRecordErrors(t *testing.T) {
	tests := []struct {
		line   string
		offset int64
	}{
		{"garbage\n", 7},
		{"2024-07-29T10:15:42+03:00\ta!b@c\ttext\t1\tme\n", 41},
		{"2024-07-29T10:15:42+03:00\ta!b@c\ttext\t1\tme\tCHAT\textra\n", 46},
		{"yesterday\ta!b@c\ttext\t1\tme\tCHAT\n", 0},
		{"2024-07-29T10:15:42+03:00\ta!b@c\ttext\tred\tme\tCHAT\n", 37},
		{"2024-07-29T10:15:42+03:00\ta!b@c\ttext\t1\tme\tchat\n", 42},
		{"2024-07-29T10:15:42+03:00\ta!b@c\tbad\\x\t1\tme\tCHAT\n", 35},
		{"2024-07-29T10:15:42+03:00\ta!b@c\tbad\\\t1\tme\tCHAT\n", 35},
	}
	for i, tt := range tests {
		t.Run(
			fmt.Sprintf("test %d", i), func(t *testing.T) {
				_, err := DecodeRecord([]byte(tt.line))
				var pe *ParseError
				require.ErrorAs(t, err, &pe)
				require.Equal(t, tt.offset, pe.Offset)
			},
		)
	}
}

func TestDecoderStream(t *testing.T) {
	var stream []byte
	var msgs []Message
	for i, text := range []string{"first", "second\nline", "third"} {
		m := NewMessage(sampleTime().Add(time.Duration(i)*time.Minute), &Sender{"n", "u", "h"}, text, i, "me", Chat)
		var err error
		stream, err = AppendRecord(stream, &m)
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	badLine := "not a record\n"
	stream = append(stream, badLine...)
	last := NewMessage(sampleTime(), nil, "after garbage", 0, "me", System)
	stream, _ = AppendRecord(stream, &last)

	d := NewDecoder(strings.NewReader(string(stream)))
	var offset int64
	for _, want := range msgs {
		got, err := d.Decode()
		require.NoError(t, err)
		require.Equal(t, offset, got.RecordOffset)
		require.Equal(t, want.Text, got.Text)
		offset += int64(got.RecordLength)
	}

	_, err := d.Decode()
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, offset+int64(len("not a record")), pe.Offset)
	offset += int64(len(badLine))

	got, err := d.Decode()
	require.NoError(t, err)
	require.Equal(t, offset, got.RecordOffset)
	require.Equal(t, "after garbage", got.Text)
	require.Nil(t, got.Sender)

	_, err = d.Decode()
	require.True(t, errors.Is(err, io.EOF))
	require.Equal(t, int64(len(stream)), d.Offset())
}

func TestDecoderLastLineWithoutDelimiter(t *testing.T) {
	line := "2024-07-29T10:15:42+03:00\t\tsystem note\t0\tme\tSYSTEM"
	d := NewDecoder(strings.NewReader(line))
	m, err := d.Decode()
	require.NoError(t, err)
	require.Equal(t, len(line), m.RecordLength)
	require.Equal(t, "system note", m.Text)

	_, err = d.Decode()
	require.ErrorIs(t, err, io.EOF)
}

func TestParseSender(t *testing.T) {
	require.Equal(t, Sender{"nick", "user", "host"}, ParseSender("nick!user@host"))
	require.Equal(t, Sender{Nick: "nick"}, ParseSender("nick"))
	require.Equal(t, Sender{"nick", "user", "h@st"}, ParseSender("nick!user@h@st"))
	require.Equal(t, "nick!user@host", Sender{"nick", "user", "host"}.String())
}
