package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"irclog/internal/record"
)

const SampleAccount = "libera"
const SampleChannel = "#golang"

// SampleMessages is a short conversation, all messages arrive on 2024-07-29 with +02:00 offset.
func SampleMessages() []record.Message {
	alice := &record.Sender{Nick: "alice", User: "al", Host: "example.org"}
	bob := &record.Sender{Nick: "bob", User: "~bob", Host: "10.0.0.7"}
	return []record.Message{
		record.NewMessage(MakeTimeV("2024-07-29T10:00:00+02:00"), alice, "hello bob", 3, "carol", record.Chat),
		record.NewMessage(MakeTimeV("2024-07-29T10:01:30+02:00"), bob, "bob: hi there", 5, "carol", record.Chat),
		record.NewMessage(MakeTimeV("2024-07-29T10:05:00+02:00"), alice, "unrelated text", 3, "carol", record.Chat),
	}
}

// EncodeMessages encodes messages back to back and returns the stream together with
// the messages carrying their expected layout.
func EncodeMessages(t testing.TB, messages []record.Message) ([]byte, []record.Message) {
	t.Helper()
	var (
		buf    []byte
		err    error
		offset int64
		line   int
	)
	out := make([]record.Message, 0, len(messages))
	for _, m := range messages {
		buf, err = record.AppendRecord(buf, &m)
		if err != nil {
			t.Fatal(err)
		}
		m.RecordOffset = offset
		m.LineIndex = line
		offset += int64(m.RecordLength)
		line += m.LineCount
		out = append(out, m)
	}
	return buf, out
}

// MakeSegmentFile writes messages to a file named name under dir and returns its path.
func MakeSegmentFile(t testing.TB, dir, name string, messages []record.Message) (string, []record.Message) {
	t.Helper()
	content, layouts := EncodeMessages(t, messages)
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	err := PopulateFiles(map[string][]byte{path: content})
	if err != nil {
		t.Fatal(err)
	}
	return path, layouts
}

// PopulateFiles writes the provided content to files specified in the map.
// The map key is the file path and the value is the content to write.
// Returns an error if any file operation fails.
func PopulateFiles(c map[string][]byte) error {
	for p, content := range c {
		err := os.WriteFile(p, content, 0o644)
		if err != nil {
			return err
		}
	}
	return nil
}

// MakeTimeV parses a time string in the record time format and panics on failure.
func MakeTimeV(value string) time.Time {
	t, err := time.Parse(record.TimeFormat, value)
	if err != nil {
		panic(err)
	}
	return t
}

func MakeTimeP(value string) *time.Time {
	t := MakeTimeV(value)
	return &t
}

// FixedClock returns a clock that always reports the given time.
func FixedClock(value string) func() time.Time {
	t := MakeTimeV(value)
	return func() time.Time { return t }
}
