package appender

import (
	"fmt"
	"slices"

	"irclog/internal/record"
)

// Verdict drives a backward search over a message history.
type Verdict int8

const (
	Continue Verdict = iota // look further back
	Match                   // this message is the one
	Stop                    // give up, nothing older can match
)

// FindLast walks messages from the newest to the oldest and returns the index of the first one
// the decide function matches, or -1. It does not modify messages.
func FindLast(messages []record.Message, decide func(record.Message) Verdict) int {
	for i, m := range slices.Backward(messages) {
		switch decide(m) {
		case Match:
			return i
		case Stop:
			return -1
		}
	}
	return -1
}

// AppendOrReplace replaces the newest message matched by decide, or appends m when nothing matches.
// Only pending messages can be replaced: the search stops at the flushed boundary,
// committed records are never rewritten in place.
// It returns the stored message and whether it replaced an existing one.
func (a *Appender) AppendOrReplace(m record.Message, decide func(record.Message) Verdict) (record.Message, bool, error) {
	pending := a.messages[a.flushed+1:]
	i := FindLast(pending, decide)
	if i == -1 {
		m, err := a.Append(m)
		return m, false, err
	}
	i += a.flushed + 1

	// re-layout the tail: the replaced record may have a different length
	tail := slices.Clone(a.messages[i:])
	tail[0] = m
	offset, line := a.messages[i].RecordOffset, a.messages[i].LineIndex
	for j := range tail {
		if _, err := record.AppendRecord(nil, &tail[j]); err != nil {
			return record.Message{}, false, fmt.Errorf("replace message: %w", err)
		}
		tail[j].RecordOffset = offset
		tail[j].LineIndex = line
		offset += int64(tail[j].RecordLength)
		line += tail[j].LineCount
	}

	a.messages = append(a.messages[:i], tail...)
	a.length = offset
	a.lines = line
	return tail[0], true, nil
}
