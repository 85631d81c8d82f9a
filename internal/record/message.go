// Package record defines chat messages and their one-line on-disk encoding.
package record

import (
	"fmt"
	"strings"
	"time"
)

// SelfColor is the color index reserved for messages authored by the local user.
const SelfColor = -1

type Type int8

const (
	Chat Type = iota + 1
	System
	Notification
	Error
)

var typeNames = map[Type]string{
	Chat:         "CHAT",
	System:       "SYSTEM",
	Notification: "NOTIFICATION",
	Error:        "ERROR",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int8(t))
}

// ParseType maps an exact tag name back to its Type.
func ParseType(s string) (Type, bool) {
	for t, name := range typeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Sender identifies the author of a chat message.
type Sender struct {
	Nick, User, Host string
}

// String renders the sender as "nick!user@host".
func (s Sender) String() string {
	return s.Nick + "!" + s.User + "@" + s.Host
}

// ParseSender splits "nick!user@host". Missing parts are left empty.
func ParseSender(s string) Sender {
	var snd Sender
	nick, rest, ok := strings.Cut(s, "!")
	snd.Nick = nick
	if !ok {
		return snd
	}
	snd.User, snd.Host, _ = strings.Cut(rest, "@")
	return snd
}

// Message is one entry of a channel history. It never changes once appended.
//
// The layout fields are computed by the codec and the readers:
// they are not stored in the file, but reconstructed while replaying a segment from its start.
type Message struct {
	Time   time.Time
	Sender *Sender // nil for system messages
	Text   string
	Color  int
	MyNick string
	Type   Type

	RecordOffset int64 // offset of the first byte of the record within its segment
	RecordLength int   // encoded length including the record delimiter
	LineIndex    int   // index of the first text line of this message within the segment
	LineCount    int   // 1 + number of newlines in Text
	TextOffset   int   // offset of the text field within the record
}

func NewMessage(t time.Time, sender *Sender, text string, color int, myNick string, typ Type) Message {
	return Message{
		Time:   t.Truncate(time.Second),
		Sender: sender,
		Text:   text,
		Color:  color,
		MyNick: myNick,
		Type:   typ,
	}
}

func (m Message) IsSystem() bool { return m.Type == System }

func (m Message) FromMe() bool { return m.Color == SelfColor }

// Nick returns the sender nick or "" for system messages.
func (m Message) Nick() string {
	if m.Sender == nil {
		return ""
	}
	return m.Sender.Nick
}

// End is the offset right after the record.
func (m Message) End() int64 { return m.RecordOffset + int64(m.RecordLength) }

// Lines splits the text in the lines it occupies in a transcript.
func (m Message) Lines() []string { return strings.Split(m.Text, "\n") }
