package ui

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"irclog/internal/common"
	"irclog/internal/record"
)

// MessageInput is a message as typed by a user, on the command line or in an API request.
type MessageInput struct {
	// "nick!user@host" or just "nick", empty for system messages
	Sender string `json:"sender"`
	Text   string `json:"text"`
	Type   string `json:"type"`
	Color  int    `json:"color"`
	MyNick string `json:"my_nick"`
	// any format dateparse understands, empty means now
	Time string `json:"time"`
}

func (in MessageInput) Message(now time.Time) (record.Message, error) {
	typ := record.Chat
	if in.Type != "" {
		var ok bool
		if typ, ok = record.ParseType(strings.ToUpper(in.Type)); !ok {
			return record.Message{}, common.ConfigurationErr("unknown message type %q", in.Type)
		}
	}

	at := now
	if in.Time != "" {
		var err error
		if at, err = parseTime(in.Time); err != nil {
			return record.Message{}, err
		}
	}

	var sender *record.Sender
	if in.Sender != "" {
		s := record.ParseSender(in.Sender)
		sender = &s
	}
	return record.NewMessage(at, sender, in.Text, in.Color, in.MyNick, typ), nil
}

func parseTime(value string) (time.Time, error) {
	t, err := dateparse.ParseAny(value)
	if err != nil {
		return time.Time{}, common.ConfigurationErr("time %q: %s", value, err)
	}
	return t, nil
}

// messageView is the JSON shape of a stored message.
type messageView struct {
	Time   time.Time `json:"time"`
	Sender string    `json:"sender,omitempty"`
	Nick   string    `json:"nick,omitempty"`
	Text   string    `json:"text"`
	Type   string    `json:"type"`
	Color  int       `json:"color"`
	Offset int64     `json:"offset"`
	Length int       `json:"length"`
	Line   int       `json:"line"`
}

func newMessageView(m record.Message) messageView {
	v := messageView{
		Time:   m.Time,
		Nick:   m.Nick(),
		Text:   m.Text,
		Type:   m.Type.String(),
		Color:  m.Color,
		Offset: m.RecordOffset,
		Length: m.RecordLength,
		Line:   m.LineIndex,
	}
	if m.Sender != nil {
		v.Sender = m.Sender.String()
	}
	return v
}
