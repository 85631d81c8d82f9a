package record

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// The record format is shared by every reader and writer of segments.
// There is no version field: changing any of these is a breaking change that needs a migration.
const (
	FieldDelimiter  = '\t'
	RecordDelimiter = '\n'
	escapeChar      = '\\'
	TimeFormat      = "2006-01-02T15:04:05-07:00"
	fieldCount      = 6
)

var ErrInvalidMessage = errors.New("message cannot be encoded")

// ParseError describes a record that could not be decoded.
// Offset points at the offending byte in the stream the record was read from.
type ParseError struct {
	Offset int64
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed record at offset %d: %s", e.Offset, e.Reason)
}

// Encode returns the encoded record of m, terminated by RecordDelimiter.
func Encode(m Message) ([]byte, error) {
	return AppendRecord(nil, &m)
}

// AppendRecord appends the encoded record of m to dst.
// It fills m.RecordLength, m.LineCount and m.TextOffset, the layout values the caller needs
// to maintain running offsets without reading the file back.
func AppendRecord(dst []byte, m *Message) ([]byte, error) {
	if err := validate(m); err != nil {
		return dst, err
	}

	start := len(dst)
	dst = m.Time.Truncate(time.Second).AppendFormat(dst, TimeFormat)
	timeLen := len(dst) - start
	dst = append(dst, FieldDelimiter)

	// sender triple is measured once and reused for the text offset
	senderLen := 0
	if m.Sender != nil {
		before := len(dst)
		dst = append(dst, m.Sender.Nick...)
		dst = append(dst, '!')
		dst = append(dst, m.Sender.User...)
		dst = append(dst, '@')
		dst = append(dst, m.Sender.Host...)
		senderLen = len(dst) - before
	}
	dst = append(dst, FieldDelimiter)

	textOffset := timeLen + 1 + senderLen + 1
	dst = appendEscaped(dst, m.Text)
	dst = append(dst, FieldDelimiter)
	dst = strconv.AppendInt(dst, int64(m.Color), 10)
	dst = append(dst, FieldDelimiter)
	dst = append(dst, m.MyNick...)
	dst = append(dst, FieldDelimiter)
	dst = append(dst, m.Type.String()...)
	dst = append(dst, RecordDelimiter)

	m.TextOffset = textOffset
	m.RecordLength = len(dst) - start
	m.LineCount = lineCount(m.Text)
	return dst, nil
}

func validate(m *Message) error {
	if _, ok := typeNames[m.Type]; !ok {
		return fmt.Errorf("%w: unknown type %d", ErrInvalidMessage, m.Type)
	}
	if m.Sender != nil {
		switch {
		case strings.ContainsAny(m.Sender.Nick, "!\t\r\n"):
			return fmt.Errorf("%w: sender nick %q", ErrInvalidMessage, m.Sender.Nick)
		case strings.ContainsAny(m.Sender.User, "@\t\r\n"):
			return fmt.Errorf("%w: sender user %q", ErrInvalidMessage, m.Sender.User)
		case strings.ContainsAny(m.Sender.Host, "\t\r\n"):
			return fmt.Errorf("%w: sender host %q", ErrInvalidMessage, m.Sender.Host)
		}
	}
	if strings.ContainsAny(m.MyNick, "\t\r\n") {
		return fmt.Errorf("%w: own nick %q", ErrInvalidMessage, m.MyNick)
	}
	return nil
}

func lineCount(text string) int { return 1 + strings.Count(text, "\n") }

func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case escapeChar:
			dst = append(dst, escapeChar, escapeChar)
		case FieldDelimiter:
			dst = append(dst, escapeChar, 't')
		case '\n':
			dst = append(dst, escapeChar, 'n')
		case '\r':
			dst = append(dst, escapeChar, 'r')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// unescape reverses appendEscaped. It returns the position of a broken escape sequence on failure.
func unescape(b []byte) (string, int, error) {
	if bytes.IndexByte(b, escapeChar) == -1 {
		return string(b), 0, nil
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != escapeChar {
			sb.WriteByte(c)
			continue
		}
		if i+1 == len(b) {
			return "", i, errors.New("dangling escape")
		}
		i++
		switch b[i] {
		case escapeChar:
			sb.WriteByte(escapeChar)
		case 't':
			sb.WriteByte(FieldDelimiter)
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		default:
			return "", i - 1, fmt.Errorf("unknown escape \\%c", b[i])
		}
	}
	return sb.String(), 0, nil
}

// DecodeRecord decodes one isolated record. The trailing RecordDelimiter is optional.
// ParseError offsets are relative to the start of rec.
// The returned message has RecordOffset and LineIndex unset: those depend on the records before it.
func DecodeRecord(rec []byte) (Message, error) {
	var m Message
	body := rec
	if n := len(body); n > 0 && body[n-1] == RecordDelimiter {
		body = body[:n-1]
	}

	var fields [fieldCount][]byte
	var starts [fieldCount]int
	pos := 0
	for i := 0; i < fieldCount; i++ {
		starts[i] = pos
		if i == fieldCount-1 {
			fields[i] = body[pos:]
			if j := bytes.IndexByte(fields[i], FieldDelimiter); j != -1 {
				return m, &ParseError{Offset: int64(pos + j), Reason: "too many fields"}
			}
			break
		}
		j := bytes.IndexByte(body[pos:], FieldDelimiter)
		if j == -1 {
			return m, &ParseError{
				Offset: int64(len(body)),
				Reason: fmt.Sprintf("expected %d fields, found %d", fieldCount, i+1),
			}
		}
		fields[i] = body[pos : pos+j]
		pos += j + 1
	}

	t, err := time.Parse(TimeFormat, string(fields[0]))
	if err != nil {
		return m, &ParseError{Offset: int64(starts[0]), Reason: fmt.Sprintf("bad timestamp: %s", err)}
	}
	m.Time = t

	if len(fields[1]) > 0 {
		snd := ParseSender(string(fields[1]))
		m.Sender = &snd
	}

	text, at, err := unescape(fields[2])
	if err != nil {
		return m, &ParseError{Offset: int64(starts[2] + at), Reason: err.Error()}
	}
	m.Text = text

	color, err := strconv.Atoi(string(fields[3]))
	if err != nil {
		return m, &ParseError{Offset: int64(starts[3]), Reason: fmt.Sprintf("bad color index: %s", err)}
	}
	m.Color = color
	m.MyNick = string(fields[4])

	typ, ok := ParseType(string(fields[5]))
	if !ok {
		return m, &ParseError{Offset: int64(starts[5]), Reason: fmt.Sprintf("unknown type %q", fields[5])}
	}
	m.Type = typ

	m.RecordLength = len(rec)
	m.TextOffset = starts[2]
	m.LineCount = lineCount(m.Text)
	return m, nil
}

// Decoder reads consecutive records from a stream.
// It only tracks the stream position, so that offsets of records and parse errors are absolute.
type Decoder struct {
	r      *bufio.Reader
	offset int64
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Offset is the stream position of the next record.
func (d *Decoder) Offset() int64 { return d.offset }

// Decode returns the next record, io.EOF at the end of the stream, or a *ParseError.
// After a ParseError the decoder is positioned at the next line, so decoding may continue.
func (d *Decoder) Decode() (Message, error) {
	line, err := d.r.ReadBytes(RecordDelimiter)
	if len(line) == 0 {
		if err == nil {
			err = io.EOF
		}
		return Message{}, err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return Message{}, err
	}

	start := d.offset
	d.offset += int64(len(line))

	m, err := DecodeRecord(line)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Offset += start
		}
		return Message{}, err
	}
	m.RecordOffset = start
	return m, nil
}
