// Package logreader streams messages out of a single segment.
//
// Offsets and line indexes are not stored in segments, they are reconstructed here
// by replaying the segment from its first byte.
package logreader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	"golang.org/x/exp/mmap"

	"irclog/internal/common"
	"irclog/internal/record"
)

// Reader is a forward-only lazy iterator over the records of one segment.
// It is not safe for concurrent use.
type Reader struct {
	name    string
	dec     *record.Decoder
	closer  io.Closer
	line    int // running line index
	next    *record.Message
	nextErr error
	done    bool
}

// Open reads committed storage. The file is memory-mapped read-only for the lifetime of the Reader.
func Open(path string) (*Reader, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, common.StorageErr("open segment", path, err)
	}
	r := New(io.NewSectionReader(ra, 0, int64(ra.Len())))
	r.name = path
	r.closer = ra
	return r, nil
}

// New reads records from any stream, e.g. an unsaved editor buffer.
func New(src io.Reader) *Reader {
	return &Reader{dec: record.NewDecoder(src)}
}

// FromBytes is a shortcut for New over an in-memory buffer.
func FromBytes(b []byte) *Reader { return New(bytes.NewReader(b)) }

// HasNext reports whether Next has a record or an error to return.
func (r *Reader) HasNext() bool {
	if r.next != nil || r.nextErr != nil {
		return true
	}
	if r.done {
		return false
	}
	m, err := r.dec.Decode()
	switch {
	case errors.Is(err, io.EOF):
		r.done = true
		return false
	case err != nil:
		var pe *record.ParseError
		if !errors.As(err, &pe) {
			// storage failures end the stream
			r.done = true
			err = common.StorageErr("read segment", r.name, err)
		}
		r.nextErr = err
		return true
	}
	m.LineIndex = r.line
	r.line += m.LineCount
	r.next = &m
	return true
}

// Next returns the next message. A *record.ParseError is recoverable: the reader is already
// positioned after the bad line, the caller may skip it and continue, or abort.
// io.EOF is returned once the stream is exhausted.
func (r *Reader) Next() (record.Message, error) {
	if !r.HasNext() {
		return record.Message{}, io.EOF
	}
	if r.nextErr != nil {
		err := r.nextErr
		r.nextErr = nil
		return record.Message{}, err
	}
	m := *r.next
	r.next = nil
	return m, nil
}

// All streams the remaining records, parse errors included.
func (r *Reader) All() iter.Seq2[record.Message, error] {
	return func(yield func(record.Message, error) bool) {
		for r.HasNext() {
			if !yield(r.Next()) {
				return
			}
		}
	}
}

// Offset is the position right after the last consumed record.
func (r *Reader) Offset() int64 { return r.dec.Offset() }

// Lines is the number of text lines consumed so far.
func (r *Reader) Lines() int { return r.line }

// Close releases the underlying handle. It is safe to call more than once.
func (r *Reader) Close() error {
	r.done = true
	r.next, r.nextErr = nil, nil
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	if err := c.Close(); err != nil {
		return common.StorageErr("close segment", r.name, err)
	}
	return nil
}

// ReadAll loads every message of a segment.
// In strict mode the first malformed record aborts the read, otherwise malformed records are skipped
// and reported through the returned skipped slice.
func ReadAll(path string, strict bool) (messages []record.Message, skipped []*record.ParseError, err error) {
	r, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	for m, err := range r.All() {
		if err != nil {
			var pe *record.ParseError
			if errors.As(err, &pe) && !strict {
				skipped = append(skipped, pe)
				continue
			}
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		messages = append(messages, m)
	}
	return messages, skipped, nil
}
