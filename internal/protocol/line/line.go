package line

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const Delimiter byte = '\n'

var (
	ErrConnectionClosed   = errors.New("line: connection closed before delimiter")
	ErrLineTooLong        = errors.New("line: line exceeds max length")
	ErrDelimiterInPayload = errors.New("line: payload contains delimiter")
	errNilReader          = errors.New("line: nil reader")
)

// Limits constrains line decode memory use. Zero means unbounded.
type Limits struct {
	MaxLineBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxLineBytes: 0}
}

func (l Limits) exceeded(n int) bool {
	return l.MaxLineBytes > 0 && n > l.MaxLineBytes
}

// Reader extracts delimiter-terminated lines from a byte stream.
type Reader struct {
	br     *bufio.Reader
	limits Limits
}

func NewReader(r io.Reader, limits Limits) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Reader{br: br, limits: limits}
}

func (r *Reader) ReadLine() ([]byte, error) {
	return ReadLine(r.br, r.limits)
}

// ReadLine blocks until a full line is available and returns its bytes
// without the delimiter. The returned slice never aliases r's buffer.
// A stream that ends before the delimiter fails with ErrConnectionClosed;
// the pending partial line is dropped.
func ReadLine(r *bufio.Reader, limits Limits) ([]byte, error) {
	if r == nil {
		return nil, errNilReader
	}
	out := []byte{}
	for {
		chunk, err := r.ReadSlice(Delimiter)
		switch {
		case err == nil:
			payload := chunk[:len(chunk)-1]
			if limits.exceeded(len(out) + len(payload)) {
				return nil, ErrLineTooLong
			}
			return append(out, payload...), nil
		case errors.Is(err, bufio.ErrBufferFull):
			if limits.exceeded(len(out) + len(chunk)) {
				return nil, discardLine(r)
			}
			out = append(out, chunk...)
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: %d bytes pending", ErrConnectionClosed, len(out)+len(chunk))
		default:
			return nil, fmt.Errorf("line: read: %w", err)
		}
	}
}

// discardLine skips the remainder of an oversized line so the next read
// starts on a line boundary.
func discardLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice(Delimiter)
		switch {
		case err == nil:
			return ErrLineTooLong
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("%w: oversized line truncated", ErrConnectionClosed)
		default:
			return fmt.Errorf("line: read: %w", err)
		}
	}
}

// WriteLine writes payload followed by the delimiter.
func WriteLine(w io.Writer, payload []byte) error {
	if bytes.IndexByte(payload, Delimiter) >= 0 {
		return ErrDelimiterInPayload
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, Delimiter)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}
