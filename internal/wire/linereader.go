// Package wire implements the HTTP/1.0 request head reader and the
// fixed-form responses written back on the raw connection.
package wire

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// DefaultMaxLineBytes bounds a single request or header line.
const DefaultMaxLineBytes = 8192

// ErrLineTooLong is returned when a line exceeds the reader's capacity.
var ErrLineTooLong = errors.New("wire: line too long")

// LineReader reads CR, LF or CRLF terminated lines off a byte stream.
// The underlying bufio.Reader is shared with the body relay so bytes after
// the header block are never lost.
type LineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader wraps r. A non-positive max selects DefaultMaxLineBytes.
func NewLineReader(r io.Reader, max int) *LineReader {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &LineReader{r: br, max: max}
}

// ReadLine returns the next line without its terminator and the number of
// bytes consumed from the stream, terminator included.
//
// A peer that disconnects mid-line yields the partial line and a nil error;
// a disconnect with nothing read yields io.EOF.
func (lr *LineReader) ReadLine() (string, int, error) {
	var sb strings.Builder
	n := 0
	for {
		c, err := lr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && n > 0 {
				return sb.String(), n, nil
			}
			return sb.String(), n, err
		}
		n++

		switch c {
		case '\n':
			return sb.String(), n, nil
		case '\r':
			next, err := lr.r.Peek(1)
			if err == nil && next[0] == '\n' {
				_, _ = lr.r.ReadByte()
				n++
			}
			return sb.String(), n, nil
		}

		if sb.Len() >= lr.max {
			return sb.String(), n, ErrLineTooLong
		}
		sb.WriteByte(c)
	}
}

// Body returns the reader positioned at the first byte after whatever
// ReadLine has consumed.
func (lr *LineReader) Body() io.Reader {
	return lr.r
}
