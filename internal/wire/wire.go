// Package wire wraps a byte stream into the CRLF-delimited line channel
// the SMTP protocol runs over.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxLineLength caps a single protocol line, guarding against unbounded
// buffering from a misbehaving peer.
const MaxLineLength = 2048

// ErrClosed reports that the peer closed the stream before a line
// terminator arrived.
var ErrClosed = errors.New("wire: connection closed")

// ErrLineTooLong reports a line exceeding MaxLineLength.
var ErrLineTooLong = errors.New("wire: line too long")

// Reader yields one protocol line at a time from a byte stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadLine blocks until a full line is available and returns it with the
// terminator stripped. Bare LF endings are tolerated alongside CRLF.
// It returns ErrClosed when the stream ends before a terminator and
// ErrLineTooLong when the line exceeds MaxLineLength.
func (r *Reader) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxLineLength {
			return "", ErrLineTooLong
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			return "", ErrClosed
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return strings.TrimRight(string(line), "\r\n"), nil
	}
}

// Writer writes one CRLF-terminated protocol line at a time.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteLine writes the formatted line followed by CRLF and flushes.
func (w *Writer) WriteLine(format string, args ...interface{}) error {
	if _, err := fmt.Fprintf(w.w, format, args...); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if _, err := w.w.WriteString("\r\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}
