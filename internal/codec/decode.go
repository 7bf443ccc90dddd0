package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"strings"

	"github.com/fwdmail/fwdmail/internal/mail"
	"github.com/fwdmail/fwdmail/internal/wire"
)

// ErrUnterminatedBody reports a stream that closed before the lone-dot
// terminator line appeared.
var ErrUnterminatedBody = errors.New("codec: body not terminated")

// ErrMalformedMIME reports a multipart body whose declared boundary
// structure could not be reconstructed.
var ErrMalformedMIME = errors.New("codec: malformed MIME body")

// ErrTooLarge reports a body exceeding the configured maximum size. The
// remaining transfer lines have still been consumed, so the session
// stays in sync with the peer.
var ErrTooLarge = errors.New("codec: message too large")

// Decoded is the reconstructed content of a received body.
type Decoded struct {
	Body        []string
	Subject     string
	Attachments []mail.Attachment
}

// ReadBody consumes transfer lines from r until the lone-dot terminator,
// reversing dot-stuffing: a leading ".." becomes ".", everything else is
// kept verbatim. maxSize > 0 caps the accepted byte count; past it the
// rest of the transfer is drained and ErrTooLarge returned.
func ReadBody(r *wire.Reader, maxSize int64) ([]string, error) {
	var lines []string
	var size int64
	for {
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, wire.ErrClosed) {
				return nil, ErrUnterminatedBody
			}
			return nil, err
		}
		if line == "." {
			return lines, nil
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		size += int64(len(line)) + 2
		if maxSize > 0 && size > maxSize {
			if err := drain(r); err != nil {
				return nil, err
			}
			return nil, ErrTooLarge
		}
		lines = append(lines, line)
	}
}

// drain discards transfer lines up to the terminator.
func drain(r *wire.Reader) error {
	for {
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, wire.ErrClosed) {
				return ErrUnterminatedBody
			}
			return err
		}
		if line == "." {
			return nil
		}
	}
}

// Decode reconstructs body text and attachments from received transfer
// lines (already un-stuffed). Text carrying an RFC 822 header block has
// its Subject lifted and, for multipart content, is split on the declared
// boundary; headerless text is returned verbatim as plain body.
func Decode(lines []string) (*Decoded, error) {
	// A transfer only carries an RFC 822 header block when its first
	// line reads as a header field; anything else is plain body, even
	// when it starts blank (net/mail would read that as empty headers
	// and drop the line).
	if len(lines) == 0 || !looksLikeHeader(lines[0]) {
		return &Decoded{Body: lines}, nil
	}

	text := strings.Join(lines, "\r\n") + "\r\n"

	msg, err := netmail.ReadMessage(strings.NewReader(text))
	if err != nil {
		return &Decoded{Body: lines}, nil
	}

	dec := &Decoded{Subject: msg.Header.Get("Subject")}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		body, err := io.ReadAll(msg.Body)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		dec.Body = splitLines(string(body))
		return dec, nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("%w: multipart without boundary", ErrMalformedMIME)
	}
	if err := decodeMultipart(msg.Body, boundary, dec); err != nil {
		return nil, err
	}
	return dec, nil
}

// looksLikeHeader reports whether a line starts a header field: a
// non-empty run of printable characters followed by a colon.
func looksLikeHeader(line string) bool {
	name, _, ok := strings.Cut(line, ":")
	if !ok || name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] <= ' ' || name[i] > '~' {
			return false
		}
	}
	return true
}

// decodeMultipart splits a multipart body on its boundary, collecting the
// text part as body lines and every other part as an attachment.
func decodeMultipart(body io.Reader, boundary string, dec *Decoded) error {
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMIME, err)
		}

		mediaType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			mediaType = "text/plain"
		}

		content, err := readPartContent(part)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMIME, err)
		}

		disposition := part.Header.Get("Content-Disposition")
		if mediaType == "text/plain" && !strings.HasPrefix(disposition, "attachment") && dec.Body == nil {
			dec.Body = splitLines(string(content))
			continue
		}

		dec.Attachments = append(dec.Attachments, mail.Attachment{
			Filename:    partFilename(part),
			ContentType: mediaType,
			Content:     content,
		})
	}
}

// readPartContent reads a MIME part, reversing its declared
// Content-Transfer-Encoding. The multipart reader already handles
// quoted-printable transparently; base64 is decoded here.
func readPartContent(part *multipart.Part) ([]byte, error) {
	raw, err := io.ReadAll(part)
	if err != nil {
		return nil, err
	}

	encoding := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))
	if encoding != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		// Unpadded base64 from lenient senders.
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 content: %v", err)
		}
	}
	return decoded, nil
}

// partFilename extracts a part's filename, falling back to the
// Content-Type name parameter and then a generic name.
func partFilename(part *multipart.Part) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if _, params, err := mime.ParseMediaType(part.Header.Get("Content-Type")); err == nil {
		if name := params["name"]; name != "" {
			return name
		}
	}
	return "attachment"
}

// splitLines turns decoded part text back into terminator-free lines,
// dropping the final empty element a trailing newline produces.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
