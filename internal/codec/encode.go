// Package codec frames message bodies for the SMTP DATA transfer: it
// renders the RFC 822 text (wrapping attachments in MIME multipart form),
// applies dot-stuffing, and reverses both on the receive path.
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fwdmail/fwdmail/internal/mail"
)

// base64LineLength is the wrap width for encoded attachment content
// (RFC 2045 limits encoded lines to 76 characters).
const base64LineLength = 76

// Encode renders msg into the transfer lines sent after DATA: header
// block, blank line, body (as MIME multipart when attachments are
// present), all dot-stuffed and terminated by a lone dot line.
func Encode(msg *mail.Message) []string {
	return Stuff(Render(msg))
}

// Render produces the RFC 822 text lines for msg, before transfer
// framing is applied.
func Render(msg *mail.Message) []string {
	lines := []string{
		"From: " + msg.From.Path(),
		"To: " + joinPaths(msg.To),
	}
	if msg.Subject != "" {
		lines = append(lines, "Subject: "+msg.Subject)
	}

	contentHeaders, content := Content(msg)
	lines = append(lines, contentHeaders...)
	lines = append(lines, "")
	return append(lines, content...)
}

// Content renders the message content: header lines describing it (empty
// for a plain body) and the content lines themselves, a MIME multipart
// structure whenever attachments are present. Callers compose these with
// their own envelope header block.
func Content(msg *mail.Message) (headers, lines []string) {
	if len(msg.Attachments) == 0 {
		return nil, msg.Body
	}

	boundary := newBoundary()
	headers = []string{
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/mixed; boundary=%q", boundary),
	}

	lines = append(lines,
		"--"+boundary,
		"Content-Type: text/plain",
		"Content-Transfer-Encoding: 7bit",
		"",
	)
	lines = append(lines, msg.Body...)
	// The CRLF preceding a boundary delimiter belongs to the delimiter,
	// so the text part ends with a sentinel blank line; without it the
	// delimiter would swallow the body's own final line ending.
	lines = append(lines, "")

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		lines = append(lines,
			"--"+boundary,
			fmt.Sprintf("Content-Type: %s", contentType),
			"Content-Transfer-Encoding: base64",
			fmt.Sprintf("Content-Disposition: attachment; filename=%q", att.Filename),
			"",
		)
		lines = append(lines, encodeBase64(att.Content)...)
	}

	return headers, append(lines, "--"+boundary+"--")
}

// Stuff applies the RFC 821 transfer framing: every line starting with a
// dot is doubled, and the lone-dot terminator is appended.
func Stuff(lines []string) []string {
	framed := make([]string, 0, len(lines)+1)
	for _, line := range lines {
		if strings.HasPrefix(line, ".") {
			line = "." + line
		}
		framed = append(framed, line)
	}
	return append(framed, ".")
}

// newBoundary generates a MIME boundary unlikely to occur in any body.
func newBoundary() string {
	return "fwdmail-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// encodeBase64 encodes content in wrapped base64 lines.
func encodeBase64(content []byte) []string {
	encoded := base64.StdEncoding.EncodeToString(content)
	var lines []string
	for len(encoded) > base64LineLength {
		lines = append(lines, encoded[:base64LineLength])
		encoded = encoded[base64LineLength:]
	}
	return append(lines, encoded)
}

func joinPaths(addrs []mail.Address) string {
	paths := make([]string, len(addrs))
	for i, a := range addrs {
		paths[i] = a.Path()
	}
	return strings.Join(paths, ", ")
}
