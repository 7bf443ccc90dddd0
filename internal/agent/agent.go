// Package agent assembles outgoing messages from user-supplied fields.
// All prompting happens outside the protocol core: fields are collected
// first (from a terminal, a file, or a test harness), validated, and
// only then turned into an immutable message for the client to send.
package agent

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/fwdmail/fwdmail/internal/mail"
)

// ErrIncompleteEnvelope reports missing or implausible sender/recipient
// fields; nothing is transmitted in that case.
var ErrIncompleteEnvelope = errors.New("agent: incomplete envelope")

// Fields is the raw user input for one outgoing message.
type Fields struct {
	From            string
	To              []string
	Subject         string
	Body            []string
	AttachmentPaths []string
}

// Build validates the fields and produces the message to transmit. The
// sender and at least one recipient must parse as local@domain;
// attachment files are read here and their content types inferred from
// the filename extension.
func (f Fields) Build() (*mail.Message, error) {
	from, err := mail.ParseAddress(strings.TrimSpace(f.From))
	if err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrIncompleteEnvelope, err)
	}
	if len(f.To) == 0 {
		return nil, fmt.Errorf("%w: no recipients", ErrIncompleteEnvelope)
	}

	env := mail.Envelope{From: from, Subject: f.Subject}
	for _, raw := range f.To {
		rcpt, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: recipient: %v", ErrIncompleteEnvelope, err)
		}
		env.To = append(env.To, rcpt)
	}

	msg := &mail.Message{Envelope: env, Body: f.Body}
	for _, path := range f.AttachmentPaths {
		att, err := loadAttachment(path)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg, nil
}

// loadAttachment reads a file and infers its MIME content type from the
// extension, falling back to application/octet-stream.
func loadAttachment(path string) (mail.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return mail.Attachment{}, fmt.Errorf("reading attachment %s: %w", path, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return mail.Attachment{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Content:     content,
	}, nil
}

// ReadFields collects the message fields from r, writing prompts to
// promptw: sender, comma-separated recipients, subject, body lines until
// a lone dot, then attachment paths until a blank line. The input source
// is arbitrary so tests can drive it without a terminal.
func ReadFields(r io.Reader, promptw io.Writer) (Fields, error) {
	scanner := bufio.NewScanner(r)
	var f Fields

	from, err := readField(scanner, promptw, "From:")
	if err != nil {
		return f, err
	}
	f.From = from

	to, err := readField(scanner, promptw, "To:")
	if err != nil {
		return f, err
	}
	for _, raw := range strings.Split(to, ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			f.To = append(f.To, raw)
		}
	}

	subject, err := readField(scanner, promptw, "Subject:")
	if err != nil {
		return f, err
	}
	f.Subject = subject

	fmt.Fprintln(promptw, "Message (end with a line containing a single dot):")
	for {
		if !scanner.Scan() {
			return f, inputEnded(scanner)
		}
		line := scanner.Text()
		if line == "." {
			break
		}
		f.Body = append(f.Body, line)
	}

	fmt.Fprintln(promptw, "Attachments (one path per line, blank line to finish):")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		f.AttachmentPaths = append(f.AttachmentPaths, line)
	}
	if err := scanner.Err(); err != nil {
		return f, fmt.Errorf("reading input: %w", err)
	}
	return f, nil
}

func readField(scanner *bufio.Scanner, promptw io.Writer, prompt string) (string, error) {
	fmt.Fprintln(promptw, prompt)
	if !scanner.Scan() {
		return "", inputEnded(scanner)
	}
	return scanner.Text(), nil
}

// inputEnded maps an exhausted scanner to an error: end of input before
// all fields arrived means there is no complete envelope to send.
func inputEnded(scanner *bufio.Scanner) error {
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return fmt.Errorf("%w: input ended early", ErrIncompleteEnvelope)
}
