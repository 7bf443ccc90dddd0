package forward

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fwdmail/fwdmail/internal/codec"
	"github.com/fwdmail/fwdmail/internal/mail"
)

func storedMessage() *mail.Message {
	return &mail.Message{
		Envelope: mail.Envelope{
			From: mail.Address{Local: "carol", Domain: "sender.net"},
			To: []mail.Address{
				{Local: "alice", Domain: "x.com"},
				{Local: "bob", Domain: "x.com"},
			},
			Subject: "weekly digest",
		},
		Body: []string{"First line.", ".starts with a dot", "", "Last line."},
	}
}

func scanFile(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open forward file: %v", err)
	}
	defer f.Close()

	records, err := Scan(f)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return records
}

func TestStore_DeliverAndScan(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), "mx.test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msg := storedMessage()
	if err := store.Deliver(context.Background(), "x.com", msg.To, msg); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	records := scanFile(t, store.Path("x.com"))
	if len(records) != 1 {
		t.Fatalf("records: got %d, want 1", len(records))
	}

	record := records[0]
	if record[0] != "From: <carol@sender.net>" {
		t.Errorf("first header: got %q", record[0])
	}
	if record[1] != "To: <alice@x.com>" || record[2] != "To: <bob@x.com>" {
		t.Errorf("recipient headers: got %q %q", record[1], record[2])
	}

	// A scanned record reads back as a complete message.
	dec, err := codec.Decode(record)
	if err != nil {
		t.Fatalf("Decode of scanned record failed: %v", err)
	}
	if dec.Subject != "weekly digest" {
		t.Errorf("subject: got %q", dec.Subject)
	}
	if want := msg.Body; len(dec.Body) != len(want) {
		t.Fatalf("body: got %q, want %q", dec.Body, want)
	}
	for i, line := range msg.Body {
		if dec.Body[i] != line {
			t.Errorf("body line %d: got %q, want %q", i, dec.Body[i], line)
		}
	}
}

func TestStore_AppendsSeparateRecords(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), "mx.test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msg := storedMessage()
	for i := 0; i < 3; i++ {
		if err := store.Deliver(context.Background(), "x.com", msg.To, msg); err != nil {
			t.Fatalf("Deliver %d failed: %v", i, err)
		}
	}

	if records := scanFile(t, store.Path("x.com")); len(records) != 3 {
		t.Fatalf("records: got %d, want 3", len(records))
	}
}

func TestStore_AttachmentRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), "mx.test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msg := storedMessage()
	msg.Attachments = []mail.Attachment{{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		Content:     []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff, 0x0d, 0x0a, 0x2e},
	}}
	if err := store.Deliver(context.Background(), "x.com", msg.To, msg); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	records := scanFile(t, store.Path("x.com"))
	if len(records) != 1 {
		t.Fatalf("records: got %d, want 1", len(records))
	}

	dec, err := codec.Decode(records[0])
	if err != nil {
		t.Fatalf("Decode of scanned record failed: %v", err)
	}
	if len(dec.Attachments) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(dec.Attachments))
	}
	att := dec.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("filename: got %q", att.Filename)
	}
	if string(att.Content) != string(msg.Attachments[0].Content) {
		t.Errorf("content: got %x, want %x", att.Content, msg.Attachments[0].Content)
	}
}

func TestStore_OneFilePerDomain(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir, "mx.test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msg := storedMessage()
	for _, domain := range []string{"x.com", "y.com"} {
		if err := store.Deliver(context.Background(), domain, msg.To, msg); err != nil {
			t.Fatalf("Deliver to %s failed: %v", domain, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading store dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("files: got %d, want 2", len(entries))
	}
	for _, domain := range []string{"x.com", "y.com"} {
		if _, err := os.Stat(filepath.Join(dir, domain)); err != nil {
			t.Errorf("missing forward file for %s: %v", domain, err)
		}
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), "mx.test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	msg := storedMessage()
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Deliver(context.Background(), "x.com", msg.To, msg); err != nil {
				t.Errorf("Deliver failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if records := scanFile(t, store.Path("x.com")); len(records) != n {
		t.Fatalf("records: got %d, want %d", len(records), n)
	}
}

func TestStore_ContextCancelled(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), "mx.test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := storedMessage()
	if err := store.Deliver(ctx, "x.com", msg.To, msg); err == nil {
		t.Fatal("Deliver with a cancelled context should fail")
	}
	if _, err := os.Stat(store.Path("x.com")); !os.IsNotExist(err) {
		t.Error("no forward file should be created for a cancelled delivery")
	}
}

func TestNew_DirUnavailable(t *testing.T) {
	t.Parallel()

	// A regular file where the store directory should be.
	blocker := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatalf("failed to create blocker file: %v", err)
	}

	if _, err := New(blocker, "mx.test"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err: got %v, want ErrUnavailable", err)
	}
}

func TestScan_UnterminatedRecord(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"From: <a@x.com>",
		"",
		"truncated body with no terminator",
	}, "\n")
	if _, err := Scan(strings.NewReader(input)); err == nil {
		t.Fatal("Scan of an unterminated record should fail")
	}
}

func TestScan_Empty(t *testing.T) {
	t.Parallel()

	records, err := Scan(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("records: got %d, want 0", len(records))
	}
}
