package agent

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFields(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"carol@sender.net",
		"alice@x.com, bob@y.com",
		"weekly digest",
		"First line.",
		".second line starts with a dot",
		".",
		"",
	}, "\n")

	var prompts strings.Builder
	f, err := ReadFields(strings.NewReader(input), &prompts)
	if err != nil {
		t.Fatalf("ReadFields failed: %v", err)
	}

	if f.From != "carol@sender.net" {
		t.Errorf("From: got %q", f.From)
	}
	if len(f.To) != 2 || f.To[0] != "alice@x.com" || f.To[1] != "bob@y.com" {
		t.Errorf("To: got %v", f.To)
	}
	if f.Subject != "weekly digest" {
		t.Errorf("Subject: got %q", f.Subject)
	}
	if len(f.Body) != 2 || f.Body[1] != ".second line starts with a dot" {
		t.Errorf("Body: got %q", f.Body)
	}
	if len(f.AttachmentPaths) != 0 {
		t.Errorf("AttachmentPaths: got %v", f.AttachmentPaths)
	}

	for _, prompt := range []string{"From:", "To:", "Subject:"} {
		if !strings.Contains(prompts.String(), prompt) {
			t.Errorf("missing prompt %q", prompt)
		}
	}
}

func TestReadFields_Attachments(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		"carol@sender.net",
		"alice@x.com",
		"files attached",
		"see attached",
		".",
		"/tmp/a.pdf",
		"/tmp/b.txt",
		"",
	}, "\n")

	f, err := ReadFields(strings.NewReader(input), &strings.Builder{})
	if err != nil {
		t.Fatalf("ReadFields failed: %v", err)
	}
	if len(f.AttachmentPaths) != 2 || f.AttachmentPaths[0] != "/tmp/a.pdf" {
		t.Errorf("AttachmentPaths: got %v", f.AttachmentPaths)
	}
}

func TestReadFields_InputEndsEarly(t *testing.T) {
	t.Parallel()

	input := "carol@sender.net\nalice@x.com\n"
	if _, err := ReadFields(strings.NewReader(input), &strings.Builder{}); !errors.Is(err, ErrIncompleteEnvelope) {
		t.Fatalf("err: got %v, want ErrIncompleteEnvelope", err)
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	f := Fields{
		From:    "carol@sender.net",
		To:      []string{"alice@x.com", "bob@y.com"},
		Subject: "hi",
		Body:    []string{"line"},
	}
	msg, err := f.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if msg.From.String() != "carol@sender.net" {
		t.Errorf("From: got %q", msg.From.String())
	}
	if len(msg.To) != 2 || msg.To[1].Domain != "y.com" {
		t.Errorf("To: got %v", msg.To)
	}
	if msg.Subject != "hi" {
		t.Errorf("Subject: got %q", msg.Subject)
	}
}

func TestBuild_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields Fields
	}{
		{"bad sender", Fields{From: "not-an-address", To: []string{"a@x.com"}}},
		{"no recipients", Fields{From: "a@x.com"}},
		{"bad recipient", Fields{From: "a@x.com", To: []string{"nope"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tt.fields.Build(); !errors.Is(err, ErrIncompleteEnvelope) {
				t.Fatalf("err: got %v, want ErrIncompleteEnvelope", err)
			}
		})
	}
}

func TestBuild_LoadsAttachments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("attached text"), 0600); err != nil {
		t.Fatalf("failed to write attachment: %v", err)
	}

	f := Fields{
		From:            "carol@sender.net",
		To:              []string{"alice@x.com"},
		Body:            []string{"see attached"},
		AttachmentPaths: []string{path},
	}
	msg, err := f.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "notes.txt" {
		t.Errorf("filename: got %q", att.Filename)
	}
	if !strings.HasPrefix(att.ContentType, "text/plain") {
		t.Errorf("content type: got %q", att.ContentType)
	}
	if string(att.Content) != "attached text" {
		t.Errorf("content: got %q", att.Content)
	}
}

func TestBuild_MissingAttachment(t *testing.T) {
	t.Parallel()

	f := Fields{
		From:            "carol@sender.net",
		To:              []string{"alice@x.com"},
		AttachmentPaths: []string{filepath.Join(t.TempDir(), "missing.bin")},
	}
	if _, err := f.Build(); err == nil {
		t.Fatal("Build with a missing attachment should fail")
	}
}
