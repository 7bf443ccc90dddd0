// Package forward implements the per-domain forward-file mailbox store.
// Every recipient domain gets one append-only plain-text file under the
// store directory; each accepted message becomes one record in the files
// of its recipient domains.
package forward

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fwdmail/fwdmail/internal/delivery"
	"github.com/fwdmail/fwdmail/internal/mail"
)

// ErrUnavailable reports that a forward file could not be opened or
// written. Records already stored are unaffected.
var ErrUnavailable = errors.New("forward: store unavailable")

// Store appends accepted messages to per-domain forward files.
type Store struct {
	dir      string
	hostname string

	// mu guards locks; each domain gets its own mutex so appends to the
	// same file are serialized while different domains proceed
	// independently.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at dir, creating the directory if needed.
// hostname is used when generating Message-Id headers.
func New(dir, hostname string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Store{
		dir:      dir,
		hostname: hostname,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Name returns the backend name.
func (s *Store) Name() string {
	return "forward"
}

// Deliver appends one record for msg to the forward file of domain. The
// append is serialized against other appends to the same domain within
// this process; a failure leaves previously written records intact.
func (s *Store) Deliver(ctx context.Context, domain string, recipients []mail.Address, msg *mail.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.domainLock(domain)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(s.Path(domain), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record := strings.Join(delivery.Record(recipients, msg, s.hostname), "\n") + "\n"
	if _, err := f.WriteString(record); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Path returns the forward file path for a domain.
func (s *Store) Path(domain string) string {
	return filepath.Join(s.dir, domain)
}

func (s *Store) domainLock(domain string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[domain]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[domain] = lock
	}
	return lock
}

// Scan splits a forward file back into records. Records are delimited by
// the lone-dot terminator line; body lines come back un-stuffed, so a
// scanned record reads as the header block, a blank line, and the
// original content lines.
func Scan(r io.Reader) ([][]string, error) {
	var records [][]string
	var current []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "." {
			records = append(records, current)
			current = nil
			continue
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning forward file: %w", err)
	}
	if len(current) > 0 {
		return nil, fmt.Errorf("forward file ends with an unterminated record")
	}
	return records, nil
}
