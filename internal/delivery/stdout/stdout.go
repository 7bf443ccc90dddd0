// Package stdout implements a Deliverer that prints records to standard
// output instead of storing them, for smoke-testing a server without
// touching disk.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fwdmail/fwdmail/internal/delivery"
	"github.com/fwdmail/fwdmail/internal/mail"
)

// Deliverer prints each delivery in the forward-file record format,
// prefixed with the domain it would have been filed under.
type Deliverer struct {
	hostname string
	writer   io.Writer
}

// New creates a Deliverer writing to os.Stdout.
func New(hostname string) *Deliverer {
	return &Deliverer{hostname: hostname, writer: os.Stdout}
}

// NewWithWriter creates a Deliverer writing to w. This is useful for
// testing.
func NewWithWriter(hostname string, w io.Writer) *Deliverer {
	return &Deliverer{hostname: hostname, writer: w}
}

// Deliver prints the rendered record. It only fails when the writer does.
func (d *Deliverer) Deliver(_ context.Context, domain string, recipients []mail.Address, msg *mail.Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", domain)
	for _, line := range delivery.Record(recipients, msg, d.hostname) {
		b.WriteString(line + "\n")
	}

	if _, err := fmt.Fprint(d.writer, b.String()); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Name returns the backend name.
func (d *Deliverer) Name() string {
	return "stdout"
}
