// Package delivery defines the interface for mail delivery backends.
package delivery

import (
	"context"

	"github.com/fwdmail/fwdmail/internal/mail"
)

// Deliverer is the interface delivery backends implement. The server
// session calls Deliver once per distinct recipient domain of an
// accepted message, passing the recipients addressed at that domain.
type Deliverer interface {
	// Deliver persists msg for the given recipients, all of whom share
	// domain. It returns an error if the record could not be stored.
	Deliver(ctx context.Context, domain string, recipients []mail.Address, msg *mail.Message) error

	// Name returns the human-readable name of this backend.
	Name() string
}
