package delivery

import (
	"time"

	"github.com/google/uuid"

	"github.com/fwdmail/fwdmail/internal/codec"
	"github.com/fwdmail/fwdmail/internal/mail"
)

// Record renders one delivery record for the given recipients: envelope
// headers (one To line per recipient), a generated Message-Id, a blank
// separator, and the dot-stuffed content terminated by a lone dot line.
// The terminator doubles as the record separator, so a forward file is
// split back into records with the same un-stuffing rule the wire uses.
func Record(recipients []mail.Address, msg *mail.Message, hostname string) []string {
	lines := []string{"From: " + msg.From.Path()}
	for _, rcpt := range recipients {
		lines = append(lines, "To: "+rcpt.Path())
	}
	if msg.Subject != "" {
		lines = append(lines, "Subject: "+msg.Subject)
	}
	lines = append(lines,
		"Message-Id: <"+uuid.NewString()+"@"+hostname+">",
		"Date: "+time.Now().Format(time.RFC822),
	)

	contentHeaders, content := codec.Content(msg)
	lines = append(lines, contentHeaders...)
	lines = append(lines, "")
	return append(lines, codec.Stuff(content)...)
}
