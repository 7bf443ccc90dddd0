// Package smtp implements both sides of the SMTP session state machine:
// the server accepting mail transactions and the client driving them.
package smtp

import (
	"fmt"
	"strconv"

	"github.com/fwdmail/fwdmail/internal/wire"
)

// Reply codes used by the protocol (RFC 821 §4.2.2).
const (
	ReplyServiceReady      = 220
	ReplyClosing           = 221
	ReplyOK                = 250
	ReplyStartMailInput    = 354
	ReplyUnknownCommand    = 500
	ReplySyntaxError       = 501
	ReplyBadSequence       = 503
	ReplyMailboxUnknown    = 550
	ReplyExceededStorage   = 552
	ReplyTransactionFailed = 554
)

// Reply is one server response: the 3-digit code and the text of its
// final line.
type Reply struct {
	Code int
	Text string
}

// String renders the reply the way it appears on the wire.
func (r Reply) String() string {
	return fmt.Sprintf("%d %s", r.Code, r.Text)
}

// readReply reads one reply, folding multiline form (250-... lines
// followed by a 250 line) into the final line.
func readReply(r *wire.Reader) (Reply, error) {
	for {
		line, err := r.ReadLine()
		if err != nil {
			return Reply{}, err
		}
		if len(line) < 3 {
			return Reply{}, fmt.Errorf("malformed reply line %q", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return Reply{}, fmt.Errorf("malformed reply line %q", line)
		}
		if len(line) > 3 && line[3] == '-' {
			continue
		}
		text := ""
		if len(line) > 4 {
			text = line[4:]
		}
		return Reply{Code: code, Text: text}, nil
	}
}
