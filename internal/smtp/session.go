package smtp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/fwdmail/fwdmail/internal/codec"
	"github.com/fwdmail/fwdmail/internal/delivery"
	"github.com/fwdmail/fwdmail/internal/mail"
	"github.com/fwdmail/fwdmail/internal/metrics"
	"github.com/fwdmail/fwdmail/internal/wire"
)

// Session states. Receiving the body is transient inside handleDATA; the
// aborted state is the session returning with its connection torn down.
const (
	stateStart = iota
	stateGreeted
	stateMailFrom
	stateRcpt
	stateCompleted
)

// Session is a single server-side SMTP connection running one mail
// transaction through the command/reply state machine.
type Session struct {
	conn      net.Conn
	r         *wire.Reader
	w         *wire.Writer
	deliverer delivery.Deliverer
	hostname  string
	domains   map[string]bool
	maxSize   int64
	timeout   time.Duration

	state      int
	senderHost string
	env        *mail.Envelope
}

// NewSession creates a session for conn. localDomains, when non-empty,
// is the set of recipient domains the server accepts mail for; empty
// accepts every domain.
func NewSession(conn net.Conn, deliverer delivery.Deliverer, hostname string, localDomains []string, maxSize int64, timeout time.Duration) *Session {
	var domains map[string]bool
	if len(localDomains) > 0 {
		domains = make(map[string]bool, len(localDomains))
		for _, d := range localDomains {
			domains[d] = true
		}
	}
	return &Session{
		conn:      conn,
		r:         wire.NewReader(conn),
		w:         wire.NewWriter(conn),
		deliverer: deliverer,
		hostname:  hostname,
		domains:   domains,
		maxSize:   maxSize,
		timeout:   timeout,
		state:     stateStart,
	}
}

// Handle runs the session until QUIT, a protocol abort, or context
// cancellation. Out-of-sequence, unrecognized, and malformed commands
// are answered 503/500/501 without advancing state, so a confused peer
// may retry; only I/O failures abort.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	if err := s.w.WriteLine("220 %s fwdmail service ready", s.hostname); err != nil {
		metrics.SessionInc("aborted")
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.w.WriteLine("421 %s closing: service shutting down", s.hostname)
			metrics.SessionInc("aborted")
			return
		default:
		}

		if s.timeout > 0 {
			if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
				metrics.SessionInc("aborted")
				return
			}
		}

		line, err := s.r.ReadLine()
		if err != nil {
			if !errors.Is(err, wire.ErrClosed) {
				slog.Debug("session read failed", "error", err)
			}
			metrics.SessionInc("aborted")
			return
		}

		cmd, arg := parseCommand(line)
		switch cmd {
		case "HELO":
			s.handleHELO(arg)
		case "MAIL":
			s.handleMAIL(arg)
		case "RCPT":
			s.handleRCPT(arg)
		case "DATA":
			if err := s.handleDATA(ctx, arg); err != nil {
				slog.Debug("data transfer failed", "error", err)
				metrics.SessionInc("aborted")
				return
			}
		case "RSET":
			s.handleRSET()
		case "NOOP":
			s.reply(ReplyOK, "OK")
		case "QUIT":
			s.reply(ReplyClosing, "%s closing connection", s.hostname)
			metrics.SessionInc("completed")
			return
		default:
			s.reply(ReplyUnknownCommand, "Syntax error: command unrecognized")
		}
	}
}

func (s *Session) handleHELO(arg string) {
	if s.state != stateStart && s.state != stateGreeted {
		s.reply(ReplyBadSequence, "Bad sequence of commands")
		return
	}
	if arg == "" {
		s.reply(ReplySyntaxError, "Syntax error in parameters or arguments")
		return
	}
	s.senderHost = arg
	s.state = stateGreeted
	s.reply(ReplyOK, "Hello %s pleased to meet you", arg)
}

// handleMAIL opens a transaction. HELO is honored but not required:
// MAIL is legal straight after the greeting.
func (s *Session) handleMAIL(arg string) {
	if s.state != stateStart && s.state != stateGreeted {
		s.reply(ReplyBadSequence, "Bad sequence of commands")
		return
	}

	rest, ok := cutPrefixFold(arg, "FROM:")
	if !ok {
		s.reply(ReplySyntaxError, "Syntax error in parameters or arguments")
		return
	}
	from, err := mail.ParsePath(strings.TrimSpace(rest))
	if err != nil {
		s.reply(ReplySyntaxError, "Syntax error in parameters or arguments")
		return
	}

	s.env = &mail.Envelope{From: from}
	s.state = stateMailFrom
	s.reply(ReplyOK, "OK")
}

func (s *Session) handleRCPT(arg string) {
	if s.state != stateMailFrom && s.state != stateRcpt {
		s.reply(ReplyBadSequence, "Bad sequence of commands")
		return
	}

	rest, ok := cutPrefixFold(arg, "TO:")
	if !ok {
		s.reply(ReplySyntaxError, "Syntax error in parameters or arguments")
		return
	}
	rcpt, err := mail.ParsePath(strings.TrimSpace(rest))
	if err != nil {
		s.reply(ReplySyntaxError, "Syntax error in parameters or arguments")
		return
	}

	if s.domains != nil && !s.domains[rcpt.Domain] {
		s.reply(ReplyMailboxUnknown, "No mailbox here for %s", rcpt.String())
		return
	}

	s.env.To = append(s.env.To, rcpt)
	s.state = stateRcpt
	s.reply(ReplyOK, "OK")
}

// handleDATA receives the dot-framed body and fans delivery out per
// recipient domain. A returned error means the connection is unusable;
// protocol-level failures are answered on the wire and leave the
// session alive in the completed state.
func (s *Session) handleDATA(ctx context.Context, arg string) error {
	if s.state != stateRcpt {
		s.reply(ReplyBadSequence, "Bad sequence of commands")
		return nil
	}
	if arg != "" {
		s.reply(ReplySyntaxError, "Syntax error in parameters or arguments")
		return nil
	}

	if err := s.reply(ReplyStartMailInput, "Start mail input; end with <CRLF>.<CRLF>"); err != nil {
		return err
	}

	// The body may be long; one generous deadline covers the whole
	// transfer instead of resetting per line.
	if s.timeout > 0 {
		if err := s.conn.SetDeadline(time.Now().Add(10 * s.timeout)); err != nil {
			return err
		}
	}

	lines, err := codec.ReadBody(s.r, s.maxSize)
	if err != nil {
		if errors.Is(err, codec.ErrTooLarge) {
			metrics.MessageInc("toolarge")
			s.env = nil
			s.state = stateCompleted
			return s.reply(ReplyExceededStorage, "Message exceeds maximum size")
		}
		return err
	}

	dec, err := codec.Decode(lines)
	if err != nil {
		metrics.MessageInc("malformed")
		s.env = nil
		s.state = stateCompleted
		return s.reply(ReplyTransactionFailed, "Transaction failed: %v", err)
	}

	env := *s.env
	if env.Subject == "" {
		env.Subject = dec.Subject
	}
	msg := &mail.Message{
		Envelope:    env,
		Body:        dec.Body,
		Attachments: dec.Attachments,
	}

	// Once per distinct domain, even when recipients share one. A
	// failing domain never blocks the others.
	delivered := 0
	for _, domain := range env.Domains() {
		err := s.deliverer.Deliver(ctx, domain, env.RecipientsIn(domain), msg)
		if err != nil {
			metrics.DeliveryInc(s.deliverer.Name(), "error")
			slog.Error("delivery failed",
				"backend", s.deliverer.Name(),
				"domain", domain,
				"error", err,
			)
			continue
		}
		metrics.DeliveryInc(s.deliverer.Name(), "ok")
		delivered++
	}

	s.env = nil
	s.state = stateCompleted
	if delivered == 0 {
		metrics.MessageInc("failed")
		return s.reply(ReplyTransactionFailed, "Transaction failed")
	}
	metrics.MessageInc("accepted")
	return s.reply(ReplyOK, "OK")
}

// handleRSET abandons an in-progress envelope. A completed transaction
// cannot be reset: this server runs one transaction per connection.
func (s *Session) handleRSET() {
	if s.state == stateCompleted {
		s.reply(ReplyBadSequence, "Bad sequence of commands")
		return
	}
	s.env = nil
	if s.state != stateStart {
		if s.senderHost != "" {
			s.state = stateGreeted
		} else {
			s.state = stateStart
		}
	}
	s.reply(ReplyOK, "OK")
}

func (s *Session) reply(code int, format string, args ...interface{}) error {
	return s.w.WriteLine("%d "+format, append([]interface{}{code}, args...)...)
}

// parseCommand splits a command line into the upper-cased verb and its
// argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), strings.TrimSpace(arg)
}

// cutPrefixFold strips a case-insensitive prefix.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
