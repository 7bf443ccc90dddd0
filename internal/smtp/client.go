package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/fwdmail/fwdmail/internal/codec"
	"github.com/fwdmail/fwdmail/internal/mail"
	"github.com/fwdmail/fwdmail/internal/wire"
)

// ErrUnexpectedGreeting reports a server greeting other than 220.
var ErrUnexpectedGreeting = errors.New("smtp: unexpected greeting")

// ErrUnexpectedReply reports a reply code outside the expected class for
// the command just sent.
var ErrUnexpectedReply = errors.New("smtp: unexpected reply")

// ErrAllRecipientsRejected reports that no recipient survived the RCPT
// exchange, so the transaction was abandoned before DATA.
var ErrAllRecipientsRejected = errors.New("smtp: all recipients rejected")

// RejectedRecipient records a recipient the server refused with 550.
type RejectedRecipient struct {
	Address mail.Address
	Reply   Reply
}

// SendResult reports the per-recipient outcome of a transaction. A
// rejected recipient does not fail the transaction for the others.
type SendResult struct {
	Accepted []mail.Address
	Rejected []RejectedRecipient
}

// Option configures Send.
type Option func(*options)

type options struct {
	dialer    *net.Dialer
	timeout   time.Duration
	localName string
	logger    *slog.Logger
}

// WithDialer sets a custom net.Dialer for the connection.
func WithDialer(d *net.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithTimeout bounds the whole transaction including dialing.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLocalName sets the hostname announced in HELO.
func WithLocalName(name string) Option {
	return func(o *options) { o.localName = name }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Send runs one complete client-side mail transaction against the SMTP
// server at addr: greeting, HELO, MAIL, one RCPT per recipient, DATA
// with the codec-framed body, QUIT. Each command blocks for exactly one
// reply before the next is sent. A 550 on an individual recipient is
// recorded in the result and the transaction proceeds for the rest.
func Send(ctx context.Context, addr string, msg *mail.Message, opts ...Option) (*SendResult, error) {
	o := &options{
		dialer:    &net.Dialer{},
		timeout:   30 * time.Second,
		localName: localHostname(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	conn, err := o.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("smtp: setting deadline: %w", err)
		}
	}

	c := &client{
		r:   wire.NewReader(conn),
		w:   wire.NewWriter(conn),
		log: o.logger,
	}

	greeting, err := readReply(c.r)
	if err != nil {
		return nil, fmt.Errorf("smtp: reading greeting: %w", err)
	}
	if greeting.Code != ReplyServiceReady {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedGreeting, greeting)
	}

	if _, err := c.cmd(ReplyOK, "HELO %s", o.localName); err != nil {
		return nil, err
	}
	if _, err := c.cmd(ReplyOK, "MAIL FROM:%s", msg.From.Path()); err != nil {
		return nil, err
	}

	result := &SendResult{}
	for _, rcpt := range msg.To {
		reply, err := c.exchange("RCPT TO:%s", rcpt.Path())
		if err != nil {
			return nil, err
		}
		switch reply.Code {
		case ReplyOK:
			result.Accepted = append(result.Accepted, rcpt)
		case ReplyMailboxUnknown:
			c.log.Warn("recipient rejected", "recipient", rcpt.String(), "reply", reply.String())
			result.Rejected = append(result.Rejected, RejectedRecipient{Address: rcpt, Reply: reply})
		default:
			return nil, fmt.Errorf("%w: %s after RCPT TO:%s", ErrUnexpectedReply, reply, rcpt.Path())
		}
	}
	if len(result.Accepted) == 0 {
		// Tear down cleanly; the rejection is the error worth reporting.
		if _, err := c.cmd(ReplyClosing, "QUIT"); err != nil {
			c.log.Debug("quit after rejection failed", "error", err)
		}
		return result, ErrAllRecipientsRejected
	}

	if _, err := c.cmd(ReplyStartMailInput, "DATA"); err != nil {
		return nil, err
	}
	for _, line := range codec.Encode(msg) {
		if err := c.w.WriteLine("%s", line); err != nil {
			return nil, fmt.Errorf("smtp: sending body: %w", err)
		}
	}
	reply, err := readReply(c.r)
	if err != nil {
		return nil, fmt.Errorf("smtp: reading reply after body: %w", err)
	}
	if reply.Code != ReplyOK {
		return nil, fmt.Errorf("%w: %s after message data", ErrUnexpectedReply, reply)
	}

	if _, err := c.cmd(ReplyClosing, "QUIT"); err != nil {
		return nil, err
	}
	return result, nil
}

type client struct {
	r   *wire.Reader
	w   *wire.Writer
	log *slog.Logger
}

// exchange sends one command line and blocks for its reply.
func (c *client) exchange(format string, args ...interface{}) (Reply, error) {
	if err := c.w.WriteLine(format, args...); err != nil {
		return Reply{}, fmt.Errorf("smtp: sending %s: %w", fmt.Sprintf(format, args...), err)
	}
	reply, err := readReply(c.r)
	if err != nil {
		return Reply{}, fmt.Errorf("smtp: reading reply to %s: %w", fmt.Sprintf(format, args...), err)
	}
	c.log.Debug("smtp exchange", "command", fmt.Sprintf(format, args...), "reply", reply.String())
	return reply, nil
}

// cmd is exchange plus an expected reply code.
func (c *client) cmd(expect int, format string, args ...interface{}) (Reply, error) {
	reply, err := c.exchange(format, args...)
	if err != nil {
		return Reply{}, err
	}
	if reply.Code != expect {
		return reply, fmt.Errorf("%w: %s after %s", ErrUnexpectedReply, reply, fmt.Sprintf(format, args...))
	}
	return reply, nil
}

func localHostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}
