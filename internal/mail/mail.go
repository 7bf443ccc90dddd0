// Package mail defines the envelope and message data model shared by the
// SMTP server, the sending agent, and the delivery backends.
package mail

// Envelope carries the SMTP-level addressing of one mail transaction:
// the reverse-path (sender), the forward-paths (recipients, duplicates
// allowed) and an optional subject. It is treated as immutable once a
// transaction starts.
type Envelope struct {
	From    Address
	To      []Address
	Subject string
}

// Domains returns the distinct recipient domains in first-seen order.
// Delivery fans out once per domain regardless of how many recipients
// share it.
func (e *Envelope) Domains() []string {
	var domains []string
	seen := make(map[string]bool, len(e.To))
	for _, rcpt := range e.To {
		if seen[rcpt.Domain] {
			continue
		}
		seen[rcpt.Domain] = true
		domains = append(domains, rcpt.Domain)
	}
	return domains
}

// RecipientsIn returns the recipients addressed at the given domain, in
// envelope order.
func (e *Envelope) RecipientsIn(domain string) []Address {
	var rcpts []Address
	for _, rcpt := range e.To {
		if rcpt.Domain == domain {
			rcpts = append(rcpts, rcpt)
		}
	}
	return rcpts
}

// Attachment is a file carried by a message, transferred base64-encoded
// inside a MIME multipart body.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a complete mail item: envelope, body lines (without line
// terminators) and any attachments.
type Message struct {
	Envelope
	Body        []string
	Attachments []Attachment
}
