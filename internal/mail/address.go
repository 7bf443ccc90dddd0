package mail

import (
	"fmt"
	"strings"
)

// Address is a parsed mailbox of the form local@domain.
type Address struct {
	Local  string
	Domain string
}

// String renders the address as local@domain.
func (a Address) String() string {
	return a.Local + "@" + a.Domain
}

// Path renders the address in the angle-bracket form used by the MAIL
// and RCPT commands: <local@domain>.
func (a Address) Path() string {
	return "<" + a.String() + ">"
}

// specials are the RFC 821 characters excluded from a local-part,
// along with space and tab.
const specials = "<>()[]\\.,;:@\" \t"

// ParseAddress parses a bare mailbox (local@domain). The local-part is
// one or more printable characters excluding specials; the domain is a
// dot-separated sequence of elements, each a letter followed by letters
// and digits.
func ParseAddress(s string) (Address, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return Address{}, fmt.Errorf("mailbox %q: missing @", s)
	}
	local, domain := s[:at], s[at+1:]
	if err := checkLocal(local); err != nil {
		return Address{}, fmt.Errorf("mailbox %q: %w", s, err)
	}
	if err := checkDomain(domain); err != nil {
		return Address{}, fmt.Errorf("mailbox %q: %w", s, err)
	}
	return Address{Local: local, Domain: domain}, nil
}

// ParsePath parses the angle-bracket path form <local@domain>. Source
// routes (<@relay:local@domain>) are not supported and fail to parse.
func ParsePath(s string) (Address, error) {
	if len(s) < 2 || s[0] != '<' || s[len(s)-1] != '>' {
		return Address{}, fmt.Errorf("path %q: angle brackets expected", s)
	}
	return ParseAddress(s[1 : len(s)-1])
}

func checkLocal(local string) error {
	if local == "" {
		return fmt.Errorf("empty local-part")
	}
	for i := 0; i < len(local); i++ {
		c := local[i]
		if c < '!' || c > '~' || strings.IndexByte(specials, c) >= 0 {
			return fmt.Errorf("invalid character %q in local-part", c)
		}
	}
	return nil
}

// checkDomain validates a dot-separated domain where every element
// starts with a letter and continues with letters or digits.
func checkDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("empty domain")
	}
	for _, elem := range strings.Split(domain, ".") {
		if elem == "" {
			return fmt.Errorf("empty domain element")
		}
		if !isLetter(elem[0]) {
			return fmt.Errorf("domain element %q must start with a letter", elem)
		}
		for i := 1; i < len(elem); i++ {
			if !isLetter(elem[i]) && !isDigit(elem[i]) {
				return fmt.Errorf("invalid character %q in domain", elem[i])
			}
		}
	}
	return nil
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
