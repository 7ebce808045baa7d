// Package subscriber holds the subscriber-side value types read by the
// publishing and delivery paths. Signup and confirmation live elsewhere.
package subscriber

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalidEmail is returned by ParseEmail for any malformed address.
var ErrInvalidEmail = errors.New("invalid subscriber email")

// Email is a syntactically valid bare address such as "ursula@example.com".
type Email struct {
	addr string
}

// ParseEmail validates s as a bare RFC 5322 address with a dotted domain.
// Display-name forms like "Ursula <ursula@example.com>" are rejected.
func ParseEmail(s string) (Email, error) {
	if strings.TrimSpace(s) != s || s == "" {
		return Email{}, fmt.Errorf("%w: %q", ErrInvalidEmail, s)
	}

	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return Email{}, fmt.Errorf("%w: %q: %v", ErrInvalidEmail, s, err)
	}
	if parsed.Name != "" || parsed.Address != s {
		return Email{}, fmt.Errorf("%w: %q is not a bare address", ErrInvalidEmail, s)
	}

	e := Email{addr: s}
	if !isValidDomain(e.Domain()) {
		return Email{}, fmt.Errorf("%w: %q has an invalid domain", ErrInvalidEmail, s)
	}
	return e, nil
}

// String returns the address.
func (e Email) String() string { return e.addr }

// Local returns the part before the last "@".
func (e Email) Local() string {
	i := strings.LastIndexByte(e.addr, '@')
	if i < 0 {
		return e.addr
	}
	return e.addr[:i]
}

// Domain returns the part after the last "@".
func (e Email) Domain() string {
	i := strings.LastIndexByte(e.addr, '@')
	if i < 0 {
		return ""
	}
	return e.addr[i+1:]
}

func isValidDomain(domain string) bool {
	if domain == "" {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	if strings.Contains(domain, "..") {
		return false
	}
	return strings.Contains(domain, ".")
}
