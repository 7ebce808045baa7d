package idempotency

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxKeyLength bounds the key size in characters.
const MaxKeyLength = 50

// ErrInvalidKey is a client error: the request is rejected before any
// transaction is opened.
var ErrInvalidKey = errors.New("invalid idempotency key")

// Key is a validated client-supplied idempotency key.
type Key string

// ParseKey trims s and checks it is non-empty valid UTF-8 text of at most
// MaxKeyLength characters with no NUL bytes, which a text column rejects.
func ParseKey(s string) (Key, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidKey)
	}
	if strings.ContainsRune(s, 0) {
		return "", fmt.Errorf("%w: contains a NUL byte", ErrInvalidKey)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: must not be empty", ErrInvalidKey)
	}
	if n := utf8.RuneCountInString(s); n > MaxKeyLength {
		return "", fmt.Errorf("%w: %d characters exceeds limit of %d", ErrInvalidKey, n, MaxKeyLength)
	}
	return Key(s), nil
}

func (k Key) String() string { return string(k) }
