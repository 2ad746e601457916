// Package secret holds in-memory credentials and their masked display forms.
package secret

import "strings"

const (
	maskPrefixLen = 4
	maskSuffixLen = 2
)

// Token is a scoped, single-use credential. The raw value lives only in
// memory: it is handed to the Git transport, never written to disk, argv, or
// the environment, and callers zero it with Destroy when the operation that
// needed it completes. Logs must only ever carry String/Mask output.
type Token struct {
	value []byte
}

// NewToken wraps a raw credential value.
func NewToken(value string) *Token {
	return &Token{value: []byte(value)}
}

// Value returns the raw credential. Callers must not retain or log it.
func (t *Token) Value() string {
	if t == nil {
		return ""
	}
	return string(t.value)
}

// IsZero reports whether the token is empty or already destroyed.
func (t *Token) IsZero() bool {
	return t == nil || len(t.value) == 0
}

// Destroy overwrites the credential bytes. Safe to call multiple times.
func (t *Token) Destroy() {
	if t == nil {
		return
	}
	for i := range t.value {
		t.value[i] = 0
	}
	t.value = nil
}

// String returns the masked form, so accidental formatting of a Token never
// leaks the raw value.
func (t *Token) String() string {
	return Mask(t.Value())
}

// Mask reduces a secret to a first-4/last-2 display form. Values too short to
// keep any characters hidden are fully redacted.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= maskPrefixLen+maskSuffixLen+2 {
		return strings.Repeat("*", 8)
	}
	return value[:maskPrefixLen] + "****" + value[len(value)-maskSuffixLen:]
}
