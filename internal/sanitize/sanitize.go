// Package sanitize strips HTML and control characters from user-authored
// plaintext before it is stored or broadcast. It only ever touches
// plaintext surfaces (global, trivia-live, private) — E2EE ciphertext is
// opaque to the server and never passes through here.
package sanitize

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = bluemonday.StrictPolicy()

// Message strips all HTML tags (rather than escaping them) and any
// non-printable character outside of \n, \r, \t, then trims surrounding
// whitespace. An input that sanitizes down to nothing yields "" — callers
// treat that the same as an originally empty message.
func Message(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return ""
	}

	cleaned = htmlPolicy.Sanitize(cleaned)

	var b strings.Builder
	b.Grow(len(cleaned))
	for _, r := range cleaned {
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
		}
	}

	return strings.TrimSpace(b.String())
}
