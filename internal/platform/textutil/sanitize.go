// Package textutil cleans customer supplied free text before it is stored.
package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips every HTML element from input and collapses control characters.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds a Sanitizer using the strict (no markup) policy.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize removes markup, trims whitespace and truncates to limit runes. A limit <= 0 keeps the
// full value.
func (s *Sanitizer) Sanitize(value string, limit int) string {
	if s == nil || s.policy == nil {
		s = NewSanitizer()
	}
	cleaned := html.UnescapeString(s.policy.Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r):
			return -1
		default:
			return r
		}
	}, cleaned)
	cleaned = strings.TrimSpace(cleaned)
	if limit > 0 {
		if runes := []rune(cleaned); len(runes) > limit {
			cleaned = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return cleaned
}
