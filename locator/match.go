package locator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum-optimism/infra/op-webcheck/dom"
)

type matchMode int

const (
	matchSubstring matchMode = iota
	matchExact
	matchPattern
)

// TextMatch matches whitespace-normalized text.
type TextMatch struct {
	mode    matchMode
	value   string
	pattern *regexp.Regexp
	err     error
}

// Substring matches text containing s, ignoring case.
func Substring(s string) TextMatch {
	return TextMatch{mode: matchSubstring, value: dom.NormalizeSpace(s)}
}

// Exact matches text equal to s.
func Exact(s string) TextMatch {
	return TextMatch{mode: matchExact, value: dom.NormalizeSpace(s)}
}

// Pattern matches text against a regular expression. An invalid expression
// makes every locator using it malformed.
func Pattern(expr string) TextMatch {
	re, err := regexp.Compile(expr)
	if err != nil {
		return TextMatch{mode: matchPattern, value: expr, err: err}
	}
	return TextMatch{mode: matchPattern, value: expr, pattern: re}
}

// Regexp matches text against a compiled expression.
func Regexp(re *regexp.Regexp) TextMatch {
	if re == nil {
		return TextMatch{mode: matchPattern, err: fmt.Errorf("nil pattern")}
	}
	return TextMatch{mode: matchPattern, value: re.String(), pattern: re}
}

// Matches reports whether s satisfies the match.
func (m TextMatch) Matches(s string) bool {
	s = dom.NormalizeSpace(s)
	switch m.mode {
	case matchExact:
		return s == m.value
	case matchPattern:
		return m.pattern != nil && m.pattern.MatchString(s)
	default:
		return strings.Contains(strings.ToLower(s), strings.ToLower(m.value))
	}
}

func (m TextMatch) validate() error {
	if m.err != nil {
		return fmt.Errorf("%w: pattern %q: %v", ErrMalformedLocator, m.value, m.err)
	}
	if m.mode != matchPattern && m.value == "" {
		return fmt.Errorf("%w: empty text", ErrMalformedLocator)
	}
	return nil
}

func (m TextMatch) String() string {
	switch m.mode {
	case matchExact:
		return fmt.Sprintf("%q", m.value)
	case matchPattern:
		return "/" + m.value + "/"
	default:
		return fmt.Sprintf("~%q", m.value)
	}
}
