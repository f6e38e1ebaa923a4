package network

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Matcher decides whether a rule applies to a request URL.
type Matcher interface {
	MatchURL(u string) bool
	String() string
}

// Pattern is a URL glob. "**" matches any run of characters, "*" matches any
// run without "/", "?" matches one character other than "/", and "{a,b}"
// matches either alternative. A pattern starting with "/" is resolved
// against the router's base URL.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

// ParseGlob compiles a URL glob.
func ParseGlob(glob string) (*Pattern, error) {
	if glob == "" {
		return nil, fmt.Errorf("empty url pattern")
	}
	var b strings.Builder
	b.WriteString("^")
	inGroup := false
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case c == '*' && i+1 < len(glob) && glob[i+1] == '*':
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		case c == '{' && !inGroup:
			inGroup = true
			b.WriteString("(?:")
		case c == '}' && inGroup:
			inGroup = false
			b.WriteString(")")
		case c == ',' && inGroup:
			b.WriteString("|")
		case c == '\\' && i+1 < len(glob):
			i++
			b.WriteString(regexp.QuoteMeta(string(glob[i])))
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if inGroup {
		return nil, fmt.Errorf("url pattern %q: unterminated group", glob)
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("url pattern %q: %w", glob, err)
	}
	return &Pattern{raw: glob, re: re}, nil
}

// MustGlob is like ParseGlob but panics on error.
func MustGlob(glob string) *Pattern {
	p, err := ParseGlob(glob)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) MatchURL(u string) bool {
	return p.re.MatchString(u)
}

func (p *Pattern) String() string {
	return p.raw
}

type regexpMatcher struct {
	re *regexp.Regexp
}

// Regexp matches URLs against re anywhere in the string.
func Regexp(re *regexp.Regexp) Matcher {
	return regexpMatcher{re: re}
}

func (m regexpMatcher) MatchURL(u string) bool { return m.re.MatchString(u) }
func (m regexpMatcher) String() string         { return "/" + m.re.String() + "/" }

type funcMatcher struct {
	name string
	fn   func(*url.URL) bool
}

// Func matches URLs with an arbitrary predicate over the parsed URL.
func Func(name string, fn func(*url.URL) bool) Matcher {
	return funcMatcher{name: name, fn: fn}
}

func (m funcMatcher) MatchURL(u string) bool {
	parsed, err := url.Parse(u)
	return err == nil && m.fn(parsed)
}

func (m funcMatcher) String() string { return m.name }

func resolveGlob(baseURL, glob string) string {
	if baseURL == "" || !strings.HasPrefix(glob, "/") {
		return glob
	}
	return strings.TrimRight(baseURL, "/") + glob
}
