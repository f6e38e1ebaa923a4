package dom

import (
	"fmt"
	"slices"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Matcher is satisfied by compiled CSS selectors.
type Matcher interface {
	Match(n *html.Node) bool
}

// QueryAll returns the elements matching m in document order. A nil scope
// searches the whole document; otherwise only strict descendants of scope.
func (s *Snapshot) QueryAll(m Matcher, scope *html.Node) []*html.Node {
	var out []*html.Node
	for _, n := range s.elements {
		if scope != nil && !Contains(scope, n) {
			continue
		}
		if m.Match(n) {
			out = append(out, n)
		}
	}
	return out
}

// Select compiles sel and returns matches in document order.
func (s *Snapshot) Select(sel string) ([]*html.Node, error) {
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return s.QueryAll(m, nil), nil
}

// CSSPath returns a selector addressing n, anchored at the nearest ancestor
// carrying a unique id.
func (s *Snapshot) CSSPath(n *html.Node) string {
	var parts []string
	for c := n; c != nil && c.Type == html.ElementNode; c = c.Parent {
		if id := Attr(c, "id"); isIdent(id) && s.uniqueID(id) {
			parts = append(parts, "#"+id)
			break
		}
		part := c.Data
		if idx, count := nthOfType(c); count > 1 {
			part += fmt.Sprintf(":nth-of-type(%d)", idx)
		}
		parts = append(parts, part)
	}
	slices.Reverse(parts)
	return strings.Join(parts, " > ")
}

func (s *Snapshot) uniqueID(id string) bool {
	count := 0
	for _, n := range s.elements {
		if Attr(n, "id") == id {
			count++
		}
	}
	return count == 1
}

func nthOfType(n *html.Node) (idx, count int) {
	if n.Parent == nil {
		return 1, 1
	}
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != n.Data {
			continue
		}
		count++
		if c == n {
			idx = count
		}
	}
	return idx, count
}

func isIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
