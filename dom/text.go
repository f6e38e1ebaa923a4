package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Text returns the whitespace-normalized text content of n.
func Text(n *html.Node) string {
	var b strings.Builder
	collectText(n, &b)
	return NormalizeSpace(b.String())
}

// VisibleText is Text restricted to descendants the snapshot marks visible.
func (s *Snapshot) VisibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
		case html.ElementNode:
			if !s.IsVisible(c) {
				return
			}
			fallthrough
		default:
			for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
				walk(ch)
			}
		}
	}
	walk(n)
	return NormalizeSpace(b.String())
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "template") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// NormalizeSpace trims s and collapses internal whitespace runs to one space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
