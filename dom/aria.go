package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Role returns the explicit role attribute of n, falling back to its implicit
// ARIA role.
func Role(n *html.Node) string {
	if explicit := strings.Fields(Attr(n, "role")); len(explicit) > 0 {
		return strings.ToLower(explicit[0])
	}
	return implicitRole(n)
}

func implicitRole(n *html.Node) string {
	switch n.Data {
	case "a", "area":
		if hasAttr(n, "href") {
			return "link"
		}
	case "button", "summary":
		return "button"
	case "input":
		return inputRole(n)
	case "textarea":
		return "textbox"
	case "select":
		if hasAttr(n, "multiple") || parsePx(Attr(n, "size")) > 1 {
			return "listbox"
		}
		return "combobox"
	case "option":
		return "option"
	case "img":
		if alt, ok := LookupAttr(n, "alt"); ok && alt == "" {
			return "presentation"
		}
		return "img"
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "nav":
		return "navigation"
	case "main":
		return "main"
	case "header":
		return "banner"
	case "footer":
		return "contentinfo"
	case "aside":
		return "complementary"
	case "form":
		return "form"
	case "section":
		if hasAttr(n, "aria-label") || hasAttr(n, "aria-labelledby") {
			return "region"
		}
	case "ul", "ol", "menu":
		return "list"
	case "li":
		return "listitem"
	case "table":
		return "table"
	case "tr":
		return "row"
	case "td":
		return "cell"
	case "th":
		return "columnheader"
	case "dialog":
		return "dialog"
	case "article":
		return "article"
	case "progress":
		return "progressbar"
	case "hr":
		return "separator"
	case "fieldset", "details":
		return "group"
	}
	return ""
}

func inputRole(n *html.Node) string {
	switch strings.ToLower(Attr(n, "type")) {
	case "button", "submit", "reset", "image":
		return "button"
	case "checkbox":
		return "checkbox"
	case "radio":
		return "radio"
	case "range":
		return "slider"
	case "number":
		return "spinbutton"
	case "search":
		if hasAttr(n, "list") {
			return "combobox"
		}
		return "searchbox"
	case "hidden", "file", "color", "date", "datetime-local", "month", "time", "week":
		return ""
	default:
		if hasAttr(n, "list") {
			return "combobox"
		}
		return "textbox"
	}
}

// nameFromContent lists roles whose accessible name may come from descendants.
var nameFromContent = map[string]bool{
	"button": true, "link": true, "heading": true, "cell": true, "columnheader": true,
	"option": true, "tab": true, "menuitem": true, "checkbox": true, "radio": true,
	"listitem": true, "tooltip": true, "switch": true, "treeitem": true, "row": true,
}

// IsLabelable reports whether n can be associated with a label element.
func IsLabelable(n *html.Node) bool {
	switch n.Data {
	case "input":
		return !strings.EqualFold(Attr(n, "type"), "hidden")
	case "select", "textarea", "button", "meter", "output", "progress":
		return true
	}
	return false
}

// Labels returns the label elements associated with n.
func (s *Snapshot) Labels(n *html.Node) []*html.Node {
	if !IsLabelable(n) {
		return nil
	}
	var labels []*html.Node
	id := Attr(n, "id")
	for _, l := range s.elements {
		if l.Data != "label" {
			continue
		}
		if f, ok := LookupAttr(l, "for"); ok {
			if id != "" && f == id {
				labels = append(labels, l)
			}
			continue
		}
		if Contains(l, n) && firstLabelable(l) == n {
			labels = append(labels, l)
		}
	}
	return labels
}

func firstLabelable(label *html.Node) *html.Node {
	var found *html.Node
	walkElements(label, func(c *html.Node) bool {
		if IsLabelable(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

// LabelText returns the text of every label associated with n, including
// aria-labelledby references and aria-label.
func (s *Snapshot) LabelText(n *html.Node) []string {
	var out []string
	if ref := s.labelledByText(n); ref != "" {
		out = append(out, ref)
	}
	if l := NormalizeSpace(Attr(n, "aria-label")); l != "" {
		out = append(out, l)
	}
	for _, l := range s.Labels(n) {
		if t := s.labelOwnText(l, n); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// labelOwnText is the label text excluding the value of the control it wraps.
func (s *Snapshot) labelOwnText(label, control *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c == control {
			return
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
			return
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(label)
	return NormalizeSpace(b.String())
}

func (s *Snapshot) labelledByText(n *html.Node) string {
	ids := strings.Fields(Attr(n, "aria-labelledby"))
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if ref := s.ElementByID(id); ref != nil {
			parts = append(parts, Text(ref))
		}
	}
	return NormalizeSpace(strings.Join(parts, " "))
}

// AccessibleName computes a simplified accessible name for n.
func (s *Snapshot) AccessibleName(n *html.Node) string {
	if name := s.labelledByText(n); name != "" {
		return name
	}
	if name := NormalizeSpace(Attr(n, "aria-label")); name != "" {
		return name
	}
	switch n.Data {
	case "input":
		switch strings.ToLower(Attr(n, "type")) {
		case "button", "submit", "reset":
			if v := NormalizeSpace(Attr(n, "value")); v != "" {
				return v
			}
			if strings.EqualFold(Attr(n, "type"), "submit") {
				return "Submit"
			}
			if strings.EqualFold(Attr(n, "type"), "reset") {
				return "Reset"
			}
		case "image":
			if alt := NormalizeSpace(Attr(n, "alt")); alt != "" {
				return alt
			}
		}
		fallthrough
	case "select", "textarea":
		for _, l := range s.Labels(n) {
			if t := s.labelOwnText(l, n); t != "" {
				return t
			}
		}
		if t := NormalizeSpace(Attr(n, "title")); t != "" {
			return t
		}
		return NormalizeSpace(Attr(n, "placeholder"))
	case "img", "area":
		if alt := NormalizeSpace(Attr(n, "alt")); alt != "" {
			return alt
		}
		return NormalizeSpace(Attr(n, "title"))
	}
	if nameFromContent[Role(n)] {
		if t := s.contentName(n); t != "" {
			return t
		}
	}
	return NormalizeSpace(Attr(n, "title"))
}

// contentName concatenates descendant text, using img alt text in place of images.
func (s *Snapshot) contentName(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			return
		case html.ElementNode:
			if neverRendered[c.Data] || Attr(c, "aria-hidden") == "true" {
				return
			}
			if c.Data == "img" {
				b.WriteString(" " + Attr(c, "alt") + " ")
				return
			}
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return NormalizeSpace(b.String())
}
