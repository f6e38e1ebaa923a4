package dom

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BuildOptions describes the page a live tree belongs to.
type BuildOptions struct {
	URL        string
	Title      string
	Generation uint64
	// Focused is the live node holding focus, or nil.
	Focused *html.Node
	// IDs assigns stable element IDs. Defaults to document order starting at 1.
	IDs func(*html.Node) int64
}

// Parse builds a snapshot from markup, deriving element state from attributes
// and inline styles.
func Parse(src, url string, generation uint64) (*Snapshot, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return Build(root, BuildOptions{URL: url, Generation: generation}), nil
}

// Build copies a live tree into a snapshot. Later mutations of root do not
// affect the returned snapshot.
func Build(root *html.Node, opts BuildOptions) *Snapshot {
	var seq int64
	ids := opts.IDs
	if ids == nil {
		ids = func(*html.Node) int64 {
			seq++
			return seq
		}
	}

	mapping := make(map[*html.Node]*html.Node)
	copied := cloneTree(root, mapping)

	var focused int64
	snap := newSnapshot(copied, opts.URL, opts.Title, opts.Generation, 0)
	var walk func(live *html.Node, parentVisible bool)
	walk = func(live *html.Node, parentVisible bool) {
		visible := parentVisible
		if live.Type == html.ElementNode {
			visible = parentVisible && !hiddenSelf(live)
			style := ParseStyle(Attr(live, "style"))
			info := &NodeInfo{
				ID:      ids(live),
				Visible: visible,
				Value:   staticValue(live),
				Checked: hasAttr(live, "checked"),
				Box:     staticBox(style),
				Style:   style,
			}
			if live == opts.Focused {
				focused = info.ID
			}
			snap.add(mapping[live], info)
		}
		for c := live.FirstChild; c != nil; c = c.NextSibling {
			walk(c, visible)
		}
	}
	walk(root, true)
	snap.focused = focused

	if snap.Title == "" {
		for _, n := range snap.elements {
			if n.Data == "title" {
				snap.Title = Text(n)
				break
			}
		}
	}
	return snap
}

func cloneTree(n *html.Node, mapping map[*html.Node]*html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	mapping[n] = c
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(cloneTree(ch, mapping))
	}
	return c
}

var neverRendered = map[string]bool{
	"head": true, "script": true, "style": true, "template": true, "title": true,
	"meta": true, "link": true, "noscript": true, "base": true,
}

func hiddenSelf(n *html.Node) bool {
	if neverRendered[n.Data] || hasAttr(n, "hidden") {
		return true
	}
	if n.Data == "input" && strings.EqualFold(Attr(n, "type"), "hidden") {
		return true
	}
	if n.Data == "dialog" && !hasAttr(n, "open") {
		return true
	}
	style := ParseStyle(Attr(n, "style"))
	return style["display"] == "none" || style["visibility"] == "hidden"
}

func staticValue(n *html.Node) string {
	switch n.Data {
	case "input":
		return Attr(n, "value")
	case "textarea":
		return Text(n)
	case "select":
		var first string
		var found bool
		walkElements(n, func(o *html.Node) bool {
			if o.Data != "option" {
				return true
			}
			v, ok := LookupAttr(o, "value")
			if !ok {
				v = Text(o)
			}
			if !found {
				first, found = v, true
			}
			if hasAttr(o, "selected") {
				first = v
				return false
			}
			return true
		})
		return first
	}
	return ""
}

func staticBox(style map[string]string) Rect {
	return Rect{Width: parsePx(style["width"]), Height: parsePx(style["height"])}
}

func parsePx(v string) float64 {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := LookupAttr(n, name)
	return ok
}

// walkElements visits element descendants of n in document order until fn
// returns false.
func walkElements(n *html.Node, fn func(*html.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && !fn(c) {
			return false
		}
		if !walkElements(c, fn) {
			return false
		}
	}
	return true
}

// ParseStyle splits an inline style attribute into lowercased properties.
func ParseStyle(style string) map[string]string {
	out := make(map[string]string)
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

// SerializedNode is the wire shape a remote page reports its document in.
type SerializedNode struct {
	ID       int64             `json:"id"`
	Tag      string            `json:"tag,omitempty"`
	Text     string            `json:"text,omitempty"`
	Attrs    [][2]string       `json:"attrs,omitempty"`
	Visible  bool              `json:"visible,omitempty"`
	Value    string            `json:"value,omitempty"`
	Checked  bool              `json:"checked,omitempty"`
	Box      *Rect             `json:"box,omitempty"`
	Style    map[string]string `json:"style,omitempty"`
	Children []SerializedNode  `json:"children,omitempty"`
}

// SerializedDocument is a whole serialized page.
type SerializedDocument struct {
	URL     string         `json:"url"`
	Title   string         `json:"title"`
	Focused int64          `json:"focused"`
	Root    SerializedNode `json:"root"`
}

// FromSerialized rebuilds a snapshot from a remote page's serialization.
func FromSerialized(doc SerializedDocument, generation uint64) *Snapshot {
	root := &html.Node{Type: html.DocumentNode}
	snap := newSnapshot(root, doc.URL, doc.Title, generation, doc.Focused)
	var build func(parent *html.Node, sn SerializedNode)
	build = func(parent *html.Node, sn SerializedNode) {
		if sn.Tag == "" {
			parent.AppendChild(&html.Node{Type: html.TextNode, Data: sn.Text})
			return
		}
		tag := strings.ToLower(sn.Tag)
		n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
		for _, kv := range sn.Attrs {
			n.Attr = append(n.Attr, html.Attribute{Key: kv[0], Val: kv[1]})
		}
		parent.AppendChild(n)
		info := &NodeInfo{
			ID:      sn.ID,
			Visible: sn.Visible,
			Value:   sn.Value,
			Checked: sn.Checked,
			Style:   sn.Style,
		}
		if sn.Box != nil {
			info.Box = *sn.Box
		}
		snap.add(n, info)
		for _, c := range sn.Children {
			build(n, c)
		}
	}
	build(root, doc.Root)
	return snap
}

// Renderable reports whether elements with n's tag can ever be rendered.
func Renderable(n *html.Node) bool {
	return !neverRendered[n.Data]
}
