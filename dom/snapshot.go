// Package dom models a point-in-time snapshot of a page document. Snapshots are
// immutable; every query re-reads the live page by taking a new one.
package dom

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ErrStaleElement is returned when an ElementRef outlives the navigation it was
// resolved in.
var ErrStaleElement = errors.New("element reference is stale")

// Rect is an element's layout box in CSS pixels
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NodeInfo is the live state of an element that is not part of its markup
type NodeInfo struct {
	ID      int64
	Visible bool
	Value   string
	Checked bool
	Box     Rect
	Style   map[string]string
}

// ElementRef points at one element of one navigation generation.
type ElementRef struct {
	Generation uint64
	NodeID     int64
}

func (r ElementRef) String() string {
	return fmt.Sprintf("element#%d@%d", r.NodeID, r.Generation)
}

// Snapshot is a parsed copy of the page document plus per-element state.
type Snapshot struct {
	Root       *html.Node
	URL        string
	Title      string
	Generation uint64

	focused  int64
	elements []*html.Node
	info     map[*html.Node]*NodeInfo
	byID     map[int64]*html.Node
}

func newSnapshot(root *html.Node, url, title string, gen uint64, focused int64) *Snapshot {
	return &Snapshot{
		Root:       root,
		URL:        url,
		Title:      title,
		Generation: gen,
		focused:    focused,
		info:       make(map[*html.Node]*NodeInfo),
		byID:       make(map[int64]*html.Node),
	}
}

func (s *Snapshot) add(n *html.Node, info *NodeInfo) {
	s.elements = append(s.elements, n)
	s.info[n] = info
	s.byID[info.ID] = n
}

// Elements returns every element in document order.
func (s *Snapshot) Elements() []*html.Node {
	return s.elements
}

// Info returns the live state recorded for n.
func (s *Snapshot) Info(n *html.Node) NodeInfo {
	if info, ok := s.info[n]; ok {
		return *info
	}
	return NodeInfo{}
}

// Node looks up an element by its snapshot-stable ID.
func (s *Snapshot) Node(id int64) (*html.Node, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// Ref returns a reference to n that is valid until the next navigation.
func (s *Snapshot) Ref(n *html.Node) ElementRef {
	return ElementRef{Generation: s.Generation, NodeID: s.Info(n).ID}
}

// Resolve maps ref back onto this snapshot.
func (s *Snapshot) Resolve(ref ElementRef) (*html.Node, error) {
	if ref.Generation != s.Generation {
		return nil, fmt.Errorf("%w: %s resolved before navigation %d", ErrStaleElement, ref, s.Generation)
	}
	n, ok := s.byID[ref.NodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s was removed from the document", ErrStaleElement, ref)
	}
	return n, nil
}

// Focused returns the element holding keyboard focus, if any.
func (s *Snapshot) Focused() *html.Node {
	if s.focused == 0 {
		return nil
	}
	return s.byID[s.focused]
}

// IsVisible reports whether n is rendered and not hidden.
func (s *Snapshot) IsVisible(n *html.Node) bool {
	return s.Info(n).Visible
}

// Value returns the current form value of n.
func (s *Snapshot) Value(n *html.Node) string {
	return s.Info(n).Value
}

// ElementByID returns the first element whose id attribute equals id.
func (s *Snapshot) ElementByID(id string) *html.Node {
	if id == "" {
		return nil
	}
	for _, n := range s.elements {
		if Attr(n, "id") == id {
			return n
		}
	}
	return nil
}

// Attr returns the value of the named attribute or "".
func Attr(n *html.Node, name string) string {
	v, _ := LookupAttr(n, name)
	return v
}

// LookupAttr returns the named attribute and whether it is present.
func LookupAttr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// IsElement reports whether n is an element node with the given tag, or any
// element when no tags are given.
func IsElement(n *html.Node, tags ...string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if n.Data == t {
			return true
		}
	}
	return false
}

// Contains reports whether n is a strict descendant of ancestor.
func Contains(ancestor, n *html.Node) bool {
	if ancestor == nil || n == nil {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}
