package locator

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/dom"
)

const selectorCacheSize = 512

var selectorCache *lru.Cache[string, cascadia.Selector]

func init() {
	var err error
	selectorCache, err = lru.New[string, cascadia.Selector](selectorCacheSize)
	if err != nil {
		panic(err)
	}
}

func compileSelector(css string) (cascadia.Selector, error) {
	if sel, ok := selectorCache.Get(css); ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(css)
	if err != nil {
		return nil, fmt.Errorf("%w: selector %q: %v", ErrMalformedLocator, css, err)
	}
	selectorCache.Add(css, sel)
	return sel, nil
}

// Resolve returns every element l matches in snap, in document order. Zero
// matches is not an error; only malformed queries fail.
func Resolve(snap *dom.Snapshot, l Locator) ([]*html.Node, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return resolve(snap, l), nil
}

// Unique resolves l to exactly one element.
func Unique(snap *dom.Snapshot, l Locator) (*html.Node, error) {
	nodes, err := Resolve(snap, l)
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, l)
	case 1:
		return nodes[0], nil
	default:
		return nil, &AmbiguousLocatorError{Locator: l.String(), Count: len(nodes)}
	}
}

func resolve(snap *dom.Snapshot, l Locator) []*html.Node {
	var scopes []*html.Node
	if l.parent != nil {
		scopes = resolve(snap, *l.parent)
		if len(scopes) == 0 {
			return nil
		}
	}

	var matches []*html.Node
	if l.kind == KindUnion {
		seen := make(map[*html.Node]bool)
		for _, alt := range l.alts {
			for _, n := range resolve(snap, alt) {
				seen[n] = true
			}
		}
		for _, n := range snap.Elements() {
			if seen[n] && inScopes(n, scopes) {
				matches = append(matches, n)
			}
		}
	} else {
		for _, n := range snap.Elements() {
			if inScopes(n, scopes) && matchOne(snap, l, n) {
				matches = append(matches, n)
			}
		}
		if l.kind == KindText {
			matches = innermost(matches)
		}
	}

	if l.hasText != nil || l.visible != nil {
		filtered := matches[:0:0]
		for _, n := range matches {
			if l.hasText != nil && !l.hasText.Matches(dom.Text(n)) {
				continue
			}
			if l.visible != nil && snap.IsVisible(n) != *l.visible {
				continue
			}
			filtered = append(filtered, n)
		}
		matches = filtered
	}

	if l.pick == pickNth {
		i := l.pickSpec
		if i < 0 {
			i += len(matches)
		}
		if i < 0 || i >= len(matches) {
			return nil
		}
		return matches[i : i+1]
	}
	return matches
}

func inScopes(n *html.Node, scopes []*html.Node) bool {
	if scopes == nil {
		return true
	}
	for _, s := range scopes {
		if dom.Contains(s, n) {
			return true
		}
	}
	return false
}

func matchOne(snap *dom.Snapshot, l Locator, n *html.Node) bool {
	switch l.kind {
	case KindSelector:
		sel, err := compileSelector(l.selector)
		return err == nil && sel.Match(n)
	case KindRole:
		if dom.Role(n) != l.role {
			return false
		}
		if !l.includeHidden && !snap.IsVisible(n) {
			return false
		}
		return l.name == nil || l.name.Matches(snap.AccessibleName(n))
	case KindText:
		return dom.Renderable(n) && l.text.Matches(dom.Text(n))
	case KindAttribute:
		v, ok := dom.LookupAttr(n, l.attr)
		return ok && v == l.attrValue
	case KindLabel:
		for _, t := range snap.LabelText(n) {
			if l.text.Matches(t) {
				return true
			}
		}
		return false
	case KindPlaceholder:
		v, ok := dom.LookupAttr(n, "placeholder")
		return ok && l.text.Matches(v)
	case KindFocused:
		return n == snap.Focused()
	}
	return false
}

// innermost drops matches that contain another match.
func innermost(nodes []*html.Node) []*html.Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		inner := true
		for _, m := range nodes {
			if m != n && dom.Contains(n, m) {
				inner = false
				break
			}
		}
		if inner {
			out = append(out, n)
		}
	}
	return out
}
