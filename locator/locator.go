// Package locator resolves declarative element queries against DOM snapshots
// and polls conditions over them until they hold or a deadline passes.
package locator

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind tags the resolution algorithm a Locator uses.
type Kind int

const (
	KindSelector Kind = iota
	KindRole
	KindText
	KindAttribute
	KindLabel
	KindPlaceholder
	KindFocused
	KindUnion
)

func (k Kind) String() string {
	switch k {
	case KindSelector:
		return "selector"
	case KindRole:
		return "role"
	case KindText:
		return "text"
	case KindAttribute:
		return "attribute"
	case KindLabel:
		return "label"
	case KindPlaceholder:
		return "placeholder"
	case KindFocused:
		return "focused"
	case KindUnion:
		return "or"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type pickMode int

const (
	pickAll pickMode = iota
	pickNth
)

// Locator is an immutable query descriptor. It is re-resolved against the
// current document on every use and never caches elements.
type Locator struct {
	kind Kind

	selector      string
	role          string
	name          *TextMatch
	includeHidden bool
	text          TextMatch
	attr          string
	attrValue     string

	parent   *Locator
	alts     []Locator
	hasText  *TextMatch
	visible  *bool
	pick     pickMode
	pickSpec int
}

// Selector matches elements by a CSS selector.
func Selector(css string) Locator {
	css = strings.TrimSpace(css)
	if css == ":focus" {
		return Focused()
	}
	return Locator{kind: KindSelector, selector: css}
}

// RoleOption refines a role query.
type RoleOption func(*Locator)

// Name restricts a role query to elements whose accessible name matches.
func Name(m TextMatch) RoleOption {
	return func(l *Locator) {
		l.name = &m
	}
}

// IncludeHidden lets a role query match elements that are not rendered.
func IncludeHidden() RoleOption {
	return func(l *Locator) {
		l.includeHidden = true
	}
}

// Role matches elements by explicit or implicit ARIA role.
func Role(role string, opts ...RoleOption) Locator {
	l := Locator{kind: KindRole, role: strings.ToLower(strings.TrimSpace(role))}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// Text matches the innermost elements whose text content matches.
func Text(m TextMatch) Locator {
	return Locator{kind: KindText, text: m}
}

// Attribute matches elements whose attribute equals value.
func Attribute(name, value string) Locator {
	return Locator{kind: KindAttribute, attr: strings.ToLower(strings.TrimSpace(name)), attrValue: value}
}

// TestID matches elements by data-testid.
func TestID(id string) Locator {
	return Attribute("data-testid", id)
}

// Label matches form controls by associated label, aria-labelledby or aria-label.
func Label(m TextMatch) Locator {
	return Locator{kind: KindLabel, text: m}
}

// Placeholder matches inputs by placeholder text.
func Placeholder(m TextMatch) Locator {
	return Locator{kind: KindPlaceholder, text: m}
}

// Focused matches the element holding keyboard focus.
func Focused() Locator {
	return Locator{kind: KindFocused}
}

// Kind returns the resolution variant of l.
func (l Locator) Kind() Kind {
	return l.kind
}

// Locator scopes child to descendants of each element l matches.
func (l Locator) Locator(child Locator) Locator {
	if child.parent == nil {
		p := l
		child.parent = &p
		return child
	}
	p := l.Locator(*child.parent)
	child.parent = &p
	return child
}

// Or matches elements matched by l or other, in document order.
func (l Locator) Or(other Locator) Locator {
	return Locator{kind: KindUnion, alts: []Locator{l, other}}
}

// FilterText keeps only matches whose text content matches m.
func (l Locator) FilterText(m TextMatch) Locator {
	l.hasText = &m
	return l
}

// FilterVisible keeps only matches with the given visibility.
func (l Locator) FilterVisible(visible bool) Locator {
	l.visible = &visible
	return l
}

// First picks the first match in document order.
func (l Locator) First() Locator {
	return l.Nth(0)
}

// Last picks the last match in document order.
func (l Locator) Last() Locator {
	return l.Nth(-1)
}

// Nth picks the i-th match; negative indexes count from the end.
func (l Locator) Nth(i int) Locator {
	l.pick = pickNth
	l.pickSpec = i
	return l
}

// Picks reports whether l narrows to a single positional match.
func (l Locator) Picks() bool {
	return l.pick == pickNth
}

var roleToken = regexp.MustCompile(`^[a-z]+$`)

// Validate reports why l can never resolve, wrapping ErrMalformedLocator.
func (l Locator) Validate() error {
	if l.parent != nil {
		if err := l.parent.Validate(); err != nil {
			return err
		}
	}
	if l.hasText != nil {
		if err := l.hasText.validate(); err != nil {
			return err
		}
	}
	switch l.kind {
	case KindSelector:
		if l.selector == "" {
			return fmt.Errorf("%w: empty selector", ErrMalformedLocator)
		}
		if _, err := compileSelector(l.selector); err != nil {
			return err
		}
	case KindRole:
		if !roleToken.MatchString(l.role) {
			return fmt.Errorf("%w: invalid role %q", ErrMalformedLocator, l.role)
		}
		if l.name != nil {
			return l.name.validate()
		}
	case KindText, KindLabel, KindPlaceholder:
		return l.text.validate()
	case KindAttribute:
		if l.attr == "" || strings.ContainsAny(l.attr, " \t\"'=<>/") {
			return fmt.Errorf("%w: invalid attribute name %q", ErrMalformedLocator, l.attr)
		}
	case KindFocused:
	case KindUnion:
		if len(l.alts) == 0 {
			return fmt.Errorf("%w: empty union", ErrMalformedLocator)
		}
		for _, alt := range l.alts {
			if err := alt.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrMalformedLocator, l.kind)
	}
	return nil
}

// String describes l for failure messages.
func (l Locator) String() string {
	var b strings.Builder
	if l.parent != nil {
		b.WriteString(l.parent.String())
		b.WriteString(" >> ")
	}
	switch l.kind {
	case KindSelector:
		fmt.Fprintf(&b, "css=%s", l.selector)
	case KindRole:
		fmt.Fprintf(&b, "role=%s", l.role)
		if l.name != nil {
			fmt.Fprintf(&b, "[name=%s]", l.name)
		}
	case KindText:
		fmt.Fprintf(&b, "text=%s", l.text)
	case KindAttribute:
		fmt.Fprintf(&b, "[%s=%q]", l.attr, l.attrValue)
	case KindLabel:
		fmt.Fprintf(&b, "label=%s", l.text)
	case KindPlaceholder:
		fmt.Fprintf(&b, "placeholder=%s", l.text)
	case KindFocused:
		b.WriteString(":focus")
	case KindUnion:
		parts := make([]string, len(l.alts))
		for i, alt := range l.alts {
			parts[i] = alt.String()
		}
		fmt.Fprintf(&b, "(%s)", strings.Join(parts, " | "))
	}
	if l.hasText != nil {
		fmt.Fprintf(&b, " >> has-text=%s", l.hasText)
	}
	if l.visible != nil {
		fmt.Fprintf(&b, " >> visible=%t", *l.visible)
	}
	if l.pick == pickNth {
		fmt.Fprintf(&b, " >> nth=%d", l.pickSpec)
	}
	return b.String()
}
