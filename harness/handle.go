package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Handle is a locator bound to a T. It re-resolves against the live page on
// every call.
type Handle struct {
	t   *T
	loc locator.Locator
}

// Locator returns a handle for a CSS selector.
func (t *T) Locator(css string) Handle {
	return t.Handle(locator.Selector(css))
}

// Handle binds an arbitrary locator.
func (t *T) Handle(l locator.Locator) Handle {
	return Handle{t: t, loc: l}
}

// GetByRole finds elements by ARIA role.
func (t *T) GetByRole(role string, opts ...locator.RoleOption) Handle {
	return t.Handle(locator.Role(role, opts...))
}

// GetByText finds the innermost elements whose text contains text.
func (t *T) GetByText(text string) Handle {
	return t.Handle(locator.Text(locator.Substring(text)))
}

// GetByLabel finds form controls by label text.
func (t *T) GetByLabel(text string) Handle {
	return t.Handle(locator.Label(locator.Substring(text)))
}

// GetByPlaceholder finds inputs by placeholder.
func (t *T) GetByPlaceholder(text string) Handle {
	return t.Handle(locator.Placeholder(locator.Substring(text)))
}

// GetByTestID finds elements by data-testid.
func (t *T) GetByTestID(id string) Handle {
	return t.Handle(locator.TestID(id))
}

// Focused returns a handle on whatever holds focus.
func (t *T) Focused() Handle {
	return t.Handle(locator.Focused())
}

// Descriptor returns the locator behind h.
func (h Handle) Descriptor() locator.Locator { return h.loc }

func (h Handle) String() string { return h.loc.String() }

// Locator narrows h to descendants matching css.
func (h Handle) Locator(css string) Handle {
	return h.Within(locator.Selector(css))
}

// Within narrows h to descendants matching l.
func (h Handle) Within(l locator.Locator) Handle {
	return Handle{t: h.t, loc: h.loc.Locator(l)}
}

// Or matches elements of either handle.
func (h Handle) Or(other Handle) Handle {
	return Handle{t: h.t, loc: h.loc.Or(other.loc)}
}

// FilterText keeps matches whose text contains text.
func (h Handle) FilterText(text string) Handle {
	return Handle{t: h.t, loc: h.loc.FilterText(locator.Substring(text))}
}

// Visible keeps visible matches only.
func (h Handle) Visible() Handle {
	return Handle{t: h.t, loc: h.loc.FilterVisible(true)}
}

func (h Handle) First() Handle    { return Handle{t: h.t, loc: h.loc.First()} }
func (h Handle) Last() Handle     { return Handle{t: h.t, loc: h.loc.Last()} }
func (h Handle) Nth(i int) Handle { return Handle{t: h.t, loc: h.loc.Nth(i)} }

// resolveAll snapshots the page and resolves h.
func (h Handle) resolveAll(ctx context.Context) (*dom.Snapshot, []*html.Node, error) {
	h.t.touch(h.loc)
	snap, err := h.t.session.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	nodes, err := locator.Resolve(snap, h.loc)
	return snap, nodes, err
}

func (h Handle) resolveOne(ctx context.Context) (*dom.Snapshot, *html.Node, error) {
	h.t.touch(h.loc)
	snap, err := h.t.session.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	n, err := locator.Unique(snap, h.loc)
	return snap, n, err
}

// actionable is what an action requires of its element before dispatch.
type actionable struct {
	visible  bool
	enabled  bool
	editable bool
}

// act waits until h resolves to one element meeting req, then dispatches
// action. Stale references and missing elements are retried until the
// action timeout.
func (h Handle) act(action browser.Action, req actionable) {
	t := h.t
	waiter := t.opts.Expect.WithTimeout(t.opts.ActionTimeout)
	op := string(action.Kind)
	err := waiter.For(t.ctx, op, func(ctx context.Context) (bool, error) {
		snap, n, err := h.resolveOne(ctx)
		if err != nil {
			return false, err
		}
		if req.visible && !snap.IsVisible(n) {
			return false, fmt.Errorf("element is not visible")
		}
		if req.enabled && disabled(n) {
			return false, fmt.Errorf("element is disabled")
		}
		if req.editable && !editable(n) {
			return false, &types.AssertionError{Message: fmt.Sprintf("<%s> is not editable", n.Data), Locator: h.loc.String()}
		}
		if err := t.session.Act(ctx, snap.Ref(n), action); err != nil {
			if errors.Is(err, dom.ErrStaleElement) || types.IsInfrastructure(err) {
				return false, err
			}
			return false, fmt.Errorf("%s: %w", op, err)
		}
		return true, nil
	})
	var timeout *types.TimeoutError
	if errors.As(err, &timeout) && timeout.Locator == "" {
		timeout.Locator = h.loc.String()
	}
	t.Must(err)
}

// Click clicks the element.
func (h Handle) Click() {
	h.act(browser.Action{Kind: browser.ActionClick}, actionable{visible: true, enabled: true})
}

// Fill replaces the element's value with value.
func (h Handle) Fill(value string) {
	h.act(browser.Action{Kind: browser.ActionFill, Value: value}, actionable{visible: true, enabled: true, editable: true})
}

// Clear empties the element's value.
func (h Handle) Clear() {
	h.act(browser.Action{Kind: browser.ActionClear}, actionable{visible: true, enabled: true, editable: true})
}

// Press focuses the element and presses key.
func (h Handle) Press(key string) {
	h.act(browser.Action{Kind: browser.ActionPress, Value: key}, actionable{visible: true})
}

// Focus moves focus to the element.
func (h Handle) Focus() {
	h.act(browser.Action{Kind: browser.ActionFocus}, actionable{})
}

// Hover moves the pointer over the element.
func (h Handle) Hover() {
	h.act(browser.Action{Kind: browser.ActionHover}, actionable{visible: true})
}

// Check checks a checkbox or radio button.
func (h Handle) Check() {
	h.act(browser.Action{Kind: browser.ActionCheck}, actionable{visible: true, enabled: true})
}

// SelectOption selects the option with the given value.
func (h Handle) SelectOption(value string) {
	h.act(browser.Action{Kind: browser.ActionSelect, Value: value}, actionable{visible: true, enabled: true})
}

// read waits until h resolves to exactly one element and returns it.
func (h Handle) read(op string) (*dom.Snapshot, *html.Node) {
	t := h.t
	var snap *dom.Snapshot
	var node *html.Node
	waiter := t.opts.Expect.WithTimeout(t.opts.ActionTimeout)
	err := waiter.For(t.ctx, op, func(ctx context.Context) (bool, error) {
		s, n, err := h.resolveOne(ctx)
		if err != nil {
			return false, err
		}
		snap, node = s, n
		return true, nil
	})
	var timeout *types.TimeoutError
	if errors.As(err, &timeout) && timeout.Locator == "" {
		timeout.Locator = h.loc.String()
	}
	t.Must(err)
	return snap, node
}

// TextContent returns the element's text.
func (h Handle) TextContent() string {
	snap, n := h.read("text content")
	return dom.NormalizeSpace(snap.VisibleText(n))
}

// InputValue returns the element's current form value.
func (h Handle) InputValue() string {
	snap, n := h.read("input value")
	return snap.Value(n)
}

// GetAttribute returns an attribute of the element.
func (h Handle) GetAttribute(name string) (string, bool) {
	_, n := h.read("get attribute")
	return dom.LookupAttr(n, name)
}

// BoundingBox returns the element's layout box.
func (h Handle) BoundingBox() dom.Rect {
	snap, n := h.read("bounding box")
	return snap.Info(n).Box
}

// ComputedStyle returns a style property of the element, or "".
func (h Handle) ComputedStyle(prop string) string {
	snap, n := h.read("computed style")
	return snap.Info(n).Style[strings.ToLower(prop)]
}

// IsVisible reports whether the element is visible right now. It does not
// wait; a locator matching nothing is not visible.
func (h Handle) IsVisible() bool {
	snap, nodes, err := h.resolveAll(h.t.ctx)
	h.t.Must(err)
	switch len(nodes) {
	case 0:
		return false
	case 1:
		return snap.IsVisible(nodes[0])
	}
	h.t.Fatal(&locator.AmbiguousLocatorError{Locator: h.loc.String(), Count: len(nodes)})
	return false
}

// Count returns the number of matches right now. It never fails on ambiguity.
func (h Handle) Count() int {
	_, nodes, err := h.resolveAll(h.t.ctx)
	h.t.Must(err)
	return len(nodes)
}

// All returns one handle per current match, in document order.
func (h Handle) All() []Handle {
	n := h.Count()
	out := make([]Handle, n)
	for i := range n {
		out[i] = h.Nth(i)
	}
	return out
}

func disabled(n *html.Node) bool {
	if _, ok := dom.LookupAttr(n, "disabled"); ok {
		return true
	}
	return dom.Attr(n, "aria-disabled") == "true"
}

func editable(n *html.Node) bool {
	if _, ok := dom.LookupAttr(n, "readonly"); ok {
		return false
	}
	switch n.Data {
	case "textarea", "select":
		return true
	case "input":
		switch strings.ToLower(dom.Attr(n, "type")) {
		case "checkbox", "radio", "submit", "button", "reset", "image", "file", "hidden":
			return false
		}
		return true
	}
	v := dom.Attr(n, "contenteditable")
	return v == "" && hasContentEditable(n) || v == "true"
}

func hasContentEditable(n *html.Node) bool {
	_, ok := dom.LookupAttr(n, "contenteditable")
	return ok
}
