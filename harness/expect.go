package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Assertion polls a condition on a handle until it holds or the expect
// timeout elapses. A condition that never holds is an assertion failure.
type Assertion struct {
	h       Handle
	negate  bool
	soft    bool
	timeout time.Duration
}

// Expect starts an assertion on h.
func (t *T) Expect(h Handle) *Assertion {
	return &Assertion{h: h, timeout: t.opts.Expect.Timeout}
}

// Not negates the next matcher.
func (a *Assertion) Not() *Assertion {
	a.negate = !a.negate
	return a
}

// Soft routes a failure through T.Soft instead of failing outright.
func (a *Assertion) Soft() *Assertion {
	a.soft = true
	return a
}

// Within overrides the expect timeout.
func (a *Assertion) Within(d time.Duration) *Assertion {
	a.timeout = d
	return a
}

// state is one observation of the handle: whether the matcher held and what
// was seen, for the failure message.
type state struct {
	ok       bool
	observed string
}

type sample func(snap *dom.Snapshot, nodes []*html.Node) (state, error)

func (a *Assertion) check(what string, p sample) {
	t := a.h.t
	var last state
	err := t.opts.Expect.WithTimeout(a.timeout).For(t.ctx, "expect", func(ctx context.Context) (bool, error) {
		snap, nodes, err := a.h.resolveAll(ctx)
		if err != nil {
			return false, err
		}
		st, err := p(snap, nodes)
		if err != nil {
			return false, err
		}
		last = st
		return st.ok != a.negate, nil
	})
	if err == nil {
		return
	}
	if types.IsTimeout(err) && t.ctx.Err() == nil {
		not := ""
		if a.negate {
			not = "not "
		}
		err = &types.AssertionError{
			Message: fmt.Sprintf("expected %s%s within %s, observed %s", not, what, a.timeout, last.observed),
			Locator: a.h.loc.String(),
		}
	}
	var ambiguous *locator.AmbiguousLocatorError
	if a.soft && (types.IsAssertion(err) || errors.As(err, &ambiguous)) {
		t.Soft(err)
		return
	}
	t.Fatal(err)
}

// single requires at most one match for value matchers.
func (a *Assertion) single(nodes []*html.Node) (*html.Node, error) {
	switch len(nodes) {
	case 0:
		return nil, nil
	case 1:
		return nodes[0], nil
	}
	return nil, &locator.AmbiguousLocatorError{Locator: a.h.loc.String(), Count: len(nodes)}
}

func (a *Assertion) ToBeVisible() {
	a.check("to be visible", func(snap *dom.Snapshot, nodes []*html.Node) (state, error) {
		n, err := a.single(nodes)
		if err != nil || n == nil {
			return state{observed: "no element"}, err
		}
		visible := snap.IsVisible(n)
		return state{ok: visible, observed: visibility(visible)}, nil
	})
}

// ToBeHidden holds when nothing matches or the match is not visible.
func (a *Assertion) ToBeHidden() {
	a.check("to be hidden", func(snap *dom.Snapshot, nodes []*html.Node) (state, error) {
		n, err := a.single(nodes)
		if err != nil {
			return state{}, err
		}
		if n == nil {
			return state{ok: true, observed: "no element"}, nil
		}
		visible := snap.IsVisible(n)
		return state{ok: !visible, observed: visibility(visible)}, nil
	})
}

func (a *Assertion) ToContainText(text string) {
	a.text(fmt.Sprintf("to contain text %q", text), locator.Substring(text))
}

// ToHaveText compares whitespace-normalized text exactly.
func (a *Assertion) ToHaveText(text string) {
	a.text(fmt.Sprintf("to have text %q", text), locator.Exact(text))
}

// ToMatchText matches text against a regular expression.
func (a *Assertion) ToMatchText(expr string) {
	a.text(fmt.Sprintf("to match /%s/", expr), locator.Pattern(expr))
}

func (a *Assertion) text(what string, m locator.TextMatch) {
	a.check(what, func(snap *dom.Snapshot, nodes []*html.Node) (state, error) {
		n, err := a.single(nodes)
		if err != nil || n == nil {
			return state{observed: "no element"}, err
		}
		got := dom.NormalizeSpace(snap.VisibleText(n))
		return state{ok: m.Matches(got), observed: fmt.Sprintf("%q", got)}, nil
	})
}

func (a *Assertion) ToHaveValue(value string) {
	a.check(fmt.Sprintf("to have value %q", value), func(snap *dom.Snapshot, nodes []*html.Node) (state, error) {
		n, err := a.single(nodes)
		if err != nil || n == nil {
			return state{observed: "no element"}, err
		}
		got := snap.Value(n)
		return state{ok: got == value, observed: fmt.Sprintf("%q", got)}, nil
	})
}

func (a *Assertion) ToHaveAttribute(name, value string) {
	a.check(fmt.Sprintf("to have %s=%q", name, value), func(_ *dom.Snapshot, nodes []*html.Node) (state, error) {
		n, err := a.single(nodes)
		if err != nil || n == nil {
			return state{observed: "no element"}, err
		}
		got, ok := dom.LookupAttr(n, name)
		if !ok {
			return state{observed: "no attribute"}, nil
		}
		return state{ok: got == value, observed: fmt.Sprintf("%q", got)}, nil
	})
}

// ToHaveCount never fails on ambiguity.
func (a *Assertion) ToHaveCount(count int) {
	a.check(fmt.Sprintf("to have count %d", count), func(_ *dom.Snapshot, nodes []*html.Node) (state, error) {
		return state{ok: len(nodes) == count, observed: fmt.Sprintf("%d", len(nodes))}, nil
	})
}

func (a *Assertion) ToBeFocused() {
	a.check("to be focused", func(snap *dom.Snapshot, nodes []*html.Node) (state, error) {
		n, err := a.single(nodes)
		if err != nil || n == nil {
			return state{observed: "no element"}, err
		}
		focused := snap.Focused()
		observed := "focus on nothing"
		if focused != nil {
			observed = "focus on " + snap.CSSPath(focused)
		}
		return state{ok: focused == n, observed: observed}, nil
	})
}

func (a *Assertion) ToBeChecked() {
	a.check("to be checked", func(snap *dom.Snapshot, nodes []*html.Node) (state, error) {
		n, err := a.single(nodes)
		if err != nil || n == nil {
			return state{observed: "no element"}, err
		}
		checked := snap.Info(n).Checked
		return state{ok: checked, observed: fmt.Sprintf("checked=%t", checked)}, nil
	})
}

func (a *Assertion) ToBeEnabled() {
	a.check("to be enabled", func(_ *dom.Snapshot, nodes []*html.Node) (state, error) {
		n, err := a.single(nodes)
		if err != nil || n == nil {
			return state{observed: "no element"}, err
		}
		return state{ok: !disabled(n), observed: fmt.Sprintf("disabled=%t", disabled(n))}, nil
	})
}

func visibility(visible bool) string {
	if visible {
		return "visible"
	}
	return "hidden"
}

// PageAssertion polls page-level state.
type PageAssertion struct {
	t       *T
	negate  bool
	timeout time.Duration
}

// ExpectPage starts an assertion on the page.
func (t *T) ExpectPage() *PageAssertion {
	return &PageAssertion{t: t, timeout: t.opts.Expect.Timeout}
}

func (p *PageAssertion) Not() *PageAssertion {
	p.negate = !p.negate
	return p
}

// ToHaveURL matches the current URL against a regular expression.
func (p *PageAssertion) ToHaveURL(expr string) {
	m := locator.Pattern(expr)
	p.check(fmt.Sprintf("url to match /%s/", expr), func(ctx context.Context) (string, bool, error) {
		u, err := p.t.session.URL(ctx)
		return u, m.Matches(u), err
	})
}

// ToHaveTitle matches the title as a substring, case-insensitively.
func (p *PageAssertion) ToHaveTitle(title string) {
	m := locator.Substring(title)
	p.check(fmt.Sprintf("title to contain %q", title), func(ctx context.Context) (string, bool, error) {
		snap, err := p.t.session.Snapshot(ctx)
		if err != nil {
			return "", false, err
		}
		return snap.Title, m.Matches(snap.Title), nil
	})
}

func (p *PageAssertion) check(what string, read func(ctx context.Context) (string, bool, error)) {
	t := p.t
	var observed string
	err := t.opts.Expect.WithTimeout(p.timeout).For(t.ctx, "expect page", func(ctx context.Context) (bool, error) {
		got, ok, err := read(ctx)
		if err != nil {
			return false, err
		}
		observed = got
		return ok != p.negate, nil
	})
	if types.IsTimeout(err) && t.ctx.Err() == nil {
		not := ""
		if p.negate {
			not = "not "
		}
		err = &types.AssertionError{Message: fmt.Sprintf("expected %s%s within %s, observed %q", not, what, p.timeout, strings.TrimSpace(observed))}
	}
	t.Must(err)
}
