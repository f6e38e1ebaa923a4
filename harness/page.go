package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/audit"
	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/network"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Goto navigates to target, resolved against the base URL.
func (t *T) Goto(target string) {
	t.Must(t.session.Navigate(t.ctx, target))
}

// Reload reloads the current document.
func (t *T) Reload() {
	t.Must(t.session.Reload(t.ctx))
}

// URL returns the current document address.
func (t *T) URL() string {
	u, err := t.session.URL(t.ctx)
	t.Must(err)
	return u
}

// Title returns the current document title.
func (t *T) Title() string {
	return t.snapshot().Title
}

func (t *T) snapshot() *dom.Snapshot {
	snap, err := t.session.Snapshot(t.ctx)
	t.Must(err)
	return snap
}

// SetViewport resizes the page.
func (t *T) SetViewport(width, height int) {
	t.Must(t.session.SetViewport(t.ctx, types.Viewport{Width: width, Height: height}))
}

// Evaluate runs a JavaScript function expression in the page.
func (t *T) Evaluate(js string, args ...any) json.RawMessage {
	raw, err := t.session.Evaluate(t.ctx, js, args...)
	t.Must(err)
	return raw
}

// EvaluateInto runs js and decodes its result into out.
func (t *T) EvaluateInto(out any, js string, args ...any) {
	t.Must(t.session.EvaluateInto(t.ctx, out, js, args...))
}

// Keyboard dispatches key presses to the focused element.
type Keyboard struct {
	t *T
}

// Keyboard returns the page keyboard.
func (t *T) Keyboard() Keyboard {
	return Keyboard{t: t}
}

// Press presses key, e.g. "Tab", "Shift+Tab" or "Enter".
func (k Keyboard) Press(key string) {
	k.t.Must(k.t.session.Press(k.t.ctx, key))
}

// SetOffline toggles network emulation for the session.
func (t *T) SetOffline(offline bool) {
	t.Must(t.session.SetOffline(t.ctx, offline))
}

// Cookies returns the cookies stored for the session.
func (t *T) Cookies() []browser.Cookie {
	cookies, err := t.session.Cookies(t.ctx)
	t.Must(err)
	return cookies
}

// OnConsole calls fn for every console message until the session is released.
func (t *T) OnConsole(fn func(browser.ConsoleMessage)) {
	_, err := t.session.Subscribe(browser.EventConsole, func(ev browser.Event) {
		if ev.Console != nil {
			fn(*ev.Console)
		}
	})
	t.Must(err)
}

// ConsoleErrors returns the console errors and page errors seen so far.
func (t *T) ConsoleErrors() []string {
	return t.session.ConsoleErrors()
}

// WaitForDialog runs trigger and waits for the dialog it opens, then accepts
// or dismisses it.
func (t *T) WaitForDialog(trigger func(), accept bool) browser.Dialog {
	opened := make(chan browser.Dialog, 1)
	sub, err := t.session.Subscribe(browser.EventDialog, func(ev browser.Event) {
		if ev.Dialog == nil {
			return
		}
		select {
		case opened <- *ev.Dialog:
		default:
		}
	})
	t.Must(err)
	defer sub.Cancel()

	trigger()
	timer := time.NewTimer(t.opts.Expect.Timeout)
	defer timer.Stop()
	select {
	case d := <-opened:
		t.Must(t.session.HandleDialog(t.ctx, accept, d.DefaultValue))
		return d
	case <-timer.C:
		t.Fatal(&types.TimeoutError{Op: "wait for dialog"})
	case <-t.ctx.Done():
		t.Fatal(&types.TimeoutError{Op: "wait for dialog", Err: context.Cause(t.ctx)})
	}
	return browser.Dialog{}
}

// Screenshot captures the viewport as PNG.
func (t *T) Screenshot() []byte {
	png, err := t.session.Screenshot(t.ctx)
	t.Must(err)
	return png
}

// Router returns the session router, attaching it on first use.
func (t *T) Router() *network.Router {
	t.routerOnce.Do(func() {
		r := network.NewRouter(network.WithLogger(t.log), network.WithBaseURL(t.session.BaseURL()))
		t.routerErr = network.Attach(t.ctx, t.session, r)
		t.router = r
	})
	t.Must(t.routerErr)
	return t.router
}

// Route adds an interception rule for a URL glob.
func (t *T) Route(glob string, h network.Handler) {
	t.Must(t.Router().Route(glob, h))
}

// RouteRegexp adds an interception rule for URLs matching re.
func (t *T) RouteRegexp(re *regexp.Regexp, h network.Handler) {
	t.Must(t.Router().RouteRegexp(re, h))
}

// Unroute removes the rules registered for glob.
func (t *T) Unroute(glob string) {
	t.Router().Unroute(glob)
}

// Audit runs the accessibility engine over scope.
func (t *T) Audit(scope audit.Scope) []audit.Violation {
	vs, err := t.opts.Auditor.Audit(t.ctx, t.session, scope)
	t.Must(err)
	return vs
}

// ExpectNoViolations audits scope and fails on any violation at or above min.
func (t *T) ExpectNoViolations(scope audit.Scope, min audit.Impact) {
	if vs := audit.AtLeast(t.Audit(scope), min); len(vs) > 0 {
		t.Fatal(&types.AssertionError{Message: fmt.Sprintf("%d accessibility violations:\n%s", len(vs), audit.Describe(vs))})
	}
}
