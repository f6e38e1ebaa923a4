package browsertest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
)

// Document is the script-side view of one loaded document. Once the page
// navigates away every mutation is ignored and Context is cancelled.
type Document struct {
	p   *fakePage
	gen uint64
	ctx context.Context
}

// Context is cancelled when the document unloads.
func (d *Document) Context() context.Context {
	return d.ctx
}

// URL returns the document address.
func (d *Document) URL() string {
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	return d.p.url
}

// mutate runs fn under the page lock if the document is still loaded.
func (d *Document) mutate(fn func()) bool {
	d.p.mu.Lock()
	defer d.p.mu.Unlock()
	if d.p.closed || d.p.generation != d.gen {
		return false
	}
	fn()
	return true
}

// QueryAll returns the elements matching css in document order.
func (d *Document) QueryAll(css string) []*html.Node {
	sel, err := cascadia.Compile(css)
	if err != nil {
		panic(err)
	}
	var out []*html.Node
	d.mutate(func() {
		out = cascadia.QueryAll(d.p.doc, sel)
	})
	return out
}

// Query returns the first element matching css, or nil.
func (d *Document) Query(css string) *html.Node {
	if all := d.QueryAll(css); len(all) > 0 {
		return all[0]
	}
	return nil
}

func (d *Document) each(css string, fn func(n *html.Node)) {
	for _, n := range d.QueryAll(css) {
		d.mutate(func() { fn(n) })
	}
}

// SetAttr sets an attribute on every element matching css.
func (d *Document) SetAttr(css, key, val string) {
	d.each(css, func(n *html.Node) { setAttr(n, key, val) })
}

// RemoveAttr removes an attribute from every element matching css.
func (d *Document) RemoveAttr(css, key string) {
	d.each(css, func(n *html.Node) { removeAttr(n, key) })
}

// SetText replaces the children of every element matching css with text.
func (d *Document) SetText(css, text string) {
	d.each(css, func(n *html.Node) { setText(n, text) })
}

// Show removes the hidden attribute from every element matching css.
func (d *Document) Show(css string) {
	d.RemoveAttr(css, "hidden")
}

// Hide sets the hidden attribute on every element matching css.
func (d *Document) Hide(css string) {
	d.SetAttr(css, "hidden", "")
}

// AppendHTML parses markup as children of the first element matching css.
func (d *Document) AppendHTML(css, markup string) {
	target := d.Query(css)
	if target == nil {
		return
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), target)
	if err != nil {
		panic(err)
	}
	d.mutate(func() {
		for _, n := range nodes {
			target.AppendChild(n)
		}
	})
}

// Remove detaches every element matching css.
func (d *Document) Remove(css string) {
	d.each(css, func(n *html.Node) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	})
}

// Value returns the current value of the first element matching css.
func (d *Document) Value(css string) string {
	var v string
	if n := d.Query(css); n != nil {
		d.mutate(func() {
			if n.Data == "textarea" {
				v = textOf(n)
				return
			}
			for _, a := range n.Attr {
				if a.Key == "value" {
					v = a.Val
				}
			}
		})
	}
	return v
}

// Checked reports whether the first element matching css is checked.
func (d *Document) Checked(css string) bool {
	var checked bool
	if n := d.Query(css); n != nil {
		d.mutate(func() { checked = hasAttr(n, "checked") })
	}
	return checked
}

// Focus moves focus to the first element matching css.
func (d *Document) Focus(css string) {
	if n := d.Query(css); n != nil {
		d.mutate(func() { d.p.focused = n })
	}
}

// Navigate loads ref, resolved against the document address.
func (d *Document) Navigate(ref string) error {
	d.p.mu.Lock()
	if d.p.generation != d.gen {
		d.p.mu.Unlock()
		return errors.New("browsertest: document unloaded")
	}
	target := resolve(d.p.url, ref)
	d.p.mu.Unlock()
	return d.p.Navigate(d.ctx, target)
}

// Fetch issues a request from the page. It passes through the page's
// interceptor exactly as a real XHR would.
func (d *Document) Fetch(method, ref string, body []byte) (browser.Response, error) {
	target := resolve(d.URL(), ref)
	u, err := url.Parse(target)
	if err != nil {
		return browser.Response{}, err
	}
	if method == "" {
		method = http.MethodGet
	}
	req := &browser.Request{
		Method:       strings.ToUpper(method),
		URL:          u.String(),
		Headers:      map[string]string{},
		Body:         body,
		ResourceType: "fetch",
	}
	return d.p.request(d.ctx, req, u.Path)
}

// Console logs a console message from the page.
func (d *Document) Console(level, text string) {
	if !d.loaded() {
		return
	}
	d.p.emit(browser.Event{Type: browser.EventConsole, Console: &browser.ConsoleMessage{Level: level, Text: text}})
}

// Throw reports an uncaught page error.
func (d *Document) Throw(msg string) {
	if !d.loaded() {
		return
	}
	d.p.emit(browser.Event{Type: browser.EventPageError, Error: msg})
}

// Alert opens a JavaScript dialog. kind is alert, confirm or prompt.
func (d *Document) Alert(kind, message string) {
	dialog := &browser.Dialog{Type: kind, Message: message}
	if !d.mutate(func() { d.p.dialog = dialog }) {
		return
	}
	d.p.emit(browser.Event{Type: browser.EventDialog, Dialog: dialog})
}

// SetCookie stores a cookie in the page's context.
func (d *Document) SetCookie(name, value string) {
	host := ""
	if u, err := url.Parse(d.URL()); err == nil {
		host = u.Hostname()
	}
	d.p.bctx.setCookie(browser.Cookie{Name: name, Value: value, Domain: host, Path: "/"})
}

// ClearCookie removes a cookie from the page's context.
func (d *Document) ClearCookie(name string) {
	d.p.bctx.deleteCookie(name)
}

// Sleep waits for dur. It returns false if the document unloaded first.
func (d *Document) Sleep(dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return d.loaded()
	case <-d.ctx.Done():
		return false
	}
}

func (d *Document) loaded() bool {
	return d.mutate(func() {})
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
