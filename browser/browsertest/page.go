package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

var _ browser.Page = (*fakePage)(nil)

// PNG is the screenshot every fake page returns.
var PNG = []byte("\x89PNG\r\n\x1a\n")

const blankPage = `<html><head></head><body></body></html>`

type fakePage struct {
	bctx *fakeContext
	site *Site

	mu          sync.Mutex
	doc         *html.Node
	spec        PageSpec
	url         string
	generation  uint64
	ids         map[*html.Node]int64
	nodes       map[int64]*html.Node
	nextID      int64
	focused     *html.Node
	viewport    types.Viewport
	interceptor browser.Interceptor
	dialog      *browser.Dialog
	closed      bool
	docCtx      context.Context
	docCancel   context.CancelFunc

	subMu   sync.Mutex
	subs    map[int]func(browser.Event)
	nextSub int
}

func newFakePage(c *fakeContext) *fakePage {
	root, _ := html.Parse(strings.NewReader(blankPage))
	docCtx, cancel := context.WithCancel(context.Background())
	p := &fakePage{
		bctx:      c,
		site:      c.engine.site,
		doc:       root,
		url:       "about:blank",
		ids:       make(map[*html.Node]int64),
		nodes:     make(map[int64]*html.Node),
		viewport:  c.project.Viewport,
		docCtx:    docCtx,
		docCancel: cancel,
		subs:      make(map[int]func(browser.Event)),
	}
	return p
}

func (p *fakePage) usable() error {
	if err := p.bctx.engine.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("browsertest: page closed")
	}
	return nil
}

// idFor returns the stable ID of n, assigning one on first sight. Callers hold p.mu.
func (p *fakePage) idFor(n *html.Node) int64 {
	if id, ok := p.ids[n]; ok {
		return id
	}
	p.nextID++
	p.ids[n] = p.nextID
	p.nodes[p.nextID] = n
	return p.nextID
}

func (p *fakePage) Navigate(ctx context.Context, rawURL string) error {
	if err := p.usable(); err != nil {
		return err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	req := &browser.Request{Method: http.MethodGet, URL: u.String(), ResourceType: "document"}
	resp, err := p.request(ctx, req, u.Path)
	if err != nil {
		return err
	}
	spec, ok := p.site.page(u.Path)
	if !ok || resp.Status >= http.StatusBadRequest || string(resp.Body) != spec.HTML {
		spec = PageSpec{}
	}
	return p.commit(u.String(), string(resp.Body), spec)
}

func (p *fakePage) Reload(ctx context.Context) error {
	p.mu.Lock()
	current := p.url
	p.mu.Unlock()
	return p.Navigate(ctx, current)
}

// request sends req through the interceptor and then the site.
func (p *fakePage) request(ctx context.Context, req *browser.Request, path string) (browser.Response, error) {
	p.mu.Lock()
	inter := p.interceptor
	p.mu.Unlock()
	if inter != nil {
		decision := inter.Intercept(ctx, req)
		switch decision.Kind {
		case browser.Fulfill:
			if decision.Response == nil {
				return browser.Response{Status: http.StatusOK}, nil
			}
			return *decision.Response, nil
		case browser.Abort:
			return browser.Response{}, fmt.Errorf("net::ERR_FAILED %s: %s", req.URL, decision.Reason)
		}
	}
	if err := ctx.Err(); err != nil {
		return browser.Response{}, err
	}
	if p.bctx.isOffline() {
		return browser.Response{}, fmt.Errorf("net::ERR_INTERNET_DISCONNECTED %s", req.URL)
	}
	return p.site.serve(req, path), nil
}

func (p *fakePage) commit(pageURL, body string, spec PageSpec) error {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("browsertest: page closed")
	}
	p.docCancel()
	p.docCtx, p.docCancel = context.WithCancel(context.Background())
	p.doc = root
	p.url = pageURL
	p.spec = spec
	p.generation++
	p.ids = make(map[*html.Node]int64)
	p.nodes = make(map[int64]*html.Node)
	p.focused = nil
	p.dialog = nil
	walk(root, func(n *html.Node) {
		p.idFor(n)
		if p.focused == nil && hasAttr(n, "autofocus") {
			p.focused = n
		}
	})
	gen, docCtx := p.generation, p.docCtx
	p.mu.Unlock()

	p.emit(browser.Event{Type: browser.EventNavigated, URL: pageURL})
	if spec.OnLoad != nil {
		p.async(gen, docCtx, spec.OnLoad)
	}
	return nil
}

// async runs a page script outside the page lock. Panics become page errors.
func (p *fakePage) async(gen uint64, ctx context.Context, fn func(d *Document)) {
	d := &Document{p: p, gen: gen, ctx: ctx}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.emit(browser.Event{Type: browser.EventPageError, Error: fmt.Sprint(r)})
			}
		}()
		fn(d)
	}()
}

func (p *fakePage) URL(context.Context) (string, error) {
	if err := p.usable(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Snapshot(context.Context) (*dom.Snapshot, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(), nil
}

func (p *fakePage) snapshotLocked() *dom.Snapshot {
	return dom.Build(p.doc, dom.BuildOptions{
		URL:        p.url,
		Generation: p.generation,
		Focused:    p.focused,
		IDs:        p.idFor,
	})
}

func (p *fakePage) Act(ctx context.Context, ref dom.ElementRef, action browser.Action) error {
	if err := p.usable(); err != nil {
		return err
	}
	p.mu.Lock()
	if ref.Generation != p.generation {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s predates navigation %d", dom.ErrStaleElement, ref, p.generation)
	}
	n, ok := p.nodes[ref.NodeID]
	if !ok || !attached(p.doc, n) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s is detached", dom.ErrStaleElement, ref)
	}

	var handlers []func(d *Document)
	var follow string
	switch action.Kind {
	case browser.ActionFill, browser.ActionClear:
		value := action.Value
		if action.Kind == browser.ActionClear {
			value = ""
		}
		if !dom.IsElement(n, "input", "textarea", "select") && dom.Attr(n, "contenteditable") == "" {
			p.mu.Unlock()
			return fmt.Errorf("element %s is not editable", n.Data)
		}
		setValue(n, value)
		p.focused = n
		handlers = p.handlersLocked(p.spec.OnInput, n)
	case browser.ActionFocus:
		p.focused = n
	case browser.ActionHover:
	case browser.ActionCheck:
		setAttr(n, "checked", "")
	case browser.ActionSelect:
		walk(n, func(o *html.Node) {
			if o.Data != "option" {
				return
			}
			v, ok := dom.LookupAttr(o, "value")
			if !ok {
				v = dom.Text(o)
			}
			if v == action.Value {
				setAttr(o, "selected", "")
			} else {
				removeAttr(o, "selected")
			}
		})
	case browser.ActionClick:
		if focusable(n) {
			p.focused = n
		}
		if dom.IsElement(n, "input") && strings.EqualFold(dom.Attr(n, "type"), "checkbox") {
			if hasAttr(n, "checked") {
				removeAttr(n, "checked")
			} else {
				setAttr(n, "checked", "")
			}
		}
		handlers = p.handlersLocked(p.spec.OnClick, n)
		for a := n; a != nil; a = a.Parent {
			if dom.IsElement(a, "a") && hasAttr(a, "href") {
				follow = dom.Attr(a, "href")
				break
			}
		}
	case browser.ActionPress:
		p.focused = n
		p.mu.Unlock()
		return p.Press(ctx, action.Value)
	default:
		p.mu.Unlock()
		return fmt.Errorf("unsupported action %q", action.Kind)
	}
	gen, docCtx, base := p.generation, p.docCtx, p.url
	p.mu.Unlock()

	for _, h := range handlers {
		p.async(gen, docCtx, h)
	}
	if follow != "" && !strings.HasPrefix(follow, "#") {
		target := resolve(base, follow)
		go func() {
			_ = p.Navigate(docCtx, target)
		}()
	}
	return nil
}

// handlersLocked collects the handlers in table matching n and its ancestors,
// innermost first.
func (p *fakePage) handlersLocked(table map[string]func(d *Document, el *html.Node), n *html.Node) []func(d *Document) {
	var out []func(d *Document)
	for a := n; a != nil; a = a.Parent {
		if a.Type != html.ElementNode {
			continue
		}
		for sel, h := range table {
			m, err := cascadia.Compile(sel)
			if err != nil || !m.Match(a) {
				continue
			}
			el, handler := a, h
			out = append(out, func(d *Document) { handler(d, el) })
		}
	}
	return out
}

func (p *fakePage) Press(ctx context.Context, key string) error {
	if err := p.usable(); err != nil {
		return err
	}
	p.mu.Lock()
	var activate *dom.ElementRef
	switch key {
	case "Tab", "Shift+Tab":
		p.moveFocusLocked(key == "Tab")
	case "Enter", " ", "Space":
		if f := p.focused; f != nil && (dom.IsElement(f, "button", "summary") ||
			(dom.IsElement(f, "a") && hasAttr(f, "href")) ||
			(dom.IsElement(f, "input") && isButtonInput(f))) {
			ref := dom.ElementRef{Generation: p.generation, NodeID: p.idFor(f)}
			activate = &ref
		}
	}
	var handlers []func(d *Document)
	if h, ok := p.spec.OnKey[key]; ok {
		handlers = append(handlers, h)
	}
	gen, docCtx := p.generation, p.docCtx
	p.mu.Unlock()

	for _, h := range handlers {
		p.async(gen, docCtx, h)
	}
	if activate != nil {
		return p.Act(ctx, *activate, browser.Action{Kind: browser.ActionClick})
	}
	return nil
}

func (p *fakePage) moveFocusLocked(forward bool) {
	snap := p.snapshotLocked()
	var order []*html.Node
	for _, n := range snap.Elements() {
		if !snap.IsVisible(n) {
			continue
		}
		live := p.nodes[snap.Info(n).ID]
		if live != nil && focusable(live) && tabIndex(live) >= 0 {
			order = append(order, live)
		}
	}
	if len(order) == 0 {
		return
	}
	current := -1
	for i, n := range order {
		if n == p.focused {
			current = i
			break
		}
	}
	switch {
	case forward:
		p.focused = order[(current+1)%len(order)]
	case current <= 0:
		p.focused = order[len(order)-1]
	default:
		p.focused = order[current-1]
	}
}

func (p *fakePage) Evaluate(_ context.Context, js string, args ...any) (json.RawMessage, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	eval := p.spec.Evaluate
	p.mu.Unlock()
	if eval == nil {
		return nil, errors.New("browsertest: page has no evaluator")
	}
	res, err := eval(js, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (p *fakePage) SetViewport(_ context.Context, viewport types.Viewport) error {
	if err := p.usable(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = viewport
	return nil
}

// Viewport returns the emulated viewport.
func (p *fakePage) Viewport() types.Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewport
}

func (p *fakePage) SetInterceptor(_ context.Context, i browser.Interceptor) error {
	if err := p.usable(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interceptor = i
	return nil
}

func (p *fakePage) Subscribe(fn func(browser.Event)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.bctx.engine.listeners.Add(1)
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			p.bctx.engine.listeners.Add(-1)
		}
	}
}

func (p *fakePage) emit(ev browser.Event) {
	p.subMu.Lock()
	fns := make([]func(browser.Event), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (p *fakePage) HandleDialog(_ context.Context, accept bool, promptText string) error {
	if err := p.usable(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dialog == nil {
		return errors.New("browsertest: no dialog is open")
	}
	p.dialog = nil
	return nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	return append([]byte(nil), PNG...), nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.docCancel()
	return nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attached(root, n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == root {
			return true
		}
	}
	return false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := dom.LookupAttr(n, key)
	return ok
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, key) {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func setValue(n *html.Node, value string) {
	if dom.IsElement(n, "textarea") || dom.Attr(n, "contenteditable") != "" {
		setText(n, value)
		return
	}
	setAttr(n, "value", value)
}

func isButtonInput(n *html.Node) bool {
	switch strings.ToLower(dom.Attr(n, "type")) {
	case "button", "submit", "reset", "image":
		return true
	}
	return false
}

func focusable(n *html.Node) bool {
	if hasAttr(n, "disabled") {
		return false
	}
	switch n.Data {
	case "a":
		return hasAttr(n, "href") || hasAttr(n, "tabindex")
	case "button", "select", "textarea", "summary":
		return true
	case "input":
		return !strings.EqualFold(dom.Attr(n, "type"), "hidden")
	}
	return hasAttr(n, "tabindex")
}

func tabIndex(n *html.Node) int {
	v, ok := dom.LookupAttr(n, "tabindex")
	if !ok {
		return 0
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return i
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
