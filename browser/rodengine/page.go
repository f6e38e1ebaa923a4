package rodengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

type rodPage struct {
	page *rod.Page
	log  log.Logger

	stopEvents context.CancelFunc

	mu          sync.Mutex
	generation  uint64
	subscribers map[int]func(browser.Event)
	nextSub     int
	router      *rod.HijackRouter
	stopRouter  context.CancelFunc
	closed      bool
}

var _ browser.Page = (*rodPage)(nil)

func newPage(page *rod.Page, l log.Logger) *rodPage {
	p := &rodPage{
		page:        page,
		log:         l,
		subscribers: make(map[int]func(browser.Event)),
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.stopEvents = cancel
	wait := page.Context(ctx).EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			p.publish(browser.Event{Type: browser.EventConsole, Console: &browser.ConsoleMessage{
				Level: consoleLevel(e.Type),
				Text:  consoleText(e.Args),
			}})
		},
		func(e *proto.RuntimeExceptionThrown) {
			p.publish(browser.Event{Type: browser.EventPageError, Error: exceptionText(e.ExceptionDetails)})
		},
		func(e *proto.PageJavascriptDialogOpening) {
			p.publish(browser.Event{Type: browser.EventDialog, URL: e.URL, Dialog: &browser.Dialog{
				Type:         string(e.Type),
				Message:      e.Message,
				DefaultValue: e.DefaultPrompt,
			}})
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID == "" {
				p.publish(browser.Event{Type: browser.EventNavigated, URL: e.Frame.URL})
			}
		},
	)
	go wait()
	return p
}

func consoleLevel(t proto.RuntimeConsoleAPICalledType) string {
	switch t {
	case proto.RuntimeConsoleAPICalledTypeWarning:
		return "warning"
	case proto.RuntimeConsoleAPICalledTypeError, proto.RuntimeConsoleAPICalledTypeAssert:
		return "error"
	case proto.RuntimeConsoleAPICalledTypeDebug:
		return "debug"
	}
	return "log"
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case a == nil:
		case a.Description != "":
			parts = append(parts, a.Description)
		default:
			parts = append(parts, a.Value.String())
		}
	}
	return strings.Join(parts, " ")
}

func exceptionText(d *proto.RuntimeExceptionDetails) string {
	if d == nil {
		return ""
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}

func (p *rodPage) publish(ev browser.Event) {
	p.mu.Lock()
	subs := make([]func(browser.Event), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (p *rodPage) Subscribe(fn func(browser.Event)) (cancel func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subscribers[id] = fn
	p.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			p.mu.Unlock()
		})
	}
}

func (p *rodPage) usable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("page closed")
	}
	return nil
}

func (p *rodPage) emulate(ctx context.Context, project types.ProjectConfig) error {
	pg := p.page.Context(ctx)
	scale := project.DeviceScaleFactor
	if scale <= 0 {
		scale = 1
	}
	if err := pg.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             project.Viewport.Width,
		Height:            project.Viewport.Height,
		DeviceScaleFactor: scale,
		Mobile:            project.IsMobile,
	}); err != nil {
		return fmt.Errorf("emulate viewport: %w", err)
	}
	if project.UserAgent != "" {
		if err := pg.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: project.UserAgent}); err != nil {
			return fmt.Errorf("emulate user agent: %w", err)
		}
	}
	if project.HasTouch {
		if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: true}).Call(pg); err != nil {
			return fmt.Errorf("emulate touch: %w", err)
		}
	}
	return nil
}

func (p *rodPage) setOffline(ctx context.Context, offline bool) error {
	req := proto.NetworkEmulateNetworkConditions{
		Offline:            offline,
		DownloadThroughput: -1,
		UploadThroughput:   -1,
	}
	if err := req.Call(p.page.Context(ctx)); err != nil {
		return fmt.Errorf("emulate network conditions: %w", err)
	}
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	if err := p.usable(); err != nil {
		return err
	}
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load of %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) Reload(ctx context.Context) error {
	if err := p.usable(); err != nil {
		return err
	}
	pg := p.page.Context(ctx)
	if err := pg.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return pg.WaitLoad()
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	if err := p.usable(); err != nil {
		return "", err
	}
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

type snapshotResult struct {
	Fresh bool                   `json:"fresh"`
	Doc   dom.SerializedDocument `json:"doc"`
}

func (p *rodPage) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	raw, err := p.Evaluate(ctx, snapshotJS, styleProps)
	if err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}
	var res snapshotResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode serialized document: %w", err)
	}
	p.mu.Lock()
	if res.Fresh || p.generation == 0 {
		p.generation++
	}
	gen := p.generation
	p.mu.Unlock()
	return dom.FromSerialized(res.Doc, gen), nil
}

// element resolves ref against the live registry. Refs from an older
// generation and elements no longer attached are stale.
func (p *rodPage) element(ctx context.Context, ref dom.ElementRef) (*rod.Element, error) {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()
	if ref.Generation != gen {
		return nil, dom.ErrStaleElement
	}
	pg := p.page.Context(ctx)
	obj, err := pg.Evaluate(rod.Eval(lookupJS, ref.NodeID).ByObject())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	if obj.ObjectID == "" {
		return nil, dom.ErrStaleElement
	}
	return pg.ElementFromObject(obj)
}

func (p *rodPage) Act(ctx context.Context, ref dom.ElementRef, action browser.Action) error {
	if err := p.usable(); err != nil {
		return err
	}
	el, err := p.element(ctx, ref)
	if err != nil {
		return err
	}
	switch action.Kind {
	case browser.ActionClick:
		return el.Click(proto.InputMouseButtonLeft, 1)
	case browser.ActionFill, browser.ActionClear:
		if err := el.SelectAllText(); err != nil {
			return err
		}
		return el.Input(action.Value)
	case browser.ActionFocus:
		return el.Focus()
	case browser.ActionHover:
		return el.Hover()
	case browser.ActionPress:
		if err := el.Focus(); err != nil {
			return err
		}
		return p.Press(ctx, action.Value)
	case browser.ActionCheck:
		res, err := el.Eval(checkedJS)
		if err != nil {
			return err
		}
		if res.Value.Bool() {
			return nil
		}
		return el.Click(proto.InputMouseButtonLeft, 1)
	case browser.ActionSelect:
		res, err := el.Eval(selectJS, action.Value)
		if err != nil {
			return err
		}
		if !res.Value.Bool() {
			return fmt.Errorf("no option %q", action.Value)
		}
		return nil
	}
	return fmt.Errorf("unsupported action %q", action.Kind)
}

func (p *rodPage) Press(ctx context.Context, key string) error {
	if err := p.usable(); err != nil {
		return err
	}
	mods, k, err := parseKeys(key)
	if err != nil {
		return err
	}
	pg := p.page.Context(ctx)
	if len(mods) == 0 {
		return pg.Keyboard.Press(k)
	}
	return pg.KeyActions().Press(mods...).Type(k).Do()
}

func (p *rodPage) Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res.Value)
}

func (p *rodPage) SetViewport(ctx context.Context, viewport types.Viewport) error {
	if err := p.usable(); err != nil {
		return err
	}
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewport.Width,
		Height:            viewport.Height,
		DeviceScaleFactor: 1,
	})
}

func (p *rodPage) SetInterceptor(_ context.Context, i browser.Interceptor) error {
	if err := p.usable(); err != nil {
		return err
	}
	if err := p.stopInterception(); err != nil {
		return err
	}
	if i == nil {
		return nil
	}

	// handlers outlive the registering call, so they get their own context
	// that ends when interception is replaced or the page closes
	hctx, cancel := context.WithCancel(context.Background())
	router := p.page.HijackRequests()
	if err := router.Add("*", "", func(h *rod.Hijack) {
		applyDecision(h, i.Intercept(hctx, convertRequest(h.Request)))
	}); err != nil {
		cancel()
		return fmt.Errorf("register request router: %w", err)
	}
	go router.Run()

	p.mu.Lock()
	p.router = router
	p.stopRouter = cancel
	p.mu.Unlock()
	return nil
}

func (p *rodPage) stopInterception() error {
	p.mu.Lock()
	router, cancel := p.router, p.stopRouter
	p.router, p.stopRouter = nil, nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if router != nil {
		if err := router.Stop(); err != nil {
			return fmt.Errorf("stop request router: %w", err)
		}
	}
	return nil
}

func convertRequest(r *rod.HijackRequest) *browser.Request {
	headers := make(map[string]string)
	for k, v := range r.Headers() {
		headers[k] = v.String()
	}
	return &browser.Request{
		Method:       r.Method(),
		URL:          r.URL().String(),
		Headers:      headers,
		Body:         []byte(r.Body()),
		ResourceType: strings.ToLower(string(r.Type())),
	}
}

func applyDecision(h *rod.Hijack, d browser.Decision) {
	switch d.Kind {
	case browser.Fulfill:
		resp := d.Response
		if resp == nil {
			resp = &browser.Response{}
		}
		status := resp.Status
		if status == 0 {
			status = 200
		}
		h.Response.Payload().ResponseCode = status
		for k, v := range resp.Headers {
			h.Response.SetHeader(k, v)
		}
		h.Response.SetBody(resp.Body)
	case browser.Abort:
		h.Response.Fail(abortReason(d.Reason))
	default:
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}
}

func abortReason(reason string) proto.NetworkErrorReason {
	switch strings.ToLower(reason) {
	case "aborted":
		return proto.NetworkErrorReasonAborted
	case "connectionrefused":
		return proto.NetworkErrorReasonConnectionRefused
	case "timedout":
		return proto.NetworkErrorReasonTimedOut
	case "internetdisconnected", "offline":
		return proto.NetworkErrorReasonInternetDisconnected
	case "blockedbyclient", "blocked":
		return proto.NetworkErrorReasonBlockedByClient
	}
	return proto.NetworkErrorReasonFailed
}

func (p *rodPage) HandleDialog(ctx context.Context, accept bool, promptText string) error {
	if err := p.usable(); err != nil {
		return err
	}
	return proto.PageHandleJavaScriptDialog{Accept: accept, PromptText: promptText}.Call(p.page.Context(ctx))
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.subscribers = map[int]func(browser.Event){}
	p.mu.Unlock()

	p.stopEvents()
	_ = p.stopInterception()
	return p.page.Close()
}
