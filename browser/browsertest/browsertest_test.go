package browsertest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

var desktop = types.ProjectConfig{Name: "desktop", Viewport: types.Viewport{Width: 1280, Height: 720}, BrowserEngine: types.EngineChromium}

func openPage(t *testing.T, site *Site) (*Engine, browser.Context, browser.Page) {
	t.Helper()
	e := NewEngine(site)
	bctx, err := e.NewContext(context.Background(), desktop)
	require.NoError(t, err)
	p, err := bctx.NewPage(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bctx.Close() })
	return e, bctx, p
}

func elementRef(t *testing.T, p browser.Page, css string) dom.ElementRef {
	t.Helper()
	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	nodes, err := snap.Select(css)
	require.NoError(t, err)
	require.NotEmpty(t, nodes, css)
	return snap.Ref(nodes[0])
}

func TestNavigateBumpsGeneration(t *testing.T) {
	site := NewSite().HTML("/", `<title>Home</title><a href="/about">About</a>`).HTML("/about", `<h1>About</h1>`)
	_, _, p := openPage(t, site)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, "http://app.test/"))
	first, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", first.Title)

	ref := elementRef(t, p, "a")
	require.NoError(t, p.Navigate(ctx, "http://app.test/about"))
	err = p.Act(ctx, ref, browser.Action{Kind: browser.ActionClick})
	assert.ErrorIs(t, err, dom.ErrStaleElement)

	second, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Greater(t, second.Generation, first.Generation)
}

func TestClickRunsHandlersAsync(t *testing.T) {
	site := NewSite().Page("/", PageSpec{
		HTML: `<button id="go">Go</button><p id="out"></p>`,
		OnClick: map[string]func(*Document, *html.Node){
			"#go": func(d *Document, _ *html.Node) { d.SetText("#out", "clicked") },
		},
	})
	_, _, p := openPage(t, site)
	ctx := context.Background()
	require.NoError(t, p.Navigate(ctx, "http://app.test/"))
	require.NoError(t, p.Act(ctx, elementRef(t, p, "#go"), browser.Action{Kind: browser.ActionClick}))

	require.Eventually(t, func() bool {
		snap, err := p.Snapshot(ctx)
		return err == nil && dom.Text(snap.ElementByID("out")) == "clicked"
	}, time.Second, 5*time.Millisecond)
}

func TestFillAndTabOrder(t *testing.T) {
	site := NewSite().HTML("/", `<input id="a"><input id="hidden" hidden><button id="b">B</button>`)
	_, _, p := openPage(t, site)
	ctx := context.Background()
	require.NoError(t, p.Navigate(ctx, "http://app.test/"))

	require.NoError(t, p.Act(ctx, elementRef(t, p, "#a"), browser.Action{Kind: browser.ActionFill, Value: "hello"}))
	require.NoError(t, p.Press(ctx, "Tab"))

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", snap.Value(snap.ElementByID("a")))
	assert.Equal(t, "b", dom.Attr(snap.Focused(), "id"))

	require.NoError(t, p.Press(ctx, "Shift+Tab"))
	snap, err = p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", dom.Attr(snap.Focused(), "id"))
}

type interceptorFunc func(ctx context.Context, req *browser.Request) browser.Decision

func (f interceptorFunc) Intercept(ctx context.Context, req *browser.Request) browser.Decision {
	return f(ctx, req)
}

func TestFetchGoesThroughInterceptor(t *testing.T) {
	loaded := make(chan *Document, 1)
	site := NewSite().
		Page("/", PageSpec{HTML: `<p>hi</p>`, OnLoad: func(d *Document) { loaded <- d }}).
		JSON("GET /api/items", http.StatusOK, `[1]`)
	_, bctx, p := openPage(t, site)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, "http://app.test/"))
	var got *Document
	select {
	case got = <-loaded:
	case <-time.After(time.Second):
		t.Fatal("document not loaded")
	}

	resp, err := got.Fetch("GET", "/api/items", nil)
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(resp.Body))

	require.NoError(t, p.SetInterceptor(ctx, interceptorFunc(func(_ context.Context, req *browser.Request) browser.Decision {
		return browser.Decision{Kind: browser.Fulfill, Response: &browser.Response{Status: 503, Body: []byte("down")}}
	})))
	resp, err = got.Fetch("GET", "/api/items", nil)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status)

	require.NoError(t, p.SetInterceptor(ctx, nil))
	require.NoError(t, bctx.SetOffline(ctx, true))
	_, err = got.Fetch("GET", "/api/items", nil)
	assert.ErrorContains(t, err, "INTERNET_DISCONNECTED")
}

func TestDisconnectIsInfrastructure(t *testing.T) {
	e, _, p := openPage(t, NewSite().HTML("/", `<p>x</p>`))
	e.Disconnect()
	err := p.Navigate(context.Background(), "http://app.test/")
	assert.True(t, types.IsInfrastructure(err))
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestDialogs(t *testing.T) {
	site := NewSite().Page("/", PageSpec{
		HTML: `<button>Delete</button>`,
		OnClick: map[string]func(*Document, *html.Node){
			"button": func(d *Document, _ *html.Node) { d.Alert("confirm", "Really?") },
		},
	})
	_, _, p := openPage(t, site)
	ctx := context.Background()
	events := make(chan browser.Event, 4)
	cancel := p.Subscribe(func(ev browser.Event) {
		if ev.Type == browser.EventDialog {
			events <- ev
		}
	})
	defer cancel()

	require.NoError(t, p.Navigate(ctx, "http://app.test/"))
	require.Error(t, p.HandleDialog(ctx, true, ""))
	require.NoError(t, p.Act(ctx, elementRef(t, p, "button"), browser.Action{Kind: browser.ActionClick}))

	select {
	case ev := <-events:
		assert.Equal(t, "Really?", ev.Dialog.Message)
	case <-time.After(time.Second):
		t.Fatal("dialog not opened")
	}
	require.NoError(t, p.HandleDialog(ctx, true, ""))
}

func TestContextCounts(t *testing.T) {
	e := NewEngine(NewSite())
	c1, err := e.NewContext(context.Background(), desktop)
	require.NoError(t, err)
	_, err = e.NewContext(context.Background(), desktop)
	require.NoError(t, err)
	assert.Equal(t, 2, e.OpenContexts())
	require.NoError(t, c1.Close())
	require.NoError(t, c1.Close())
	assert.Equal(t, 1, e.OpenContexts())
	assert.Equal(t, 2, e.CreatedContexts())
}
