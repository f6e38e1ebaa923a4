//go:build e2e

package rodengine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

const demoPage = `<!doctype html>
<html><head><title>Counter</title></head>
<body>
  <h1>Counter</h1>
  <label for="name">Name</label><input id="name">
  <button id="inc" onclick="document.getElementById('n').textContent = String(Number(document.getElementById('n').textContent) + 1); console.error('clicked')">Add</button>
  <span id="n">0</span>
  <p id="api"></p>
  <script>fetch('/api/hello').then(r => r.text()).then(t => { document.getElementById('api').textContent = t })</script>
</body></html>`

var engine *Engine

func TestMain(m *testing.M) {
	var err error
	engine, err = Start(context.Background(), Options{
		ControlURL: os.Getenv("WEBCHECK_BROWSER_URL"),
		Headless:   true,
		NoSandbox:  true,
		Log:        log.NewLogger(log.DiscardHandler()),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "skipping e2e tests:", err)
		os.Exit(0)
	}
	code := m.Run()
	_ = engine.Close()
	os.Exit(code)
}

func demoServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, demoPage)
	})
	mux.HandleFunc("/api/hello", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "from server")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openPage(t *testing.T, ctx context.Context) (browser.Context, browser.Page) {
	t.Helper()
	c, err := engine.NewContext(ctx, types.ProjectConfig{
		Name:          "e2e",
		Viewport:      types.Viewport{Width: 800, Height: 600},
		BrowserEngine: types.EngineChromium,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	p, err := c.NewPage(ctx)
	require.NoError(t, err)
	return c, p
}

func find(t *testing.T, snap *dom.Snapshot, sel string) dom.ElementRef {
	t.Helper()
	nodes, err := snap.Select(sel)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	return snap.Ref(nodes[0])
}

func TestSnapshotAndAct(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv := demoServer(t)
	_, p := openPage(t, ctx)

	var (
		mu      sync.Mutex
		console []string
	)
	stop := p.Subscribe(func(ev browser.Event) {
		if ev.Type == browser.EventConsole {
			mu.Lock()
			console = append(console, ev.Console.Level+":"+ev.Console.Text)
			mu.Unlock()
		}
	})
	defer stop()

	require.NoError(t, p.Navigate(ctx, srv.URL))
	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Counter", snap.Title)

	require.NoError(t, p.Act(ctx, find(t, snap, "#inc"), browser.Action{Kind: browser.ActionClick}))
	require.NoError(t, p.Act(ctx, find(t, snap, "#name"), browser.Action{Kind: browser.ActionFill, Value: "Ada"}))

	after, err := p.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Generation, after.Generation)
	nodes, _ := after.Select("#n")
	assert.Equal(t, "1", dom.Text(nodes[0]))
	nodes, _ = after.Select("#name")
	assert.Equal(t, "Ada", after.Value(nodes[0]))
	assert.True(t, after.IsVisible(nodes[0]))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(console, "error:clicked")
	}, 5*time.Second, 50*time.Millisecond)

	// a reload starts a new document, so old refs go stale
	require.NoError(t, p.Reload(ctx))
	err = p.Act(ctx, find(t, snap, "#inc"), browser.Action{Kind: browser.ActionClick})
	require.ErrorIs(t, err, dom.ErrStaleElement)
}

type fulfillAPI struct{}

func (fulfillAPI) Intercept(_ context.Context, req *browser.Request) browser.Decision {
	if req.ResourceType == "fetch" {
		return browser.Decision{Kind: browser.Fulfill, Response: &browser.Response{Status: 200, Body: []byte("from route")}}
	}
	return browser.Decision{Kind: browser.Continue}
}

func TestInterceptorFulfills(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv := demoServer(t)
	_, p := openPage(t, ctx)

	require.NoError(t, p.SetInterceptor(ctx, fulfillAPI{}))
	require.NoError(t, p.Navigate(ctx, srv.URL))
	require.Eventually(t, func() bool {
		snap, err := p.Snapshot(ctx)
		if err != nil {
			return false
		}
		nodes, _ := snap.Select("#api")
		return len(nodes) == 1 && dom.Text(nodes[0]) == "from route"
	}, 10*time.Second, 100*time.Millisecond)
	require.NoError(t, p.SetInterceptor(ctx, nil))
}

func TestOfflineAndCookies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv := demoServer(t)
	c, p := openPage(t, ctx)

	require.NoError(t, p.Navigate(ctx, srv.URL))
	_, err := p.Evaluate(ctx, `() => { document.cookie = "pref=dark; path=/" }`)
	require.NoError(t, err)
	cookies, err := c.Cookies(ctx)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "pref", cookies[0].Name)

	require.NoError(t, c.SetOffline(ctx, true))
	require.Error(t, p.Navigate(ctx, srv.URL+"/other"))
}
