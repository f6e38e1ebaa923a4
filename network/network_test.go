package network_test

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/browser/browsertest"
	"github.com/ethereum-optimism/infra/op-webcheck/network"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

func TestGlob(t *testing.T) {
	tests := []struct {
		glob  string
		url   string
		match bool
	}{
		{"**/api/users", "http://app.test/api/users", true},
		{"**/api/users", "http://app.test/api/users/1", false},
		{"**/api/users/*", "http://app.test/api/users/1", true},
		{"**/api/users/*", "http://app.test/api/users/1/posts", false},
		{"**/api/**", "http://app.test/api/users/1/posts", true},
		{"**/*.{png,jpg}", "http://cdn.test/img/a.jpg", true},
		{"**/*.{png,jpg}", "http://cdn.test/img/a.gif", false},
		{"http://app.test/v?/x", "http://app.test/v1/x", true},
		{"**/search?q=*", "http://app.test/search/q=go", false},
		{`**/search\?q=*`, "http://app.test/search?q=go", true},
	}
	for _, tt := range tests {
		t.Run(tt.glob+" "+tt.url, func(t *testing.T) {
			p, err := network.ParseGlob(tt.glob)
			require.NoError(t, err)
			assert.Equal(t, tt.match, p.MatchURL(tt.url))
		})
	}
}

func TestGlobErrors(t *testing.T) {
	_, err := network.ParseGlob("")
	assert.Error(t, err)
	_, err = network.ParseGlob("**/{a,b")
	assert.Error(t, err)
}

func TestMatchers(t *testing.T) {
	m := network.Regexp(regexp.MustCompile(`/api/v\d+/`))
	assert.True(t, m.MatchURL("http://x/api/v2/items"))
	f := network.Func("post-only", func(u *url.URL) bool { return u.Query().Get("kind") == "post" })
	assert.True(t, f.MatchURL("http://x/?kind=post"))
	assert.False(t, f.MatchURL("http://x/?kind=get"))
	assert.Equal(t, "post-only", f.String())
}

func req(u string) *browser.Request {
	return &browser.Request{Method: http.MethodGet, URL: u}
}

func TestFirstMatchWins(t *testing.T) {
	r := network.NewRouter()
	var first, second atomic.Int32
	require.NoError(t, r.Route("**/api/**", func(route *network.Route) {
		first.Add(1)
		_ = route.FulfillJSON(http.StatusOK, map[string]string{"from": "first"})
	}))
	require.NoError(t, r.Route("**/api/users", func(route *network.Route) {
		second.Add(1)
		_ = route.Abort("")
	}))

	d := r.Intercept(context.Background(), req("http://app.test/api/users"))
	assert.Equal(t, browser.Fulfill, d.Kind)
	assert.JSONEq(t, `{"from":"first"}`, string(d.Response.Body))
	assert.Equal(t, "application/json", d.Response.Headers["Content-Type"])
	assert.EqualValues(t, 1, first.Load())
	assert.EqualValues(t, 0, second.Load())
}

func TestUnmatchedPassesThrough(t *testing.T) {
	r := network.NewRouter()
	d := r.Intercept(context.Background(), req("http://app.test/"))
	assert.Equal(t, browser.Continue, d.Kind)

	blocking := network.NewRouter(network.BlockUnmatched())
	d = blocking.Intercept(context.Background(), req("http://app.test/"))
	assert.Equal(t, browser.Abort, d.Kind)
}

func TestUndecidedRouteContinues(t *testing.T) {
	r := network.NewRouter()
	var seen string
	require.NoError(t, r.Route("**", func(route *network.Route) { seen = route.Request().URL }))
	d := r.Intercept(context.Background(), req("http://app.test/x"))
	assert.Equal(t, browser.Continue, d.Kind)
	assert.Equal(t, "http://app.test/x", seen)
}

func TestDoubleDecision(t *testing.T) {
	r := network.NewRouter()
	var second error
	require.NoError(t, r.Route("**", func(route *network.Route) {
		_ = route.Fulfill(network.FulfillOptions{Status: http.StatusTeapot})
		second = route.Continue()
	}))
	d := r.Intercept(context.Background(), req("http://app.test/"))
	assert.Equal(t, http.StatusTeapot, d.Response.Status)
	assert.ErrorIs(t, second, network.ErrRouteHandled)
}

func TestHandlerPanicAborts(t *testing.T) {
	r := network.NewRouter(network.WithLogger(log.NewLogger(log.DiscardHandler())))
	require.NoError(t, r.Route("**", func(*network.Route) { panic("bad handler") }))
	d := r.Intercept(context.Background(), req("http://app.test/"))
	assert.Equal(t, browser.Abort, d.Kind)
	assert.Contains(t, d.Reason, "bad handler")
}

func TestHandlersAreReentrant(t *testing.T) {
	r := network.NewRouter()
	var inFlight, peak atomic.Int32
	require.NoError(t, r.Route("**/slow", func(route *network.Route) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		_ = route.Delay(50 * time.Millisecond)
		inFlight.Add(-1)
		_ = route.Fulfill(network.FulfillOptions{Body: []byte("ok")})
	}))

	var wg sync.WaitGroup
	start := time.Now()
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := r.Intercept(context.Background(), req("http://app.test/slow"))
			assert.Equal(t, "ok", string(d.Response.Body))
		}()
	}
	wg.Wait()
	assert.Greater(t, peak.Load(), int32(1))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestDelayHonoursCancellation(t *testing.T) {
	r := network.NewRouter()
	var delayErr error
	require.NoError(t, r.Route("**", func(route *network.Route) {
		delayErr = route.Delay(time.Minute)
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r.Intercept(ctx, req("http://app.test/"))
	assert.ErrorIs(t, delayErr, context.DeadlineExceeded)
}

func TestUnroute(t *testing.T) {
	r := network.NewRouter(network.WithBaseURL("http://app.test"))
	require.NoError(t, r.Route("/api/users", func(route *network.Route) { _ = route.Abort("") }))
	require.NoError(t, r.Route("/api/posts", func(route *network.Route) { _ = route.Abort("") }))
	assert.Equal(t, browser.Abort, r.Intercept(context.Background(), req("http://app.test/api/users")).Kind)

	assert.Equal(t, 1, r.Unroute("/api/users"))
	assert.Equal(t, 1, r.Rules())
	r.UnrouteAll()
	assert.Equal(t, 0, r.Rules())
}

func TestAttachClearsRulesOnRelease(t *testing.T) {
	engine := browsertest.NewEngine(browsertest.NewSite())
	m, err := browser.NewManager(browser.ManagerConfig{Engine: engine, Log: log.NewLogger(log.DiscardHandler())})
	require.NoError(t, err)
	s, err := m.Acquire(context.Background(), project)
	require.NoError(t, err)

	r := network.NewRouter()
	require.NoError(t, network.Attach(context.Background(), s, r))
	require.NoError(t, r.Route("**", func(*network.Route) {}))
	require.NoError(t, m.Release(s))
	assert.Equal(t, 0, r.Rules())
}

var project = types.ProjectConfig{Name: "desktop", Viewport: types.Viewport{Width: 1280, Height: 720}, BrowserEngine: types.EngineChromium}

// A page shows a loading indicator until its data request completes. Delaying
// that request by two seconds keeps the indicator up at 500ms and gone by 2500ms.
func TestDelayedFulfillKeepsLoadingIndicator(t *testing.T) {
	if testing.Short() {
		t.Skip("timing scenario")
	}
	site := browsertest.NewSite().Page("/", browsertest.PageSpec{
		HTML: `<div id="loading">Loading...</div><ul id="list"></ul>`,
		OnLoad: func(d *browsertest.Document) {
			resp, err := d.Fetch("GET", "/api/items", nil)
			if err != nil {
				return
			}
			d.SetText("#list", string(resp.Body))
			d.Hide("#loading")
		},
	})
	engine := browsertest.NewEngine(site)
	m, err := browser.NewManager(browser.ManagerConfig{
		Engine:  engine,
		Log:     log.NewLogger(log.DiscardHandler()),
		BaseURL: "http://app.test",
	})
	require.NoError(t, err)
	ctx := context.Background()

	err = m.With(ctx, project, func(s *browser.Session) error {
		r := network.NewRouter(network.WithBaseURL(s.BaseURL()))
		require.NoError(t, network.Attach(ctx, s, r))
		require.NoError(t, r.Route("/api/items", func(route *network.Route) {
			if err := route.Delay(2 * time.Second); err != nil {
				return
			}
			_ = route.FulfillJSON(http.StatusOK, []string{"a", "b"})
		}))

		start := time.Now()
		require.NoError(t, s.Navigate(ctx, "/"))
		loadingVisible := func() bool {
			snap, err := s.Snapshot(ctx)
			require.NoError(t, err)
			return snap.IsVisible(snap.ElementByID("loading"))
		}

		time.Sleep(time.Until(start.Add(500 * time.Millisecond)))
		assert.True(t, loadingVisible(), "indicator at 500ms")
		time.Sleep(time.Until(start.Add(2500 * time.Millisecond)))
		assert.False(t, loadingVisible(), "indicator at 2500ms")
		return nil
	})
	require.NoError(t, err)
}
