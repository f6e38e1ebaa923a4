package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/browser/browsertest"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

var desktop = types.ProjectConfig{Name: "desktop", Viewport: types.Viewport{Width: 1280, Height: 720}, BrowserEngine: types.EngineChromium}

func newManager(t *testing.T, site *browsertest.Site) (*browser.Manager, *browsertest.Engine) {
	t.Helper()
	engine := browsertest.NewEngine(site)
	m, err := browser.NewManager(browser.ManagerConfig{
		Engine:  engine,
		Log:     log.NewLogger(log.DiscardHandler()),
		BaseURL: "http://app.test",
	})
	require.NoError(t, err)
	return m, engine
}

func TestSessionsAreIsolated(t *testing.T) {
	site := browsertest.NewSite().Page("/", browsertest.PageSpec{
		HTML:   `<p>hi</p>`,
		OnLoad: func(d *browsertest.Document) { d.SetCookie("visited", "1") },
	})
	m, _ := newManager(t, site)
	ctx := context.Background()

	a, err := m.Acquire(ctx, desktop)
	require.NoError(t, err)
	b, err := m.Acquire(ctx, desktop)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	require.NoError(t, a.Navigate(ctx, "/"))
	require.Eventually(t, func() bool {
		cookies, err := a.Cookies(ctx)
		return err == nil && len(cookies) == 1
	}, time.Second, 5*time.Millisecond)

	cookies, err := b.Cookies(ctx)
	require.NoError(t, err)
	assert.Empty(t, cookies)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m, engine := newManager(t, browsertest.NewSite())
	s, err := m.Acquire(context.Background(), desktop)
	require.NoError(t, err)

	var cleanups int
	require.NoError(t, s.OnRelease(func() { cleanups++ }))
	_, err = s.Subscribe(browser.EventConsole, func(browser.Event) {})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Release(s))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, cleanups)
	assert.Equal(t, 0, s.Subscriptions())
	assert.Equal(t, 0, m.Live())
	assert.Equal(t, 0, engine.OpenContexts())
	assert.ErrorIs(t, s.Navigate(context.Background(), "/"), browser.ErrSessionReleased)
	assert.ErrorIs(t, s.OnRelease(func() {}), browser.ErrSessionReleased)
}

func TestReleaseDetachesPageListener(t *testing.T) {
	m, engine := newManager(t, browsertest.NewSite())
	ctx := context.Background()
	a, err := m.Acquire(ctx, desktop)
	require.NoError(t, err)
	b, err := m.Acquire(ctx, desktop)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.PageListeners())

	sub, err := a.Subscribe(browser.EventConsole, func(browser.Event) {})
	require.NoError(t, err)
	require.Equal(t, 1, a.Subscriptions())
	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, a.Subscriptions())
	assert.Equal(t, 2, engine.PageListeners(), "cancelling a subscription keeps the page listener")

	require.NoError(t, m.Release(a))
	assert.Equal(t, 1, engine.PageListeners())
	require.NoError(t, m.Release(b))
	require.NoError(t, m.Release(b))
	assert.Equal(t, 0, engine.PageListeners())
}

func TestCleanupsRunInReverseOrder(t *testing.T) {
	m, _ := newManager(t, browsertest.NewSite())
	s, err := m.Acquire(context.Background(), desktop)
	require.NoError(t, err)
	var order []int
	for i := range 3 {
		require.NoError(t, s.OnRelease(func() { order = append(order, i) }))
	}
	require.NoError(t, m.Release(s))
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestWithReleasesOnPanic(t *testing.T) {
	m, engine := newManager(t, browsertest.NewSite())
	assert.Panics(t, func() {
		_ = m.With(context.Background(), desktop, func(*browser.Session) error {
			panic("boom")
		})
	})
	assert.Equal(t, 0, m.Live())
	assert.Equal(t, 0, engine.OpenContexts())

	errBody := errors.New("body failed")
	err := m.With(context.Background(), desktop, func(*browser.Session) error { return errBody })
	assert.ErrorIs(t, err, errBody)
	assert.Equal(t, 0, engine.OpenContexts())
}

func TestAcquireFailureIsInfrastructure(t *testing.T) {
	m, engine := newManager(t, browsertest.NewSite())
	engine.FailContexts(errors.New("browser crashed"))
	_, err := m.Acquire(context.Background(), desktop)
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrSessionUnavailable)
	assert.True(t, types.IsInfrastructure(err))
	assert.ErrorContains(t, err, "browser crashed")
	assert.Equal(t, 0, m.Live())
}

func TestAcquireRejectsInvalidProject(t *testing.T) {
	m, _ := newManager(t, browsertest.NewSite())
	_, err := m.Acquire(context.Background(), types.ProjectConfig{})
	require.Error(t, err)
	assert.False(t, types.IsInfrastructure(err))
}

func TestConsoleErrorsCaptured(t *testing.T) {
	site := browsertest.NewSite().Page("/", browsertest.PageSpec{
		HTML: `<button>x</button>`,
		OnClick: map[string]func(*browsertest.Document, *html.Node){
			"button": func(d *browsertest.Document, _ *html.Node) {
				d.Console("log", "ignored")
				d.Console("error", "failed to load")
				d.Throw("TypeError: x is undefined")
			},
		},
	})
	m, _ := newManager(t, site)
	ctx := context.Background()
	s, err := m.Acquire(ctx, desktop)
	require.NoError(t, err)
	defer func() { _ = m.Release(s) }()

	seen := make(chan string, 4)
	_, err = s.Subscribe(browser.EventConsole, func(ev browser.Event) { seen <- ev.Console.Text })
	require.NoError(t, err)

	require.NoError(t, s.Navigate(ctx, "/"))
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	btn, err := snap.Select("button")
	require.NoError(t, err)
	require.NoError(t, s.Act(ctx, snap.Ref(btn[0]), browser.Action{Kind: browser.ActionClick}))

	require.Eventually(t, func() bool { return len(s.ConsoleErrors()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"[error] failed to load", "[pageerror] TypeError: x is undefined"}, s.ConsoleErrors())
	assert.Len(t, seen, 2)
}

func TestResolveURL(t *testing.T) {
	m, _ := newManager(t, browsertest.NewSite())
	s, err := m.Acquire(context.Background(), desktop)
	require.NoError(t, err)
	defer func() { _ = m.Release(s) }()

	got, err := s.ResolveURL("/login?next=1")
	require.NoError(t, err)
	assert.Equal(t, "http://app.test/login?next=1", got)
	got, err = s.ResolveURL("https://other.test/x")
	require.NoError(t, err)
	assert.Equal(t, "https://other.test/x", got)
}

func TestCloseReleasesLiveSessions(t *testing.T) {
	m, engine := newManager(t, browsertest.NewSite())
	for range 3 {
		_, err := m.Acquire(context.Background(), desktop)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.Live())
	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Live())
	assert.Equal(t, 0, engine.OpenContexts())
}
