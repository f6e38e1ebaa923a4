package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

var _ browser.Engine = (*Engine)(nil)

// ErrDisconnected is returned by every operation after Disconnect.
var ErrDisconnected = errors.New("browsertest: engine disconnected")

// Engine is an in-memory browser.Engine serving a Site.
type Engine struct {
	site *Site

	mu          sync.Mutex
	failContext error
	closed      bool

	disconnected atomic.Bool
	openContexts atomic.Int64
	created      atomic.Int64
	listeners    atomic.Int64
}

// NewEngine returns an engine serving site.
func NewEngine(site *Site) *Engine {
	return &Engine{site: site}
}

// FailContexts makes every later NewContext call fail with err. A nil err
// restores normal behavior.
func (e *Engine) FailContexts(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failContext = err
}

// Disconnect simulates losing the control connection.
func (e *Engine) Disconnect() {
	e.disconnected.Store(true)
}

// OpenContexts returns the number of contexts not yet closed.
func (e *Engine) OpenContexts() int {
	return int(e.openContexts.Load())
}

// CreatedContexts returns the number of contexts ever opened.
func (e *Engine) CreatedContexts() int {
	return int(e.created.Load())
}

// PageListeners returns the number of page event listeners still attached.
func (e *Engine) PageListeners() int {
	return int(e.listeners.Load())
}

func (e *Engine) alive() error {
	if e.disconnected.Load() {
		return types.NewInfrastructureError(ErrDisconnected)
	}
	return nil
}

func (e *Engine) NewContext(ctx context.Context, project types.ProjectConfig) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.alive(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	failErr, closed := e.failContext, e.closed
	e.mu.Unlock()
	if closed {
		return nil, errors.New("browsertest: engine closed")
	}
	if failErr != nil {
		return nil, failErr
	}
	e.openContexts.Add(1)
	e.created.Add(1)
	return &fakeContext{engine: e, project: project, cookies: make(map[string]browser.Cookie)}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type fakeContext struct {
	engine  *Engine
	project types.ProjectConfig

	mu      sync.Mutex
	offline bool
	cookies map[string]browser.Cookie
	pages   []*fakePage
	closed  bool
}

func (c *fakeContext) NewPage(ctx context.Context) (browser.Page, error) {
	if err := c.engine.alive(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("browsertest: context closed")
	}
	p := newFakePage(c)
	c.pages = append(c.pages, p)
	return p, nil
}

func (c *fakeContext) SetOffline(_ context.Context, offline bool) error {
	if err := c.engine.alive(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = offline
	return nil
}

func (c *fakeContext) isOffline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offline
}

func (c *fakeContext) setCookie(cookie browser.Cookie) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies[cookie.Name] = cookie
}

func (c *fakeContext) deleteCookie(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cookies, name)
}

func (c *fakeContext) Cookies(context.Context) ([]browser.Cookie, error) {
	if err := c.engine.alive(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]browser.Cookie, 0, len(c.cookies))
	for _, cookie := range c.cookies {
		out = append(out, cookie)
	}
	return out, nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pages := c.pages
	c.mu.Unlock()
	for _, p := range pages {
		_ = p.Close()
	}
	c.engine.openContexts.Add(-1)
	return nil
}

func (c *fakeContext) String() string {
	return fmt.Sprintf("context(%s)", c.project.Name)
}
