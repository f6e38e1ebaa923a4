// Package rodengine drives a Chromium browser over the DevTools protocol with
// go-rod.
package rodengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Options configures how the browser is started or reached.
type Options struct {
	// ControlURL connects to an already running browser instead of launching one.
	ControlURL string
	// Bin overrides the browser binary launched locally.
	Bin string
	Headless bool
	// NoSandbox is needed when running as root inside containers.
	NoSandbox bool
	// StrictEngines rejects projects asking for a non-Chromium engine. When
	// false those projects are emulated by Chromium with their viewport and
	// user agent.
	StrictEngines bool
	// ConnectTimeout bounds launching and connecting.
	ConnectTimeout time.Duration
	Log            log.Logger
}

// Engine is a browser.Engine over one Chromium process.
type Engine struct {
	opts     Options
	log      log.Logger
	browser  *rod.Browser
	launcher *launcher.Launcher

	warnOnce sync.Map
}

var _ browser.Engine = (*Engine)(nil)

// Start launches or connects to the browser.
func Start(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Log == nil {
		opts.Log = log.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	e := &Engine{opts: opts, log: opts.Log.New("component", "rod-engine")}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(opts.Headless).Set("disable-gpu")
		if opts.NoSandbox {
			l = l.NoSandbox(true)
		}
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		e.launcher = l
		controlURL = u
		e.log.Info("browser launched", "control", controlURL)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		e.cleanup()
		return nil, fmt.Errorf("connect to browser at %s: %w", controlURL, err)
	}
	// drop the connect deadline for the browser's lifetime
	e.browser = b.Context(context.Background())
	if v, err := e.browser.Version(); err == nil {
		e.log.Info("browser connected", "product", v.Product, "protocol", v.ProtocolVersion)
	}
	return e, nil
}

func (e *Engine) cleanup() {
	if e.launcher != nil {
		e.launcher.Kill()
		e.launcher.Cleanup()
	}
}

// NewContext opens an incognito browser context for project.
func (e *Engine) NewContext(ctx context.Context, project types.ProjectConfig) (browser.Context, error) {
	if project.BrowserEngine != types.EngineChromium {
		if e.opts.StrictEngines {
			return nil, fmt.Errorf("project %q: engine %q is not available over the devtools protocol", project.Name, project.BrowserEngine)
		}
		if _, seen := e.warnOnce.LoadOrStore(project.BrowserEngine, true); !seen {
			e.log.Warn("emulating engine with chromium", "engine", project.BrowserEngine, "project", project.Name)
		}
	}
	inc, err := e.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("create incognito context: %w", err)
	}
	return &rodContext{
		engine:  e,
		browser: inc.Context(context.Background()),
		project: project,
		log:     e.log.New("project", project.Name),
	}, nil
}

func (e *Engine) Close() error {
	var err error
	if e.browser != nil {
		err = e.browser.Close()
	}
	e.cleanup()
	return err
}

// rodContext is an incognito browser context.
type rodContext struct {
	engine  *Engine
	browser *rod.Browser
	project types.ProjectConfig
	log     log.Logger

	mu      sync.Mutex
	offline bool
	pages   []*rodPage
	closed  bool
}

func (c *rodContext) NewPage(ctx context.Context) (browser.Page, error) {
	c.mu.Lock()
	closed, offline := c.closed, c.offline
	c.mu.Unlock()
	if closed {
		return nil, errors.New("context closed")
	}

	raw, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	p := newPage(raw.Context(context.Background()), c.log)
	if err := p.emulate(ctx, c.project); err != nil {
		_ = p.Close()
		return nil, err
	}
	if offline {
		if err := p.setOffline(ctx, true); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	c.mu.Lock()
	c.pages = append(c.pages, p)
	c.mu.Unlock()
	return p, nil
}

// SetOffline toggles network emulation on every page of the context,
// including pages opened later.
func (c *rodContext) SetOffline(ctx context.Context, offline bool) error {
	c.mu.Lock()
	c.offline = offline
	pages := append([]*rodPage(nil), c.pages...)
	c.mu.Unlock()
	for _, p := range pages {
		if err := p.setOffline(ctx, offline); err != nil {
			return err
		}
	}
	return nil
}

func (c *rodContext) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	raw, err := c.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	out := make([]browser.Cookie, 0, len(raw))
	for _, rc := range raw {
		out = append(out, convertCookie(rc))
	}
	return out, nil
}

func convertCookie(rc *proto.NetworkCookie) browser.Cookie {
	c := browser.Cookie{
		Name:     rc.Name,
		Value:    rc.Value,
		Domain:   rc.Domain,
		Path:     rc.Path,
		HTTPOnly: rc.HTTPOnly,
		Secure:   rc.Secure,
		SameSite: string(rc.SameSite),
	}
	// session cookies report -1
	if exp := float64(rc.Expires); exp > 0 {
		c.Expires = time.Unix(0, int64(exp*float64(time.Second))).UTC()
	}
	return c
}

func (c *rodContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pages := c.pages
	c.pages = nil
	c.mu.Unlock()

	var errs []error
	for _, p := range pages {
		errs = append(errs, p.Close())
	}
	// closing an incognito browser disposes its context
	errs = append(errs, c.browser.Close())
	return errors.Join(errs...)
}
