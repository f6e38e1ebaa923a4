// Package network intercepts the requests a page issues. Rules are kept in
// registration order and the first matching rule decides the request.
package network

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/metrics"
)

var _ browser.Interceptor = (*Router)(nil)

// Handler decides an intercepted request. Handlers run concurrently for
// concurrent requests and must not assume exclusive access to shared state.
type Handler func(route *Route)

type rule struct {
	matcher Matcher
	handler Handler
}

// Router holds the ordered rule list of one session.
type Router struct {
	log            log.Logger
	baseURL        string
	blockUnmatched bool

	mu    sync.RWMutex
	rules []*rule
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l log.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithBaseURL resolves patterns starting with "/" against baseURL.
func WithBaseURL(baseURL string) Option {
	return func(r *Router) { r.baseURL = baseURL }
}

// BlockUnmatched aborts every request no rule matches.
func BlockUnmatched() Option {
	return func(r *Router) { r.blockUnmatched = true }
}

// NewRouter returns an empty router.
func NewRouter(opts ...Option) *Router {
	r := &Router{log: log.New()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.New("component", "router")
	return r
}

// Route appends a rule for a URL glob.
func (r *Router) Route(glob string, h Handler) error {
	p, err := ParseGlob(resolveGlob(r.baseURL, glob))
	if err != nil {
		return err
	}
	return r.RouteMatcher(p, h)
}

// RouteRegexp appends a rule for URLs matching re.
func (r *Router) RouteRegexp(re *regexp.Regexp, h Handler) error {
	return r.RouteMatcher(Regexp(re), h)
}

// RouteMatcher appends a rule for an arbitrary matcher.
func (r *Router) RouteMatcher(m Matcher, h Handler) error {
	if m == nil || h == nil {
		return fmt.Errorf("route requires a matcher and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, &rule{matcher: m, handler: h})
	r.log.Debug("Route added", "pattern", m.String(), "rules", len(r.rules))
	return nil
}

// Unroute removes every rule registered with the given pattern string and
// reports how many were removed.
func (r *Router) Unroute(pattern string) int {
	pattern = resolveGlob(r.baseURL, pattern)
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.rules)
	r.rules = slices.DeleteFunc(r.rules, func(rl *rule) bool { return rl.matcher.String() == pattern })
	return before - len(r.rules)
}

// UnrouteAll clears every rule.
func (r *Router) UnrouteAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = nil
}

// Rules returns the number of installed rules.
func (r *Router) Rules() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

func (r *Router) match(u string) *rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rl := range r.rules {
		if rl.matcher.MatchURL(u) {
			return rl
		}
	}
	return nil
}

// Intercept implements browser.Interceptor. The handler runs without the
// router lock held.
func (r *Router) Intercept(ctx context.Context, req *browser.Request) browser.Decision {
	rl := r.match(req.URL)
	if rl == nil {
		if r.blockUnmatched {
			metrics.RecordRouteHit("blocked")
			return browser.Decision{Kind: browser.Abort, Reason: "blocked: no matching route"}
		}
		return browser.Decision{Kind: browser.Continue}
	}

	route := newRoute(ctx, req)
	if err := r.run(rl, route); err != nil {
		r.log.Error("Route handler failed", "pattern", rl.matcher.String(), "url", req.URL, "err", err)
		metrics.RecordRouteHit("error")
		return browser.Decision{Kind: browser.Abort, Reason: err.Error()}
	}
	d := route.result()
	metrics.RecordRouteHit(decisionLabel(d.Kind))
	return d
}

func (r *Router) run(rl *rule, route *Route) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("route handler panic: %v", p)
		}
	}()
	rl.handler(route)
	return nil
}

func decisionLabel(k browser.DecisionKind) string {
	switch k {
	case browser.Fulfill:
		return "fulfill"
	case browser.Abort:
		return "abort"
	default:
		return "continue"
	}
}

// Session is the part of a browser session a router attaches to.
type Session interface {
	SetInterceptor(ctx context.Context, i browser.Interceptor) error
	OnRelease(fn func()) error
}

// Attach installs r on s and clears its rules when s is released.
func Attach(ctx context.Context, s Session, r *Router) error {
	if err := s.SetInterceptor(ctx, r); err != nil {
		return fmt.Errorf("install router: %w", err)
	}
	return s.OnRelease(r.UnrouteAll)
}
