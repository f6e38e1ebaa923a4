package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
)

// ErrRouteHandled is returned when a route is decided twice.
var ErrRouteHandled = errors.New("route already handled")

// FulfillOptions is the synthesized response for Route.Fulfill.
type FulfillOptions struct {
	Status      int
	Headers     map[string]string
	ContentType string
	Body        []byte
}

// Route is one intercepted request awaiting a decision. A handler that
// returns without deciding lets the request continue.
type Route struct {
	ctx context.Context
	req *browser.Request

	mu       sync.Mutex
	decided  bool
	decision browser.Decision
}

func newRoute(ctx context.Context, req *browser.Request) *Route {
	return &Route{ctx: ctx, req: req, decision: browser.Decision{Kind: browser.Continue}}
}

// Request returns the intercepted request.
func (r *Route) Request() *browser.Request {
	return r.req
}

// Context is cancelled when the page abandons the request.
func (r *Route) Context() context.Context {
	return r.ctx
}

func (r *Route) decide(d browser.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decided {
		return fmt.Errorf("%s %s: %w", r.req.Method, r.req.URL, ErrRouteHandled)
	}
	r.decided = true
	r.decision = d
	return nil
}

func (r *Route) result() browser.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decision
}

// Fulfill answers the request with a synthesized response. Status defaults to 200.
func (r *Route) Fulfill(opts FulfillOptions) error {
	status := opts.Status
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(map[string]string, len(opts.Headers)+1)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if opts.ContentType != "" {
		headers["Content-Type"] = opts.ContentType
	}
	return r.decide(browser.Decision{
		Kind:     browser.Fulfill,
		Response: &browser.Response{Status: status, Headers: headers, Body: opts.Body},
	})
}

// FulfillJSON answers with v encoded as JSON.
func (r *Route) FulfillJSON(status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode route body: %w", err)
	}
	return r.Fulfill(FulfillOptions{Status: status, ContentType: "application/json", Body: body})
}

// Continue sends the request to the real network.
func (r *Route) Continue() error {
	return r.decide(browser.Decision{Kind: browser.Continue})
}

// Abort fails the request with reason.
func (r *Route) Abort(reason string) error {
	if reason == "" {
		reason = "aborted"
	}
	return r.decide(browser.Decision{Kind: browser.Abort, Reason: reason})
}

// Delay blocks the handler for d, returning early if the request is abandoned.
func (r *Route) Delay(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-r.ctx.Done():
		return context.Cause(r.ctx)
	}
}
