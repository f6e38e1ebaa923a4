// Package browsertest provides an in-memory browser engine for tests. Pages
// are markup plus Go callbacks standing in for page scripts; every callback
// runs asynchronously, as it would in a real browser.
package browsertest

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
)

// PageSpec describes one document the fake browser can load.
type PageSpec struct {
	HTML string
	// OnLoad runs after the document loads.
	OnLoad func(d *Document)
	// OnClick maps CSS selectors to click handlers.
	OnClick map[string]func(d *Document, el *html.Node)
	// OnInput maps CSS selectors to handlers run after an element's value is
	// filled or cleared.
	OnInput map[string]func(d *Document, el *html.Node)
	// OnKey maps key names to handlers for keys pressed anywhere on the page.
	OnKey map[string]func(d *Document)
	// Evaluate answers page.evaluate calls.
	Evaluate func(js string, args []any) (any, error)
}

// APIHandler answers a request that reaches the real network.
type APIHandler func(req *browser.Request) browser.Response

// Site is the set of documents and endpoints reachable from the fake browser.
type Site struct {
	mu    sync.RWMutex
	pages map[string]PageSpec
	apis  map[string]APIHandler
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{
		pages: make(map[string]PageSpec),
		apis:  make(map[string]APIHandler),
	}
}

// Page registers a document at path.
func (s *Site) Page(path string, spec PageSpec) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = spec
	return s
}

// HTML registers static markup at path.
func (s *Site) HTML(path, markup string) *Site {
	return s.Page(path, PageSpec{HTML: markup})
}

// API registers an endpoint. pattern is "METHOD /path" or just "/path" for
// any method.
func (s *Site) API(pattern string, h APIHandler) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apis[pattern] = h
	return s
}

// JSON registers an endpoint answering with a fixed JSON body.
func (s *Site) JSON(pattern string, status int, body string) *Site {
	return s.API(pattern, func(*browser.Request) browser.Response {
		return browser.Response{
			Status:  status,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    []byte(body),
		}
	})
}

func (s *Site) page(path string) (PageSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.pages[path]
	return spec, ok
}

func (s *Site) serve(req *browser.Request, path string) browser.Response {
	s.mu.RLock()
	h, ok := s.apis[strings.ToUpper(req.Method)+" "+path]
	if !ok {
		h, ok = s.apis[path]
	}
	s.mu.RUnlock()
	if ok {
		return h(req)
	}
	if spec, ok := s.page(path); ok {
		return browser.Response{
			Status:  http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/html"},
			Body:    []byte(spec.HTML),
		}
	}
	return browser.Response{Status: http.StatusNotFound, Body: []byte("not found")}
}
