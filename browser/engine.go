// Package browser owns the lifecycle of remote browser sessions. An Engine is
// the remote control protocol; a Session is the capability one test execution
// holds over one isolated context and page.
package browser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Engine is a remote browser reachable over a control protocol.
type Engine interface {
	// NewContext opens an isolated cookie and storage jar emulating project.
	NewContext(ctx context.Context, project types.ProjectConfig) (Context, error)
	Close() error
}

// Context is one isolated browser context.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	SetOffline(ctx context.Context, offline bool) error
	Cookies(ctx context.Context) ([]Cookie, error)
	Close() error
}

// Page is one tab inside a Context.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	// Snapshot serializes the current document. Every navigation increments
	// the snapshot generation.
	Snapshot(ctx context.Context) (*dom.Snapshot, error)
	// Act dispatches an input action to the element ref points at, failing
	// with dom.ErrStaleElement when ref predates the current document.
	Act(ctx context.Context, ref dom.ElementRef, action Action) error
	// Press dispatches a key press to whatever holds focus.
	Press(ctx context.Context, key string) error
	Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error)
	SetViewport(ctx context.Context, viewport types.Viewport) error
	// SetInterceptor routes every request the page issues through i. A nil
	// interceptor disables interception.
	SetInterceptor(ctx context.Context, i Interceptor) error
	// Subscribe delivers page events to fn until cancel is called.
	Subscribe(fn func(Event)) (cancel func())
	HandleDialog(ctx context.Context, accept bool, promptText string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// ActionKind names an input action.
type ActionKind string

const (
	ActionClick  ActionKind = "click"
	ActionFill   ActionKind = "fill"
	ActionClear  ActionKind = "clear"
	ActionFocus  ActionKind = "focus"
	ActionHover  ActionKind = "hover"
	ActionPress  ActionKind = "press"
	ActionCheck  ActionKind = "check"
	ActionSelect ActionKind = "select"
)

// Action is one input action; Value carries fill text, key names or option values.
type Action struct {
	Kind  ActionKind
	Value string
}

// Cookie is a cookie stored in a Context.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires"`
	HTTPOnly bool      `json:"httpOnly"`
	Secure   bool      `json:"secure"`
	SameSite string    `json:"sameSite,omitempty"`
}

// EventType names a page event.
type EventType string

const (
	EventConsole   EventType = "console"
	EventDialog    EventType = "dialog"
	EventNavigated EventType = "navigated"
	EventPageError EventType = "pageerror"
)

// ConsoleMessage is one console API call made by the page.
type ConsoleMessage struct {
	Level string
	Text  string
}

// Dialog is a JavaScript dialog the page opened.
type Dialog struct {
	Type         string
	Message      string
	DefaultValue string
}

// Event is one page event. Exactly one payload field is set for console and
// dialog events.
type Event struct {
	Type    EventType
	Console *ConsoleMessage
	Dialog  *Dialog
	URL     string
	Error   string
}

// Request is an intercepted network request.
type Request struct {
	Method       string
	URL          string
	Headers      map[string]string
	Body         []byte
	ResourceType string
}

// Response is a synthesized network response.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// DecisionKind is what an Interceptor does with a request.
type DecisionKind int

const (
	Continue DecisionKind = iota
	Fulfill
	Abort
)

// Decision is an Interceptor's verdict on one request.
type Decision struct {
	Kind     DecisionKind
	Response *Response
	Reason   string
}

// Interceptor handles requests issued by a page. Intercept is invoked
// concurrently for concurrent requests.
type Interceptor interface {
	Intercept(ctx context.Context, req *Request) Decision
}
