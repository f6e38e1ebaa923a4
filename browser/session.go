package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

const maxCapturedConsole = 50

// Subscription is a listener registered on a Session. It is cancelled when
// the session is released.
type Subscription struct {
	eventType EventType
	fn        func(Event)
	session   *Session
}

// Cancel stops delivery to the listener. Cancel is idempotent.
func (sub *Subscription) Cancel() {
	sub.session.unsubscribe(sub)
}

// Session is the capability one test execution holds over one isolated
// browser context and page. It is never shared between executions.
type Session struct {
	id      string
	project types.ProjectConfig
	log     log.Logger

	browserCtx Context
	page       Page

	baseURL           string
	navigationTimeout time.Duration

	mu          sync.Mutex
	released    bool
	subs        []*Subscription
	cleanups    []func()
	console     []ConsoleMessage
	pageErrors  []string
	stopEvents  func()
	releaseOnce sync.Once
	releaseErr  error
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Project returns the project the session emulates.
func (s *Session) Project() types.ProjectConfig {
	return s.project
}

// BaseURL returns the address relative navigations resolve against.
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Released reports whether the session has been released.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *Session) check() error {
	if s.Released() {
		return fmt.Errorf("session %s: %w", s.id, ErrSessionReleased)
	}
	return nil
}

// Subscribe registers fn for events of type t.
func (s *Session) Subscribe(t EventType, fn func(Event)) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, fmt.Errorf("session %s: %w", s.id, ErrSessionReleased)
	}
	sub := &Subscription{eventType: t, fn: fn, session: s}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *Session) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = slices.DeleteFunc(s.subs, func(other *Subscription) bool { return other == sub })
}

// Subscriptions returns the number of live listeners.
func (s *Session) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// OnRelease registers fn to run when the session is released. Cleanups run in
// reverse registration order.
func (s *Session) OnRelease(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("session %s: %w", s.id, ErrSessionReleased)
	}
	s.cleanups = append(s.cleanups, fn)
	return nil
}

func (s *Session) dispatch(ev Event) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	switch {
	case ev.Type == EventConsole && ev.Console != nil:
		if ev.Console.Level == "error" || ev.Console.Level == "warning" {
			s.console = append(s.console, *ev.Console)
			if len(s.console) > maxCapturedConsole {
				s.console = s.console[len(s.console)-maxCapturedConsole:]
			}
		}
	case ev.Type == EventPageError:
		s.pageErrors = append(s.pageErrors, ev.Error)
	}
	var targets []*Subscription
	for _, sub := range s.subs {
		if sub.eventType == ev.Type {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.fn(ev)
	}
}

// ConsoleErrors returns the console errors and warnings plus uncaught page
// errors seen so far.
func (s *Session) ConsoleErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.console)+len(s.pageErrors))
	for _, m := range s.console {
		out = append(out, fmt.Sprintf("[%s] %s", m.Level, m.Text))
	}
	for _, e := range s.pageErrors {
		out = append(out, "[pageerror] "+e)
	}
	return out
}

// ResolveURL resolves target against the base URL.
func (s *Session) ResolveURL(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	if ref.IsAbs() || s.baseURL == "" {
		return ref.String(), nil
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", s.baseURL, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Navigate loads target, resolved against the base URL, bounded by the
// navigation timeout.
func (s *Session) Navigate(ctx context.Context, target string) error {
	if err := s.check(); err != nil {
		return err
	}
	u, err := s.ResolveURL(target)
	if err != nil {
		return err
	}
	navCtx, cancel := s.navigationContext(ctx)
	defer cancel()
	if err := s.page.Navigate(navCtx, u); err != nil {
		return s.navigationError("navigate "+u, navCtx, err)
	}
	return nil
}

// Reload reloads the current document.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	navCtx, cancel := s.navigationContext(ctx)
	defer cancel()
	if err := s.page.Reload(navCtx); err != nil {
		return s.navigationError("reload", navCtx, err)
	}
	return nil
}

func (s *Session) navigationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.navigationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.navigationTimeout)
}

func (s *Session) navigationError(op string, navCtx context.Context, err error) error {
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) && !types.IsInfrastructure(err) {
		return &types.TimeoutError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// URL returns the address of the current document.
func (s *Session) URL(ctx context.Context) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	return s.page.URL(ctx)
}

// Snapshot serializes the live document.
func (s *Session) Snapshot(ctx context.Context) (*dom.Snapshot, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.page.Snapshot(ctx)
}

// Act dispatches action to the referenced element.
func (s *Session) Act(ctx context.Context, ref dom.ElementRef, action Action) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.page.Act(ctx, ref, action)
}

// Press dispatches a key press to the focused element.
func (s *Session) Press(ctx context.Context, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.page.Press(ctx, key)
}

// Evaluate runs a JavaScript function expression in the page and returns its
// JSON encoded result.
func (s *Session) Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.page.Evaluate(ctx, js, args...)
}

// EvaluateInto runs js and decodes its result into out.
func (s *Session) EvaluateInto(ctx context.Context, out any, js string, args ...any) error {
	raw, err := s.Evaluate(ctx, js, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluation result: %w", err)
	}
	return nil
}

// SetViewport resizes the page.
func (s *Session) SetViewport(ctx context.Context, viewport types.Viewport) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.page.SetViewport(ctx, viewport)
}

// SetInterceptor routes page requests through i.
func (s *Session) SetInterceptor(ctx context.Context, i Interceptor) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.page.SetInterceptor(ctx, i)
}

// SetOffline toggles network emulation for the whole context.
func (s *Session) SetOffline(ctx context.Context, offline bool) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.browserCtx.SetOffline(ctx, offline)
}

// Cookies returns the cookies stored in the session's context.
func (s *Session) Cookies(ctx context.Context) ([]Cookie, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.browserCtx.Cookies(ctx)
}

// HandleDialog accepts or dismisses the open dialog.
func (s *Session) HandleDialog(ctx context.Context, accept bool, promptText string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.page.HandleDialog(ctx, accept, promptText)
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.page.Screenshot(ctx)
}

// release tears the session down exactly once. Listener cleanup happens
// before the page and context are closed.
func (s *Session) release() error {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		s.released = true
		cleanups := s.cleanups
		s.cleanups = nil
		s.subs = nil
		stopEvents := s.stopEvents
		s.mu.Unlock()

		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		if stopEvents != nil {
			stopEvents()
		}

		var errs []error
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		if err := s.browserCtx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
		s.releaseErr = errors.Join(errs...)
		s.log.Debug("Session released", "err", s.releaseErr)
	})
	return s.releaseErr
}
