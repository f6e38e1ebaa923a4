// Package harness is the API a test body programs against. A T is bound to
// one session for one attempt; its failure methods end the body the way
// testing.T.FailNow does.
package harness

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-webcheck/audit"
	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/network"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Policy decides what T.Soft does with a failed UX check.
type Policy string

const (
	// PolicyStrict fails the test.
	PolicyStrict Policy = "strict"
	// PolicyLenient records a warning and carries on.
	PolicyLenient Policy = "lenient"
)

// ParsePolicy parses a policy name. The empty string means lenient.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyLenient:
		return PolicyLenient, nil
	case PolicyStrict:
		return PolicyStrict, nil
	}
	return "", fmt.Errorf("unknown ux policy %q (want strict or lenient)", s)
}

// Options configures a T.
type Options struct {
	// Expect bounds and paces assertion polling.
	Expect locator.Waiter
	// ActionTimeout bounds how long an action waits for its element.
	ActionTimeout time.Duration
	Policy        Policy
	Auditor       *audit.Auditor
	Log           log.Logger
}

// T is the per-attempt test context.
type T struct {
	ctx     context.Context
	session *browser.Session
	opts    Options
	log     log.Logger

	routerOnce sync.Once
	router     *network.Router
	routerErr  error

	mu          sync.Mutex
	warnings    []string
	err         error
	stack       string
	skipped     bool
	skipReason  string
	lastLocator string
}

// New binds a T to s. ctx bounds every operation the body performs.
func New(ctx context.Context, s *browser.Session, opts Options) *T {
	if opts.Log == nil {
		opts.Log = log.New()
	}
	if opts.Expect.Interval <= 0 || opts.Expect.Timeout <= 0 {
		opts.Expect = locator.NewWaiter(opts.Expect.Interval, opts.Expect.Timeout)
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 10 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = PolicyLenient
	}
	if opts.Auditor == nil {
		opts.Auditor = audit.New(audit.NewBuiltinEngine(), opts.Log)
	}
	return &T{
		ctx:     ctx,
		session: s,
		opts:    opts,
		log:     opts.Log.New("session", s.ID(), "project", s.Project().Name),
	}
}

// Context is cancelled when the attempt times out.
func (t *T) Context() context.Context {
	return t.ctx
}

// Session returns the underlying browser session.
func (t *T) Session() *browser.Session {
	return t.session
}

// Project returns the project this attempt emulates.
func (t *T) Project() types.ProjectConfig {
	return t.session.Project()
}

// Log returns the attempt logger.
func (t *T) Log() log.Logger {
	return t.log
}

// Policy returns the UX strictness policy in effect.
func (t *T) Policy() Policy {
	return t.opts.Policy
}

// Fatal records err as the attempt failure and ends the body. A nil err is
// ignored.
func (t *T) Fatal(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	runtime.Goexit()
}

// Fatalf records an assertion failure and ends the body.
func (t *T) Fatalf(format string, args ...any) {
	t.Fatal(&types.AssertionError{Message: fmt.Sprintf(format, args...)})
}

// Must ends the body if err is non-nil.
func (t *T) Must(err error) {
	t.Fatal(err)
}

// Skip marks the attempt skipped and ends the body.
func (t *T) Skip(reason string) {
	t.mu.Lock()
	t.skipped = true
	t.skipReason = reason
	t.mu.Unlock()
	runtime.Goexit()
}

// Warnf records a warning that does not fail the test.
func (t *T) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	t.mu.Lock()
	t.warnings = append(t.warnings, msg)
	t.mu.Unlock()
	t.log.Warn("Test warning", "msg", msg)
}

// Soft applies the UX policy to a failed check: strict fails the test,
// lenient records a warning.
func (t *T) Soft(err error) {
	if err == nil {
		return
	}
	if t.opts.Policy == PolicyStrict {
		t.Fatal(err)
	}
	t.Warnf("%v", err)
}

// Warnings returns the warnings recorded so far.
func (t *T) Warnings() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.warnings...)
}

// Err returns the recorded failure, if any.
func (t *T) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stack returns the goroutine stack of an uncaught panic.
func (t *T) Stack() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stack
}

// Skipped reports whether the body called Skip.
func (t *T) Skipped() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped, t.skipReason
}

// LastLocator describes the locator the body touched most recently.
func (t *T) LastLocator() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastLocator
}

func (t *T) touch(l locator.Locator) {
	t.mu.Lock()
	t.lastLocator = l.String()
	t.mu.Unlock()
}

// Start runs body on its own goroutine. The returned channel closes when the
// body returns, fails, skips or panics.
func Start(t *T, body func(*T)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				t.mu.Lock()
				if t.err == nil {
					if err, ok := r.(error); ok {
						t.err = fmt.Errorf("panic: %w", err)
					} else {
						t.err = fmt.Errorf("panic: %v", r)
					}
					t.stack = string(debug.Stack())
				}
				t.mu.Unlock()
			}
		}()
		body(t)
	}()
	return done
}

// Wait sleeps for d or until the attempt is cancelled.
func (t *T) Wait(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.ctx.Done():
		t.Fatal(&types.TimeoutError{Op: "wait", Err: context.Cause(t.ctx)})
	}
}

// WaitFor polls cond with the expect waiter and fails the test when it
// never holds.
func (t *T) WaitFor(op string, cond func() (bool, error)) {
	t.Must(t.opts.Expect.For(t.ctx, op, func(context.Context) (bool, error) {
		return cond()
	}))
}
