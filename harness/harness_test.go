package harness_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/audit"
	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/browser/browsertest"
	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/network"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

var project = types.ProjectConfig{Name: "desktop", Viewport: types.Viewport{Width: 1280, Height: 720}, BrowserEngine: types.EngineChromium}

// run executes body against site and returns the finished T.
func run(t *testing.T, site *browsertest.Site, policy harness.Policy, body func(*harness.T)) *harness.T {
	t.Helper()
	m, err := browser.NewManager(browser.ManagerConfig{
		Engine:  browsertest.NewEngine(site),
		Log:     log.NewLogger(log.DiscardHandler()),
		BaseURL: "http://app.test",
	})
	require.NoError(t, err)
	s, err := m.Acquire(context.Background(), project)
	require.NoError(t, err)
	defer func() { _ = m.Release(s) }()

	ht := harness.New(context.Background(), s, harness.Options{
		Expect:        locator.NewWaiter(10*time.Millisecond, 300*time.Millisecond),
		ActionTimeout: 300 * time.Millisecond,
		Policy:        policy,
		Log:           log.NewLogger(log.DiscardHandler()),
	})
	select {
	case <-harness.Start(ht, body):
	case <-time.After(5 * time.Second):
		t.Fatal("body did not finish")
	}
	return ht
}

const loginHTML = `<html lang="en"><head><title>Login</title></head><body>
<form id="login">
  <label for="email">Email</label><input id="email" type="email">
  <label for="password">Password</label><input id="password" type="password">
  <button type="submit">Sign in</button>
</form>
<p id="status" hidden></p>
</body></html>`

func loginSite() *browsertest.Site {
	return browsertest.NewSite().Page("/login", browsertest.PageSpec{
		HTML: loginHTML,
		OnClick: map[string]func(*browsertest.Document, *html.Node){
			"button[type=submit]": func(d *browsertest.Document, _ *html.Node) {
				d.Sleep(30 * time.Millisecond)
				if d.Value("#email") == "" {
					d.SetText("#status", "Email is required")
				} else {
					d.SetText("#status", "Welcome "+d.Value("#email"))
				}
				d.Show("#status")
			},
		},
	})
}

func TestLoginFlow(t *testing.T) {
	ht := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/login")
		t.GetByLabel("Email").Fill("ada@example.com")
		t.GetByLabel("Password").Fill("hunter2")
		t.GetByRole("button", locator.Name(locator.Substring("sign in"))).Click()
		t.Expect(t.Locator("#status")).ToContainText("Welcome ada@example.com")
		t.Expect(t.GetByLabel("Email")).ToHaveValue("ada@example.com")
		t.ExpectPage().ToHaveURL(`/login$`)
		t.ExpectPage().ToHaveTitle("login")
	})
	require.NoError(t, ht.Err())
}

func TestExpectFailureIsAssertion(t *testing.T) {
	var after bool
	ht := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/login")
		t.Expect(t.Locator("#status")).ToBeVisible()
		after = true
	})
	require.Error(t, ht.Err())
	assert.True(t, types.IsAssertion(ht.Err()))
	assert.Contains(t, ht.Err().Error(), "expected to be visible")
	assert.Contains(t, ht.Err().Error(), "observed hidden")
	assert.False(t, after)
	assert.Equal(t, "css=#status", ht.LastLocator())
}

func TestNegatedExpect(t *testing.T) {
	ht := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/login")
		t.Expect(t.Locator("#status")).Not().ToBeVisible()
		t.Expect(t.Locator("#missing")).ToBeHidden()
		t.Expect(t.GetByRole("textbox")).ToHaveCount(2)
	})
	require.NoError(t, ht.Err())
}

func TestAmbiguousActionFailsFast(t *testing.T) {
	start := time.Now()
	ht := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/login")
		t.Locator("input").Fill("x")
	})
	assert.True(t, locator.IsAmbiguous(ht.Err()))
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestActionOnMissingElementTimesOut(t *testing.T) {
	ht := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/login")
		t.GetByRole("button", locator.Name(locator.Exact("Register"))).Click()
	})
	require.Error(t, ht.Err())
	assert.Equal(t, types.FailureTimeout, types.Classify(ht.Err()))
	assert.Contains(t, ht.Err().Error(), "Register")
}

func TestFirstPicksInDocumentOrder(t *testing.T) {
	var all int
	var last string
	ht := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/login")
		t.Locator("input").First().Fill("first")
		t.Expect(t.Locator("#email")).ToHaveValue("first")
		all = len(t.Locator("input").All())
		last = mustAttr(t, t.Locator("input").Last(), "id")
	})
	require.NoError(t, ht.Err())
	assert.Equal(t, 2, all)
	assert.Equal(t, "password", last)
}

func mustAttr(t *harness.T, h harness.Handle, name string) string {
	v, ok := h.GetAttribute(name)
	if !ok {
		t.Fatalf("%s has no %s", h, name)
	}
	return v
}

func TestSkipAndPanic(t *testing.T) {
	skipped := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		t.Skip("not on mobile")
	})
	ok, reason := skipped.Skipped()
	assert.True(t, ok)
	assert.Equal(t, "not on mobile", reason)
	assert.NoError(t, skipped.Err())

	panicked := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		var m map[string]int
		m["boom"]++
	})
	require.Error(t, panicked.Err())
	assert.Equal(t, types.FailureError, types.Classify(panicked.Err()))
	assert.Contains(t, panicked.Stack(), "goroutine")
}

func TestSoftPolicy(t *testing.T) {
	body := func(t *harness.T) {
		t.Goto("/login")
		t.Expect(t.Locator(".spinner")).Soft().ToBeVisible()
	}
	lenient := run(t, loginSite(), harness.PolicyLenient, body)
	assert.NoError(t, lenient.Err())
	require.Len(t, lenient.Warnings(), 1)
	assert.Contains(t, lenient.Warnings()[0], ".spinner")

	strict := run(t, loginSite(), harness.PolicyStrict, body)
	assert.True(t, types.IsAssertion(strict.Err()))
}

func TestParsePolicy(t *testing.T) {
	p, err := harness.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, harness.PolicyLenient, p)
	_, err = harness.ParsePolicy("loose")
	assert.Error(t, err)
}

func TestRouteMocksFetch(t *testing.T) {
	site := browsertest.NewSite().Page("/users", browsertest.PageSpec{
		HTML: `<ul id="users"></ul><p id="error" hidden>Failed to load</p>`,
		OnLoad: func(d *browsertest.Document) {
			resp, err := d.Fetch("GET", "/api/users", nil)
			if err != nil || resp.Status >= 400 {
				d.Show("#error")
				return
			}
			d.AppendHTML("#users", "<li>"+strings.Trim(string(resp.Body), `[]"`)+"</li>")
		},
	}).JSON("/api/users", http.StatusOK, `["real"]`)

	ht := run(t, site, harness.PolicyLenient, func(t *harness.T) {
		t.Route("/api/users", func(r *network.Route) {
			_ = r.FulfillJSON(http.StatusOK, []string{"mocked"})
		})
		t.Goto("/users")
		t.Expect(t.GetByRole("listitem")).ToHaveText("mocked")

		t.Unroute("/api/users")
		t.Route("/api/users", func(r *network.Route) {
			_ = r.Fulfill(network.FulfillOptions{Status: http.StatusInternalServerError})
		})
		t.Reload()
		t.Expect(t.GetByText("Failed to load")).ToBeVisible()
	})
	require.NoError(t, ht.Err())
}

func TestOfflineShowsError(t *testing.T) {
	site := browsertest.NewSite().Page("/", browsertest.PageSpec{
		HTML: `<button>Refresh</button><p role="alert" hidden></p>`,
		OnClick: map[string]func(*browsertest.Document, *html.Node){
			"button": func(d *browsertest.Document, _ *html.Node) {
				if _, err := d.Fetch("GET", "/api/data", nil); err != nil {
					d.SetText("[role=alert]", "You are offline")
					d.Show("[role=alert]")
				}
			},
		},
	}).JSON("/api/data", http.StatusOK, `{}`)

	ht := run(t, site, harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/")
		t.SetOffline(true)
		t.GetByRole("button").Click()
		t.Expect(t.GetByRole("alert")).ToContainText("offline")
	})
	require.NoError(t, ht.Err())
}

func TestKeyboardNavigation(t *testing.T) {
	ht := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/login")
		t.Keyboard().Press("Tab")
		t.Expect(t.GetByLabel("Email")).ToBeFocused()
		t.Keyboard().Press("Tab")
		t.Expect(t.GetByLabel("Password")).ToBeFocused()
		t.Keyboard().Press("Tab")
		t.Expect(t.GetByRole("button")).ToBeFocused()
		t.Keyboard().Press("Enter")
		t.Expect(t.Locator("#status")).ToHaveText("Email is required")
	})
	require.NoError(t, ht.Err())
}

func TestAudit(t *testing.T) {
	ht := run(t, loginSite(), harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/login")
		t.ExpectNoViolations(audit.Scope{Include: []string{"form"}}, audit.ImpactSerious)
		t.Audit(audit.Scope{Include: []string{"form["}})
	})
	var scopeErr *audit.InvalidAuditScopeError
	assert.ErrorAs(t, ht.Err(), &scopeErr)
}

func TestWaitForDialog(t *testing.T) {
	site := browsertest.NewSite().Page("/", browsertest.PageSpec{
		HTML: `<button>Delete</button>`,
		OnClick: map[string]func(*browsertest.Document, *html.Node){
			"button": func(d *browsertest.Document, _ *html.Node) { d.Alert("confirm", "Delete item?") },
		},
	})
	var got browser.Dialog
	ht := run(t, site, harness.PolicyLenient, func(t *harness.T) {
		t.Goto("/")
		got = t.WaitForDialog(func() { t.GetByRole("button").Click() }, true)
	})
	require.NoError(t, ht.Err())
	assert.Equal(t, "Delete item?", got.Message)
	assert.Equal(t, "confirm", got.Type)
}

func TestConsoleCapture(t *testing.T) {
	site := browsertest.NewSite().Page("/", browsertest.PageSpec{
		HTML:   `<p>x</p>`,
		OnLoad: func(d *browsertest.Document) { d.Console("error", "Uncaught TypeError") },
	})
	var messages []browser.ConsoleMessage
	ht := run(t, site, harness.PolicyLenient, func(t *harness.T) {
		done := make(chan struct{})
		t.OnConsole(func(m browser.ConsoleMessage) {
			messages = append(messages, m)
			close(done)
		})
		t.Goto("/")
		<-done
		t.WaitFor("console errors", func() (bool, error) { return len(t.ConsoleErrors()) == 1, nil })
	})
	require.NoError(t, ht.Err())
	require.Len(t, messages, 1)
	assert.Equal(t, "Uncaught TypeError", messages[0].Text)
}
