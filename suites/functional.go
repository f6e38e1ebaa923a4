package suites

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/network"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
)

const (
	errorSelector   = `[role="alert"], .error`
	itemSelector    = `[role="listitem"], tr, .item`
	loadingSelector = `[role="status"], .loading`

	slowResponse = 2 * time.Second
)

// Demo credentials the login flow expects the application to accept.
const (
	DemoEmail    = "test@example.com"
	DemoPassword = "password123"
)

func field(t *harness.T, label string) harness.Handle {
	return t.Handle(locator.Label(like(label)))
}

func button(t *harness.T, name string) harness.Handle {
	return t.GetByRole("button", locator.Name(like(name)))
}

// shownError is the first visible error message.
func shownError(t *harness.T) harness.Handle {
	return t.Locator(errorSelector).Visible().First()
}

func signIn(t *harness.T, email, password string) {
	t.Goto("/login")
	field(t, "^email").Fill(email)
	field(t, "^password").Fill(password)
	button(t, `^(log in|sign in)\b`).Click()
}

// collectErrors records console errors from now on. The returned func adds
// uncaught page errors and returns everything seen so far.
func collectErrors(t *harness.T) func() []string {
	var (
		mu   sync.Mutex
		errs []string
	)
	t.OnConsole(func(m browser.ConsoleMessage) {
		mu.Lock()
		defer mu.Unlock()
		if m.Level == "error" {
			errs = append(errs, m.Text)
		}
	})
	return func() []string {
		mu.Lock()
		out := slices.Clone(errs)
		mu.Unlock()
		for _, e := range t.ConsoleErrors() {
			if strings.HasPrefix(e, "[pageerror]") {
				out = append(out, e)
			}
		}
		return out
	}
}

func registerFunctional(reg *registry.Registry) {
	src := source(Functional)

	reg.Describe("functional @functional", func(g *registry.Group) {
		g.Describe("authentication", func(g *registry.Group) {
			g.Test("signs up with valid credentials", func(t *harness.T) {
				t.Goto("/signup")
				field(t, "^email").Fill(fmt.Sprintf("test-%d@example.com", time.Now().UnixNano()))
				field(t, "^password$").Fill("SecurePassword123!")
				field(t, "^confirm password").Fill("SecurePassword123!")
				button(t, `^(sign up|create account)\b`).Click()
				t.ExpectPage().ToHaveURL("dashboard|home|welcome")
			}, src)

			g.Test("rejects signup with an invalid email", func(t *harness.T) {
				t.Goto("/signup")
				field(t, "^email").Fill("invalid-email")
				field(t, "^password$").Fill("SecurePassword123!")
				button(t, `^sign up\b`).Click()
				t.Expect(shownError(t)).ToBeVisible()
				t.Expect(shownError(t)).ToMatchText("(?i)email|invalid")
			}, src)

			g.Test("logs in with valid credentials", func(t *harness.T) {
				signIn(t, DemoEmail, DemoPassword)
				t.ExpectPage().ToHaveURL("dashboard|home")
			}, src)

			g.Test("rejects invalid credentials", func(t *harness.T) {
				signIn(t, "wrong@example.com", "wrongpassword")
				t.Expect(shownError(t)).ToBeVisible()
				t.Expect(shownError(t)).ToMatchText("(?i)invalid|incorrect|wrong")
			}, src)

			g.Test("logs out and clears the session", func(t *harness.T) {
				signIn(t, DemoEmail, DemoPassword)
				t.ExpectPage().ToHaveURL("dashboard|home")
				button(t, `^(log out|sign out)\b`).Click()
				t.ExpectPage().ToHaveURL(`/login|://[^/]+/$`)
				for _, c := range t.Cookies() {
					name := strings.ToLower(c.Name)
					if strings.Contains(name, "session") || strings.Contains(name, "token") {
						t.Fatalf("cookie %s survived logout", c.Name)
					}
				}
			}, src)
		})

		g.Describe("forms", func(g *registry.Group) {
			submit := `\b(submit|send)\b`

			g.Test("submits valid data", func(t *harness.T) {
				t.Goto("/contact")
				field(t, "^name").Fill("John Doe")
				field(t, "^email").Fill("john@example.com")
				field(t, "^message").Fill("This is a test message.")
				button(t, submit).Click()
				t.Expect(t.Locator(`[role="status"], .success`).Visible().First()).ToBeVisible()
			}, src)

			g.Test("validates required fields", func(t *harness.T) {
				t.Goto("/contact")
				button(t, submit).Click()
				t.Expect(t.Locator(`[aria-invalid="true"], .error`).Visible().First()).ToBeVisible()
			}, src)

			g.Test("preserves input on validation error", func(t *harness.T) {
				t.Goto("/contact")
				field(t, "^name").Fill("John Doe")
				field(t, "^email").Fill("not-an-email")
				button(t, submit).Click()
				t.Expect(shownError(t)).ToBeVisible()
				t.Expect(field(t, "^name")).ToHaveValue("John Doe")
				t.Expect(field(t, "^email")).ToHaveValue("not-an-email")
			}, src)
		})

		g.Describe("items", func(g *registry.Group) {
			nameField := "^(name|title)"
			save := `^(save|create|update)\b`

			g.Test("creates an item", func(t *harness.T) {
				t.Goto("/items")
				button(t, `\b(create|new|add)\b`).Click()
				name := fmt.Sprintf("Test Item %d", time.Now().UnixNano())
				field(t, nameField).Fill(name)
				field(t, "^description").Fill("Test description")
				button(t, save).Click()
				t.Expect(t.GetByText(name)).ToBeVisible()
			}, src)

			g.Test("lists items", func(t *harness.T) {
				t.Goto("/items")
				t.Expect(t.Locator(`[role="list"], .items, table`).First()).ToBeVisible()
				t.Log().Debug("Listed items", "count", t.Locator(itemSelector).Count())
			}, src)

			g.Test("updates an item", func(t *harness.T) {
				t.Goto("/items")
				button(t, `^edit\b`).First().Click()
				name := fmt.Sprintf("Updated Item %d", time.Now().UnixNano())
				input := field(t, nameField)
				input.Clear()
				input.Fill(name)
				button(t, save).Click()
				t.Expect(t.GetByText(name)).ToBeVisible()
			}, src)

			g.Test("deletes an item", func(t *harness.T) {
				t.Goto("/items")
				first := t.Locator(itemSelector).First()
				text := strings.TrimSpace(first.TextContent())
				if text == "" {
					t.Fatalf("first item %s has no text", first)
				}
				first.Within(locator.Role("button", locator.Name(like(`^(delete|remove)\b`)))).Click()
				if confirm := button(t, `^(confirm|yes)\b`).First(); confirm.IsVisible() {
					confirm.Click()
				}
				t.Expect(t.GetByText(text)).Not().ToBeVisible()
			}, src)

			search := func(t *harness.T) harness.Handle {
				box := t.GetByRole("searchbox").Or(t.Handle(locator.Placeholder(like("search")))).First()
				if box.Count() == 0 {
					t.Skip("no search input on /items")
				}
				return box
			}

			g.Test("filters items by search query", func(t *harness.T) {
				t.Goto("/items")
				search(t).Fill("test")
				t.Wait(500 * time.Millisecond)
				for _, item := range t.Locator(`[role="listitem"], .item`).Visible().All() {
					if text := item.TextContent(); !strings.Contains(strings.ToLower(text), "test") {
						t.Fatalf("item %q does not match the query", strings.TrimSpace(text))
					}
				}
			}, src)

			g.Test("shows an empty state for no results", func(t *harness.T) {
				t.Goto("/items")
				search(t).Fill("xyznonexistentquery123")
				t.Wait(500 * time.Millisecond)
				t.Expect(t.Handle(locator.Text(like("no results|not found|no items")))).ToBeVisible()
			}, src)
		})

		g.Describe("api", func(g *registry.Group) {
			g.Test("renders API success", func(t *harness.T) {
				t.Route("**/api/**", func(r *network.Route) {
					_ = r.FulfillJSON(http.StatusOK, map[string]any{"success": true, "data": []any{}})
				})
				t.Goto("/")
				t.Expect(t.Locator(loadingSelector).Visible()).ToHaveCount(0)
				t.Expect(t.Locator(errorSelector).Visible()).ToHaveCount(0)
			}, src)

			g.Test("surfaces API errors", func(t *harness.T) {
				t.Route("**/api/**", func(r *network.Route) {
					_ = r.FulfillJSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
				})
				t.Goto("/")
				t.Expect(shownError(t)).ToBeVisible()
			}, src)

			g.Test("shows loading state for slow responses", func(t *harness.T) {
				t.Route("**/api/**", func(r *network.Route) {
					if r.Delay(slowResponse) != nil {
						return
					}
					_ = r.FulfillJSON(http.StatusOK, map[string]bool{"success": true})
				})
				t.Goto("/")
				loading := t.Locator(loadingSelector).First()
				t.Expect(loading).ToBeVisible()
				t.Expect(loading).Not().Within(slowResponse + 3*time.Second).ToBeVisible()
			}, src, registry.Timeout(slowResponse+10*time.Second))
		})

		g.Describe("state", func(g *registry.Group) {
			g.Test("keeps state across navigation", func(t *harness.T) {
				t.Goto("/")
				input := t.GetByRole("textbox").First()
				if input.Count() == 0 {
					t.Skip("no text input on /")
				}
				const value = "Persistent Value"
				input.Fill(value)
				t.Goto("/about")
				t.Goto("/")
				// Whether input survives navigation is up to the application.
				if got := input.InputValue(); got != value {
					t.Warnf("input was not kept across navigation (got %q)", got)
				}
				t.Reload()
				t.Expect(input).ToBeVisible()
				t.Expect(input).ToBeEnabled()
			}, src)

			g.Test("handles concurrent state updates", func(t *harness.T) {
				t.Goto("/")
				errs := collectErrors(t)
				buttons := t.GetByRole("button").Visible().All()
				if len(buttons) < 2 {
					t.Skip("fewer than two buttons on /")
				}
				var wg sync.WaitGroup
				for _, b := range buttons[:2] {
					wg.Add(1)
					go func() {
						defer wg.Done()
						b.Click()
					}()
				}
				wg.Wait()
				t.Must(t.Err())
				t.Wait(time.Second)
				if e := errs(); len(e) > 0 {
					t.Fatalf("%d errors after concurrent clicks, first: %s", len(e), e[0])
				}
			}, src)
		})

		g.Describe("edge cases", func(g *registry.Group) {
			textbox := func(t *harness.T) harness.Handle {
				box := t.GetByRole("textbox").First()
				if box.Count() == 0 {
					t.Skip("no text input on /")
				}
				return box
			}

			g.Test("handles very long input", func(t *harness.T) {
				t.Goto("/")
				box := textbox(t)
				box.Fill(strings.Repeat("A", 10000))
				t.Expect(box).ToBeVisible()
			}, src)

			g.Test("does not execute markup typed into inputs", func(t *harness.T) {
				t.Goto("/")
				var (
					mu     sync.Mutex
					opened string
				)
				_, err := t.Session().Subscribe(browser.EventDialog, func(ev browser.Event) {
					mu.Lock()
					defer mu.Unlock()
					if ev.Dialog != nil && opened == "" {
						opened = ev.Dialog.Message
					}
				})
				t.Must(err)
				textbox(t).Fill(`<script>alert("xss")</script> & ' " / \`)
				t.Wait(time.Second)
				mu.Lock()
				defer mu.Unlock()
				if opened != "" {
					t.Fatalf("input opened a dialog: %q", opened)
				}
			}, src)

			g.Test("survives rapid clicking", func(t *harness.T) {
				t.Goto("/")
				errs := collectErrors(t)
				first := t.GetByRole("button").First()
				if first.Count() == 0 {
					t.Skip("no button on /")
				}
				for range 10 {
					first.Click()
				}
				t.Wait(time.Second)
				if e := errs(); len(e) > 0 {
					t.Fatalf("%d errors after rapid clicking, first: %s", len(e), e[0])
				}
			}, src)
		})
	})
}
