package scenario_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/browser/browsertest"
	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
	"github.com/ethereum-optimism/infra/op-webcheck/runner"
	"github.com/ethereum-optimism/infra/op-webcheck/scenario"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

const loginHTML = `<html lang="en"><head><title>Login</title></head><body>
<form id="login">
  <label for="email">Email</label><input id="email" type="email">
  <button type="submit">Sign in</button>
</form>
<button id="load" type="button">Load session</button>
<p id="status" hidden></p>
<p id="error" hidden>Service unavailable</p>
</body></html>`

func loginSite() *browsertest.Site {
	return browsertest.NewSite().
		Page("/login", browsertest.PageSpec{
			HTML: loginHTML,
			OnClick: map[string]func(*browsertest.Document, *html.Node){
				"button[type=submit]": func(d *browsertest.Document, _ *html.Node) {
					if v := d.Value("#email"); v == "" {
						d.SetText("#status", "Email is required")
					} else {
						d.SetText("#status", "Welcome "+v)
					}
					d.Show("#status")
				},
				"#load": func(d *browsertest.Document, _ *html.Node) {
					resp, err := d.Fetch("GET", "/api/session", nil)
					if err != nil || resp.Status >= 400 {
						d.Show("#error")
					}
				},
			},
		}).
		JSON("/api/session", 200, `{"ok":true}`)
}

func discard() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func TestScenarioRunsEndToEnd(t *testing.T) {
	reg := registry.New(registry.Config{Log: discard()})
	n, err := scenario.LoadDir("testdata", reg, discard())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, reg.Err())
	require.Equal(t, 6, reg.Len())

	m, err := browser.NewManager(browser.ManagerConfig{
		Engine:  browsertest.NewEngine(loginSite()),
		Log:     discard(),
		BaseURL: "http://app.test",
	})
	require.NoError(t, err)
	defer m.Close()

	r, err := runner.New(runner.Config{
		Sessions:    m,
		Log:         discard(),
		Workers:     2,
		TestTimeout: 5 * time.Second,
		Harness: harness.Options{
			Expect:        locator.NewWaiter(10*time.Millisecond, 500*time.Millisecond),
			ActionTimeout: 500 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	project := types.ProjectConfig{Name: "desktop", Viewport: types.Viewport{Width: 1280, Height: 720}, BrowserEngine: types.EngineChromium}
	res, err := r.Run(context.Background(), reg.Units(), []types.ProjectConfig{project})
	require.NoError(t, err)

	got := make(map[string]types.TestStatus)
	for _, rec := range res.Records {
		got[strings.TrimPrefix(rec.Title, "login @smoke"+registry.TitleSeparator)] = rec.Status
		if rec.Status == types.TestStatusFailed {
			t.Logf("%s: %s", rec.Title, rec.FailureDetail.Message)
		}
	}
	assert.Equal(t, map[string]types.TestStatus{
		"rejects empty email":                 types.TestStatusPassed,
		"welcomes the user":                   types.TestStatusPassed,
		"shows an error when the API is down": types.TestStatusPassed,
		"form is accessible":                  types.TestStatusPassed,
		"keyboard reaches the submit button":  types.TestStatusPassed,
		"parked":                              types.TestStatusSkipped,
	}, got)
	assert.Equal(t, 0, m.Live())
}

func TestRegisterCarriesTagsAndTimeouts(t *testing.T) {
	f, err := scenario.Parse(strings.NewReader(`
tags: [a11y]
tests:
  - name: slow page
    tags: [slow]
    timeoutMs: 1500
    steps:
      - goto: /
`), "pages/home.webcheck.yaml")
	require.NoError(t, err)
	assert.Equal(t, "home", f.Name)

	reg := registry.New(registry.Config{Log: discard()})
	scenario.Register(reg, f, "pages/home.webcheck.yaml")
	units := reg.Units()
	require.Len(t, units, 1)
	u := units[0]
	assert.Equal(t, "home @a11y"+registry.TitleSeparator+"slow page", u.FullTitle())
	assert.ElementsMatch(t, []string{"a11y", "slow"}, u.Tags)
	assert.Equal(t, 1500*time.Millisecond, u.Timeout)
	assert.Equal(t, "pages/home.webcheck.yaml", u.Source)
}

func TestParseRejectsInvalidScenarios(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "tests:\n  - name: x\n    stepz: []\n", "field stepz not found"},
		{"unknown target key", "tests:\n  - name: x\n    steps:\n      - click: {selector: '#x'}\n", "field selector not found in target"},
		{"no tests", "name: empty\n", "no tests"},
		{"empty document", "", "empty scenario"},
		{"duplicate test", "tests:\n  - name: x\n    steps: [{goto: /}]\n  - name: x\n    steps: [{goto: /}]\n", "duplicate test"},
		{"no steps", "tests:\n  - name: x\n", "has no steps"},
		{"name without role", "tests:\n  - name: x\n    steps:\n      - click: {name: Save}\n", "requires a role"},
		{"two matchers", "tests:\n  - name: x\n    steps:\n      - expect: {target: '#x', visible: true, text: hi}\n", "exactly one matcher"},
		{"page expectation with target", "tests:\n  - name: x\n    steps:\n      - expect: {target: '#x', url: /a}\n", "take no target"},
		{"blocking route responds", "tests:\n  - name: x\n    steps:\n      - route: {url: /api, block: true, status: 200}\n", "cannot respond"},
		{"bad impact", "tests:\n  - name: x\n    steps:\n      - audit: {minImpact: fatal}\n", "impact"},
		{"bad status", "tests:\n  - name: x\n    steps:\n      - route: {url: /api, status: 700}\n", "invalid status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scenario.Parse(strings.NewReader(tt.doc), "x.webcheck.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseReportsEveryBrokenStep(t *testing.T) {
	_, err := scenario.Load("testdata/broken.yaml")
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `test "two actions" step 1: step has several actions: click, goto`)
	assert.Contains(t, msg, `test "mixed target" step 1: target mixes css, role`)
	assert.Contains(t, msg, `test "bad pattern" step 1: invalid url pattern`)
	assert.Contains(t, msg, `test "bad scope" step 1: invalid audit scope`)
}

func TestTargetLocators(t *testing.T) {
	nth := 1
	tests := []struct {
		target scenario.Target
		want   string
	}{
		{scenario.Target{CSS: "#status"}, "css=#status"},
		{scenario.Target{TestID: "cart"}, locator.TestID("cart").String()},
		{scenario.Target{Role: "button", Name: "Save", Exact: true}, locator.Role("button", locator.Name(locator.Exact("Save"))).String()},
		{scenario.Target{Label: "Email"}, locator.Label(locator.Substring("Email")).String()},
		{scenario.Target{CSS: "li", Nth: &nth}, locator.Selector("li").Nth(1).String()},
	}
	for _, tt := range tests {
		l, err := tt.target.Locator()
		require.NoError(t, err)
		assert.Equal(t, tt.want, l.String())
	}
	_, err := scenario.Target{}.Locator()
	require.Error(t, err)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("tests: []\n"), 0o644))
	}
	write("b.webcheck.yaml")
	write("nested/a.webcheck.yml")
	write("nested/notes.yaml")
	write(".cache/c.webcheck.yaml")

	paths, err := scenario.Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "b.webcheck.yaml"),
		filepath.Join(dir, "nested", "a.webcheck.yml"),
	}, paths)

	_, err = scenario.Discover(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
