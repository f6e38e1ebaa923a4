package webcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/browser/browsertest"
	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/history"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

const baseConfig = `
baseURL: http://app.test
actionTimeoutMs: 200
expectTimeoutMs: 200
pollIntervalMs: 10
testTimeoutMs: 5000
projects:
  - name: desktop
    device: Desktop Chrome
`

func site() *browsertest.Site {
	return browsertest.NewSite().
		HTML("/", `<html><head><title>Home</title></head><body><h1 id="title">Home</h1></body></html>`)
}

func fakeEngine(s *browsertest.Site) EngineFactory {
	return func(context.Context, *Config) (browser.Engine, error) {
		return browsertest.NewEngine(s), nil
	}
}

// newTestConfig writes webcheck.yaml into a fresh working dir and builds the
// config from it.
func newTestConfig(t *testing.T, extraYAML string, mutate func(in *Inputs)) *Config {
	t.Helper()
	wd := t.TempDir()
	writeFile(t, filepath.Join(wd, "webcheck.yaml"), baseConfig+extraYAML)
	in := Inputs{
		WorkDir:   wd,
		Reporters: []string{"json", "junit", "list"},
	}
	if mutate != nil {
		mutate(&in)
	}
	cfg, err := BuildConfig(in, testLogger())
	require.NoError(t, err)
	return cfg
}

func passing(reg *registry.Registry) {
	reg.Describe("home", func(g *registry.Group) {
		g.Test("shows the title", func(t *harness.T) {
			t.Goto("/")
			t.Expect(t.Locator("#title")).ToHaveText("Home")
		})
	})
}

func failing(reg *registry.Registry) {
	reg.Describe("home", func(g *registry.Group) {
		g.Test("shows a greeting", func(t *harness.T) {
			t.Goto("/")
			t.Expect(t.Locator("#title")).ToHaveText("Hello")
		})
	})
}

func newChecker(t *testing.T, cfg *Config, opts ...Option) (*Checker, *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	opts = append([]Option{WithEngine(fakeEngine(site())), WithConsole(&console)}, opts...)
	c, err := New(context.Background(), cfg, "test", nil, opts...)
	require.NoError(t, err)
	return c, &console
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, "test", nil)
	require.Error(t, err)
	_, err = New(context.Background(), &Config{}, "test", nil)
	require.Error(t, err)
}

func TestRunOncePassing(t *testing.T) {
	cfg := newTestConfig(t, "", nil)
	c, console := newChecker(t, cfg, WithTests(passing))

	summary, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Failed())
	assert.Equal(t, 1, summary.Report.Stats.Passed)
	assert.Equal(t, 1, summary.Report.Stats.Planned)
	assert.Same(t, summary, c.LastSummary())
	assert.Contains(t, console.String(), "shows the title")

	for _, name := range []string{"results.json", "results.xml"} {
		_, err := os.Stat(filepath.Join(cfg.Run.OutputDir, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(cfg.Run.OutputDir, "report.html"))
	assert.True(t, os.IsNotExist(err), "html was not requested")
}

func TestRunOnceFailing(t *testing.T) {
	cfg := newTestConfig(t, "", nil)
	c, _ := newChecker(t, cfg, WithTests(failing))

	summary, err := c.RunOnce(context.Background())
	require.NoError(t, err, "test failures are reported through the summary")
	assert.True(t, summary.Failed())
	assert.Equal(t, 1, summary.Report.Stats.Failed)
	require.Len(t, summary.Report.Failures, 1)
	require.NotNil(t, summary.Report.Failures[0].FailureDetail)
	assert.Equal(t, types.FailureAssertion, summary.Report.Failures[0].FailureDetail.Kind)
}

func TestStartRunOnceReturnsTestFailure(t *testing.T) {
	cfg := newTestConfig(t, "", nil)
	c, _ := newChecker(t, cfg, WithTests(failing))

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.True(t, c.Stopped())
	require.NoError(t, c.Stop(context.Background()))
}

func TestStartRunOnceSignalsShutdown(t *testing.T) {
	cfg := newTestConfig(t, "", nil)
	done := make(chan error, 1)
	var console bytes.Buffer
	c, err := New(context.Background(), cfg, "test", func(err error) { done <- err },
		WithEngine(fakeEngine(site())), WithConsole(&console), WithTests(passing))
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback was not called")
	}
	assert.True(t, c.Stopped())
}

func TestStartContinuous(t *testing.T) {
	cfg := newTestConfig(t, "", func(in *Inputs) { in.RunInterval = 20 * time.Millisecond })
	require.False(t, cfg.RunOnce)
	c, _ := newChecker(t, cfg, WithTests(passing))

	require.NoError(t, c.Start(context.Background()))
	first := c.LastSummary()
	require.NotNil(t, first)
	assert.False(t, c.Stopped())

	require.Eventually(t, func() bool {
		s := c.LastSummary()
		return s != nil && s.RunID != first.RunID
	}, 5*time.Second, 10*time.Millisecond, "periodic run did not happen")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.True(t, c.Stopped())
}

func TestRunOnceConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		extra  string
		env    bool
		tests  func(*registry.Registry)
		inputs func(*Inputs)
		want   string
	}{
		{
			name: "no tests",
			want: "no tests found",
		},
		{
			name:   "filters exclude everything",
			tests:  passing,
			inputs: func(in *Inputs) { in.Grep = "checkout" },
			want:   "no tests found",
		},
		{
			name: "exclusive test in ci",
			env:  true,
			tests: func(reg *registry.Registry) {
				passing(reg)
				reg.Only("focused", func(t *harness.T) {})
			},
			want: "exclusive tests are forbidden: focused",
		},
		{
			name: "duplicate titles",
			tests: func(reg *registry.Registry) {
				passing(reg)
				passing(reg)
			},
			want: "home",
		},
		{
			name:  "unknown builtin suite",
			tests: passing,
			inputs: func(in *Inputs) {
				in.BuiltinSuites = []string{"perf"}
			},
			want: "perf",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t, tt.extra, func(in *Inputs) {
				in.Env.CI = tt.env
				if tt.inputs != nil {
					tt.inputs(in)
				}
			})
			var opts []Option
			if tt.tests != nil {
				opts = append(opts, WithTests(tt.tests))
			}
			c, _ := newChecker(t, cfg, opts...)
			_, err := c.RunOnce(context.Background())
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err), "got %v", err)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRunOnceEngineFailureIsRuntimeError(t *testing.T) {
	cfg := newTestConfig(t, "", nil)
	c, _ := newChecker(t, cfg, WithTests(passing), WithEngine(func(context.Context, *Config) (browser.Engine, error) {
		return nil, errors.New("no chromium")
	}))
	_, err := c.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.ErrorContains(t, err, "no chromium")
}

func TestRunOnceAbortedRunIsRuntimeError(t *testing.T) {
	cfg := newTestConfig(t, "", nil)
	engine := browsertest.NewEngine(site())
	engine.FailContexts(errors.New("browser crashed"))
	c, _ := newChecker(t, cfg, WithTests(passing), WithEngine(func(context.Context, *Config) (browser.Engine, error) {
		return engine, nil
	}))

	summary, err := c.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	require.NotNil(t, summary)
	assert.True(t, summary.Report.Incomplete)
}

func TestRunOnceInterruptedStillReports(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupted := func(reg *registry.Registry) {
		reg.Describe("home", func(g *registry.Group) {
			g.Test("is interrupted", func(t *harness.T) {
				t.Goto("/")
				cancel()
			})
			g.Test("never runs", func(t *harness.T) {
				t.Goto("/")
			})
		})
	}
	cfg := newTestConfig(t, "workers: 1\nfullyParallel: false\n", func(in *Inputs) { in.HistoryDB = db })
	c, _ := newChecker(t, cfg, WithTests(interrupted))

	summary, err := c.RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.ErrorContains(t, err, "incomplete")
	require.NotNil(t, summary)
	assert.True(t, summary.Report.Incomplete)
	assert.Equal(t, 2, summary.Report.Stats.Planned)

	_, err = os.Stat(filepath.Join(cfg.Run.OutputDir, "results.json"))
	assert.NoError(t, err)

	store, err := history.Open(db)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].ID)
	assert.Equal(t, history.ResultIncomplete, runs[0].Result)
}

func TestRunOnceWaitsForWebServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := newTestConfig(t, fmt.Sprintf("webServer:\n  readyURL: %s\n  startTimeoutMs: 5000\n", srv.URL), nil)
	c, _ := newChecker(t, cfg, WithTests(passing), WithHTTPClient(srv.Client()))
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestRunOnceWebServerNeverReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := newTestConfig(t, fmt.Sprintf("webServer:\n  readyURL: %s\n  startTimeoutMs: 300\n", srv.URL), nil)
	c, _ := newChecker(t, cfg, WithTests(passing), WithHTTPClient(srv.Client()))
	_, err := c.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.ErrorContains(t, err, "status 502")
}

func TestRunOnceLastFailed(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	both := func(reg *registry.Registry) {
		passing(reg)
		reg.Test("greets", func(t *harness.T) {
			t.Goto("/")
			t.Expect(t.Locator("#title")).ToHaveText("Hello")
		})
	}

	cfg := newTestConfig(t, "", func(in *Inputs) { in.HistoryDB = db })
	c, _ := newChecker(t, cfg, WithTests(both))
	first, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Report.Stats.Total)

	cfg = newTestConfig(t, "", func(in *Inputs) {
		in.HistoryDB = db
		in.LastFailed = true
	})
	c, _ = newChecker(t, cfg, WithTests(both))
	second, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Result.Records, 1)
	assert.Equal(t, "greets", second.Result.Records[0].Title)

	store, err := history.Open(db)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].ID)
	assert.Equal(t, history.ResultFailed, runs[0].Result)
}

func TestRunOnceLastFailedWithCleanHistoryRunsEverything(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	cfg := newTestConfig(t, "", func(in *Inputs) {
		in.HistoryDB = db
		in.LastFailed = true
	})
	c, _ := newChecker(t, cfg, WithTests(passing))
	summary, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Result.Records, 1)
}

func TestRunOnceLoadsScenarios(t *testing.T) {
	cfg := newTestConfig(t, "testDir: e2e\n", nil)
	writeFile(t, filepath.Join(cfg.Run.TestDir, "home.webcheck.yaml"), `
name: home page
tests:
  - name: has a title
    steps:
      - goto: /
      - expect: {target: "#title", text: Home}
`)
	c, _ := newChecker(t, cfg)
	summary, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Result.Records, 1)
	assert.Equal(t, types.TestStatusPassed, summary.Result.Records[0].Status)
}
