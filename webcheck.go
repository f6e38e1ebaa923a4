package webcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-webcheck/audit"
	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/browser/rodengine"
	"github.com/ethereum-optimism/infra/op-webcheck/config"
	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/history"
	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/metrics"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
	"github.com/ethereum-optimism/infra/op-webcheck/reporting"
	"github.com/ethereum-optimism/infra/op-webcheck/runner"
	"github.com/ethereum-optimism/infra/op-webcheck/scenario"
	"github.com/ethereum-optimism/infra/op-webcheck/service"
	"github.com/ethereum-optimism/infra/op-webcheck/suites"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Checker implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &Checker{}

// EngineFactory opens the remote browser a run drives.
type EngineFactory func(ctx context.Context, cfg *Config) (browser.Engine, error)

// RodEngine launches or connects to Chromium as configured by cfg.Browser.
func RodEngine(ctx context.Context, cfg *Config) (browser.Engine, error) {
	return rodengine.Start(ctx, cfg.Browser)
}

// Option customizes a Checker.
type Option func(*Checker)

// WithEngine replaces the browser engine factory.
func WithEngine(f EngineFactory) Option {
	return func(c *Checker) { c.engine = f }
}

// WithConsole redirects the list report stream, stdout by default.
func WithConsole(w io.Writer) Option {
	return func(c *Checker) { c.console = w }
}

// WithTests registers Go test bodies alongside discovered scenarios.
func WithTests(fn func(reg *registry.Registry)) Option {
	return func(c *Checker) { c.extra = append(c.extra, fn) }
}

// WithHTTPClient sets the client used to poll the web server for readiness.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) { c.http = client }
}

// WithService runs the healthz and metrics servers for the checker's lifetime.
func WithService(svc *service.Service) Option {
	return func(c *Checker) { c.service = svc }
}

// Checker runs the configured suite once or at an interval.
type Checker struct {
	ctx     context.Context
	config  *Config
	version string

	engine  EngineFactory
	console io.Writer
	extra   []func(*registry.Registry)
	http    *http.Client
	service *service.Service

	mu     sync.Mutex
	result *Summary

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

// Summary is the outcome of one run as seen by the process.
type Summary struct {
	RunID   string
	Result  *runner.Result
	Report  *reporting.ReportData
	Written []string
}

// Failed reports whether any pair failed or timed out.
func (s *Summary) Failed() bool {
	return s.Report.Stats.HasFailures()
}

func (s *Summary) String() string {
	st := s.Report.Stats
	return fmt.Sprintf("%d passed, %d failed, %d timed out, %d skipped, %d flaky of %d planned",
		st.Passed, st.Failed, st.TimedOut, st.Skipped, st.Flaky, st.Planned)
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error), opts ...Option) (*Checker, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config has no logger")
	}
	c := &Checker{
		ctx:              ctx,
		config:           config,
		version:          version,
		engine:           RodEngine,
		console:          os.Stdout,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}
	for _, opt := range opts {
		opt(c)
	}
	config.Log.Debug("Creating checker",
		"configFile", config.ConfigFile,
		"testDir", config.Run.TestDir,
		"baseURL", config.Run.BaseURL,
		"projects", len(config.Run.Projects),
		"runOnce", config.RunOnce)
	return c, nil
}

// Start runs the suite immediately and, outside run-once mode, again at every
// interval.
func (c *Checker) Start(ctx context.Context) error {
	c.ctx = ctx
	c.done = make(chan struct{})
	c.running.Store(true)
	if c.service != nil {
		c.service.Start()
	}

	if c.config.RunOnce {
		c.config.Log.Info("Starting op-webcheck in run-once mode")
	} else {
		c.config.Log.Info("Starting op-webcheck in continuous mode", "interval", c.config.RunInterval)
	}

	summary, err := c.RunOnce(ctx)
	if err != nil {
		c.running.Store(false)
		return err
	}

	if c.config.RunOnce {
		c.running.Store(false)
		if summary.Failed() {
			c.config.Log.Warn("Run completed with failures, returning exit code 1")
			return NewTestFailureError(summary.String())
		}
		go func() {
			if c.shutdownCallback != nil {
				c.shutdownCallback(nil)
			}
		}()
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-time.After(c.config.RunInterval):
				if !c.running.Load() {
					return
				}
				c.config.Log.Info("Running periodic checks")
				if _, err := c.RunOnce(ctx); err != nil {
					c.config.Log.Error("Error running periodic checks", "error", err)
				}
			case <-c.done:
				return
			case <-ctx.Done():
				c.running.Store(false)
				return
			}
		}
	}()
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (c *Checker) Stop(ctx context.Context) error {
	c.config.Log.Info("Stopping op-webcheck")
	if c.service != nil {
		defer c.service.Shutdown(ctx)
	}
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)
	close(c.done)
	return c.WaitForShutdown(ctx)
}

// Stopped implements the cliapp.Lifecycle interface.
func (c *Checker) Stopped() bool {
	return !c.running.Load()
}

// WaitForShutdown blocks until the periodic runner has terminated.
func (c *Checker) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}

// LastSummary returns the most recent completed run, if any.
func (c *Checker) LastSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// RunOnce executes one run. Errors are typed: ConfigurationError for
// anything detected before a session is acquired, RuntimeError when the
// run could not complete. Test failures are reported through the Summary.
func (c *Checker) RunOnce(ctx context.Context) (*Summary, error) {
	cfg := c.config
	logger := cfg.Log

	reg, err := c.buildRegistry()
	if err != nil {
		return nil, NewConfigurationError(err)
	}
	if cfg.Run.ForbidOnly && reg.HasOnly() {
		return nil, NewConfigurationError(fmt.Errorf("exclusive tests are forbidden: %s", strings.Join(exclusiveTitles(reg), ", ")))
	}

	var store *history.Store
	if cfg.HistoryDB != "" {
		if store, err = history.Open(cfg.HistoryDB); err != nil {
			return nil, NewRuntimeError(err)
		}
		defer store.Close()
	}

	filter := cfg.Filter
	if cfg.LastFailed {
		failed, err := store.LastFailed(ctx)
		if err != nil {
			return nil, NewRuntimeError(err)
		}
		if len(failed) == 0 {
			logger.Info("No failures recorded in the last run, running everything")
		} else {
			filter.IDs = failed
		}
	}
	units := reg.Select(filter)
	if len(units) == 0 {
		return nil, NewConfigurationError(fmt.Errorf("no tests found (registered %d, none matched the filters)", reg.Len()))
	}

	if err := waitReady(ctx, cfg.Run.WebServer, c.http, logger); err != nil {
		return nil, NewConfigurationError(err)
	}

	engine, err := c.engine(ctx, cfg)
	if err != nil {
		metrics.RecordErrorDetails("engine", err)
		return nil, NewRuntimeError(fmt.Errorf("failed to start browser: %w", err))
	}
	defer engine.Close()

	manager, err := browser.NewManager(browser.ManagerConfig{
		Engine:            engine,
		Log:               logger,
		BaseURL:           cfg.Run.BaseURL,
		NavigationTimeout: cfg.Run.NavigationTimeout,
	})
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	defer manager.Close()

	var progress runner.ProgressIndicator
	if cfg.ShowProgress {
		progress = runner.NewConsoleProgressIndicator(logger, cfg.ProgressInterval)
	}
	r, err := runner.New(runner.Config{
		Sessions:      manager,
		Log:           logger,
		Workers:       cfg.Run.Workers,
		Retries:       cfg.Run.Retries,
		TestTimeout:   cfg.Run.TestTimeout,
		FullyParallel: cfg.Run.FullyParallel,
		Harness: harness.Options{
			Expect:        locator.NewWaiter(cfg.Run.PollInterval, cfg.Run.ExpectTimeout),
			ActionTimeout: cfg.Run.ActionTimeout,
			Policy:        cfg.Run.UXPolicy,
			Auditor:       newAuditor(cfg),
			Log:           logger,
		},
		Progress:    progress,
		Screenshots: cfg.Run.Screenshots,
	})
	if err != nil {
		return nil, NewConfigurationError(err)
	}

	result, err := r.Run(ctx, units, cfg.Run.Projects)
	if err != nil {
		return nil, NewConfigurationError(err)
	}

	summary, err := c.report(ctx, result, store)
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	c.mu.Lock()
	c.result = summary
	c.mu.Unlock()

	logger.Info("Run completed", "run_id", result.RunID, "summary", summary.String(), "duration", result.Duration.Round(time.Millisecond))
	if result.Incomplete {
		reason := errors.New("run interrupted")
		if result.AbortErr != nil {
			reason = result.AbortErr
		}
		return summary, NewRuntimeError(fmt.Errorf("run %s incomplete: %w", result.RunID, reason))
	}
	return summary, nil
}

func (c *Checker) buildRegistry() (*registry.Registry, error) {
	cfg := c.config
	reg := registry.New(registry.Config{Log: cfg.Log})

	if info, err := os.Stat(cfg.Run.TestDir); err == nil && info.IsDir() {
		n, err := scenario.LoadDir(cfg.Run.TestDir, reg, cfg.Log)
		if err != nil {
			return nil, err
		}
		cfg.Log.Info("Discovered scenarios", "dir", cfg.Run.TestDir, "files", n)
	} else {
		cfg.Log.Debug("Test directory not found, no scenarios loaded", "dir", cfg.Run.TestDir)
	}
	if len(cfg.BuiltinSuites) > 0 {
		if err := suites.Register(reg, cfg.BuiltinSuites...); err != nil {
			return nil, err
		}
	}
	for _, fn := range c.extra {
		fn(reg)
	}
	if err := reg.Err(); err != nil {
		return nil, err
	}
	return reg, nil
}

func exclusiveTitles(reg *registry.Registry) []string {
	var out []string
	for _, u := range reg.Units() {
		if u.Only {
			out = append(out, u.FullTitle())
		}
	}
	return out
}

func newAuditor(cfg *Config) *audit.Auditor {
	var engine audit.Engine = audit.NewBuiltinEngine()
	if cfg.Run.AuditEngine == config.AuditAxe {
		engine = audit.NewAxeEngine(audit.FileSource(cfg.Run.AxeScript))
	}
	return audit.New(engine, cfg.Log)
}

// report emits every configured format, writes artifacts and records history.
const reportTimeout = 30 * time.Second

func (c *Checker) report(ctx context.Context, result *runner.Result, store *history.Store) (*Summary, error) {
	cfg := c.config
	run := reporting.Run{
		RunID:      result.RunID,
		StartedAt:  result.StartedAt,
		Duration:   result.Duration,
		Planned:    result.Planned,
		Incomplete: result.Incomplete,
		Records:    result.Records,
	}
	if result.AbortErr != nil {
		run.AbortReason = result.AbortErr.Error()
	}

	// An interrupted run still gets its reports and history row.
	if ctx.Err() != nil || result.Incomplete {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
		defer cancel()
	}

	emitter, err := reporting.NewEmitter(
		reporting.WithFormatter(types.FormatList, reporting.NewListFormatter(lipgloss.NewRenderer(c.console))),
	)
	if err != nil {
		return nil, err
	}
	outputs, err := emitter.Emit(ctx, run, cfg.Run.Reporters)
	if err != nil {
		return nil, fmt.Errorf("emit reports: %w", err)
	}
	written, err := writeOutputs(cfg.Run.OutputDir, outputs, result.Artifacts, c.console)
	if err != nil {
		return nil, err
	}
	for _, path := range written {
		cfg.Log.Debug("Wrote artifact", "path", path)
	}

	data := reporting.Build(run)
	label := history.ResultPassed
	switch {
	case result.Incomplete:
		label = history.ResultIncomplete
	case data.Stats.HasFailures():
		label = history.ResultFailed
	}
	if store != nil {
		if err := store.RecordRun(ctx, history.Run{
			ID:        result.RunID,
			StartedAt: result.StartedAt,
			Duration:  result.Duration,
			Result:    label,
			Planned:   result.Planned,
		}, result.Records); err != nil {
			return nil, err
		}
	}
	return &Summary{RunID: result.RunID, Result: result, Report: data, Written: written}, nil
}
