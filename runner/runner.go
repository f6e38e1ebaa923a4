package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-webcheck/browser"
	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/metrics"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Sessions hands out isolated browser sessions. *browser.Manager implements it.
type Sessions interface {
	Acquire(ctx context.Context, project types.ProjectConfig) (*browser.Session, error)
	Release(s *browser.Session) error
}

// Config holds the runner configuration
type Config struct {
	Sessions Sessions
	Log      log.Logger
	// Workers is the number of concurrent workers. Zero or less picks
	// min(NumCPU, MaxReasonableConcurrency).
	Workers int
	// Retries is the number of extra attempts a failing pair gets.
	Retries int
	// TestTimeout bounds one attempt. Zero means DefaultTestTimeout.
	TestTimeout time.Duration
	// FullyParallel schedules every pair independently instead of keeping
	// describe groups together.
	FullyParallel bool
	Harness       harness.Options
	Progress      ProgressIndicator
	// Screenshots captures the page of every failed attempt.
	Screenshots bool
	RunID       string
}

// Result is the outcome of a run.
type Result struct {
	RunID string
	// Records holds one terminal outcome per completed pair.
	Records []types.OutcomeRecord
	// Attempts holds every attempt, including the ones that were retried.
	Attempts  []types.OutcomeRecord
	Artifacts map[string][]byte
	// Planned is the number of pairs in the matrix.
	Planned int
	// Incomplete is set when the run stopped before every pair finished.
	Incomplete bool
	AbortErr   error
	StartedAt  time.Time
	Duration   time.Duration
}

// Counts tallies the terminal outcomes by status.
func (r *Result) Counts() map[types.TestStatus]int {
	return Counts(r.Records)
}

// Failed reports whether any pair ended failed or timed out.
func (r *Result) Failed() bool {
	return slices.ContainsFunc(r.Records, func(rec types.OutcomeRecord) bool {
		return rec.Status.Retryable()
	})
}

// Flaky returns the pairs that passed only after a retry.
func (r *Result) Flaky() []types.OutcomeRecord {
	var out []types.OutcomeRecord
	for _, rec := range r.Records {
		if rec.Flaky() {
			out = append(out, rec)
		}
	}
	return out
}

// Summary names the overall result for metrics and logs.
func (r *Result) Summary() string {
	switch {
	case r.Incomplete:
		return "incomplete"
	case r.Failed():
		return string(types.TestStatusFailed)
	default:
		return string(types.TestStatusPassed)
	}
}

// Runner executes the test matrix.
type Runner struct {
	cfg    Config
	log    log.Logger
	tracer trace.Tracer
}

// New creates a runner
func New(cfg Config) (*Runner, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must not be negative, got %d", cfg.Retries)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = DefaultTestTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = determineConcurrency()
	}
	if cfg.Workers > MaxReasonableConcurrency {
		cfg.Log.Warn("High concurrency may exhaust browser resources",
			"workers", cfg.Workers, "recommended_max", MaxReasonableConcurrency)
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	return &Runner{
		cfg:    cfg,
		log:    cfg.Log.New("component", "runner", "run", cfg.RunID),
		tracer: otel.Tracer("test runner"),
	}, nil
}

func determineConcurrency() int {
	return min(runtime.NumCPU(), MaxReasonableConcurrency)
}

// RunID returns the identifier of the runs this runner executes.
func (r *Runner) RunID() string {
	return r.cfg.RunID
}

// validateProjects rejects an empty matrix axis or duplicate project names.
func validateProjects(projects []types.ProjectConfig) error {
	if len(projects) == 0 {
		return errors.New("at least one project is required")
	}
	seen := make(map[string]bool, len(projects))
	for _, p := range projects {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate project name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Run executes every unit under every project. The returned error is
// reserved for an invalid configuration; test failures and infrastructure
// aborts are reported through the Result.
func (r *Runner) Run(ctx context.Context, units []registry.TestUnit, projects []types.ProjectConfig) (*Result, error) {
	if err := validateProjects(projects); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("run %s", r.cfg.RunID))
	defer span.End()

	start := time.Now()
	plan := BuildPlan(units, projects)
	batches := plan.Batches(r.cfg.FullyParallel)
	exclusive := slices.ContainsFunc(units, func(u registry.TestUnit) bool { return u.Only })

	r.log.Info("Starting run",
		"tests", len(units), "projects", len(projects), "pairs", plan.Len(),
		"batches", len(batches), "workers", r.cfg.Workers, "retries", r.cfg.Retries,
		"fullyParallel", r.cfg.FullyParallel, "exclusive", exclusive)

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	var abortOnce sync.Once
	var abortErr error
	abortRun := func(err error) {
		abortOnce.Do(func() {
			abortErr = err
			r.log.Error("Aborting run after infrastructure failure", "err", err)
			metrics.RecordRunAbort("infrastructure")
			abort(err)
		})
	}

	collector := NewCollector()
	r.cfg.Progress.StartRun(plan.Len())
	defer r.cfg.Progress.CompleteRun()

	workers := min(r.cfg.Workers, max(len(batches), 1))
	bufferSize := min(workers*2, 100)
	work := make(chan []WorkItem, bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for batch := range work {
				for _, item := range batch {
					if runCtx.Err() != nil {
						break
					}
					if err := r.execute(runCtx, item, exclusive, collector); err != nil {
						abortRun(err)
					}
				}
			}
		}(i)
	}

feed:
	for _, batch := range batches {
		select {
		case work <- batch:
		case <-runCtx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()

	result := &Result{
		RunID:     r.cfg.RunID,
		Records:   collector.Finals(),
		Attempts:  collector.Attempts(),
		Artifacts: collector.Artifacts(),
		Planned:   plan.Len(),
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if abortErr == nil && ctx.Err() != nil {
		abortErr = context.Cause(ctx)
		metrics.RecordRunAbort("interrupted")
	}
	if abortErr != nil || len(result.Records) < result.Planned {
		result.Incomplete = true
		result.AbortErr = abortErr
		span.SetStatus(codes.Error, "incomplete run")
	}
	metrics.RecordRun(result.RunID, result.Summary(), result.Counts(), result.Duration)

	r.log.Info("Run finished",
		"result", result.Summary(), "completed", len(result.Records), "planned", result.Planned,
		"flaky", len(result.Flaky()), "duration", result.Duration.Truncate(time.Millisecond))
	return result, nil
}

// execute runs one pair through its attempts. A non-nil error is an
// infrastructure failure that must abort the run.
func (r *Runner) execute(ctx context.Context, item WorkItem, exclusive bool, collector *Collector) error {
	name := item.String()
	r.cfg.Progress.StartTest(name)

	if reason := skipReason(item.Unit, exclusive); reason != "" {
		rec := r.record(item, 0, time.Now())
		rec.Status = types.TestStatusSkipped
		rec.Warnings = []string{"skipped: " + reason}
		collector.AddAttempt(rec)
		collector.AddFinal(rec)
		metrics.RecordOutcome(item.Project.Name, rec.Status, 0)
		r.cfg.Progress.UpdateTest(name, rec.Status)
		return nil
	}

	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 {
			metrics.RecordRetry(item.Project.Name)
			r.log.Info("Retrying test", "test", name, "attempt", attempt)
		}
		rec, artifact, err := r.attempt(ctx, item, attempt)
		if err != nil {
			return err
		}
		if rec == nil {
			// The run was cancelled while the attempt was in flight.
			return nil
		}
		if artifact != nil {
			collector.AddArtifact(rec.FailureDetail.Screenshot, artifact)
		}
		collector.AddAttempt(*rec)
		metrics.RecordOutcome(item.Project.Name, rec.Status, rec.Duration)
		if rec.Status.Terminal() || attempt == r.cfg.Retries {
			if !collector.AddFinal(*rec) {
				r.log.Error("Duplicate terminal outcome dropped", "test", name)
			}
			r.cfg.Progress.UpdateTest(name, rec.Status)
			return nil
		}
	}
	return nil
}

func skipReason(u registry.TestUnit, exclusive bool) string {
	if u.SkipReason != "" {
		return u.SkipReason
	}
	if exclusive && !u.Only {
		return "not selected while exclusive tests are present"
	}
	return ""
}

func (r *Runner) record(item WorkItem, attempt int, started time.Time) types.OutcomeRecord {
	return types.OutcomeRecord{
		TestID:       item.Unit.ID,
		Title:        item.Unit.FullTitle(),
		ProjectName:  item.Project.Name,
		RetryAttempt: attempt,
		Tags:         slices.Clone(item.Unit.Tags),
		StartedAt:    started,
	}
}

// attempt performs a single execution on a fresh session. It returns a nil
// record when the run was cancelled underneath it, and an error only for
// infrastructure failures.
func (r *Runner) attempt(parent context.Context, item WorkItem, attempt int) (*types.OutcomeRecord, []byte, error) {
	ctx, span := r.tracer.Start(parent, fmt.Sprintf("test %s", item.Unit.FullTitle()))
	defer span.End()
	span.SetAttributes(
		attribute.String("test.id", item.Unit.ID),
		attribute.String("project", item.Project.Name),
		attribute.Int("attempt", attempt),
	)

	timeout := r.cfg.TestTimeout
	if item.Unit.Timeout > 0 {
		timeout = item.Unit.Timeout
	}
	deadline := &types.TimeoutError{Op: "test", Err: fmt.Errorf("exceeded %s", timeout)}
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, deadline)
	defer cancel()

	logger := r.log.New("test", item.Unit.FullTitle(), "project", item.Project.Name, "attempt", attempt)
	started := time.Now()
	rec := r.record(item, attempt, started)

	session, err := r.cfg.Sessions.Acquire(ctx, item.Project)
	if err != nil {
		if parent.Err() != nil {
			return nil, nil, nil
		}
		span.RecordError(err)
		if !types.IsInfrastructure(err) {
			err = types.NewInfrastructureError(err)
		}
		return nil, nil, fmt.Errorf("acquire session for %s: %w", item, err)
	}
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		if err := r.cfg.Sessions.Release(session); err != nil {
			logger.Warn("Failed to release session", "err", err)
		}
	}
	defer release()

	opts := r.cfg.Harness
	opts.Log = logger
	t := harness.New(ctx, session, opts)
	done := harness.Start(t, item.Unit.Body)

	var runErr error
	select {
	case <-done:
		runErr = t.Err()
		if ctx.Err() != nil && errors.Is(context.Cause(ctx), deadline) && parent.Err() == nil {
			runErr = deadline
		}
	case <-ctx.Done():
		if parent.Err() != nil {
			release()
			r.awaitBody(done, logger)
			return nil, nil, nil
		}
		runErr = deadline
	}
	if runErr != nil && parent.Err() != nil && !types.IsInfrastructure(runErr) {
		release()
		return nil, nil, nil
	}
	rec.Duration = time.Since(started)
	rec.Warnings = t.Warnings()

	if skipped, reason := t.Skipped(); skipped && runErr == nil {
		rec.Status = types.TestStatusSkipped
		rec.Warnings = append(rec.Warnings, "skipped: "+reason)
		release()
		return &rec, nil, nil
	}
	if runErr == nil {
		rec.Status = types.TestStatusPassed
		release()
		return &rec, nil, nil
	}

	kind := types.Classify(runErr)
	rec.Status = types.StatusFor(kind)
	span.RecordError(runErr)
	span.SetStatus(codes.Error, string(kind))

	detail, shot := r.diagnose(session, t, item, attempt, kind, runErr)
	rec.FailureDetail = detail
	release()
	if errors.Is(runErr, deadline) {
		r.awaitBody(done, logger)
	}

	if kind == types.FailureInfrastructure {
		logger.Error("Infrastructure failure", "err", runErr)
		return nil, nil, runErr
	}
	logger.Info("Attempt did not pass", "status", rec.Status, "kind", kind, "err", runErr)
	return &rec, shot, nil
}

// diagnose gathers failure context from a session that is still open.
func (r *Runner) diagnose(session *browser.Session, t *harness.T, item WorkItem, attempt int, kind types.FailureKind, err error) (*types.FailureDetail, []byte) {
	detail := &types.FailureDetail{
		Kind:    kind,
		Message: err.Error(),
		Locator: t.LastLocator(),
		Console: session.ConsoleErrors(),
		Stack:   t.Stack(),
	}
	if kind == types.FailureInfrastructure {
		return detail, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), diagnosticTimeout)
	defer cancel()
	if u, err := session.URL(ctx); err == nil {
		detail.URL = u
	}
	if !r.cfg.Screenshots {
		return detail, nil
	}
	shot, err := session.Screenshot(ctx)
	if err != nil {
		r.log.Debug("Failed to capture screenshot", "test", item.String(), "err", err)
		return detail, nil
	}
	detail.Screenshot = fmt.Sprintf("screenshots/%s-%s-%d.png", item.Unit.ID, item.Project.Name, attempt)
	return detail, shot
}

// awaitBody gives an abandoned body a grace period to observe its released
// session.
func (r *Runner) awaitBody(done <-chan struct{}, logger log.Logger) {
	timer := time.NewTimer(diagnosticTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("Test body still running after its session was released")
	}
}
