package reporting

import (
	"cmp"
	"slices"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Run is everything the reporters need to know about one run.
type Run struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	// Planned is the size of the test x project matrix.
	Planned    int
	Incomplete bool
	// AbortReason explains why an incomplete run stopped.
	AbortReason string
	Records     []types.OutcomeRecord
}

// ReportStats contains aggregated statistics for a test run
type ReportStats struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timedOut"`
	Skipped  int `json:"skipped"`
	Flaky    int `json:"flaky"`
	Planned  int `json:"planned"`
	// Missing counts planned pairs without a terminal outcome.
	Missing int `json:"missing"`
}

// HasFailures reports whether any pair failed or timed out.
func (s ReportStats) HasFailures() bool {
	return s.Failed+s.TimedOut > 0
}

// ReportTest groups the outcomes of one test across projects.
type ReportTest struct {
	TestID  string
	Title   string
	Results []types.OutcomeRecord
}

// ReportData contains all the structured data needed for any report format
type ReportData struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Incomplete  bool
	AbortReason string
	Stats       ReportStats
	// Records is sorted by title, test and project.
	Records  []types.OutcomeRecord
	Tests    []ReportTest
	Projects []string
	Failures []types.OutcomeRecord
	Flaky    []types.OutcomeRecord
}

// Build sorts and aggregates a run. Records may arrive in any order.
func Build(run Run) *ReportData {
	records := make([]types.OutcomeRecord, len(run.Records))
	for i, rec := range run.Records {
		records[i] = sanitize(rec)
	}
	slices.SortFunc(records, compareRecords)

	data := &ReportData{
		RunID:       run.RunID,
		StartedAt:   run.StartedAt,
		Duration:    run.Duration,
		Incomplete:  run.Incomplete,
		AbortReason: stripansi.Strip(run.AbortReason),
		Records:     records,
	}
	projects := make(map[string]bool)
	for _, rec := range records {
		data.Stats.Total++
		switch rec.Status {
		case types.TestStatusPassed:
			data.Stats.Passed++
		case types.TestStatusFailed:
			data.Stats.Failed++
		case types.TestStatusTimedOut:
			data.Stats.TimedOut++
		case types.TestStatusSkipped:
			data.Stats.Skipped++
		}
		if rec.Flaky() {
			data.Stats.Flaky++
			data.Flaky = append(data.Flaky, rec)
		}
		if rec.Status.Retryable() {
			data.Failures = append(data.Failures, rec)
		}
		if !projects[rec.ProjectName] {
			projects[rec.ProjectName] = true
			data.Projects = append(data.Projects, rec.ProjectName)
		}
		if n := len(data.Tests); n == 0 || data.Tests[n-1].TestID != rec.TestID {
			data.Tests = append(data.Tests, ReportTest{TestID: rec.TestID, Title: rec.Title})
		}
		last := &data.Tests[len(data.Tests)-1]
		last.Results = append(last.Results, rec)
	}
	slices.Sort(data.Projects)

	data.Stats.Planned = max(run.Planned, data.Stats.Total)
	data.Stats.Missing = data.Stats.Planned - data.Stats.Total
	if data.Stats.Missing > 0 {
		data.Incomplete = true
	}
	return data
}

func compareRecords(a, b types.OutcomeRecord) int {
	return cmp.Or(
		cmp.Compare(a.Title, b.Title),
		cmp.Compare(a.TestID, b.TestID),
		cmp.Compare(a.ProjectName, b.ProjectName),
		cmp.Compare(a.RetryAttempt, b.RetryAttempt),
	)
}

// sanitize strips terminal escapes captured from consoles and error output.
func sanitize(rec types.OutcomeRecord) types.OutcomeRecord {
	if rec.FailureDetail == nil {
		return rec
	}
	d := *rec.FailureDetail
	d.Message = stripansi.Strip(d.Message)
	d.Stack = stripansi.Strip(d.Stack)
	if d.Console != nil {
		console := make([]string, len(d.Console))
		for i, line := range d.Console {
			console[i] = stripansi.Strip(line)
		}
		d.Console = console
	}
	rec.FailureDetail = &d
	return rec
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Truncate(time.Millisecond).String()
	}
	return d.Truncate(100 * time.Millisecond).String()
}
