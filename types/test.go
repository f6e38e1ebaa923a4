package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// TestStatus represents the terminal state of one (test, project) execution
type TestStatus string

const (
	TestStatusPassed   TestStatus = "passed"
	TestStatusFailed   TestStatus = "failed"
	TestStatusTimedOut TestStatus = "timedOut"
	TestStatusSkipped  TestStatus = "skipped"
)

// Terminal reports whether the status ends the retry loop.
func (s TestStatus) Terminal() bool {
	return s == TestStatusPassed || s == TestStatusSkipped
}

// Retryable reports whether the status is subject to the retry policy.
func (s TestStatus) Retryable() bool {
	return s == TestStatusFailed || s == TestStatusTimedOut
}

// FailureKind classifies the reason an attempt did not pass
type FailureKind string

const (
	FailureAssertion      FailureKind = "assertion"
	FailureTimeout        FailureKind = "timeout"
	FailureError          FailureKind = "error"
	FailureInfrastructure FailureKind = "infrastructure"
)

// FailureDetail carries enough context to diagnose a failure without rerunning
type FailureDetail struct {
	Kind       FailureKind `json:"kind"`
	Message    string      `json:"message"`
	Locator    string      `json:"locator,omitempty"`
	URL        string      `json:"url,omitempty"`
	Console    []string    `json:"console,omitempty"`
	Screenshot string      `json:"screenshot,omitempty"`
	Stack      string      `json:"stack,omitempty"`
}

// OutcomeRecord is the result of one attempt of a (test, project) pair
type OutcomeRecord struct {
	TestID        string         `json:"testId"`
	Title         string         `json:"title"`
	ProjectName   string         `json:"projectName"`
	Status        TestStatus     `json:"status"`
	Duration      time.Duration  `json:"-"`
	FailureDetail *FailureDetail `json:"failureDetail,omitempty"`
	RetryAttempt  int            `json:"retryAttempt"`
	Tags          []string       `json:"tags,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	StartedAt     time.Time      `json:"startedAt"`
}

// MarshalJSON renders the duration in milliseconds
func (r OutcomeRecord) MarshalJSON() ([]byte, error) {
	type plain OutcomeRecord
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"durationMs"`
	}{plain(r), r.Duration.Milliseconds()})
}

// UnmarshalJSON restores the millisecond duration
func (r *OutcomeRecord) UnmarshalJSON(data []byte) error {
	type plain OutcomeRecord
	var aux struct {
		plain
		DurationMs int64 `json:"durationMs"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = OutcomeRecord(aux.plain)
	r.Duration = time.Duration(aux.DurationMs) * time.Millisecond
	return nil
}

// Key identifies the (test, project) pair the record belongs to.
func (r OutcomeRecord) Key() PairKey {
	return PairKey{TestID: r.TestID, ProjectName: r.ProjectName}
}

// Flaky reports whether the pair passed only after at least one retry.
func (r OutcomeRecord) Flaky() bool {
	return r.Status == TestStatusPassed && r.RetryAttempt > 0
}

// PairKey identifies one cell of the test x project matrix
type PairKey struct {
	TestID      string
	ProjectName string
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s [%s]", k.TestID, k.ProjectName)
}
