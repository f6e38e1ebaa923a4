package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "nil error", err: nil},
		{name: "simple error", err: errors.New("test error")},
		{name: "error with special chars", err: errors.New("test@error#123")},
		{name: "error with multiple spaces", err: errors.New("test   error")},
	}

	validLabelRegex := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Regexp(t, validLabelRegex, errToLabel(tt.err))
		})
	}
}

func TestRecordOutcome(t *testing.T) {
	before := testutil.ToFloat64(outcomesTotal.WithLabelValues("metrics-test", string(types.TestStatusPassed)))
	RecordOutcome("metrics-test", types.TestStatusPassed, time.Second)
	RecordOutcome("metrics-test", types.TestStatus("bogus"), time.Second)
	after := testutil.ToFloat64(outcomesTotal.WithLabelValues("metrics-test", string(types.TestStatusPassed)))
	assert.Equal(t, before+1, after)
}

func TestSessionGauge(t *testing.T) {
	RecordSessionAcquired("gauge-test")
	RecordSessionAcquired("gauge-test")
	RecordSessionReleased("gauge-test")
	assert.Equal(t, float64(1), testutil.ToFloat64(sessionsLive.WithLabelValues("gauge-test")))
}

func TestRecordAuditViolationsIgnoresZero(t *testing.T) {
	RecordAuditViolations("critical-test", 0)
	RecordAuditViolations("critical-test", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(auditViolations.WithLabelValues("critical-test")))
}

func TestRecordRun(t *testing.T) {
	RecordRun("run-1", "fail", map[types.TestStatus]int{types.TestStatusPassed: 4, types.TestStatusFailed: 1}, 2*time.Second)
	assert.Equal(t, float64(4), testutil.ToFloat64(runTests.WithLabelValues("run-1", "passed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(runTests.WithLabelValues("run-1", "skipped")))
	assert.Equal(t, float64(2), testutil.ToFloat64(runDuration.WithLabelValues("run-1")))
}
