package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

const (
	MetricsNamespace = "webcheck"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusPassed, types.TestStatusFailed, types.TestStatusTimedOut, types.TestStatusSkipped}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "outcomes_total",
		Help:      "Count of terminal test outcomes",
	}, []string{
		"project",
		"status",
	})

	testDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "test_duration_seconds",
		Help:      "Duration of test attempts",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{
		"project",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retries_total",
		Help:      "Count of test attempts that were retried",
	}, []string{
		"project",
	})

	sessionsLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "sessions_live",
		Help:      "Browser sessions currently acquired",
	}, []string{
		"project",
	})

	sessionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "session_failures_total",
		Help:      "Count of failed session acquisitions",
	}, []string{
		"project",
	})

	routeHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "route_hits_total",
		Help:      "Requests handled by route rules",
	}, []string{
		"decision",
	})

	auditViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "audit_violations_total",
		Help:      "Accessibility violations reported by audits",
	}, []string{
		"impact",
	})

	runAborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_aborts_total",
		Help:      "Runs aborted before completion",
	}, []string{
		"reason",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of the last run",
	}, []string{
		"run_id",
		"result",
	})

	runTests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests",
		Help:      "Terminal outcomes of the last run by status",
	}, []string{
		"run_id",
		"status",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of the last run",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordOutcome(project string, status types.TestStatus, duration time.Duration) {
	if !isValidResult(status) {
		log.Error("RecordOutcome - invalid status", "status", status)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "outcomes_total",
			"project", project,
			"status", status)
	}
	outcomesTotal.WithLabelValues(project, string(status)).Inc()
	testDuration.WithLabelValues(project).Observe(duration.Seconds())
}

func RecordRetry(project string) {
	retriesTotal.WithLabelValues(project).Inc()
}

func RecordSessionAcquired(project string) {
	sessionsLive.WithLabelValues(project).Inc()
}

func RecordSessionReleased(project string) {
	sessionsLive.WithLabelValues(project).Dec()
}

func RecordSessionFailure(project string) {
	sessionFailures.WithLabelValues(project).Inc()
}

func RecordRouteHit(decision string) {
	routeHits.WithLabelValues(decision).Inc()
}

func RecordAuditViolations(impact string, count int) {
	if count <= 0 {
		return
	}
	auditViolations.WithLabelValues(impact).Add(float64(count))
}

func RecordRunAbort(reason string) {
	runAborts.WithLabelValues(reason).Inc()
}

func RecordRun(runID string, result string, counts map[types.TestStatus]int, duration time.Duration) {
	runResults.WithLabelValues(runID, result).Set(1)
	for _, status := range validResults {
		runTests.WithLabelValues(runID, string(status)).Set(float64(counts[status]))
	}
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
