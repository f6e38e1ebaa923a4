package reporting

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// JUnitFormatter renders the CI-interoperable result file. Projects become
// test suites; an incomplete run adds a suite holding a single error case so
// CI systems surface the abort.
type JUnitFormatter struct {
	SuiteName string
}

type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Errors   int             `xml:"errors,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",cdata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func (f *JUnitFormatter) Format(data *ReportData) ([]byte, error) {
	root := junitTestSuites{Name: f.SuiteName, Time: seconds(data.Duration)}
	index := make(map[string]int)
	durations := make(map[string]time.Duration)

	for _, rec := range data.Records {
		i, ok := index[rec.ProjectName]
		if !ok {
			i = len(root.Suites)
			index[rec.ProjectName] = i
			root.Suites = append(root.Suites, junitTestSuite{Name: rec.ProjectName})
		}
		suite := &root.Suites[i]
		tc := junitTestCase{Name: rec.Title, ClassName: rec.ProjectName, Time: seconds(rec.Duration)}
		switch rec.Status {
		case types.TestStatusSkipped:
			tc.Skipped = &junitSkipped{Message: strings.TrimPrefix(strings.Join(rec.Warnings, "; "), "skipped: ")}
			suite.Skipped++
		case types.TestStatusFailed, types.TestStatusTimedOut:
			p := problem(rec)
			if rec.FailureDetail != nil && rec.FailureDetail.Kind == types.FailureError {
				tc.Error = p
				suite.Errors++
			} else {
				tc.Failure = p
				suite.Failures++
			}
		}
		suite.Tests++
		durations[rec.ProjectName] += rec.Duration
		suite.Cases = append(suite.Cases, tc)
	}
	for i := range root.Suites {
		s := &root.Suites[i]
		s.Time = seconds(durations[s.Name])
	}

	if data.Incomplete {
		reason := data.AbortReason
		if reason == "" {
			reason = "run stopped before every test finished"
		}
		root.Suites = append(root.Suites, junitTestSuite{
			Name:   "incomplete",
			Tests:  1,
			Errors: 1,
			Time:   seconds(0),
			Cases: []junitTestCase{{
				Name:      "run incomplete",
				ClassName: "incomplete",
				Time:      seconds(0),
				Error: &junitProblem{
					Message: reason,
					Type:    "incomplete",
					Body:    fmt.Sprintf("%d of %d planned runs have no outcome", data.Stats.Missing, data.Stats.Planned),
				},
			}},
		})
	}
	for _, s := range root.Suites {
		root.Tests += s.Tests
		root.Failures += s.Failures
		root.Errors += s.Errors
		root.Skipped += s.Skipped
	}

	b, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, err
	}
	out := append([]byte(xml.Header), b...)
	return append(out, '\n'), nil
}

func problem(rec types.OutcomeRecord) *junitProblem {
	d := rec.FailureDetail
	if d == nil {
		return &junitProblem{Message: string(rec.Status), Type: string(rec.Status)}
	}
	var body []string
	if d.Locator != "" {
		body = append(body, "locator: "+d.Locator)
	}
	if d.URL != "" {
		body = append(body, "url: "+d.URL)
	}
	if d.Screenshot != "" {
		body = append(body, "screenshot: "+d.Screenshot)
	}
	for _, line := range d.Console {
		body = append(body, "console: "+line)
	}
	if d.Stack != "" {
		body = append(body, d.Stack)
	}
	return &junitProblem{Message: d.Message, Type: string(d.Kind), Body: strings.Join(body, "\n")}
}
