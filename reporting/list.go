package reporting

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// ListFormatter renders the console summary stream: one line per outcome,
// failure details, then a per-project table.
type ListFormatter struct {
	pass, fail, skip, flaky, dim, warn lipgloss.Style
}

// NewListFormatter styles output for r. A nil renderer produces plain text.
func NewListFormatter(r *lipgloss.Renderer) *ListFormatter {
	if r == nil {
		r = lipgloss.NewRenderer(io.Discard)
	}
	return &ListFormatter{
		pass:  r.NewStyle().Foreground(lipgloss.Color("2")),
		fail:  r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		skip:  r.NewStyle().Foreground(lipgloss.Color("8")),
		flaky: r.NewStyle().Foreground(lipgloss.Color("3")),
		dim:   r.NewStyle().Faint(true),
		warn:  r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
	}
}

func (f *ListFormatter) glyph(rec types.OutcomeRecord) string {
	switch {
	case rec.Flaky():
		return f.flaky.Render("~")
	case rec.Status == types.TestStatusPassed:
		return f.pass.Render("✓")
	case rec.Status == types.TestStatusSkipped:
		return f.skip.Render("-")
	case rec.Status == types.TestStatusTimedOut:
		return f.fail.Render("⏱")
	default:
		return f.fail.Render("✘")
	}
}

func (f *ListFormatter) Format(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range data.Records {
		line := fmt.Sprintf("  %s [%s] %s %s", f.glyph(rec), rec.ProjectName, rec.Title,
			f.dim.Render("("+formatDuration(rec.Duration)+")"))
		if rec.Flaky() {
			line += " " + f.flaky.Render(fmt.Sprintf("flaky, passed on retry %d", rec.RetryAttempt))
		}
		buf.WriteString(line + "\n")
		for _, w := range rec.Warnings {
			buf.WriteString("      " + f.dim.Render("warning: "+w) + "\n")
		}
	}

	if len(data.Failures) > 0 {
		buf.WriteString("\n")
		for i, rec := range data.Failures {
			fmt.Fprintf(&buf, "  %d) [%s] %s\n", i+1, rec.ProjectName, rec.Title)
			writeDetail(&buf, rec.FailureDetail, f)
			buf.WriteString("\n")
		}
	}

	buf.WriteString("\n")
	buf.WriteString(SummaryTable(data))
	buf.WriteString("\n")

	if data.Incomplete {
		msg := fmt.Sprintf("RUN INCOMPLETE: %d of %d planned runs have no outcome", data.Stats.Missing, data.Stats.Planned)
		if data.AbortReason != "" {
			msg += ": " + data.AbortReason
		}
		buf.WriteString(f.warn.Render(msg) + "\n")
	}
	return buf.Bytes(), nil
}

func writeDetail(buf *bytes.Buffer, d *types.FailureDetail, f *ListFormatter) {
	if d == nil {
		return
	}
	fmt.Fprintf(buf, "     %s: %s\n", f.fail.Render(string(d.Kind)), d.Message)
	if d.Locator != "" {
		fmt.Fprintf(buf, "     locator: %s\n", d.Locator)
	}
	if d.URL != "" {
		fmt.Fprintf(buf, "     url: %s\n", d.URL)
	}
	if d.Screenshot != "" {
		fmt.Fprintf(buf, "     screenshot: %s\n", d.Screenshot)
	}
	for _, line := range d.Console {
		fmt.Fprintf(buf, "     console: %s\n", line)
	}
}

// SummaryTable renders per-project totals.
func SummaryTable(data *ReportData) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("op-webcheck run %s", data.RunID))
	t.AppendHeader(table.Row{"Project", "Tests", "Passed", "Failed", "Timed out", "Skipped", "Flaky", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Timed out", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Flaky", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, project := range data.Projects {
		var s ReportStats
		var total time.Duration
		for _, rec := range data.Records {
			if rec.ProjectName != project {
				continue
			}
			s.Total++
			total += rec.Duration
			switch rec.Status {
			case types.TestStatusPassed:
				s.Passed++
			case types.TestStatusFailed:
				s.Failed++
			case types.TestStatusTimedOut:
				s.TimedOut++
			case types.TestStatusSkipped:
				s.Skipped++
			}
			if rec.Flaky() {
				s.Flaky++
			}
		}
		t.AppendRow(table.Row{project, s.Total, s.Passed, s.Failed, s.TimedOut, s.Skipped, s.Flaky, formatDuration(total)})
	}

	status := "PASS"
	switch {
	case data.Incomplete:
		status = "INCOMPLETE"
	case data.Stats.HasFailures():
		status = "FAIL"
	}
	t.AppendFooter(table.Row{status, data.Stats.Total, data.Stats.Passed, data.Stats.Failed,
		data.Stats.TimedOut, data.Stats.Skipped, data.Stats.Flaky, formatDuration(data.Duration)})
	t.SetStyle(table.StyleLight)
	return t.Render()
}
