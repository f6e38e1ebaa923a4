package reporting

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

//go:embed templates/report.html.tmpl
var htmlTemplate string

// HTMLFormatter renders the human-readable report.
type HTMLFormatter struct {
	tmpl *template.Template
}

// NewHTMLFormatter parses the embedded report template.
func NewHTMLFormatter() (*HTMLFormatter, error) {
	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}
	return &HTMLFormatter{tmpl: tmpl}, nil
}

func (f *HTMLFormatter) Format(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute HTML template: %w", err)
	}
	return buf.Bytes(), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.UTC().Format(time.RFC3339)
		},
		"statusClass": func(rec types.OutcomeRecord) string {
			if rec.Flaky() {
				return "flaky"
			}
			return string(rec.Status)
		},
		"statusText": func(rec types.OutcomeRecord) string {
			switch {
			case rec.Flaky():
				return fmt.Sprintf("flaky (retry %d)", rec.RetryAttempt)
			case rec.Status == types.TestStatusTimedOut:
				return "timed out"
			default:
				return string(rec.Status)
			}
		},
		"join": strings.Join,
	}
}
