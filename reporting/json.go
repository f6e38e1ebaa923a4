package reporting

import (
	"encoding/json"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// JSONFormatter renders the machine-readable result file.
type JSONFormatter struct{}

type jsonReport struct {
	RunID       string                `json:"runId"`
	StartedAt   time.Time             `json:"startedAt"`
	DurationMs  int64                 `json:"durationMs"`
	Incomplete  bool                  `json:"incomplete"`
	AbortReason string                `json:"abortReason,omitempty"`
	Stats       ReportStats           `json:"stats"`
	Results     []types.OutcomeRecord `json:"results"`
}

func (f *JSONFormatter) Format(data *ReportData) ([]byte, error) {
	results := data.Records
	if results == nil {
		results = []types.OutcomeRecord{}
	}
	b, err := json.MarshalIndent(jsonReport{
		RunID:       data.RunID,
		StartedAt:   data.StartedAt.UTC(),
		DurationMs:  data.Duration.Milliseconds(),
		Incomplete:  data.Incomplete,
		AbortReason: data.AbortReason,
		Stats:       data.Stats,
		Results:     results,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
