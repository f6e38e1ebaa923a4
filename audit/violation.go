package audit

import (
	"fmt"
	"strings"
)

// Impact is the severity of a violation.
type Impact string

const (
	ImpactMinor    Impact = "minor"
	ImpactModerate Impact = "moderate"
	ImpactSerious  Impact = "serious"
	ImpactCritical Impact = "critical"
)

// Rank orders impacts from minor (1) to critical (4). Unknown impacts rank 0.
func (i Impact) Rank() int {
	switch i {
	case ImpactMinor:
		return 1
	case ImpactModerate:
		return 2
	case ImpactSerious:
		return 3
	case ImpactCritical:
		return 4
	}
	return 0
}

// ParseImpact parses an impact name, case-insensitively.
func ParseImpact(s string) (Impact, error) {
	i := Impact(strings.ToLower(strings.TrimSpace(s)))
	if i.Rank() == 0 {
		return "", fmt.Errorf("unknown impact %q", s)
	}
	return i, nil
}

// Violation is one rule failing against one or more elements.
type Violation struct {
	RuleID      string   `json:"ruleId"`
	Impact      Impact   `json:"impact"`
	Targets     []string `json:"targets"`
	Description string   `json:"description"`
	Help        string   `json:"help,omitempty"`
	HelpURL     string   `json:"helpUrl,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s (%s): %s [%s]", v.RuleID, v.Impact, v.Description, strings.Join(v.Targets, ", "))
}

// AtLeast returns the violations whose impact is min or worse.
func AtLeast(vs []Violation, min Impact) []Violation {
	var out []Violation
	for _, v := range vs {
		if v.Impact.Rank() >= min.Rank() {
			out = append(out, v)
		}
	}
	return out
}

// Describe renders violations one per line for failure messages.
func Describe(vs []Violation) string {
	lines := make([]string, len(vs))
	for i, v := range vs {
		lines[i] = v.String()
	}
	return strings.Join(lines, "\n")
}
