// Package audit runs accessibility rule engines against a page and normalizes
// what they report.
package audit

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-webcheck/dom"
	"github.com/ethereum-optimism/infra/op-webcheck/metrics"
)

// Target is the page an engine audits.
type Target interface {
	Snapshot(ctx context.Context) (*dom.Snapshot, error)
	Evaluate(ctx context.Context, js string, args ...any) (json.RawMessage, error)
}

// Engine evaluates accessibility rules. Engines may ignore parts of the scope;
// the Auditor filters their output again.
type Engine interface {
	Name() string
	Run(ctx context.Context, target Target, scope Scope) ([]Violation, error)
}

// Auditor validates scopes and normalizes engine results.
type Auditor struct {
	engine Engine
	log    log.Logger
}

// New returns an auditor over engine.
func New(engine Engine, logger log.Logger) *Auditor {
	if logger == nil {
		logger = log.New()
	}
	return &Auditor{engine: engine, log: logger.New("component", "audit", "engine", engine.Name())}
}

// Audit runs the engine once. A malformed scope fails before the engine is
// invoked and is never retried.
func (a *Auditor) Audit(ctx context.Context, target Target, scope Scope) ([]Violation, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	raw, err := a.engine.Run(ctx, target, scope)
	if err != nil {
		return nil, fmt.Errorf("%s audit: %w", a.engine.Name(), err)
	}
	vs := Normalize(raw, scope)
	counts := make(map[Impact]int)
	for _, v := range vs {
		counts[v.Impact]++
	}
	for impact, n := range counts {
		metrics.RecordAuditViolations(string(impact), n)
	}
	a.log.Debug("Audit finished", "violations", len(vs))
	return vs, nil
}

// Normalize drops out-of-scope rules, merges duplicate rule reports, dedupes
// targets and orders violations from most to least severe.
func Normalize(raw []Violation, scope Scope) []Violation {
	byRule := make(map[string]int)
	var out []Violation
	for _, v := range raw {
		if !scope.Allows(v.RuleID, v.Tags) {
			continue
		}
		if v.Impact.Rank() == 0 {
			v.Impact = ImpactMinor
		}
		if i, ok := byRule[v.RuleID]; ok {
			out[i].Targets = append(out[i].Targets, v.Targets...)
			if v.Impact.Rank() > out[i].Impact.Rank() {
				out[i].Impact = v.Impact
			}
			continue
		}
		v.Targets = slices.Clone(v.Targets)
		byRule[v.RuleID] = len(out)
		out = append(out, v)
	}
	for i := range out {
		out[i].Targets = dedupe(out[i].Targets)
	}
	slices.SortStableFunc(out, func(a, b Violation) int {
		if c := cmp.Compare(b.Impact.Rank(), a.Impact.Rank()); c != 0 {
			return c
		}
		return cmp.Compare(a.RuleID, b.RuleID)
	})
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
