package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/singleflight"
)

// DefaultAxeMinVersion is the oldest axe-core release whose result shape we decode.
const DefaultAxeMinVersion = "v4.0.0"

// ErrAxeVersion is returned when the injected axe-core is too old.
var ErrAxeVersion = errors.New("unsupported axe-core version")

// SourceFunc loads the axe-core script.
type SourceFunc func(ctx context.Context) (string, error)

// FileSource reads axe-core from path.
func FileSource(path string) SourceFunc {
	return func(context.Context) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read axe script: %w", err)
		}
		return string(b), nil
	}
}

// AxeEngine injects axe-core into the page and runs it. The script is loaded
// once and shared by every session.
type AxeEngine struct {
	source     SourceFunc
	minVersion string

	group  singleflight.Group
	mu     sync.Mutex
	script string
}

// AxeOption configures an AxeEngine.
type AxeOption func(*AxeEngine)

// WithMinVersion overrides DefaultAxeMinVersion.
func WithMinVersion(v string) AxeOption {
	return func(e *AxeEngine) { e.minVersion = canonical(v) }
}

// NewAxeEngine returns an engine loading axe-core from source.
func NewAxeEngine(source SourceFunc, opts ...AxeOption) *AxeEngine {
	e := &AxeEngine{source: source, minVersion: DefaultAxeMinVersion}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *AxeEngine) Name() string { return "axe" }

func (e *AxeEngine) load(ctx context.Context) (string, error) {
	e.mu.Lock()
	script := e.script
	e.mu.Unlock()
	if script != "" {
		return script, nil
	}
	v, err, _ := e.group.Do("axe", func() (any, error) {
		src, err := e.source(ctx)
		if err != nil {
			return "", err
		}
		e.mu.Lock()
		e.script = src
		e.mu.Unlock()
		return src, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

const injectJS = `(src) => {
	if (!window.axe) { (0, eval)(src); }
	return window.axe ? window.axe.version : "";
}`

const runJS = `async (context, options) => {
	const r = await window.axe.run(context, options);
	return r.violations.map(v => ({
		id: v.id, impact: v.impact, description: v.description, help: v.help,
		helpUrl: v.helpUrl, tags: v.tags, nodes: v.nodes.map(n => ({ target: n.target })),
	}));
}`

type axeViolation struct {
	ID          string    `json:"id"`
	Impact      string    `json:"impact"`
	Description string    `json:"description"`
	Help        string    `json:"help"`
	HelpURL     string    `json:"helpUrl"`
	Tags        []string  `json:"tags"`
	Nodes       []axeNode `json:"nodes"`
}

type axeNode struct {
	Target []json.RawMessage `json:"target"`
}

func (e *AxeEngine) Run(ctx context.Context, target Target, scope Scope) ([]Violation, error) {
	script, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := target.Evaluate(ctx, injectJS, script)
	if err != nil {
		return nil, fmt.Errorf("inject axe: %w", err)
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return nil, fmt.Errorf("decode axe version: %w", err)
	}
	v := canonical(version)
	if !semver.IsValid(v) || semver.Compare(v, e.minVersion) < 0 {
		return nil, fmt.Errorf("%w: %q, need %s or newer", ErrAxeVersion, version, e.minVersion)
	}

	raw, err = target.Evaluate(ctx, runJS, axeContext(scope), axeOptions(scope))
	if err != nil {
		return nil, fmt.Errorf("run axe: %w", err)
	}
	var results []axeViolation
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("decode axe results: %w", err)
	}
	out := make([]Violation, 0, len(results))
	for _, r := range results {
		v := Violation{
			RuleID:      r.ID,
			Impact:      Impact(r.Impact),
			Description: r.Description,
			Help:        r.Help,
			HelpURL:     r.HelpURL,
			Tags:        r.Tags,
		}
		for _, n := range r.Nodes {
			v.Targets = append(v.Targets, targetSelector(n.Target))
		}
		out = append(out, v)
	}
	return out, nil
}

// targetSelector flattens an axe target. Frame and shadow root hops are
// nested arrays; they are joined with " >>> ".
func targetSelector(parts []json.RawMessage) string {
	var hops []string
	for _, p := range parts {
		var s string
		if err := json.Unmarshal(p, &s); err == nil {
			hops = append(hops, s)
			continue
		}
		var nested []string
		if err := json.Unmarshal(p, &nested); err == nil {
			hops = append(hops, strings.Join(nested, " >>> "))
		}
	}
	return strings.Join(hops, " >>> ")
}

func axeContext(scope Scope) map[string]any {
	ctx := map[string]any{}
	if len(scope.Include) > 0 {
		ctx["include"] = nest(scope.Include)
	} else {
		ctx["include"] = [][]string{{"html"}}
	}
	if len(scope.Exclude) > 0 {
		ctx["exclude"] = nest(scope.Exclude)
	}
	return ctx
}

func axeOptions(scope Scope) map[string]any {
	opts := map[string]any{"resultTypes": []string{"violations"}}
	switch {
	case len(scope.Rules) > 0:
		opts["runOnly"] = map[string]any{"type": "rule", "values": scope.Rules}
	case len(scope.Tags) > 0:
		opts["runOnly"] = map[string]any{"type": "tag", "values": scope.Tags}
	}
	if len(scope.DisableRules) > 0 {
		rules := map[string]any{}
		for _, id := range scope.DisableRules {
			rules[id] = map[string]bool{"enabled": false}
		}
		opts["rules"] = rules
	}
	return opts
}

func nest(sels []string) [][]string {
	out := make([][]string, len(sels))
	for i, s := range sels {
		out[i] = []string{s}
	}
	return out
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
