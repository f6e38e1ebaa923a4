// Package scenario loads declarative *.webcheck.yaml test files and turns
// their step lists into registry units.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-webcheck/audit"
	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// File is one scenario document.
type File struct {
	Path string `yaml:"-"`
	// Name titles the describe block. Defaults to the file name.
	Name       string   `yaml:"name"`
	Tags       []string `yaml:"tags"`
	Skip       string   `yaml:"skip"`
	BeforeEach []Step   `yaml:"beforeEach"`
	Tests      []Test   `yaml:"tests"`
}

// Test is one scenario test.
type Test struct {
	Name      string   `yaml:"name"`
	Tags      []string `yaml:"tags"`
	Skip      string   `yaml:"skip"`
	Only      bool     `yaml:"only"`
	TimeoutMs int      `yaml:"timeoutMs"`
	Steps     []Step   `yaml:"steps"`
}

// Step holds exactly one action.
type Step struct {
	Goto     *string         `yaml:"goto"`
	Click    *Target         `yaml:"click"`
	Fill     *FillStep       `yaml:"fill"`
	Press    *PressStep      `yaml:"press"`
	Expect   *ExpectStep     `yaml:"expect"`
	Route    *RouteStep      `yaml:"route"`
	Audit    *AuditStep      `yaml:"audit"`
	Offline  *bool           `yaml:"offline"`
	Wait     *int            `yaml:"wait"`
	Viewport *types.Viewport `yaml:"viewport"`
}

// Action names the step's action.
func (s Step) Action() string {
	actions := s.actions()
	if len(actions) != 1 {
		return ""
	}
	return actions[0]
}

func (s Step) actions() []string {
	var out []string
	for name, set := range map[string]bool{
		"goto":     s.Goto != nil,
		"click":    s.Click != nil,
		"fill":     s.Fill != nil,
		"press":    s.Press != nil,
		"expect":   s.Expect != nil,
		"route":    s.Route != nil,
		"audit":    s.Audit != nil,
		"offline":  s.Offline != nil,
		"wait":     s.Wait != nil,
		"viewport": s.Viewport != nil,
	} {
		if set {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

type FillStep struct {
	Target Target `yaml:"target"`
	Value  string `yaml:"value"`
}

// PressStep presses a key on the focused element, or on Target when set.
type PressStep struct {
	Key    string  `yaml:"key"`
	Target *Target `yaml:"target"`
}

// ExpectStep is an element or page assertion. Element assertions name a
// Target and exactly one matcher; page assertions use URL or Title.
type ExpectStep struct {
	Target    *Target `yaml:"target"`
	Not       bool    `yaml:"not"`
	Soft      bool    `yaml:"soft"`
	TimeoutMs int     `yaml:"timeoutMs"`

	Visible   *bool   `yaml:"visible"`
	Text      *string `yaml:"text"`
	ExactText *string `yaml:"exactText"`
	Value     *string `yaml:"value"`
	Count     *int    `yaml:"count"`
	Focused   *bool   `yaml:"focused"`

	URL   string `yaml:"url"`
	Title string `yaml:"title"`
}

func (e ExpectStep) matchers() int {
	n := 0
	for _, set := range []bool{e.Visible != nil, e.Text != nil, e.ExactText != nil, e.Value != nil, e.Count != nil, e.Focused != nil, e.URL != "", e.Title != ""} {
		if set {
			n++
		}
	}
	return n
}

// RouteStep intercepts requests matching URL. Without a response it passes
// the request through, after DelayMs when set.
type RouteStep struct {
	URL         string            `yaml:"url"`
	Status      int               `yaml:"status"`
	Body        string            `yaml:"body"`
	JSON        any               `yaml:"json"`
	ContentType string            `yaml:"contentType"`
	Headers     map[string]string `yaml:"headers"`
	DelayMs     int               `yaml:"delayMs"`
	Block       bool              `yaml:"block"`
}

func (r RouteStep) fulfills() bool {
	return r.Status != 0 || r.Body != "" || r.JSON != nil
}

// AuditStep audits Scope and fails when more than MaxViolations violations
// at or above MinImpact are found.
type AuditStep struct {
	audit.Scope   `yaml:",inline"`
	MaxViolations int    `yaml:"maxViolations"`
	MinImpact     string `yaml:"minImpact"`
}

// Target describes an element. A plain string is a CSS selector.
type Target struct {
	CSS         string `yaml:"css"`
	Role        string `yaml:"role"`
	Name        string `yaml:"name"`
	Text        string `yaml:"text"`
	Label       string `yaml:"label"`
	Placeholder string `yaml:"placeholder"`
	TestID      string `yaml:"testId"`
	Exact       bool   `yaml:"exact"`
	Nth         *int   `yaml:"nth"`
}

var targetKeys = []string{"css", "role", "name", "text", "label", "placeholder", "testId", "exact", "nth"}

func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		t.CSS = node.Value
		return nil
	case yaml.MappingNode:
		for i := 0; i < len(node.Content); i += 2 {
			key := node.Content[i]
			if !slices.Contains(targetKeys, key.Value) {
				return fmt.Errorf("line %d: field %s not found in target", key.Line, key.Value)
			}
		}
		type plain Target
		return node.Decode((*plain)(t))
	default:
		return fmt.Errorf("line %d: target must be a selector or a mapping", node.Line)
	}
}

func (t Target) match(s string) locator.TextMatch {
	if t.Exact {
		return locator.Exact(s)
	}
	return locator.Substring(s)
}

// Locator converts the target into a locator.
func (t Target) Locator() (locator.Locator, error) {
	var kinds []string
	var l locator.Locator
	if t.CSS != "" {
		kinds = append(kinds, "css")
		l = locator.Selector(t.CSS)
	}
	if t.Role != "" {
		kinds = append(kinds, "role")
		var opts []locator.RoleOption
		if t.Name != "" {
			opts = append(opts, locator.Name(t.match(t.Name)))
		}
		l = locator.Role(t.Role, opts...)
	} else if t.Name != "" {
		return locator.Locator{}, errors.New("target name requires a role")
	}
	if t.Text != "" {
		kinds = append(kinds, "text")
		l = locator.Text(t.match(t.Text))
	}
	if t.Label != "" {
		kinds = append(kinds, "label")
		l = locator.Label(t.match(t.Label))
	}
	if t.Placeholder != "" {
		kinds = append(kinds, "placeholder")
		l = locator.Placeholder(t.match(t.Placeholder))
	}
	if t.TestID != "" {
		kinds = append(kinds, "testId")
		l = locator.TestID(t.TestID)
	}
	switch len(kinds) {
	case 0:
		return locator.Locator{}, errors.New("target names no element")
	case 1:
	default:
		return locator.Locator{}, fmt.Errorf("target mixes %s", strings.Join(kinds, ", "))
	}
	if t.Nth != nil {
		l = l.Nth(*t.Nth)
	}
	if err := l.Validate(); err != nil {
		return locator.Locator{}, err
	}
	return l, nil
}

// Parse decodes one scenario document. Unknown fields are rejected.
func Parse(r io.Reader, path string) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty scenario", path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	if f.Name == "" {
		f.Name = defaultName(path)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and parses the scenario at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(bytes.NewReader(data), path)
}

// Validate checks every test and step, reporting all problems at once.
func (f *File) Validate() error {
	var errs []error
	if len(f.Tests) == 0 {
		errs = append(errs, fmt.Errorf("%s: no tests", f.Path))
	}
	for i, s := range f.BeforeEach {
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: beforeEach step %d: %w", f.Path, i+1, err))
		}
	}
	seen := make(map[string]bool)
	for _, t := range f.Tests {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s: test without a name", f.Path))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate test %q", f.Path, t.Name))
		}
		seen[t.Name] = true
		if len(t.Steps) == 0 {
			errs = append(errs, fmt.Errorf("%s: test %q has no steps", f.Path, t.Name))
		}
		if t.TimeoutMs < 0 {
			errs = append(errs, fmt.Errorf("%s: test %q: negative timeout", f.Path, t.Name))
		}
		for i, s := range t.Steps {
			if err := s.validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s: test %q step %d: %w", f.Path, t.Name, i+1, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s Step) validate() error {
	actions := s.actions()
	switch len(actions) {
	case 0:
		return errors.New("step has no action")
	case 1:
	default:
		return fmt.Errorf("step has several actions: %s", strings.Join(actions, ", "))
	}
	switch {
	case s.Goto != nil:
		if *s.Goto == "" {
			return errors.New("goto needs a URL")
		}
	case s.Click != nil:
		_, err := s.Click.Locator()
		return err
	case s.Fill != nil:
		_, err := s.Fill.Target.Locator()
		return err
	case s.Press != nil:
		if s.Press.Key == "" {
			return errors.New("press needs a key")
		}
		if s.Press.Target != nil {
			_, err := s.Press.Target.Locator()
			return err
		}
	case s.Expect != nil:
		return s.Expect.validate()
	case s.Route != nil:
		return s.Route.validate()
	case s.Audit != nil:
		if err := s.Audit.Scope.Validate(); err != nil {
			return err
		}
		if s.Audit.MaxViolations < 0 {
			return errors.New("maxViolations must not be negative")
		}
		if s.Audit.MinImpact != "" {
			if _, err := audit.ParseImpact(s.Audit.MinImpact); err != nil {
				return err
			}
		}
	case s.Wait != nil:
		if *s.Wait < 0 {
			return errors.New("wait must not be negative")
		}
	case s.Viewport != nil:
		if s.Viewport.Width <= 0 || s.Viewport.Height <= 0 {
			return fmt.Errorf("viewport must be positive, got %s", s.Viewport)
		}
	}
	return nil
}

func (e ExpectStep) validate() error {
	if n := e.matchers(); n != 1 {
		return fmt.Errorf("expect needs exactly one matcher, got %d", n)
	}
	if e.TimeoutMs < 0 {
		return errors.New("expect timeout must not be negative")
	}
	if e.URL != "" || e.Title != "" {
		if e.Target != nil {
			return errors.New("page expectations take no target")
		}
		if e.URL != "" {
			if _, err := regexp.Compile(e.URL); err != nil {
				return fmt.Errorf("invalid url pattern: %w", err)
			}
		}
		return nil
	}
	if e.Target == nil {
		return errors.New("expect needs a target")
	}
	if _, err := e.Target.Locator(); err != nil {
		return err
	}
	if e.Count != nil && *e.Count < 0 {
		return errors.New("count must not be negative")
	}
	return nil
}

func (r RouteStep) validate() error {
	if r.URL == "" {
		return errors.New("route needs a url")
	}
	if r.Block && (r.fulfills() || r.DelayMs > 0) {
		return errors.New("a blocking route cannot respond or delay")
	}
	if r.Body != "" && r.JSON != nil {
		return errors.New("route sets both body and json")
	}
	if r.Status < 0 || r.Status > 599 {
		return fmt.Errorf("invalid status %d", r.Status)
	}
	if r.DelayMs < 0 {
		return errors.New("delayMs must not be negative")
	}
	return nil
}

func defaultName(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	for _, ext := range []string{".webcheck.yaml", ".webcheck.yml"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
