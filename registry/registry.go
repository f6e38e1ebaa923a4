// Package registry holds the test units of a run. Units are registered on an
// explicit Registry value; nothing registers itself.
package registry

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-webcheck/harness"
)

// TitleSeparator joins describe titles into a full test title.
const TitleSeparator = " › "

var tagRe = regexp.MustCompile(`(?:^|\s)@([\w-]+)`)

// Body is the executable procedure of a test unit.
type Body func(t *harness.T)

// TestUnit is an immutable registered test.
type TestUnit struct {
	ID    string
	Title string
	// Path holds the describe titles enclosing the test, outermost first.
	Path []string
	Tags []string
	// Group identifies the outermost describe block, or the source for
	// top-level tests. Units of one group run in order on one worker when the
	// run is not fully parallel.
	Group      string
	Source     string
	Only       bool
	SkipReason string
	// Timeout overrides the run's per-test timeout when positive.
	Timeout time.Duration
	Body    Body
}

// FullTitle joins the describe path and title.
func (u TestUnit) FullTitle() string {
	return strings.Join(append(slices.Clone(u.Path), u.Title), TitleSeparator)
}

// Config configures a Registry.
type Config struct {
	Log log.Logger
	// Source names where units come from, e.g. a scenario file or suite name.
	Source string
}

// Registry collects test units in registration order.
type Registry struct {
	log    log.Logger
	source string

	mu    sync.RWMutex
	units []TestUnit
	ids   map[string]bool
	errs  []error
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &Registry{
		log:    cfg.Log.New("component", "registry"),
		source: cfg.Source,
		ids:    make(map[string]bool),
	}
}

// Option adjusts a unit at registration.
type Option func(*TestUnit)

// Tag adds tags to the unit.
func Tag(tags ...string) Option {
	return func(u *TestUnit) { u.Tags = append(u.Tags, tags...) }
}

// Timeout overrides the per-test timeout for the unit.
func Timeout(d time.Duration) Option {
	return func(u *TestUnit) { u.Timeout = d }
}

// Source records the unit's origin.
func Source(src string) Option {
	return func(u *TestUnit) { u.Source = src }
}

// Group is a describe block.
type Group struct {
	r    *Registry
	path []string
	tags []string
	// group is the serial group key shared by nested blocks.
	group string
	skip  string
}

func (r *Registry) root() *Group {
	return &Group{r: r}
}

// Describe registers a block of tests under title.
func (r *Registry) Describe(title string, fn func(g *Group)) {
	r.root().Describe(title, fn)
}

// Test registers a top-level test.
func (r *Registry) Test(title string, body Body, opts ...Option) {
	r.root().Test(title, body, opts...)
}

// Only registers a top-level exclusive test.
func (r *Registry) Only(title string, body Body, opts ...Option) {
	r.root().Only(title, body, opts...)
}

// Skip registers a top-level test that never runs.
func (r *Registry) Skip(title, reason string, body Body, opts ...Option) {
	r.root().Skip(title, reason, body, opts...)
}

// Describe nests a block under g.
func (g *Group) Describe(title string, fn func(g *Group)) {
	child := &Group{
		r:     g.r,
		path:  append(slices.Clone(g.path), title),
		tags:  append(slices.Clone(g.tags), titleTags(title)...),
		group: g.group,
		skip:  g.skip,
	}
	if child.group == "" {
		child.group = title
	}
	fn(child)
}

// SkipAll marks every test registered on g afterwards as skipped.
func (g *Group) SkipAll(reason string) {
	g.skip = reason
}

func (g *Group) Test(title string, body Body, opts ...Option) {
	g.add(title, body, false, "", opts)
}

func (g *Group) Only(title string, body Body, opts ...Option) {
	g.add(title, body, true, "", opts)
}

func (g *Group) Skip(title, reason string, body Body, opts ...Option) {
	if reason == "" {
		reason = "skipped"
	}
	g.add(title, body, false, reason, opts)
}

func (g *Group) add(title string, body Body, only bool, skip string, opts []Option) {
	if skip == "" {
		skip = g.skip
	}
	u := TestUnit{
		Title:      title,
		Path:       slices.Clone(g.path),
		Tags:       append(slices.Clone(g.tags), titleTags(title)...),
		Group:      g.group,
		Source:     g.r.source,
		Only:       only,
		SkipReason: skip,
		Body:       body,
	}
	for _, opt := range opts {
		opt(&u)
	}
	if u.Group == "" {
		u.Group = u.Source
	}
	u.Tags = dedupe(u.Tags)
	u.ID = unitID(u.Source, u.FullTitle())
	g.r.register(u)
}

func (r *Registry) register(u TestUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case u.Title == "":
		r.errs = append(r.errs, fmt.Errorf("test in %q has no title", strings.Join(u.Path, TitleSeparator)))
		return
	case u.Body == nil:
		r.errs = append(r.errs, fmt.Errorf("test %q has no body", u.FullTitle()))
		return
	case r.ids[u.ID]:
		r.errs = append(r.errs, fmt.Errorf("duplicate test %q", u.FullTitle()))
		return
	}
	r.ids[u.ID] = true
	r.units = append(r.units, u)
	r.log.Trace("Registered test", "id", u.ID, "title", u.FullTitle())
}

// Merge copies every unit of other into r.
func (r *Registry) Merge(other *Registry) {
	other.mu.RLock()
	units := slices.Clone(other.units)
	errs := slices.Clone(other.errs)
	other.mu.RUnlock()
	for _, u := range units {
		r.register(u)
	}
	r.mu.Lock()
	r.errs = append(r.errs, errs...)
	r.mu.Unlock()
}

// Err reports registration problems such as duplicate titles.
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return errors.Join(r.errs...)
}

// Units returns the registered units in registration order.
func (r *Registry) Units() []TestUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.units)
}

// Len returns the number of registered units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// HasOnly reports whether any unit is exclusive.
func (r *Registry) HasOnly() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.ContainsFunc(r.units, func(u TestUnit) bool { return u.Only })
}

func unitID(source, fullTitle string) string {
	sum := sha1.Sum([]byte(source + "\x00" + fullTitle))
	return hex.EncodeToString(sum[:])[:12]
}

func titleTags(title string) []string {
	var tags []string
	for _, m := range tagRe.FindAllStringSubmatch(title, -1) {
		tags = append(tags, m[1])
	}
	return tags
}

func dedupe(in []string) []string {
	var out []string
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
