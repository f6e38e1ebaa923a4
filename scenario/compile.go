package scenario

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-webcheck/audit"
	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/network"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
)

// Suffixes recognised by Discover.
var Suffixes = []string{".webcheck.yaml", ".webcheck.yml"}

// Discover returns the scenario files under dir in lexical order.
func Discover(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("test directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("test directory %s is not a directory", dir)
	}
	var out []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.ContainsFunc(Suffixes, func(s string) bool { return strings.HasSuffix(d.Name(), s) }) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover scenarios: %w", err)
	}
	slices.Sort(out)
	return out, nil
}

// LoadDir discovers, parses and registers every scenario under dir. It
// returns the number of files loaded.
func LoadDir(dir string, reg *registry.Registry, logger log.Logger) (int, error) {
	paths, err := Discover(dir)
	if err != nil {
		return 0, err
	}
	for _, path := range paths {
		f, err := Load(path)
		if err != nil {
			return 0, err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		Register(reg, f, filepath.ToSlash(rel))
		logger.Debug("Loaded scenario", "path", path, "tests", len(f.Tests))
	}
	return len(paths), nil
}

// Register adds the tests of f to reg under a describe block named after
// the file. source identifies the file in test IDs.
func Register(reg *registry.Registry, f *File, source string) {
	title := f.Name
	for _, tag := range f.Tags {
		title += " @" + tag
	}
	reg.Describe(title, func(g *registry.Group) {
		if f.Skip != "" {
			g.SkipAll(f.Skip)
		}
		for _, t := range f.Tests {
			opts := []registry.Option{registry.Source(source), registry.Tag(t.Tags...)}
			if t.TimeoutMs > 0 {
				opts = append(opts, registry.Timeout(time.Duration(t.TimeoutMs)*time.Millisecond))
			}
			body := Compile(append(slices.Clone(f.BeforeEach), t.Steps...))
			switch {
			case t.Skip != "":
				g.Skip(t.Name, t.Skip, body, opts...)
			case t.Only:
				g.Only(t.Name, body, opts...)
			default:
				g.Test(t.Name, body, opts...)
			}
		}
	})
}

// Compile turns validated steps into a test body.
func Compile(steps []Step) registry.Body {
	return func(t *harness.T) {
		for i, s := range steps {
			t.Log().Debug("Running step", "step", i+1, "action", s.Action())
			s.run(t)
		}
	}
}

func (s Step) run(t *harness.T) {
	switch {
	case s.Goto != nil:
		t.Goto(*s.Goto)
	case s.Click != nil:
		handle(t, *s.Click).Click()
	case s.Fill != nil:
		handle(t, s.Fill.Target).Fill(s.Fill.Value)
	case s.Press != nil:
		if s.Press.Target != nil {
			handle(t, *s.Press.Target).Press(s.Press.Key)
		} else {
			t.Keyboard().Press(s.Press.Key)
		}
	case s.Expect != nil:
		s.Expect.run(t)
	case s.Route != nil:
		t.Route(s.Route.URL, s.Route.handler())
	case s.Audit != nil:
		s.Audit.run(t)
	case s.Offline != nil:
		t.SetOffline(*s.Offline)
	case s.Wait != nil:
		t.Wait(time.Duration(*s.Wait) * time.Millisecond)
	case s.Viewport != nil:
		t.SetViewport(s.Viewport.Width, s.Viewport.Height)
	}
}

func handle(t *harness.T, target Target) harness.Handle {
	l, err := target.Locator()
	t.Must(err)
	return t.Handle(l)
}

func (e ExpectStep) run(t *harness.T) {
	if e.URL != "" || e.Title != "" {
		p := t.ExpectPage()
		if e.Not {
			p = p.Not()
		}
		if e.URL != "" {
			p.ToHaveURL(e.URL)
		} else {
			p.ToHaveTitle(e.Title)
		}
		return
	}
	a := t.Expect(handle(t, *e.Target))
	if e.Not {
		a = a.Not()
	}
	if e.Soft {
		a = a.Soft()
	}
	if e.TimeoutMs > 0 {
		a = a.Within(time.Duration(e.TimeoutMs) * time.Millisecond)
	}
	switch {
	case e.Visible != nil && *e.Visible:
		a.ToBeVisible()
	case e.Visible != nil:
		a.ToBeHidden()
	case e.Text != nil:
		a.ToContainText(*e.Text)
	case e.ExactText != nil:
		a.ToHaveText(*e.ExactText)
	case e.Value != nil:
		a.ToHaveValue(*e.Value)
	case e.Count != nil:
		a.ToHaveCount(*e.Count)
	case e.Focused != nil && *e.Focused:
		a.ToBeFocused()
	case e.Focused != nil:
		a.Not().ToBeFocused()
	}
}

func (r RouteStep) handler() network.Handler {
	return func(route *network.Route) {
		if r.Block {
			_ = route.Abort("blocked by scenario")
			return
		}
		if r.DelayMs > 0 {
			if err := route.Delay(time.Duration(r.DelayMs) * time.Millisecond); err != nil {
				_ = route.Abort(err.Error())
				return
			}
		}
		switch {
		case r.JSON != nil:
			status := r.Status
			if status == 0 {
				status = 200
			}
			_ = route.FulfillJSON(status, r.JSON)
		case r.fulfills():
			_ = route.Fulfill(network.FulfillOptions{
				Status:      r.Status,
				Headers:     r.Headers,
				ContentType: r.ContentType,
				Body:        []byte(r.Body),
			})
		default:
			_ = route.Continue()
		}
	}
}

func (a AuditStep) run(t *harness.T) {
	floor := audit.ImpactMinor
	if a.MinImpact != "" {
		impact, err := audit.ParseImpact(a.MinImpact)
		t.Must(err)
		floor = impact
	}
	vs := audit.AtLeast(t.Audit(a.Scope), floor)
	if len(vs) > a.MaxViolations {
		t.Fatalf("%d accessibility violations at or above %s, allowed %d:\n%s", len(vs), floor, a.MaxViolations, audit.Describe(vs))
	}
}
