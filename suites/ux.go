package suites

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
)

// Page scripts evaluated by the UX suite.
const (
	ViewportWidthScript = `() => ({ scrollWidth: document.body.scrollWidth, innerWidth: window.innerWidth })`

	LayoutShiftScript = `(windowMs) => new Promise((resolve) => {
  let score = 0;
  const observer = new PerformanceObserver((list) => {
    for (const entry of list.getEntries()) {
      if (!entry.hadRecentInput) score += entry.value;
    }
  });
  observer.observe({ type: 'layout-shift', buffered: true });
  setTimeout(() => { observer.disconnect(); resolve(score); }, windowMs);
})`

	PaintTimingScript = `() => {
  const nav = performance.getEntriesByType('navigation')[0];
  const fcp = performance.getEntriesByType('paint').find((e) => e.name === 'first-contentful-paint');
  return {
    domContentLoaded: nav ? nav.domContentLoadedEventEnd - nav.domContentLoadedEventStart : 0,
    loadComplete: nav ? nav.loadEventEnd - nav.loadEventStart : 0,
    firstContentfulPaint: fcp ? fcp.startTime : 0,
  };
}`
)

// ViewportWidth is the result of ViewportWidthScript.
type ViewportWidth struct {
	ScrollWidth int `json:"scrollWidth"`
	InnerWidth  int `json:"innerWidth"`
}

// PaintTiming is the result of PaintTimingScript, in milliseconds.
type PaintTiming struct {
	DOMContentLoaded     float64 `json:"domContentLoaded"`
	LoadComplete         float64 `json:"loadComplete"`
	FirstContentfulPaint float64 `json:"firstContentfulPaint"`
}

// Thresholds of the UX suite.
const (
	MaxLayoutShift  = 0.1
	MaxLoadTime     = 3 * time.Second
	MaxFirstPaint   = 2 * time.Second
	MaxDOMContent   = time.Second
	layoutShiftSpan = 3 * time.Second
	// MinTouchTarget is the smallest comfortable tap target edge, in CSS pixels.
	MinTouchTarget = 44
)

var breakpoints = []struct {
	name          string
	width, height int
}{
	{"mobile", 375, 667},
	{"tablet", 768, 1024},
	{"desktop", 1920, 1080},
}

type visualState struct {
	background, transform, opacity string
}

func visualStateOf(h harness.Handle) visualState {
	return visualState{
		background: h.ComputedStyle("background-color"),
		transform:  h.ComputedStyle("transform"),
		opacity:    h.ComputedStyle("opacity"),
	}
}

func registerUX(reg *registry.Registry) {
	src := source(UX)

	reg.Describe("ux @ux", func(g *registry.Group) {
		g.Describe("responsiveness", func(g *registry.Group) {
			for _, bp := range breakpoints {
				g.Test("is responsive on "+bp.name, func(t *harness.T) {
					t.SetViewport(bp.width, bp.height)
					t.Goto("/")
					var w ViewportWidth
					t.EvaluateInto(&w, ViewportWidthScript)
					if w.ScrollWidth > w.InnerWidth+1 {
						t.Fatalf("page scrolls horizontally at %dx%d: scroll width %d, viewport %d", bp.width, bp.height, w.ScrollWidth, w.InnerWidth)
					}
					t.Expect(t.Locator(`main, [role="main"]`).First()).ToBeVisible()
				}, src)
			}
		})

		g.Test("has touch-sized targets on mobile", func(t *harness.T) {
			mobile := breakpoints[0]
			t.SetViewport(mobile.width, mobile.height)
			t.Goto("/")
			for _, target := range t.Locator("button, [role=button], input[type=submit]").Visible().All() {
				box := target.BoundingBox()
				if box.Width == 0 && box.Height == 0 {
					t.Warnf("%s reports no layout box; touch target not verified", target)
					continue
				}
				if box.Width < MinTouchTarget || box.Height < MinTouchTarget {
					t.Soft(fmt.Errorf("%s is %.0fx%.0f, smaller than %dx%d", target, box.Width, box.Height, MinTouchTarget, MinTouchTarget))
				}
			}
		}, src)

		g.Describe("loading", func(g *registry.Group) {
			g.Test("shows a loading indicator for async work", func(t *harness.T) {
				t.Goto("/")
				trigger := button(t, "submit|load|fetch").First()
				if trigger.Count() == 0 {
					t.Skip("no async trigger on /")
				}
				trigger.Click()
				indicator := t.Locator(`[role="status"], [aria-live="polite"], .loading, .spinner`).First()
				t.Expect(indicator).Soft().Within(time.Second).ToBeVisible()
			}, src)

			g.Test("keeps layout shift low", func(t *harness.T) {
				t.Goto("/")
				var cls float64
				t.EvaluateInto(&cls, LayoutShiftScript, layoutShiftSpan.Milliseconds())
				if cls >= MaxLayoutShift {
					t.Fatalf("cumulative layout shift %.3f, want below %.1f", cls, MaxLayoutShift)
				}
			}, src, registry.Timeout(layoutShiftSpan+30*time.Second))
		})

		g.Describe("errors", func(g *registry.Group) {
			g.Test("explains form validation errors", func(t *harness.T) {
				t.Goto("/")
				form := t.Locator("form").First()
				if form.Count() == 0 {
					t.Skip("no form on /")
				}
				submit := form.Within(locator.Role("button", locator.Name(like("submit|send|save")))).First()
				if submit.Count() == 0 {
					t.Skip("form has no submit button")
				}
				submit.Click()
				msg := t.Locator(`[role="alert"], .error, [aria-invalid="true"]`).Visible().First()
				t.Expect(msg).Within(2 * time.Second).ToBeVisible()
				if strings.TrimSpace(msg.TextContent()) == "" {
					t.Fatalf("validation error %s has no text", msg)
				}
			}, src)

			g.Test("handles going offline", func(t *harness.T) {
				t.SetOffline(true)
				defer t.SetOffline(false)
				if err := t.Session().Navigate(t.Context(), "/"); err != nil {
					t.Log().Debug("Offline navigation failed", "err", err)
				}
				notice := t.Handle(locator.Text(like("offline|no connection|network error"))).First()
				t.Expect(notice).Soft().Within(3 * time.Second).ToBeVisible()
			}, src)
		})

		g.Describe("feedback", func(g *registry.Group) {
			g.Test("confirms a successful submission", func(t *harness.T) {
				t.Goto("/")
				form := t.Locator("form").First()
				if form.Count() == 0 {
					t.Skip("no form on /")
				}
				for _, input := range form.Locator("input[required]").All() {
					switch typ, _ := input.GetAttribute("type"); typ {
					case "email":
						input.Fill("test@example.com")
					case "", "text", "tel":
						input.Fill("Test Value")
					}
				}
				form.Within(locator.Role("button", locator.Name(like("submit")))).First().Click()
				success := t.Locator(`[role="status"], .success, .toast`).Visible().First()
				t.Expect(success).Soft().ToBeVisible()
			}, src)

			g.Test("gives visual feedback on hover", func(t *harness.T) {
				t.Goto("/")
				b := t.GetByRole("button").First()
				if b.Count() == 0 {
					t.Skip("no button on /")
				}
				before := visualStateOf(b)
				b.Hover()
				if visualStateOf(b) == before {
					t.Soft(fmt.Errorf("%s shows no visual change on hover", b))
				}
			}, src)
		})

		g.Describe("navigation", func(g *registry.Group) {
			g.Test("follows internal navigation links", func(t *harness.T) {
				t.Goto("/")
				links := t.Locator("nav a, header a").All()
				for i := 0; i < len(links) && i < 5; i++ {
					href, _ := links[i].GetAttribute("href")
					if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "http") {
						continue
					}
					links[i].Click()
					t.ExpectPage().ToHaveURL(regexp.QuoteMeta(href) + `(\?|#|$)`)
					t.Goto("/")
				}
			}, src)

			g.Test("highlights the active navigation item", func(t *harness.T) {
				t.Goto("/")
				link := t.Locator("nav a").First()
				if link.Count() == 0 {
					t.Skip("no navigation on /")
				}
				href, _ := link.GetAttribute("href")
				link.Click()
				if href != "" && !strings.HasPrefix(href, "#") {
					t.ExpectPage().ToHaveURL(regexp.QuoteMeta(href))
				}
				t.Expect(t.Locator("nav [aria-current], nav .active")).Soft().ToHaveCount(1)
			}, src)
		})

		g.Describe("performance", func(g *registry.Group) {
			g.Test("loads within budget", func(t *harness.T) {
				start := time.Now()
				t.Goto("/")
				if took := time.Since(start); took >= MaxLoadTime {
					t.Fatalf("page loaded in %s, budget %s", took.Round(time.Millisecond), MaxLoadTime)
				}
			}, src)

			g.Test("paints quickly", func(t *harness.T) {
				t.Goto("/")
				var timing PaintTiming
				t.EvaluateInto(&timing, PaintTimingScript)
				var errs []error
				if timing.FirstContentfulPaint >= float64(MaxFirstPaint.Milliseconds()) {
					errs = append(errs, fmt.Errorf("first contentful paint %.0fms, budget %s", timing.FirstContentfulPaint, MaxFirstPaint))
				}
				if timing.DOMContentLoaded >= float64(MaxDOMContent.Milliseconds()) {
					errs = append(errs, fmt.Errorf("DOMContentLoaded handler took %.0fms, budget %s", timing.DOMContentLoaded, MaxDOMContent))
				}
				if err := errors.Join(errs...); err != nil {
					t.Fatalf("%v", err)
				}
			}, src)
		})
	})
}
