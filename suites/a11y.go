package suites

import (
	"strings"

	"github.com/ethereum-optimism/infra/op-webcheck/audit"
	"github.com/ethereum-optimism/infra/op-webcheck/harness"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
)

var wcagAA = []string{"wcag2a", "wcag2aa", "wcag21a", "wcag21aa"}

func registerAccessibility(reg *registry.Registry) {
	src := source(Accessibility)
	home := func(body func(t *harness.T)) registry.Body {
		return func(t *harness.T) {
			t.Goto("/")
			body(t)
		}
	}

	reg.Describe("accessibility @a11y", func(g *registry.Group) {
		g.Test("has no detectable WCAG 2.1 AA violations", home(func(t *harness.T) {
			t.ExpectNoViolations(audit.Scope{Tags: wcagAA}, audit.ImpactMinor)
		}), src)

		g.Test("has a proper heading hierarchy", home(func(t *harness.T) {
			t.ExpectNoViolations(audit.Scope{Include: []string{"h1, h2, h3, h4, h5, h6"}}, audit.ImpactMinor)
		}), src)

		g.Test("has accessible forms", home(func(t *harness.T) {
			if t.Locator("form").Count() == 0 {
				t.Skip("no form on the page")
			}
			t.ExpectNoViolations(audit.Scope{Include: []string{"form"}}, audit.ImpactMinor)
		}), src)

		g.Test("supports keyboard navigation", home(func(t *harness.T) {
			t.Keyboard().Press("Tab")
			t.Expect(t.Focused()).ToBeVisible()
			t.Keyboard().Press("Enter")
		}), src)

		g.Test("has visible focus indicators", home(func(t *harness.T) {
			button := t.GetByRole("button").First()
			if button.Count() == 0 {
				t.Skip("no button on the page")
			}
			button.Focus()
			outline := button.ComputedStyle("outline-style")
			shadow := button.ComputedStyle("box-shadow")
			if outline == "" && shadow == "" {
				t.Warnf("no computed style reported for %s; focus indicator not verified", button)
				return
			}
			if styleNone(outline) && styleNone(shadow) {
				t.Fatalf("%s shows no focus indicator (outline-style %q, box-shadow %q)", button, outline, shadow)
			}
		}), src)

		g.Test("images have alt text", home(func(t *harness.T) {
			for _, img := range t.Locator("img").All() {
				if _, ok := img.GetAttribute("alt"); ok {
					continue
				}
				if role, _ := img.GetAttribute("role"); role == "presentation" || role == "none" {
					continue
				}
				src, _ := img.GetAttribute("src")
				t.Fatalf("image %s has no alt text", src)
			}
		}), src)

		g.Test("buttons have accessible names", home(func(t *harness.T) {
			for _, button := range t.GetByRole("button").All() {
				label, _ := button.GetAttribute("aria-label")
				labelledBy, _ := button.GetAttribute("aria-labelledby")
				if strings.TrimSpace(label+labelledBy+button.TextContent()) == "" {
					t.Fatalf("%s has no accessible name", button)
				}
			}
		}), src)

		g.Test("has sufficient color contrast", home(func(t *harness.T) {
			t.ExpectNoViolations(audit.Scope{Include: []string{"body"}, Rules: []string{"color-contrast"}}, audit.ImpactMinor)
		}), src)
	})
}

func styleNone(v string) bool {
	return v == "" || v == "none"
}
