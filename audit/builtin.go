package audit

import (
	"context"
	"strings"

	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/dom"
)

// rule is one check the builtin engine evaluates over a snapshot.
type rule struct {
	id          string
	impact      Impact
	tags        []string
	description string
	help        string
	// document rules look at the page as a whole and only run unscoped.
	document bool
	check    func(s *dom.Snapshot, n *html.Node) bool
}

var builtinRules = []rule{
	{
		id:          "label",
		impact:      ImpactCritical,
		tags:        []string{"cat.forms", "wcag2a", "wcag412", "wcag131"},
		description: "Ensures every form element has a label",
		help:        "Form elements must have labels",
		check: func(s *dom.Snapshot, n *html.Node) bool {
			if !isFormField(n) {
				return true
			}
			return s.AccessibleName(n) != "" && !placeholderOnly(s, n)
		},
	},
	{
		id:          "image-alt",
		impact:      ImpactCritical,
		tags:        []string{"cat.text-alternatives", "wcag2a", "wcag111"},
		description: "Ensures <img> elements have alternate text or a role of none or presentation",
		help:        "Images must have alternate text",
		check: func(s *dom.Snapshot, n *html.Node) bool {
			if n.Data != "img" {
				return true
			}
			if _, ok := dom.LookupAttr(n, "alt"); ok {
				return true
			}
			switch dom.Role(n) {
			case "none", "presentation":
				return true
			}
			return s.AccessibleName(n) != ""
		},
	},
	{
		id:          "button-name",
		impact:      ImpactCritical,
		tags:        []string{"cat.name-role-value", "wcag2a", "wcag412"},
		description: "Ensures buttons have discernible text",
		help:        "Buttons must have discernible text",
		check: func(s *dom.Snapshot, n *html.Node) bool {
			if dom.Role(n) != "button" {
				return true
			}
			return s.AccessibleName(n) != ""
		},
	},
	{
		id:          "link-name",
		impact:      ImpactSerious,
		tags:        []string{"cat.name-role-value", "wcag2a", "wcag244", "wcag412"},
		description: "Ensures links have discernible text",
		help:        "Links must have discernible text",
		check: func(s *dom.Snapshot, n *html.Node) bool {
			if dom.Role(n) != "link" {
				return true
			}
			return s.AccessibleName(n) != ""
		},
	},
	{
		id:          "html-has-lang",
		impact:      ImpactSerious,
		tags:        []string{"cat.language", "wcag2a", "wcag311"},
		description: "Ensures every HTML document has a lang attribute",
		help:        "<html> element must have a lang attribute",
		document:    true,
		check: func(_ *dom.Snapshot, n *html.Node) bool {
			return n.Data != "html" || strings.TrimSpace(dom.Attr(n, "lang")) != ""
		},
	},
	{
		id:          "document-title",
		impact:      ImpactSerious,
		tags:        []string{"cat.text-alternatives", "wcag2a", "wcag242"},
		description: "Ensures each HTML document contains a non-empty <title> element",
		help:        "Documents must have <title> element to aid in navigation",
		document:    true,
		check: func(s *dom.Snapshot, n *html.Node) bool {
			return n.Data != "html" || strings.TrimSpace(s.Title) != ""
		},
	},
}

// BuiltinEngine checks a small set of structural rules against the DOM
// snapshot. It needs no script injection and serves as the fallback engine.
type BuiltinEngine struct{}

// NewBuiltinEngine returns the snapshot-based engine.
func NewBuiltinEngine() *BuiltinEngine { return &BuiltinEngine{} }

func (*BuiltinEngine) Name() string { return "builtin" }

// RuleIDs lists the rules the builtin engine knows.
func (*BuiltinEngine) RuleIDs() []string {
	ids := make([]string, len(builtinRules))
	for i, r := range builtinRules {
		ids[i] = r.id
	}
	return ids
}

func (*BuiltinEngine) Run(ctx context.Context, target Target, scope Scope) ([]Violation, error) {
	snap, err := target.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := scopedElements(snap, scope)
	if err != nil {
		return nil, err
	}
	var out []Violation
	for _, r := range builtinRules {
		if !scope.Allows(r.id, r.tags) || (r.document && len(scope.Include) > 0) {
			continue
		}
		v := Violation{
			RuleID:      r.id,
			Impact:      r.impact,
			Description: r.description,
			Help:        r.help,
			HelpURL:     "https://dequeuniversity.com/rules/axe/4.10/" + r.id,
			Tags:        r.tags,
		}
		for _, n := range candidates {
			if !r.document && !snap.IsVisible(n) {
				continue
			}
			if !r.check(snap, n) {
				v.Targets = append(v.Targets, snap.CSSPath(n))
			}
		}
		if len(v.Targets) > 0 {
			out = append(out, v)
		}
	}
	return out, nil
}

// scopedElements returns the elements inside Include subtrees (or the whole
// document) that are not inside an Exclude subtree.
func scopedElements(snap *dom.Snapshot, scope Scope) ([]*html.Node, error) {
	roots, err := selectAll(snap, scope.Include)
	if err != nil {
		return nil, err
	}
	excluded, err := selectAll(snap, scope.Exclude)
	if err != nil {
		return nil, err
	}
	within := func(n *html.Node, set []*html.Node) bool {
		for _, r := range set {
			if r == n || dom.Contains(r, n) {
				return true
			}
		}
		return false
	}
	var out []*html.Node
	for _, n := range snap.Elements() {
		if len(scope.Include) > 0 && !within(n, roots) {
			continue
		}
		if within(n, excluded) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func selectAll(snap *dom.Snapshot, sels []string) ([]*html.Node, error) {
	var out []*html.Node
	for _, sel := range sels {
		nodes, err := snap.Select(sel)
		if err != nil {
			return nil, &InvalidAuditScopeError{Field: "include", Value: sel, Reason: err.Error()}
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func isFormField(n *html.Node) bool {
	switch n.Data {
	case "select", "textarea":
		return true
	case "input":
		switch strings.ToLower(dom.Attr(n, "type")) {
		case "hidden", "submit", "button", "reset", "image":
			return false
		}
		return true
	}
	return false
}

// placeholderOnly reports whether a placeholder is the field's only name,
// which does not count as a label.
func placeholderOnly(s *dom.Snapshot, n *html.Node) bool {
	p := dom.NormalizeSpace(dom.Attr(n, "placeholder"))
	return p != "" && s.AccessibleName(n) == p && len(s.Labels(n)) == 0 &&
		dom.Attr(n, "aria-label") == "" && dom.Attr(n, "title") == ""
}
