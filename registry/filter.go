package registry

import (
	"regexp"
	"slices"
)

// Filter selects units for a run. Zero fields match everything.
type Filter struct {
	Grep       *regexp.Regexp
	GrepInvert *regexp.Regexp
	// Tags keeps units carrying any of the tags.
	Tags []string
	// IDs keeps only the listed unit IDs, e.g. the failures of the last run.
	IDs map[string]bool
}

// Match reports whether u passes the filter. Grep patterns match the full
// title including tags.
func (f Filter) Match(u TestUnit) bool {
	title := u.FullTitle()
	if f.Grep != nil && !f.Grep.MatchString(title) {
		return false
	}
	if f.GrepInvert != nil && f.GrepInvert.MatchString(title) {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(u.Tags, func(t string) bool { return slices.Contains(f.Tags, t) }) {
		return false
	}
	if f.IDs != nil && !f.IDs[u.ID] {
		return false
	}
	return true
}

// Select returns the units passing f, in registration order.
func (r *Registry) Select(f Filter) []TestUnit {
	var out []TestUnit
	for _, u := range r.Units() {
		if f.Match(u) {
			out = append(out, u)
		}
	}
	return out
}
