// Package suites holds the built-in verification suites. Each suite targets
// the conventional routes of a web application (/, /login, /signup,
// /contact, /items) and is registered onto a caller supplied registry.
package suites

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum-optimism/infra/op-webcheck/locator"
	"github.com/ethereum-optimism/infra/op-webcheck/registry"
)

const (
	Accessibility = "a11y"
	Functional    = "functional"
	UX            = "ux"
)

var builders = map[string]func(reg *registry.Registry){
	Accessibility: registerAccessibility,
	Functional:    registerFunctional,
	UX:            registerUX,
}

// Names lists the built-in suites in sorted order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Register adds the named suites to reg. "all" selects every suite.
func Register(reg *registry.Registry, names ...string) error {
	selected := make(map[string]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "all" {
			for n := range builders {
				selected[n] = true
			}
			continue
		}
		if _, ok := builders[name]; !ok {
			return fmt.Errorf("unknown built-in suite %q (available: %s)", name, strings.Join(Names(), ", "))
		}
		selected[name] = true
	}
	for _, name := range Names() {
		if selected[name] {
			builders[name](reg)
		}
	}
	return nil
}

func source(suite string) registry.Option {
	return registry.Source("builtin/" + suite)
}

// like is a case-insensitive pattern match.
func like(expr string) locator.TextMatch {
	return locator.Pattern("(?i)" + expr)
}
