package registry

import (
	"regexp"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-webcheck/harness"
)

func noop(*harness.T) {}

func newRegistry(source string) *Registry {
	return New(Config{Log: log.NewLogger(log.DiscardHandler()), Source: source})
}

func TestDescribeNesting(t *testing.T) {
	r := newRegistry("forms")
	r.Describe("Login @smoke", func(g *Group) {
		g.Test("shows error", noop)
		g.Describe("with SSO", func(g *Group) {
			g.Test("redirects @sso", noop, Tag("slow"))
		})
	})
	r.Test("standalone", noop, Timeout(time.Second))
	require.NoError(t, r.Err())

	units := r.Units()
	require.Len(t, units, 3)
	assert.Equal(t, "Login @smoke › shows error", units[0].FullTitle())
	assert.Equal(t, []string{"smoke"}, units[0].Tags)
	assert.Equal(t, "Login @smoke", units[1].Group)
	assert.Equal(t, []string{"smoke", "sso", "slow"}, units[1].Tags)
	assert.Equal(t, "forms", units[2].Group)
	assert.Equal(t, time.Second, units[2].Timeout)
	assert.Len(t, units[0].ID, 12)
	assert.NotEqual(t, units[0].ID, units[1].ID)
}

func TestIDsAreStable(t *testing.T) {
	a, b := newRegistry("s"), newRegistry("s")
	a.Test("x", noop)
	b.Test("x", noop)
	assert.Equal(t, a.Units()[0].ID, b.Units()[0].ID)
}

func TestRegistrationErrors(t *testing.T) {
	r := newRegistry("s")
	r.Test("dup", noop)
	r.Test("dup", noop)
	r.Test("", noop)
	r.Test("nobody", nil)
	err := r.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate test "dup"`)
	assert.Contains(t, err.Error(), "has no title")
	assert.Contains(t, err.Error(), "has no body")
	assert.Equal(t, 1, r.Len())
}

func TestOnlyAndSkip(t *testing.T) {
	r := newRegistry("s")
	r.Test("a", noop)
	assert.False(t, r.HasOnly())
	r.Only("b", noop)
	r.Skip("c", "", noop)
	r.Describe("flaky", func(g *Group) {
		g.SkipAll("quarantined")
		g.Test("d", noop)
	})
	assert.True(t, r.HasOnly())
	units := r.Units()
	assert.True(t, units[1].Only)
	assert.Equal(t, "skipped", units[2].SkipReason)
	assert.Equal(t, "quarantined", units[3].SkipReason)
}

func TestMerge(t *testing.T) {
	a, b := newRegistry("a"), newRegistry("b")
	a.Test("x", noop)
	b.Test("x", noop)
	b.Test("x", noop)
	a.Merge(b)
	assert.Equal(t, 2, a.Len())
	assert.Error(t, a.Err())
}

func TestFilter(t *testing.T) {
	r := newRegistry("s")
	r.Describe("Checkout", func(g *Group) {
		g.Test("pays @smoke", noop)
		g.Test("refunds", noop)
	})
	r.Test("home @smoke @a11y", noop)
	units := r.Units()

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"pays @smoke", "refunds", "home @smoke @a11y"}},
		{"grep", Filter{Grep: regexp.MustCompile(`Checkout`)}, []string{"pays @smoke", "refunds"}},
		{"grep tag", Filter{Grep: regexp.MustCompile(`@smoke`)}, []string{"pays @smoke", "home @smoke @a11y"}},
		{"invert", Filter{GrepInvert: regexp.MustCompile(`@smoke`)}, []string{"refunds"}},
		{"tags", Filter{Tags: []string{"a11y"}}, []string{"home @smoke @a11y"}},
		{"ids", Filter{IDs: map[string]bool{units[1].ID: true}}, []string{"refunds"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, u := range r.Select(tt.filter) {
				got = append(got, u.Title)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
