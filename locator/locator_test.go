package locator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/ethereum-optimism/infra/op-webcheck/dom"
)

const page = `<!doctype html>
<html><head><title>Shop</title></head>
<body>
  <nav>
    <a href="/">Home</a>
    <a href="/products">Products</a>
    <button aria-label="Open menu">=</button>
  </nav>
  <form id="signup">
    <label for="email">Email</label><input id="email" type="email">
    <label for="pw">Password</label><input id="pw" type="password">
    <input placeholder="Search products">
    <button type="submit">Sign up</button>
  </form>
  <ul>
    <li data-testid="product-card">Red shirt <button>Add to cart</button></li>
    <li data-testid="product-card">Blue shirt <button>Add to cart</button></li>
    <li data-testid="product-card" hidden>Green shirt <button>Add to cart</button></li>
  </ul>
  <div class="error">Invalid email address</div>
</body></html>`

func snapshot(t *testing.T) *dom.Snapshot {
	t.Helper()
	snap, err := dom.Parse(page, "http://localhost:3000/", 1)
	require.NoError(t, err)
	return snap
}

func texts(nodes []*html.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = dom.Text(n)
	}
	return out
}

func TestResolveVariants(t *testing.T) {
	snap := snapshot(t)
	tests := []struct {
		name  string
		loc   Locator
		count int
	}{
		{"selector", Selector("ul li"), 3},
		{"role excludes hidden", Role("button", Name(Exact("Add to cart"))), 2},
		{"role include hidden", Role("button", Name(Exact("Add to cart")), IncludeHidden()), 3},
		{"role by aria-label", Role("button", Name(Pattern(`(?i)menu`))), 1},
		{"role link", Role("link"), 2},
		{"text substring innermost", Text(Substring("invalid email")), 1},
		{"text exact", Text(Exact("Products")), 1},
		{"attribute", TestID("product-card"), 3},
		{"label", Label(Pattern(`(?i)email`)), 1},
		{"placeholder", Placeholder(Substring("search")), 1},
		{"no matches", Selector(".does-not-exist"), 0},
		{"role no matches", Role("dialog"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := Resolve(snap, tt.loc)
			require.NoError(t, err)
			assert.Len(t, nodes, tt.count)
		})
	}
}

func TestResolveMalformed(t *testing.T) {
	snap := snapshot(t)
	for _, loc := range []Locator{
		Selector(""),
		Selector("div[[["),
		Role(""),
		Role("not a role"),
		Text(Pattern("(unclosed")),
		Text(Exact("")),
		Attribute("", "x"),
		Selector("form").Locator(Selector(">>>")),
		Selector("a").Or(Label(Regexp(nil))),
	} {
		_, err := Resolve(snap, loc)
		assert.ErrorIs(t, err, ErrMalformedLocator, loc.String())
	}
}

func TestChainingAndPicks(t *testing.T) {
	snap := snapshot(t)

	cards := TestID("product-card")
	buttons := cards.FilterText(Substring("blue")).Locator(Role("button"))
	nodes, err := Resolve(snap, buttons)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Blue shirt Add to cart", dom.Text(nodes[0].Parent))

	first, err := Resolve(snap, cards.First())
	require.NoError(t, err)
	assert.Equal(t, []string{"Red shirt Add to cart"}, texts(first))

	last, err := Resolve(snap, cards.Last())
	require.NoError(t, err)
	assert.Equal(t, []string{"Green shirt Add to cart"}, texts(last))

	visible, err := Resolve(snap, cards.FilterVisible(true))
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	none, err := Resolve(snap, cards.Nth(7))
	require.NoError(t, err)
	assert.Empty(t, none)

	scoped, err := Resolve(snap, Selector("#signup").Locator(Selector("input")))
	require.NoError(t, err)
	assert.Len(t, scoped, 3)

	emptyScope, err := Resolve(snap, Selector("aside").Locator(Selector("input")))
	require.NoError(t, err)
	assert.Empty(t, emptyScope)
}

func TestOrKeepsDocumentOrder(t *testing.T) {
	snap := snapshot(t)
	loc := Text(Exact("Invalid email address")).Or(Role("link", Name(Exact("Home"))))
	nodes, err := Resolve(snap, loc)
	require.NoError(t, err)
	assert.Equal(t, []string{"Home", "Invalid email address"}, texts(nodes))
}

func TestUnique(t *testing.T) {
	snap := snapshot(t)

	n, err := Unique(snap, Label(Exact("Password")))
	require.NoError(t, err)
	assert.Equal(t, "pw", dom.Attr(n, "id"))

	_, err = Unique(snap, Role("link"))
	require.Error(t, err)
	assert.True(t, IsAmbiguous(err))
	assert.True(t, Permanent(err))

	_, err = Unique(snap, Selector("table"))
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.False(t, Permanent(err))

	n, err = Unique(snap, Role("link").First())
	require.NoError(t, err)
	assert.Equal(t, "Home", dom.Text(n))
}

func TestFocused(t *testing.T) {
	root, err := html.Parse(strings.NewReader(`<html><body><input id="a"><input id="b"></body></html>`))
	require.NoError(t, err)
	var b *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if dom.Attr(n, "id") == "b" {
			b = n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(root)
	snap := dom.Build(root, dom.BuildOptions{Focused: b, Generation: 1})

	n, err := Unique(snap, Selector(":focus"))
	require.NoError(t, err)
	assert.Equal(t, "b", dom.Attr(n, "id"))
}

func TestString(t *testing.T) {
	loc := Selector("form").Locator(Role("button", Name(Pattern("(?i)submit")))).First()
	assert.Equal(t, "css=form >> role=button[name=/(?i)submit/] >> nth=0", loc.String())
}
