// Package dom models the composed document tree that domquery operates on:
// a parsed HTML document plus zero or more shadow subtrees attached to host
// elements. Open subtrees are directly enumerable; closed subtrees are only
// reachable through an accessor minted by the owning Document.
//
// The package also provides the platform capabilities the query engine
// treats as given: simple CSS matching, change notification, and a
// visibility heuristic.
package dom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document owns a parsed HTML tree and its attached shadow subtrees.
// All mutation goes through Document methods so that subscribers are
// notified. Raw html.Node traversal is safe while no goroutine mutates
// the document; callers that may race with a mutator must hold the read
// lock for the duration of the traversal (see Read).
type Document struct {
	mu      sync.RWMutex // guards the node trees: the document and every shadow fragment
	tableMu sync.Mutex   // guards the shadow and subscription tables
	root    *html.Node
	shadows map[*html.Node]*ShadowRoot
	subs    map[*Subscription]struct{}
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{
		root:    root,
		shadows: make(map[*html.Node]*ShadowRoot),
		subs:    make(map[*Subscription]struct{}),
	}, nil
}

// ParseString parses an HTML document from a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the <body> element, or the document node when the tree has
// no body (fragment-like documents).
func (d *Document) Body() *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if b := findFirst(d.root, atom.Body); b != nil {
		return b
	}
	return d.root
}

// Read runs fn while holding the tree read lock, excluding mutators for
// the whole traversal. fn must not call a mutating Document method or
// Read itself. Shadow and subscription lookups remain callable inside.
func (d *Document) Read(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn()
}

func findFirst(root *html.Node, a atom.Atom) *html.Node {
	for n := root; n != nil; {
		if n.Type == html.ElementNode && n.DataAtom == a {
			return n
		}
		if n.FirstChild != nil {
			n = n.FirstChild
			continue
		}
		for n != nil && n.NextSibling == nil {
			n = n.Parent
		}
		if n != nil {
			n = n.NextSibling
		}
	}
	return nil
}

// Stats are point-in-time counters, mainly for tests and debugging.
type Stats struct {
	Subscriptions int `json:"subscriptions"`
	ShadowRoots   int `json:"shadow_roots"`
}

// Stats returns current counters.
func (d *Document) Stats() Stats {
	d.tableMu.Lock()
	defer d.tableMu.Unlock()
	return Stats{Subscriptions: len(d.subs), ShadowRoots: len(d.shadows)}
}

// ParseFragment parses an HTML fragment in a div context and returns the
// top-level nodes.
func ParseFragment(s string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return nodes, nil
}

// Attr returns the value of an attribute and whether it exists.
// Attribute keys are matched case-insensitively (the parser lower-cases
// them, so a plain comparison suffices for parsed trees).
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// TextContent concatenates every descendant text node of n, in document
// order. Shadow subtrees attached below n are not included; text content
// is a light-tree property.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return sb.String()
}

// NormalizeSpace collapses runs of whitespace to single spaces and trims.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ElementChildren returns the direct element children of n.
func ElementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}
