package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// ShadowMode is the encapsulation mode of an attached subtree.
type ShadowMode string

const (
	ModeOpen   ShadowMode = "open"
	ModeClosed ShadowMode = "closed"
)

// ShadowRoot is a subtree attached to a host element. Root is a synthetic
// container node whose children are the subtree contents; it has no parent,
// so ancestor walks stop at the encapsulation boundary.
type ShadowRoot struct {
	Host *html.Node
	Mode ShadowMode
	Root *html.Node
}

// Accessor resolves the concealed (closed) subtree of a host element, or
// nil. It is the privileged capability threaded through resolver calls;
// holding one is the only way to reach closed subtrees.
type Accessor func(host *html.Node) *html.Node

// AttachShadow parses fragment and attaches it to host with the given mode.
// A host carries at most one shadow root. Attachment is not reported to
// subscribers: observers on the host tree do not see the new subtree until
// something else mutates.
func (d *Document) AttachShadow(host *html.Node, mode ShadowMode, fragment string) (*ShadowRoot, error) {
	if host == nil || host.Type != html.ElementNode {
		return nil, fmt.Errorf("dom: attach shadow: host is not an element")
	}
	nodes, err := ParseFragment(fragment)
	if err != nil {
		return nil, err
	}

	container := &html.Node{Type: html.DocumentNode, Data: "#shadow-root"}
	for _, n := range nodes {
		container.AppendChild(n)
	}

	d.tableMu.Lock()
	defer d.tableMu.Unlock()
	if _, ok := d.shadows[host]; ok {
		return nil, fmt.Errorf("dom: attach shadow: host already has a shadow root")
	}
	sr := &ShadowRoot{Host: host, Mode: mode, Root: container}
	d.shadows[host] = sr
	return sr, nil
}

// OpenShadow returns the root of an open shadow subtree attached to host,
// or nil. Closed subtrees are never returned here. The lookup touches only
// the side table, so it is safe inside Read.
func (d *Document) OpenShadow(host *html.Node) *html.Node {
	d.tableMu.Lock()
	defer d.tableMu.Unlock()
	if sr, ok := d.shadows[host]; ok && sr.Mode == ModeOpen {
		return sr.Root
	}
	return nil
}

// Concealed mints the privileged accessor for closed subtrees. Callers that
// should not pierce closed encapsulation simply never receive one.
func (d *Document) Concealed() Accessor {
	return func(host *html.Node) *html.Node {
		d.tableMu.Lock()
		defer d.tableMu.Unlock()
		if sr, ok := d.shadows[host]; ok && sr.Mode == ModeClosed {
			return sr.Root
		}
		return nil
	}
}

// HasShadowTrees reports whether any shadow subtree is attached anywhere in
// the document. Used by the strategy dispatcher to decide whether the
// native fast path is safe.
func (d *Document) HasShadowTrees() bool {
	d.tableMu.Lock()
	defer d.tableMu.Unlock()
	return len(d.shadows) > 0
}

// shadowRoots snapshots the attached shadow roots, in no particular order.
func (d *Document) shadowRoots() []*ShadowRoot {
	d.tableMu.Lock()
	defer d.tableMu.Unlock()
	out := make([]*ShadowRoot, 0, len(d.shadows))
	for _, sr := range d.shadows {
		out = append(out, sr)
	}
	return out
}

// detachShadowsBelow drops shadow table entries for n and its subtree.
// Called with the tree write lock held, when a node is removed, so the
// side table does not grow without bound on long-lived mirror documents.
func (d *Document) detachShadowsBelow(n *html.Node) {
	d.tableMu.Lock()
	defer d.tableMu.Unlock()
	d.dropShadowEntries(n)
}

func (d *Document) dropShadowEntries(n *html.Node) {
	if n.Type == html.ElementNode {
		if sr, ok := d.shadows[n]; ok {
			d.dropShadowEntries(sr.Root)
			delete(d.shadows, n)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.dropShadowEntries(c)
	}
}
