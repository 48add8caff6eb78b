package dom

import (
	"fmt"

	"golang.org/x/net/html"
)

// AppendChild attaches child as the last child of parent and notifies
// structural subscribers. child must be detached.
func (d *Document) AppendChild(parent, child *html.Node) error {
	if parent == nil || child == nil {
		return fmt.Errorf("dom: append: nil node")
	}
	d.mu.Lock()
	parent.AppendChild(child)
	d.mu.Unlock()
	d.notify(Change{Kind: ChangeStructure, Target: parent})
	return nil
}

// AppendHTML parses fragment and appends the resulting nodes to parent.
// Returns the inserted top-level nodes.
func (d *Document) AppendHTML(parent *html.Node, fragment string) ([]*html.Node, error) {
	if parent == nil {
		return nil, fmt.Errorf("dom: append html: nil parent")
	}
	nodes, err := ParseFragment(fragment)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.mu.Unlock()
	d.notify(Change{Kind: ChangeStructure, Target: parent})
	return nodes, nil
}

// RemoveNode detaches n from its parent and notifies structural
// subscribers at the former parent. Shadow subtrees attached below n are
// dropped from the side table.
func (d *Document) RemoveNode(n *html.Node) error {
	if n == nil || n.Parent == nil {
		return fmt.Errorf("dom: remove: node is detached")
	}
	d.mu.Lock()
	parent := n.Parent
	parent.RemoveChild(n)
	d.detachShadowsBelow(n)
	d.mu.Unlock()
	d.notify(Change{Kind: ChangeStructure, Target: parent})
	return nil
}

// SetAttr sets an attribute on n, replacing any existing value.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	d.mu.Lock()
	set := false
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			set = true
			break
		}
	}
	if !set {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	d.mu.Unlock()
	d.notify(Change{Kind: ChangeAttr, Target: n, Attr: key})
}

// RemoveAttr deletes an attribute from n. Removing a missing attribute
// still notifies.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	d.mu.Lock()
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			break
		}
	}
	d.mu.Unlock()
	d.notify(Change{Kind: ChangeAttr, Target: n, Attr: key})
}

// SetText replaces the children of n with a single text node.
func (d *Document) SetText(n *html.Node, text string) {
	d.mu.Lock()
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		d.detachShadowsBelow(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	d.mu.Unlock()
	d.notify(Change{Kind: ChangeText, Target: n})
}
