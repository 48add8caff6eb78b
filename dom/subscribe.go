package dom

import "golang.org/x/net/html"

// ChangeKind classifies a mutation for subscribers.
type ChangeKind int

const (
	ChangeStructure ChangeKind = iota // node inserted or removed
	ChangeAttr                        // attribute set or removed
	ChangeText                        // text content replaced
)

// Change describes one mutation delivered to a subscriber.
type Change struct {
	Kind   ChangeKind
	Target *html.Node // parent for structure, element for attr/text
	Attr   string     // attribute name for ChangeAttr
}

// SubscribeConfig selects which mutations a subscription receives.
// Attributes is an allowlist; nil means no attribute changes are delivered.
type SubscribeConfig struct {
	Structure  bool
	Text       bool
	Attributes []string
}

// Subscription is a registered change listener rooted at one tree fragment.
// Notifications never cross shadow boundaries: a subscription rooted in the
// light tree does not see mutations inside a shadow subtree, and vice versa.
type Subscription struct {
	doc  *Document
	root *html.Node
	cfg  SubscribeConfig
	fn   func(Change)
}

// Subscribe registers fn for mutations at or below root. The callback runs
// synchronously on the mutating goroutine; it must not mutate the document.
func (d *Document) Subscribe(root *html.Node, cfg SubscribeConfig, fn func(Change)) *Subscription {
	sub := &Subscription{doc: d, root: root, cfg: cfg, fn: fn}
	d.tableMu.Lock()
	d.subs[sub] = struct{}{}
	d.tableMu.Unlock()
	return sub
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.doc.tableMu.Lock()
	delete(s.doc.subs, s)
	s.doc.tableMu.Unlock()
}

func (s *Subscription) wants(ch Change) bool {
	switch ch.Kind {
	case ChangeStructure:
		return s.cfg.Structure
	case ChangeText:
		return s.cfg.Text
	case ChangeAttr:
		for _, a := range s.cfg.Attributes {
			if a == ch.Attr {
				return true
			}
		}
		return false
	}
	return false
}

// notify fans a change out to matching subscriptions. Targets are collected
// under the locks; callbacks fire after both are released, so a callback may
// resolve against the document (through Read) without deadlocking.
func (d *Document) notify(ch Change) {
	d.mu.RLock()
	d.tableMu.Lock()
	var fire []*Subscription
	for sub := range d.subs {
		if sub.wants(ch) && isAncestorOrSelf(sub.root, ch.Target) {
			fire = append(fire, sub)
		}
	}
	d.tableMu.Unlock()
	d.mu.RUnlock()

	for _, sub := range fire {
		sub.fn(ch)
	}
}

// isAncestorOrSelf walks parent pointers from n up to the fragment root.
// Parent chains end at shadow containers, which is what keeps notification
// scoped to one fragment.
func isAncestorOrSelf(root, n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}
