package query

import (
	"log/slog"
	"strings"

	"github.com/hazyhaar/domquery/dom"
	"golang.org/x/net/html"
)

// Strategy selects how a selector is evaluated.
type Strategy string

const (
	// StrategyAuto uses the native light-tree matcher when piercing is off
	// or the document has no shadow subtrees, and the composed walk
	// otherwise.
	StrategyAuto Strategy = "auto"
	// StrategyNative forces the light-tree CSS matcher. XPath expressions
	// still go through the composed walk, without piercing.
	StrategyNative Strategy = "native"
	// StrategyComposed forces the shadow-piercing walk.
	StrategyComposed Strategy = "composed"
)

// ResolveOptions tunes one resolution.
//
// The zero value stays in the light tree: Pierce must be set explicitly.
// Call surfaces that default to piercing build their options from
// DefaultResolveOptions.
type ResolveOptions struct {
	Strategy Strategy
	Pierce   bool
}

// DefaultResolveOptions pierces shadow subtrees with automatic strategy
// selection.
func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{Strategy: StrategyAuto, Pierce: true}
}

// Engine answers selector queries over one Document. The concealed-subtree
// accessor and the visibility oracle are injected capabilities: an Engine
// built without an accessor cannot see into closed shadow roots.
type Engine struct {
	doc       *dom.Document
	concealed func(*html.Node) *html.Node
	visible   func(*html.Node) bool
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcealedAccessor grants the engine access to closed shadow subtrees.
func WithConcealedAccessor(acc dom.Accessor) Option {
	return func(e *Engine) { e.concealed = acc }
}

// WithVisibility replaces the default attribute-based visibility heuristic.
func WithVisibility(fn func(*html.Node) bool) Option {
	return func(e *Engine) { e.visible = fn }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over doc.
func New(doc *dom.Document, opts ...Option) *Engine {
	e := &Engine{
		doc:     doc,
		visible: dom.IsVisible,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Document returns the underlying document.
func (e *Engine) Document() *dom.Document { return e.doc }

type selectorKind int

const (
	kindCSS selectorKind = iota
	kindXPath
)

// detectKind classifies a selector: "xpath=" prefix or a leading slash
// means the XPath subset, anything else is CSS.
func detectKind(selector string) (selectorKind, string) {
	s := strings.TrimSpace(selector)
	if len(s) >= 6 && strings.EqualFold(s[:6], "xpath=") {
		return kindXPath, s
	}
	if strings.HasPrefix(s, "/") {
		return kindXPath, s
	}
	return kindCSS, s
}

// access builds the tree-access capability for one resolution.
func (e *Engine) access(pierce bool) TreeAccess {
	if !pierce {
		return TreeAccess{}
	}
	return TreeAccess{OpenShadow: e.doc.OpenShadow, Concealed: e.concealed}
}

// ResolveAll returns every element matching selector, in discovery order,
// de-duplicated by identity. It never fails: unresolvable or malformed
// selectors yield an empty result.
//
// The resolution pass holds the document read lock, so it is safe against
// concurrent mutation. The returned nodes are live tree pointers; callers
// that may race with a mutator should read them through ResolveFunc
// instead.
func (e *Engine) ResolveAll(selector string, opts ResolveOptions) []*html.Node {
	var out []*html.Node
	e.doc.Read(func() { out = e.resolveAll(selector, opts) })
	return out
}

// ResolveFunc resolves selector and invokes fn for each match while the
// document read lock is still held, so fn may read node fields without
// racing a mutator. fn must not mutate the document or call back into the
// engine. Returns the total number of matches.
func (e *Engine) ResolveFunc(selector string, opts ResolveOptions, fn func(*html.Node)) int {
	var total int
	e.doc.Read(func() {
		matches := e.resolveAll(selector, opts)
		total = len(matches)
		for _, n := range matches {
			fn(n)
		}
	})
	return total
}

// resolveAll is the lock-free resolution pass. Callers hold the document
// read lock.
func (e *Engine) resolveAll(selector string, opts ResolveOptions) []*html.Node {
	if opts.Strategy == "" {
		opts.Strategy = StrategyAuto
	}
	kind, sel := detectKind(selector)

	strategy := opts.Strategy
	if strategy == StrategyAuto {
		if kind == kindCSS && (!opts.Pierce || !e.doc.HasShadowTrees()) {
			strategy = StrategyNative
		} else {
			strategy = StrategyComposed
		}
	}

	switch kind {
	case kindCSS:
		if strategy == StrategyNative {
			return dom.QueryCSS(e.doc.Root(), sel)
		}
		return e.resolveCSSComposed(sel, opts.Pierce)
	default:
		pierce := opts.Pierce && strategy != StrategyNative
		steps := Parse(sel)
		return Resolve(steps, e.doc.Root(), e.access(pierce))
	}
}

// resolveCSSComposed runs the native matcher over every tree fragment:
// the document itself plus each reachable shadow fragment, in discovery
// order.
func (e *Engine) resolveCSSComposed(sel string, pierce bool) []*html.Node {
	fragments := []*html.Node{e.doc.Root()}
	if pierce {
		fragments = append(fragments, e.shadowFragments()...)
	}

	var out []*html.Node
	seen := make(map[*html.Node]bool)
	for _, frag := range fragments {
		for _, n := range dom.QueryCSS(frag, sel) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// shadowFragments discovers every shadow fragment reachable from the
// document root through the composed tree, open roots always and closed
// roots only when the engine holds an accessor.
func (e *Engine) shadowFragments() []*html.Node {
	var out []*html.Node
	access := e.access(true)

	var visit func(frag *html.Node)
	visit = func(frag *html.Node) {
		stack := elementChildren(frag)
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if root := e.doc.OpenShadow(n); root != nil {
				out = append(out, root)
				visit(root)
			}
			if access.Concealed != nil {
				if root := access.Concealed(n); root != nil {
					out = append(out, root)
					visit(root)
				}
			}
			stack = append(stack, elementChildren(n)...)
		}
	}
	visit(e.doc.Root())
	return out
}

// ResolveFirst returns the first match or nil.
func (e *Engine) ResolveFirst(selector string, opts ResolveOptions) *html.Node {
	matches := e.ResolveAll(selector, opts)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// Count returns the number of matches.
func (e *Engine) Count(selector string, opts ResolveOptions) int {
	return len(e.ResolveAll(selector, opts))
}
