package query

import (
	"strings"

	"golang.org/x/net/html"
)

// TreeAccess widens the child relation across encapsulation boundaries.
// Both funcs may be nil: a nil OpenShadow keeps traversal in the light
// tree, a nil Concealed leaves closed subtrees unreachable.
type TreeAccess struct {
	OpenShadow func(host *html.Node) *html.Node
	Concealed  func(host *html.Node) *html.Node
}

// children returns the composed children of n in discovery order: light
// element children first, then the open shadow subtree, then the concealed
// one.
func (a TreeAccess) children(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	if n.Type == html.ElementNode {
		if a.OpenShadow != nil {
			if root := a.OpenShadow(n); root != nil {
				out = append(out, elementChildren(root)...)
			}
		}
		if a.Concealed != nil {
			if root := a.Concealed(n); root != nil {
				out = append(out, elementChildren(root)...)
			}
		}
	}
	return out
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// descendants returns the transitive closure of the widened child relation
// below n, preorder, visiting each node once. Iterative on an explicit
// stack so recursion depth does not track tree depth.
func (a TreeAccess) descendants(n *html.Node) []*html.Node {
	var out []*html.Node
	visited := make(map[*html.Node]bool)

	stack := a.children(n)
	reverse(stack)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		out = append(out, cur)

		kids := a.children(cur)
		reverse(kids)
		stack = append(stack, kids...)
	}
	return out
}

func reverse(nodes []*html.Node) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}

// Resolve executes parsed steps against root, returning the ordered,
// identity-de-duplicated matching elements. The frontier starts as the
// root alone; each step replaces it. An empty frontier short-circuits and
// remaining steps are not evaluated.
func Resolve(steps []Step, root *html.Node, access TreeAccess) []*html.Node {
	if root == nil || len(steps) == 0 {
		return nil
	}

	frontier := []*html.Node{root}
	for _, step := range steps {
		pool := stepPool(step, frontier, access)
		frontier = applyStep(step, pool)
		if len(frontier) == 0 {
			return nil
		}
	}
	return frontier
}

// stepPool gathers candidates for one step from every frontier node,
// preserving discovery order and de-duplicating across contributors.
func stepPool(step Step, frontier []*html.Node, access TreeAccess) []*html.Node {
	var pool []*html.Node
	seen := make(map[*html.Node]bool)
	for _, ctx := range frontier {
		var nodes []*html.Node
		if step.Axis == AxisChild {
			nodes = access.children(ctx)
		} else {
			nodes = access.descendants(ctx)
		}
		for _, n := range nodes {
			if !seen[n] {
				seen[n] = true
				pool = append(pool, n)
			}
		}
	}
	return pool
}

// applyStep filters the pool by tag, then by each predicate in source
// order. Sibling predicates narrow conjunctively; an index predicate picks
// from the list as narrowed so far, not from the full pool.
func applyStep(step Step, pool []*html.Node) []*html.Node {
	var cands []*html.Node
	for _, n := range pool {
		if step.Tag == "*" || strings.EqualFold(n.Data, step.Tag) {
			cands = append(cands, n)
		}
	}

	for _, p := range step.Predicates {
		if len(cands) == 0 {
			return nil
		}
		if idx, ok := p.(IndexPred); ok {
			if idx.N > len(cands) {
				return nil
			}
			cands = cands[idx.N-1 : idx.N]
			continue
		}
		var kept []*html.Node
		for _, n := range cands {
			if Evaluate(n, p) {
				kept = append(kept, n)
			}
		}
		cands = kept
	}
	return cands
}
