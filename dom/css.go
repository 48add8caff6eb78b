package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// QueryCSS returns all elements at or below root matching a simple CSS
// selector, in document order, de-duplicated by identity.
//
// Supported forms:
//   - tag: "article", "div"
//   - .class, #id, tag.class, tag#id
//   - tag[attr], tag[attr=val]
//   - descendant combinator: "div span"
//
// Matching never fails: selectors outside this subset match nothing.
// Shadow subtrees are not entered; this is the light-tree "native"
// matcher; piercing is the query engine's job.
func QueryCSS(root *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 || root == nil {
		return nil
	}

	matches := matchSimple(root, parts[0])
	for i := 1; i < len(parts); i++ {
		seen := make(map[*html.Node]bool)
		var next []*html.Node
		for _, parent := range matches {
			for _, m := range matchSimple(parent, parts[i]) {
				if m != parent && !seen[m] {
					seen[m] = true
					next = append(next, m)
				}
			}
		}
		matches = next
	}
	return matches
}

type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
}

// matchSimple finds all nodes in root's subtree matching one selector part.
func matchSimple(root *html.Node, sel string) []*html.Node {
	m := parseSimpleSelector(sel)
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if matchesSelector(n, m) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

// parseSimpleSelector parses "tag.class", "#id", "tag[attr=val]", etc.
func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimRight(sel[idx+1:], "]")
		sel = sel[:idx]
		if eqIdx := strings.IndexByte(attrPart, '='); eqIdx >= 0 {
			s.attrKey = attrPart[:eqIdx]
			s.attrVal = strings.Trim(attrPart[eqIdx+1:], `"'`)
		} else {
			s.attrKey = attrPart
		}
	}

	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}

	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}

	s.tag = sel
	return s
}

func matchesSelector(n *html.Node, s simpleSelector) bool {
	if n.Type != html.ElementNode {
		return false
	}

	if s.tag != "" && !strings.EqualFold(n.Data, s.tag) {
		return false
	}

	if s.id != "" {
		if v, _ := Attr(n, "id"); v != s.id {
			return false
		}
	}

	if s.class != "" {
		cls, _ := Attr(n, "class")
		found := false
		for _, c := range strings.Fields(cls) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if s.attrKey != "" {
		val, ok := Attr(n, s.attrKey)
		if !ok {
			return false
		}
		if s.attrVal != "" && val != s.attrVal {
			return false
		}
	}

	return true
}
