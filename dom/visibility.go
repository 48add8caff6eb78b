package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// IsVisible is the default visibility heuristic for in-process documents.
// Without a layout engine there is no computed style or geometry, so the
// classification is attribute-based: an element is hidden when it or an
// ancestor carries the hidden attribute, an inline style with
// display:none, visibility:hidden or opacity:0, or explicit zero
// width/height attributes.
//
// Live adapters replace this with a real oracle; the query engine only
// depends on the func signature.
func IsVisible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if _, ok := Attr(cur, "hidden"); ok {
			return false
		}
		if style, ok := Attr(cur, "style"); ok && styleHides(style) {
			return false
		}
	}
	if w, ok := Attr(n, "width"); ok && w == "0" {
		return false
	}
	if h, ok := Attr(n, "height"); ok && h == "0" {
		return false
	}
	return true
}

func styleHides(style string) bool {
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.TrimSpace(v))
		switch k {
		case "display":
			if v == "none" {
				return true
			}
		case "visibility":
			if v == "hidden" {
				return true
			}
		case "opacity":
			if v == "0" || v == "0.0" || v == "0%" {
				return true
			}
		}
	}
	return false
}
