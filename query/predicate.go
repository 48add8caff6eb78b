// Package query implements the constrained-XPath query engine and the
// wait-for-state primitive over composed document trees.
//
// The grammar is a deliberate subset: child and descendant axes, tag
// filters, and bracketed predicates (position, attribute, text, boolean
// composition). Anything outside the subset degrades to a tag-only match
// rather than an error; callers rely on graceful degradation.
package query

import (
	"strings"

	"github.com/hazyhaar/domquery/dom"
	"golang.org/x/net/html"
)

// Predicate is a boolean filter applied to a candidate element within one
// traversal step. The set of variants is closed.
type Predicate interface {
	isPredicate()
}

// AttrOp selects the attribute comparison.
type AttrOp int

const (
	AttrExists AttrOp = iota
	AttrEquals
	AttrContains
	AttrStartsWith
)

// AttrPred tests an attribute of the element.
type AttrPred struct {
	Op        AttrOp
	Name      string
	Value     string
	Normalize bool
}

// TextOp selects the text comparison.
type TextOp int

const (
	TextEquals TextOp = iota
	TextContains
)

// TextPred tests the element's full descendant text content.
type TextPred struct {
	Op        TextOp
	Value     string
	Normalize bool
}

// IndexPred selects the n-th candidate (1-based) from the list as narrowed
// by the predicates preceding it in source order. It is positional, so the
// resolver applies it to the candidate list rather than per element;
// Evaluate treats it as always true.
type IndexPred struct {
	N int
}

// AndPred holds when every child predicate holds.
type AndPred struct {
	Preds []Predicate
}

// OrPred holds when any child predicate holds.
type OrPred struct {
	Preds []Predicate
}

// NotPred inverts its child predicate.
type NotPred struct {
	Pred Predicate
}

func (AttrPred) isPredicate()  {}
func (TextPred) isPredicate()  {}
func (IndexPred) isPredicate() {}
func (AndPred) isPredicate()   {}
func (OrPred) isPredicate()    {}
func (NotPred) isPredicate()   {}

// Evaluate tests one predicate against one element. Pure: no side effects,
// and extraction failures (missing attributes, empty text) read as "no
// value" rather than aborting.
func Evaluate(el *html.Node, p Predicate) bool {
	switch pred := p.(type) {
	case AttrPred:
		val, ok := dom.Attr(el, pred.Name)
		if pred.Op == AttrExists {
			return ok
		}
		if !ok {
			return false
		}
		obs, lit := val, pred.Value
		if pred.Normalize {
			obs = dom.NormalizeSpace(obs)
			lit = dom.NormalizeSpace(lit)
		}
		switch pred.Op {
		case AttrEquals:
			return obs == lit
		case AttrContains:
			return strings.Contains(obs, lit)
		case AttrStartsWith:
			return strings.HasPrefix(obs, lit)
		}
		return false

	case TextPred:
		obs, lit := dom.TextContent(el), pred.Value
		if pred.Normalize {
			obs = dom.NormalizeSpace(obs)
			lit = dom.NormalizeSpace(lit)
		}
		if pred.Op == TextEquals {
			return obs == lit
		}
		return strings.Contains(obs, lit)

	case AndPred:
		for _, sub := range pred.Preds {
			if !Evaluate(el, sub) {
				return false
			}
		}
		return true

	case OrPred:
		for _, sub := range pred.Preds {
			if Evaluate(el, sub) {
				return true
			}
		}
		return false

	case NotPred:
		return !Evaluate(el, pred.Pred)

	case IndexPred:
		return true
	}
	return false
}
