package query

import (
	"strconv"
	"strings"
)

// Axis is the traversal relation between a step and its context.
type Axis int

const (
	AxisChild      Axis = iota // direct composed children only
	AxisDescendant             // any depth below, composed
)

func (a Axis) String() string {
	if a == AxisDescendant {
		return "descendant"
	}
	return "child"
}

// Step is one segment of a parsed expression: an axis, a tag filter
// ("*" matches everything) and the predicates of its bracket groups, in
// source order.
type Step struct {
	Axis       Axis
	Tag        string
	Predicates []Predicate
}

// Parse turns an expression into traversal steps. It is total: no input
// makes it fail. Path structure comes from explicit delimiter scanning;
// a predicate group that does not parse is dropped, leaving the step as a
// tag-only filter.
//
// An optional case-insensitive "xpath=" prefix is stripped. "//" opens a
// descendant step, "/" a child step; an expression with no leading slash
// is one implicit child step.
func Parse(expr string) []Step {
	s := strings.TrimSpace(expr)
	if len(s) >= 6 && strings.EqualFold(s[:6], "xpath=") {
		s = s[6:]
	}

	var steps []Step
	pos := 0
	for pos < len(s) {
		axis := AxisChild
		if strings.HasPrefix(s[pos:], "//") {
			axis = AxisDescendant
			pos += 2
		} else if s[pos] == '/' {
			pos++
		}

		end := scanStepEnd(s, pos)
		raw := s[pos:end]
		pos = end
		if strings.TrimSpace(raw) == "" {
			continue
		}
		steps = append(steps, parseStep(raw, axis))
	}
	return steps
}

// scanStepEnd finds the next '/' that terminates the current step: one
// outside any bracket group and outside quotes. Quote state and bracket
// depth are tracked independently; ']' only closes when depth is positive.
func scanStepEnd(s string, start int) int {
	var quote byte
	depth := 0
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			if depth > 0 {
				depth--
			}
		case c == '/' && depth == 0:
			return i
		}
	}
	return len(s)
}

// parseStep splits a raw step into tag and bracket groups.
func parseStep(raw string, axis Axis) Step {
	tagEnd := len(raw)
	var quote byte
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		if c == '[' {
			tagEnd = i
			break
		}
	}

	tag := strings.ToLower(strings.TrimSpace(raw[:tagEnd]))
	if tag == "" {
		tag = "*"
	}

	step := Step{Axis: axis, Tag: tag}
	for _, group := range scanBracketGroups(raw[tagEnd:]) {
		if p, ok := parsePredicate(group); ok {
			step.Predicates = append(step.Predicates, p)
		}
	}
	return step
}

// scanBracketGroups extracts the contents of consecutive top-level [...]
// groups, quote-aware, so [@title='a[0]'] is one group.
func scanBracketGroups(s string) []string {
	var groups []string
	var quote byte
	depth := 0
	start := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case c == ']':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					groups = append(groups, s[start:i])
					start = -1
				}
			}
		}
	}
	return groups
}

// parsePredicate parses one bracket group through the boolean/atomic
// grammar. Returns false for anything it does not understand; the caller
// drops the group.
func parsePredicate(s string) (Predicate, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	// not(...) only as a whole balanced wrapper.
	if inner, ok := unwrapCall(s, "not"); ok {
		p, ok := parsePredicate(inner)
		if !ok {
			return nil, false
		}
		return NotPred{Pred: p}, true
	}

	// or binds looser than and.
	if parts := splitKeyword(s, "or"); len(parts) > 1 {
		return combine(parts, func(ps []Predicate) Predicate { return OrPred{Preds: ps} })
	}
	if parts := splitKeyword(s, "and"); len(parts) > 1 {
		return combine(parts, func(ps []Predicate) Predicate { return AndPred{Preds: ps} })
	}

	// A fully parenthesised group.
	if inner, ok := unwrapParens(s); ok {
		return parsePredicate(inner)
	}

	// Bare integer: positional, clamped to >= 1.
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			n = 1
		}
		return IndexPred{N: n}, true
	}

	return parseAtomic(s)
}

func combine(parts []string, wrap func([]Predicate) Predicate) (Predicate, bool) {
	preds := make([]Predicate, 0, len(parts))
	for _, part := range parts {
		p, ok := parsePredicate(part)
		if !ok {
			return nil, false
		}
		preds = append(preds, p)
	}
	return wrap(preds), true
}

// splitKeyword splits on whole-word occurrences of kw outside quotes and
// outside parentheses, never immediately after '@'. Returns the original
// string as a single part when the keyword does not occur.
func splitKeyword(s, kw string) []string {
	var parts []string
	var quote byte
	depth := 0
	last := 0
	for i := 0; i+len(kw) <= len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			continue
		case c == '\'' || c == '"':
			quote = c
			continue
		case c == '(':
			depth++
			continue
		case c == ')':
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth != 0 || s[i:i+len(kw)] != kw {
			continue
		}
		if i > 0 && (isNameByte(s[i-1]) || s[i-1] == '@') {
			continue
		}
		if i+len(kw) < len(s) && isNameByte(s[i+len(kw)]) {
			continue
		}
		parts = append(parts, strings.TrimSpace(s[last:i]))
		last = i + len(kw)
		i += len(kw) - 1
	}
	if len(parts) == 0 {
		return []string{s}
	}
	parts = append(parts, strings.TrimSpace(s[last:]))
	return parts
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}

// unwrapCall returns the argument of name(...) when s is exactly that call
// with balanced parentheses.
func unwrapCall(s, name string) (string, bool) {
	if !strings.HasPrefix(s, name+"(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	inner := s[len(name)+1 : len(s)-1]
	if !balanced(inner) {
		return "", false
	}
	return inner, true
}

// unwrapParens strips one pair of outer parentheses when they enclose the
// whole string.
func unwrapParens(s string) (string, bool) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return "", false
	}
	inner := s[1 : len(s)-1]
	if !balanced(inner) {
		return "", false
	}
	return inner, true
}

// balanced reports whether parentheses in s are balanced outside quotes
// and never dip below zero.
func balanced(s string) bool {
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// operand is the left-hand side of an atomic comparison: an attribute or
// the element text, optionally normalize-space wrapped.
type operand struct {
	attr      string // empty means text()
	normalize bool
}

func parseOperand(s string) (operand, bool) {
	s = strings.TrimSpace(s)
	if inner, ok := unwrapCall(s, "normalize-space"); ok {
		op, ok := parseOperand(inner)
		if !ok {
			return operand{}, false
		}
		op.normalize = true
		return op, true
	}
	if s == "text()" {
		return operand{}, true
	}
	if strings.HasPrefix(s, "@") && len(s) > 1 {
		name := s[1:]
		for i := 0; i < len(name); i++ {
			if !isNameByte(name[i]) && name[i] != ':' {
				return operand{}, false
			}
		}
		return operand{attr: strings.ToLower(name)}, true
	}
	return operand{}, false
}

// parseLiteral strips matching quotes from a string literal.
func parseLiteral(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}

func parseAtomic(s string) (Predicate, bool) {
	// contains(X, 'lit') / starts-with(X, 'lit')
	calls := []struct {
		name string
		op   AttrOp
	}{
		{"contains", AttrContains},
		{"starts-with", AttrStartsWith},
	}
	for _, call := range calls {
		name, op := call.name, call.op
		inner, ok := unwrapCall(s, name)
		if !ok {
			continue
		}
		lhs, rhs, ok := splitTopComma(inner)
		if !ok {
			return nil, false
		}
		lit, ok := parseLiteral(rhs)
		if !ok {
			return nil, false
		}
		opnd, ok := parseOperand(lhs)
		if !ok {
			return nil, false
		}
		if opnd.attr == "" {
			if op == AttrStartsWith {
				// starts-with on text is outside the supported subset.
				return nil, false
			}
			return TextPred{Op: TextContains, Value: lit, Normalize: opnd.normalize}, true
		}
		return AttrPred{Op: op, Name: opnd.attr, Value: lit, Normalize: opnd.normalize}, true
	}

	// X = 'lit'
	if lhs, rhs, ok := splitTopEquals(s); ok {
		lit, ok := parseLiteral(rhs)
		if !ok {
			return nil, false
		}
		opnd, ok := parseOperand(lhs)
		if !ok {
			return nil, false
		}
		if opnd.attr == "" {
			return TextPred{Op: TextEquals, Value: lit, Normalize: opnd.normalize}, true
		}
		return AttrPred{Op: AttrEquals, Name: opnd.attr, Value: lit, Normalize: opnd.normalize}, true
	}

	// @attr existence.
	if opnd, ok := parseOperand(s); ok && opnd.attr != "" && !opnd.normalize {
		return AttrPred{Op: AttrExists, Name: opnd.attr}, true
	}

	return nil, false
}

// splitTopComma splits on the first comma outside quotes and parentheses.
func splitTopComma(s string) (string, string, bool) {
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// splitTopEquals splits on the first '=' outside quotes and parentheses.
func splitTopEquals(s string) (string, string, bool) {
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '=' && depth == 0:
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
