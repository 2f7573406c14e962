package operation

import "strings"

// Normalize produces the canonical, AST-independent form of a query:
// comments are stripped and runs of whitespace are collapsed to a single
// space. String literals are preserved verbatim.
func Normalize(query string) string {
	query = stripComments(query)
	query = collapseWhitespace(query)
	return strings.TrimSpace(query)
}

// stringTracker reports whether a scan position is inside a string literal,
// honoring backslash escapes. Every scanner over query text (comment
// stripping, whitespace collapsing, shape validation) shares this so they
// agree on what is literal content.
type stringTracker struct {
	inString bool
	escaped  bool
}

// observe consumes one rune and advances the tracker.
func (t *stringTracker) observe(r rune) {
	switch {
	case t.escaped:
		t.escaped = false
	case t.inString && r == '\\':
		t.escaped = true
	case r == '"':
		t.inString = !t.inString
	}
}

// literal reports whether r at the current position is part of a string
// literal (its delimiters included), then advances the tracker past it.
func (t *stringTracker) literal(r rune) bool {
	wasInString := t.inString
	t.observe(r)
	return wasInString || t.inString
}

// stripComments removes GraphQL # comments, honoring string literals.
func stripComments(query string) string {
	var result strings.Builder

	for _, line := range strings.Split(query, "\n") {
		var t stringTracker
		cut := len(line)
		for i, r := range line {
			if r == '#' && !t.inString {
				cut = i
				break
			}
			t.observe(r)
		}
		result.WriteString(line[:cut])
		result.WriteString("\n")
	}

	return result.String()
}

// collapseWhitespace replaces runs of whitespace outside string literals
// with a single space.
func collapseWhitespace(query string) string {
	var result strings.Builder
	var lastWasSpace bool
	var t stringTracker

	for _, r := range query {
		if t.literal(r) {
			result.WriteRune(r)
			lastWasSpace = false
			continue
		}

		switch r {
		case ' ', '\t', '\n', '\r':
			if !lastWasSpace {
				result.WriteRune(' ')
				lastWasSpace = true
			}
		default:
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return result.String()
}
