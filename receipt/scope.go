package receipt

import "strings"

// Scope patterns are anchored globs where "*" matches any run of characters,
// including none. Matching is structural over literal/wildcard tokens rather
// than a translation into a pattern language, so URL characters can never be
// misread as metacharacters.

// Pattern is a compiled scope pattern: literal runs separated by wildcards.
type Pattern struct {
	literals     []string
	leadingWild  bool
	trailingWild bool
}

// Compile tokenizes a glob pattern into literal and wildcard segments.
func Compile(pattern string) Pattern {
	p := Pattern{
		leadingWild:  strings.HasPrefix(pattern, "*"),
		trailingWild: strings.HasSuffix(pattern, "*") && pattern != "",
	}
	for _, literal := range strings.Split(pattern, "*") {
		if literal != "" {
			p.literals = append(p.literals, literal)
		}
	}
	return p
}

// Match reports whether s matches the pattern, anchored at both ends.
func (p Pattern) Match(s string) bool {
	literals := p.literals
	if len(literals) == 0 {
		// Empty pattern matches only the empty string; all-wildcard
		// patterns match everything.
		return p.leadingWild || p.trailingWild || s == ""
	}

	// Without a leading wildcard the first literal anchors the start.
	if !p.leadingWild {
		if !strings.HasPrefix(s, literals[0]) {
			return false
		}
		s = s[len(literals[0]):]
		literals = literals[1:]
	}

	// Without a trailing wildcard the last literal anchors the end.
	if !p.trailingWild {
		if len(literals) == 0 {
			return s == ""
		}
		last := literals[len(literals)-1]
		if !strings.HasSuffix(s, last) {
			return false
		}
		s = s[:len(s)-len(last)]
		literals = literals[:len(literals)-1]
	}

	// Remaining literals must appear in order, each consuming left to right.
	for _, literal := range literals {
		pos := strings.Index(s, literal)
		if pos < 0 {
			return false
		}
		s = s[pos+len(literal):]
	}
	return true
}

// MatchAny reports whether any pattern in the scope matches the URL.
func MatchAny(scope []string, url string) bool {
	for _, pattern := range scope {
		if Compile(pattern).Match(url) {
			return true
		}
	}
	return false
}
