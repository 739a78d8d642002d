package rule

import (
	"regexp"
	"strings"
)

// Matcher decides whether a concrete request path satisfies a route
// pattern. Matching is purely structural: no percent-decoding, no
// trailing-slash normalisation. Callers pass already-normalised paths.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles a route pattern into a Matcher. Named segments
// (":id") match exactly one path segment, a trailing "*" matches any
// suffix, everything else is literal. A pattern that cannot be compiled
// yields a matcher that never matches; a broken rule is equivalent to
// an absent rule.
func NewMatcher(pattern string) Matcher {
	var b strings.Builder
	b.WriteString("^")

	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("/")
		}
		switch {
		case seg == "*" && i == len(segments)-1:
			b.WriteString(".*")
		case strings.HasSuffix(seg, "*") && i == len(segments)-1:
			b.WriteString(regexp.QuoteMeta(strings.TrimSuffix(seg, "*")))
			b.WriteString(".*")
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			b.WriteString("[^/]+")
		default:
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return Matcher{}
	}
	return Matcher{re: re}
}

// Match reports whether path satisfies the compiled pattern.
func (m Matcher) Match(path string) bool {
	return m.re != nil && m.re.MatchString(path)
}
