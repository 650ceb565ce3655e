package registry

import (
	"regexp"
	"strings"
)

// newMatcher builds the search matching rule: a pattern containing '*' is
// an anchored glob ('*' -> any run of characters); otherwise it's a
// case-insensitive substring match.
func newMatcher(pattern string) (func(name string) bool, error) {
	if !strings.Contains(pattern, "*") {
		needle := strings.ToLower(pattern)
		return func(name string) bool {
			return strings.Contains(strings.ToLower(name), needle)
		}, nil
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "(?i)^" + strings.Join(parts, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}
