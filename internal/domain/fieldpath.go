package domain

import (
	"regexp"
	"strings"
)

const MaxFieldPathLen = 256

// items[3].checked, title, steps[0].text
var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\[[0-9]+\]|\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func ValidFieldPath(p string) bool {
	return len(p) <= MaxFieldPathLen && fieldPathPattern.MatchString(p)
}

// FieldRoot returns the leading name segment of a valid path.
func FieldRoot(p string) string {
	if i := strings.IndexAny(p, ".["); i >= 0 {
		return p[:i]
	}
	return p
}

// FieldAncestors lists the proper prefixes of p, outermost first.
// items[3].checked -> items, items[3]
func FieldAncestors(p string) []string {
	var out []string
	for i := 1; i < len(p); i++ {
		if p[i] == '.' || p[i] == '[' {
			out = append(out, p[:i])
		}
	}
	return out
}

// IsFieldDescendant reports whether child lies strictly below parent.
func IsFieldDescendant(child, parent string) bool {
	if len(child) <= len(parent) || !strings.HasPrefix(child, parent) {
		return false
	}
	c := child[len(parent)]
	return c == '.' || c == '['
}
