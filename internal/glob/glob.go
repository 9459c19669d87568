// Package glob matches slash-separated paths against patterns with `*`, `?`
// and the double-star `**` segment, the dialect used by changed-file rules and
// cache/artifact path lists.
package glob

import (
	"path"
	"strings"
)

// Match reports whether name matches pattern. Both are slash-separated and
// relative. A `**` segment matches zero or more path segments; within a single
// segment, `*` and `?` follow path.Match semantics. A pattern ending in `/`
// matches everything under that directory prefix.
func Match(pattern, name string) bool {
	pattern = strings.TrimPrefix(pattern, "./")
	name = strings.TrimPrefix(name, "./")

	if strings.HasSuffix(pattern, "/") {
		prefix := strings.TrimSuffix(pattern, "/")
		return name == prefix || strings.HasPrefix(name, prefix+"/")
	}

	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

// MatchAny reports whether name matches any of the given patterns.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if Match(p, name) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			// Collapse consecutive double-stars, then try every possible
			// split of the remaining name segments.
			rest := pattern[1:]
			for len(rest) > 0 && rest[0] == "**" {
				rest = rest[1:]
			}
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], name[0])
		if err != nil || !ok {
			return false
		}
		pattern = pattern[1:]
		name = name[1:]
	}
	return len(name) == 0
}
