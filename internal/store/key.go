package store

import (
	"strings"
	"unicode"
)

// ExpandKey substitutes $NAME and ${NAME} references in a cache key template
// with values from vars. Unknown variables expand to the empty string, so a
// template like "deps-$branch" still yields a stable (if shared) key when the
// variable is unset. A literal "$$" produces "$".
func ExpandKey(template string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '$' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(template) && template[i+1] == '$' {
			b.WriteByte('$')
			i++
			continue
		}
		name, width := scanVarName(template[i+1:])
		if width == 0 {
			b.WriteByte('$')
			continue
		}
		b.WriteString(vars[name])
		i += width
	}
	return b.String()
}

// scanVarName reads a variable reference at the start of s, which is the text
// immediately after a '$'. It returns the variable name and how many bytes of
// s the reference consumed.
func scanVarName(s string) (string, int) {
	if s == "" {
		return "", 0
	}
	if s[0] == '{' {
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return "", 0
		}
		return s[1:end], end + 1
	}
	i := 0
	for i < len(s) && isNameByte(s[i]) {
		i++
	}
	return s[:i], i
}

func isNameByte(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}
