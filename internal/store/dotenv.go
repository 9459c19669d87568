package store

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// ParseDotenv parses a KEY=VALUE report file emitted by a job. Blank lines
// and lines starting with '#' are ignored. Values may be wrapped in single or
// double quotes; quotes are stripped but no escape processing happens. A line
// without '=' is a parse error, which callers treat as a job failure since a
// malformed report means downstream jobs would run with broken inputs.
func ParseDotenv(data []byte) (map[string]string, error) {
	vars := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("dotenv line %d: no '=' in %q", lineno, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("dotenv line %d: empty key", lineno)
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		vars[key] = value
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading dotenv report: %w", err)
	}
	return vars, nil
}
