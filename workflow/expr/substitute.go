package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Substitute replaces ${key} placeholders in template with the fmt %v form of
// the referenced value. Floats are written in plain decimal notation. Keys may be dot paths. Placeholders that do not
// resolve are left in place.
func Substitute(template string, vars map[string]any) string {
	if !strings.Contains(template, "${") {
		return template
	}

	var sb strings.Builder
	sb.Grow(len(template))
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		end := strings.IndexByte(rest[start+2:], '}')
		if end < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		end += start + 2

		sb.WriteString(rest[:start])
		key := strings.TrimSpace(rest[start+2 : end])
		if v, ok := resolve(vars, key); ok && key != "" {
			sb.WriteString(format(v))
		} else {
			sb.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
}

func format(v any) string {
	switch f := v.(type) {
	case float64:
		return strconv.FormatFloat(f, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

// SubstituteValue applies Substitute to strings and returns other values
// unchanged.
func SubstituteValue(v any, vars map[string]any) any {
	if s, ok := v.(string); ok {
		return Substitute(s, vars)
	}
	return v
}
