package utils

import (
	"fmt"
	"strings"
)

// SubstituteVars resolves {key} placeholders in a resource pattern against the
// request context. Placeholders with no matching context key are left literal
// so the caller can still see which variable was expected.
func SubstituteVars(pattern string, vars map[string]any) string {
	if !strings.Contains(pattern, "{") {
		return pattern
	}
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); {
		if pattern[i] != '{' {
			b.WriteByte(pattern[i])
			i++
			continue
		}
		end := strings.IndexByte(pattern[i:], '}')
		if end < 0 {
			b.WriteString(pattern[i:])
			break
		}
		key := pattern[i+1 : i+end]
		if v, ok := vars[key]; ok {
			b.WriteString(Stringify(v))
		} else {
			b.WriteString(pattern[i : i+end+1])
		}
		i += end + 1
	}
	return b.String()
}

// Stringify renders a context value the way it would appear inside a resource
// identifier. Strings pass through unquoted.
func Stringify(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case fmt.Stringer:
		return vv.String()
	default:
		return fmt.Sprint(vv)
	}
}

// MatchPattern reports whether value matches pattern under glob semantics:
// '*' matches any run of characters (including none), '?' matches exactly one
// character. Matching is case-sensitive and gives '/' no special treatment.
func MatchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == value
	}
	p, v := 0, 0
	starP, starV := -1, -1
	for v < len(value) {
		switch {
		case p < len(pattern) && (pattern[p] == value[v] || pattern[p] == '?'):
			p++
			v++
		case p < len(pattern) && pattern[p] == '*':
			// remember the star so we can retry with a longer consumption
			starP = p
			starV = v
			p++
		case starP >= 0:
			p = starP + 1
			starV++
			v = starV
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// MatchResource substitutes context variables into pattern and matches the
// result against resourceID.
func MatchResource(pattern, resourceID string, vars map[string]any) bool {
	return MatchPattern(SubstituteVars(pattern, vars), resourceID)
}
