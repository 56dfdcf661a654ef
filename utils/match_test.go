package utils

import "testing"

func TestSubstituteVars(t *testing.T) {
	cases := []struct {
		pattern string
		vars    map[string]any
		want    string
	}{
		{"user/{user_id}/assets/*", map[string]any{"user_id": "42"}, "user/42/assets/*"},
		{"user/{user_id}/assets/*", nil, "user/{user_id}/assets/*"},
		{"model/{model_id}", map[string]any{"model_id": 7}, "model/7"},
		{"a/{x}/{y}", map[string]any{"x": "1"}, "a/1/{y}"},
		{"no-vars", map[string]any{"x": "1"}, "no-vars"},
		{"broken/{open", nil, "broken/{open"},
	}
	for _, c := range cases {
		if got := SubstituteVars(c.pattern, c.vars); got != c.want {
			t.Fatalf("SubstituteVars(%q)=%q want %q", c.pattern, got, c.want)
		}
	}
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"*", "anything", true},
		{"user/42/assets/*", "user/42/assets/sword.png", true},
		{"user/42/assets/*", "user/43/assets/sword.png", false},
		{"user/42/assets/*", "user/42/assets/", true},
		// '*' crosses separators, no path special-casing
		{"user/*", "user/42/assets/sword.png", true},
		{"user/?2/assets/*", "user/42/assets/a", true},
		{"user/?2/assets/*", "user/442/assets/a", false},
		{"exact", "exact", true},
		{"exact", "Exact", false},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxbyy", false},
		{"?", "", false},
		{"*", "", true},
	}
	for _, c := range cases {
		if got := MatchPattern(c.pattern, c.value); got != c.want {
			t.Fatalf("MatchPattern(%q, %q)=%v want %v", c.pattern, c.value, got, c.want)
		}
	}
}

func TestMatchResource(t *testing.T) {
	vars := map[string]any{"user_id": "42"}
	if !MatchResource("user/{user_id}/assets/*", "user/42/assets/sword.png", vars) {
		t.Fatalf("expected match for owner path")
	}
	if MatchResource("user/{user_id}/assets/*", "user/43/assets/sword.png", vars) {
		t.Fatalf("expected no match for foreign path")
	}
	// unresolved placeholder stays literal and therefore does not match
	if MatchResource("user/{user_id}/assets/*", "user/42/assets/sword.png", nil) {
		t.Fatalf("expected no match with unresolved placeholder")
	}
}
