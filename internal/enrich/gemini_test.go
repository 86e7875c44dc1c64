package enrich

import (
	"strings"
	"testing"
)

func TestStripFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"topic": "politics"}`, `{"topic": "politics"}`},
		{"```json\n{\"topic\": \"politics\"}\n```", `{"topic": "politics"}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"  \n{\"a\": 1}\n  ", `{"a": 1}`},
	}

	for _, c := range cases {
		if got := stripFences(c.in); got != c.want {
			t.Errorf("stripFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Errorf("Short text must pass through, got %q", got)
	}

	got := truncate(strings.Repeat("x", 200), 50)
	if !strings.HasSuffix(got, "[TRUNCATED]") {
		t.Errorf("Truncated text must be marked, got %q", got)
	}
	if len([]rune(got)) > 50+len(" [TRUNCATED]") {
		t.Errorf("Truncation must respect the limit, got %d runes", len([]rune(got)))
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	// Multibyte text must not be cut mid-rune
	got := truncate(strings.Repeat("ø", 100), 10)
	if strings.Contains(got, "�") {
		t.Errorf("Truncation split a rune: %q", got)
	}
}

func TestJoinBodiesSharesTheBudget(t *testing.T) {
	bodies := []string{
		strings.Repeat("a", promptBodyLimit),
		strings.Repeat("b", promptBodyLimit),
	}

	joined := joinBodies(bodies)
	if !strings.Contains(joined, "--- source 1 ---") || !strings.Contains(joined, "--- source 2 ---") {
		t.Error("Each body must be labeled with its source index")
	}
	// Two sources split the prompt budget between them
	if len(joined) > promptBodyLimit+200 {
		t.Errorf("Joined bodies exceed the prompt budget: %d chars", len(joined))
	}
}
