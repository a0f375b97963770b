package pathutil

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"src/main.go", "src/main.go"},
		{"./src/main.go", "src/main.go"},
		{"src//lib/../main.go", "src/main.go"},
		{`src\win\style.go`, "src/win/style.go"},
		{"  padded.go  ", "padded.go"},
	}
	for _, c := range cases {
		got, err := Normalize(c.in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeRejects(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"/etc/passwd",
		"..",
		"../outside.go",
		"a/../../outside.go",
		"nul\x00byte",
		strings.Repeat("x", MaxLength+1),
		strings.Repeat("d/", MaxSegments) + "f.go",
	}
	for _, p := range bad {
		if _, err := Normalize(p); err == nil {
			t.Fatalf("Normalize(%q) should fail", p)
		}
	}
}

func TestNormalizeSetDedupes(t *testing.T) {
	out, err := NormalizeSet([]string{"a.go", "./a.go", "b.go", "sub/../b.go"})
	if err != nil {
		t.Fatalf("NormalizeSet: %v", err)
	}
	if len(out) != 2 || out[0] != "a.go" || out[1] != "b.go" {
		t.Fatalf("unexpected set %v", out)
	}
}

func TestNormalizeSetPropagatesError(t *testing.T) {
	if _, err := NormalizeSet([]string{"ok.go", "../bad.go"}); err == nil {
		t.Fatal("expected error for escaping path")
	}
}
