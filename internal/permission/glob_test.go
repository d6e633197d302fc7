package permission

import "testing"

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"bash", "bash", true},
		{"bash", "grep", false},
		{"git *", "git status", true},
		{"git *", "git status --short", true},
		{"git *", "git/status", false}, // '*' does not cross '/'
		{"mcp.*.read", "mcp.fs.read", true},
		{"mcp.*.read", "mcp.fs.sub.read", false},
		{"mcp.**.read", "mcp.fs.sub.read", true},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file12.txt", false},
		{"[abc]*", "apple", true},
		{"[abc]*", "dog", false},
		{"[!abc]*", "dog", true},
		{"[a-c]*", "banana", true},
		{"**", "anything/at/all", true},
	}
	for _, c := range cases {
		got := matchGlob(c.pattern, c.name)
		if got != c.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}
