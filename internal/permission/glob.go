package permission

import "strings"

// matchGlob reports whether name matches pattern using the subset of glob
// syntax spec §4.C requires: '*' matches any run of characters except '/',
// '**' matches any run of characters including '/', '?' matches exactly one
// non-'/' character, and '[set]' matches one character from set (a leading
// '!' or '^' negates the set, matching shell/fnmatch conventions).
//
// No glob library appears in any retrieved example's go.mod (checked
// batalabs-muxd, goadesign-goa-ai, haasonsaas-nexus, kadirpekel-hector,
// other_examples) so this is hand-rolled rather than introducing an unseen
// dependency — see DESIGN.md.
func matchGlob(pattern, name string) bool {
	return matchSegment(pattern, name)
}

func matchSegment(pattern, name string) bool {
	for len(pattern) > 0 {
		switch {
		case strings.HasPrefix(pattern, "**"):
			rest := pattern[2:]
			if rest == "" {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegment(rest, name[i:]) {
					return true
				}
			}
			return false

		case pattern[0] == '*':
			rest := pattern[1:]
			if rest == "" {
				return !strings.Contains(name, "/")
			}
			for i := 0; i <= len(name); i++ {
				if i > 0 && name[i-1] == '/' {
					break
				}
				if matchSegment(rest, name[i:]) {
					return true
				}
			}
			return false

		case pattern[0] == '?':
			if len(name) == 0 || name[0] == '/' {
				return false
			}
			pattern, name = pattern[1:], name[1:]

		case pattern[0] == '[':
			end := strings.IndexByte(pattern, ']')
			if end < 0 {
				// Unterminated set: treat '[' literally.
				if len(name) == 0 || name[0] != '[' {
					return false
				}
				pattern, name = pattern[1:], name[1:]
				continue
			}
			if len(name) == 0 {
				return false
			}
			set := pattern[1:end]
			negate := false
			if len(set) > 0 && (set[0] == '!' || set[0] == '^') {
				negate = true
				set = set[1:]
			}
			if matchSet(set, name[0]) == negate {
				return false
			}
			pattern, name = pattern[end+1:], name[1:]

		default:
			if len(name) == 0 || pattern[0] != name[0] {
				return false
			}
			pattern, name = pattern[1:], name[1:]
		}
	}
	return len(name) == 0
}

func matchSet(set string, c byte) bool {
	for i := 0; i < len(set); i++ {
		if i+2 < len(set) && set[i+1] == '-' {
			if set[i] <= c && c <= set[i+2] {
				return true
			}
			i += 2
			continue
		}
		if set[i] == c {
			return true
		}
	}
	return false
}
