package agentloop

import "regexp"

// ResultGuard redacts sensitive-looking content from a tool result before
// it is appended to history — a supplemented feature (SPEC_FULL.md §12),
// grounded on internal/agent/loop.go's guardToolResult + policy.Resolver
// pattern, independent of and applied in addition to the PostToolUse
// hook's updatedResponse.
type ResultGuard struct {
	patterns []*regexp.Regexp
}

// DefaultResultGuard redacts common secret shapes: bearer tokens, AWS
// access keys, and generic "key=value"-style assignments whose key name
// suggests a credential.
func DefaultResultGuard() ResultGuard {
	return ResultGuard{patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{10,}`),
		regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
		regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*['"]?[a-z0-9._-]{8,}['"]?`),
	}}
}

// Redact replaces every match of g's patterns with "[REDACTED]".
func (g ResultGuard) Redact(content string) string {
	for _, p := range g.patterns {
		content = p.ReplaceAllString(content, "[REDACTED]")
	}
	return content
}
