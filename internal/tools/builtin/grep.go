package builtin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/amcp-dev/amcp/internal/tools/files"
	"github.com/amcp-dev/amcp/pkg/model"
)

const (
	grepMaxMatches   = 200
	grepMaxFileBytes = 4 << 20 // skip anything unusually large; this is a text search, not a dump
)

// GrepParams mirrors the read_file/write_file sibling tools' parameter
// shape: a workspace-relative root plus the search inputs.
type GrepParams struct {
	Pattern         string `json:"pattern" jsonschema:"required,description=RE2 regular expression to search for"`
	Path            string `json:"path,omitempty" jsonschema:"description=Directory to search under (default: workspace root)"`
	Glob            string `json:"glob,omitempty" jsonschema:"description=Only search files whose base name matches this glob"`
	CaseInsensitive bool   `json:"case_insensitive,omitempty"`
}

type grepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// GrepTool recursively searches workspace files for a regular expression,
// grounded on internal/tools/files's resolver + workspace-scoping
// convention — grep has no teacher equivalent (Nexus has no code-search
// tool), so its tree walk follows the standard library idiom
// (filepath.WalkDir + bufio.Scanner) rather than any corpus file.
type GrepTool struct {
	resolver files.Resolver
}

// NewGrepTool returns a grep tool scoped to workspace.
func NewGrepTool(workspace string) *GrepTool {
	return &GrepTool{resolver: files.Resolver{Root: workspace}}
}

func (t *GrepTool) Name() string        { return "grep" }
func (t *GrepTool) Description() string { return "Search workspace files for a regular expression." }
func (t *GrepTool) Source() model.ToolSource { return model.ToolSourceBuiltin }

func (t *GrepTool) Schema() model.ToolParamSchema {
	return cachedSchemaFor("grep", &GrepParams{})
}

func (t *GrepTool) Execute(ctx context.Context, args json.RawMessage) model.ToolResult {
	var p GrepParams
	if err := json.Unmarshal(args, &p); err != nil {
		return fail("invalid parameters: " + err.Error())
	}
	if strings.TrimSpace(p.Pattern) == "" {
		return fail("pattern is required")
	}

	expr := p.Pattern
	if p.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fail(fmt.Sprintf("invalid pattern: %v", err))
	}

	root := p.Path
	if root == "" {
		root = "."
	}
	resolvedRoot, err := t.resolver.Resolve(root)
	if err != nil {
		return fail(err.Error())
	}

	var matches []grepMatch
	walkErr := filepath.WalkDir(resolvedRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if p.Glob != "" {
			if matched, _ := filepath.Match(p.Glob, d.Name()); !matched {
				return nil
			}
		}
		if len(matches) >= grepMaxMatches {
			return fs.SkipAll
		}
		grepFile(path, resolvedRoot, re, &matches)
		return nil
	})
	if walkErr != nil && walkErr != fs.SkipAll {
		return fail(fmt.Sprintf("search aborted: %v", walkErr))
	}

	payload, err := json.MarshalIndent(map[string]any{
		"matches":   matches,
		"truncated": len(matches) >= grepMaxMatches,
	}, "", "  ")
	if err != nil {
		return fail("encode result: " + err.Error())
	}
	return ok(string(payload))
}

func grepFile(path, root string, re *regexp.Regexp, matches *[]grepMatch) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > grepMaxFileBytes {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if re.MatchString(line) {
			*matches = append(*matches, grepMatch{Path: rel, Line: lineNo, Text: line})
			if len(*matches) >= grepMaxMatches {
				return
			}
		}
	}
}
