package patch

import (
	"fmt"
	"strings"
)

// FileWrite is one staged filesystem mutation resulting from applying a
// Patch. Apply never performs I/O itself — it returns a plan the caller
// commits only after every op validates, matching spec §4.F's "operations
// are staged and committed only after all hunks validate."
type FileWrite struct {
	Path    string // destination path (post-move, for update-with-move)
	Delete  bool   // true for OpDelete: Path should be removed, Content ignored
	Content string // new file content, for OpAdd/OpUpdate
	OldPath string // set for a moved update, so the caller can remove it
}

// FileReader supplies a file's current content so Apply can compute
// updates without doing I/O itself.
type FileReader func(path string) (string, error)

// Apply runs every op in p in file order, producing a FileWrite per op.
// No write is returned unless every op in the whole patch validates.
func Apply(p *Patch, read FileReader) ([]FileWrite, error) {
	writes := make([]FileWrite, 0, len(p.Ops))
	for _, op := range p.Ops {
		switch op.Kind {
		case OpAdd:
			writes = append(writes, FileWrite{Path: op.Path, Content: strings.Join(op.AddLines, "\n") + "\n"})
		case OpDelete:
			writes = append(writes, FileWrite{Path: op.Path, Delete: true})
		case OpUpdate:
			original, err := read(op.Path)
			if err != nil {
				return nil, fmt.Errorf("patch: read %q: %w", op.Path, err)
			}
			updated, err := applyHunks(op.Path, original, op.Hunks)
			if err != nil {
				return nil, err
			}
			destPath := op.Path
			write := FileWrite{Path: destPath, Content: updated}
			if op.MoveTo != "" {
				write.Path = op.MoveTo
				write.OldPath = op.Path
			}
			writes = append(writes, write)
		}
	}
	return writes, nil
}

// applyHunks applies hunks to content in order, each hunk narrowing its
// search region by its preceding "@@ anchor" lines (multiple anchors
// narrow progressively, per spec §4.F: "multiple @@ lines narrow the
// match region in order").
func applyHunks(path, content string, hunks []Hunk) (string, error) {
	hadTrailingNewline := strings.HasSuffix(content, "\n")
	lines := splitLines(strings.TrimSuffix(content, "\n"))

	searchFrom := 0
	for _, h := range hunks {
		region := lines[searchFrom:]
		for _, anchor := range h.Anchors {
			offset, err := locateUnique(region, anchor, path, OpKind(0))
			if err != nil {
				return "", err
			}
			region = region[offset:]
			searchFrom += offset
		}

		ctxLines := contextAndDeleteLines(h)
		matchOffset, err := locateSpan(lines[searchFrom:], ctxLines, path)
		if err != nil {
			return "", err
		}
		start := searchFrom + matchOffset

		replacement := replacementLines(h)
		consumed := len(ctxLines)
		lines = append(lines[:start], append(replacement, lines[start+consumed:]...)...)
		searchFrom = start + len(replacement)
	}

	result := strings.Join(lines, "\n")
	if hadTrailingNewline || result != "" {
		result += "\n"
	}
	return result, nil
}

func contextAndDeleteLines(h Hunk) []string {
	var out []string
	for _, l := range h.Lines {
		if l.Kind == LineContext || l.Kind == LineDelete {
			out = append(out, l.Text)
		}
	}
	return out
}

func replacementLines(h Hunk) []string {
	var out []string
	for _, l := range h.Lines {
		if l.Kind == LineContext || l.Kind == LineInsert {
			out = append(out, l.Text)
		}
	}
	return out
}

// locateUnique finds the single line in region equal to anchor.
func locateUnique(region []string, anchor, path string, op OpKind) (int, error) {
	matches := []int{}
	for i, l := range region {
		if l == anchor {
			matches = append(matches, i)
		}
	}
	return requireUniqueMatch(matches, region, anchor, path, op)
}

// locateSpan finds the single contiguous position in region where span
// matches exactly, whitespace-significant.
func locateSpan(region, span []string, path string) (int, error) {
	if len(span) == 0 {
		return 0, nil
	}
	var matches []int
	for i := 0; i+len(span) <= len(region); i++ {
		if spanEqual(region[i:i+len(span)], span) {
			matches = append(matches, i)
		}
	}
	searched := span
	if len(searched) > 5 {
		searched = searched[:5]
	}
	if len(matches) == 0 {
		return 0, &ApplyError{Path: path, Op: OpUpdate, Reason: "no matching context/delete span found", Searched: searched}
	}
	if len(matches) > 1 {
		return 0, &ApplyError{Path: path, Op: OpUpdate, Reason: "ambiguous context/delete span (multiple matches)", Searched: searched}
	}
	return matches[0], nil
}

func requireUniqueMatch(matches []int, region []string, anchor, path string, op OpKind) (int, error) {
	searched := []string{anchor}
	if len(matches) == 0 {
		return 0, &ApplyError{Path: path, Op: op, Reason: "anchor not found", Searched: searched}
	}
	if len(matches) > 1 {
		return 0, &ApplyError{Path: path, Op: op, Reason: "ambiguous anchor (multiple matches)", Searched: searched}
	}
	return matches[0], nil
}

func spanEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
