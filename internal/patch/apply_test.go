package patch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
)

func fakeReader(files map[string]string) FileReader {
	return func(path string) (string, error) {
		content, ok := files[path]
		if !ok {
			return "", fmt.Errorf("not found: %s", path)
		}
		return content, nil
	}
}

func TestApplyUpdateSingleHunk(t *testing.T) {
	original := "line1\nline2\nline3\n"
	doc := "*** Begin Patch\n" +
		"*** Update File: f.go\n" +
		" line1\n" +
		"-line2\n" +
		"+replaced\n" +
		" line3\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	writes, err := Apply(p, fakeReader(map[string]string{"f.go": original}))
	if err != nil {
		t.Fatal(err)
	}
	want := "line1\nreplaced\nline3\n"
	if writes[0].Content != want {
		t.Fatalf("got %q, want %q", writes[0].Content, want)
	}
}

func TestApplyRejectsAmbiguousMatch(t *testing.T) {
	original := "dup\nmid\ndup\nmid\n"
	doc := "*** Begin Patch\n" +
		"*** Update File: f.go\n" +
		" dup\n" +
		"-mid\n" +
		"+fixed\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Apply(p, fakeReader(map[string]string{"f.go": original}))
	if err == nil {
		t.Fatal("expected ambiguous-match error")
	}
	var applyErr *ApplyError
	if !asApplyError(err, &applyErr) {
		t.Fatalf("expected *ApplyError, got %T: %v", err, err)
	}
}

func TestApplyRejectsMissingContext(t *testing.T) {
	original := "a\nb\nc\n"
	doc := "*** Begin Patch\n" +
		"*** Update File: f.go\n" +
		" nonexistent\n" +
		"-b\n" +
		"+fixed\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Apply(p, fakeReader(map[string]string{"f.go": original})); err == nil {
		t.Fatal("expected missing-context error")
	}
}

func TestApplyAnchorNarrowsMultipleHunks(t *testing.T) {
	original := "func a() {\n return 1\n}\n\nfunc b() {\n return 1\n}\n"
	doc := "*** Begin Patch\n" +
		"*** Update File: f.go\n" +
		"@@ func b() {\n" +
		"- return 1\n" +
		"+ return 2\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	writes, err := Apply(p, fakeReader(map[string]string{"f.go": original}))
	if err != nil {
		t.Fatal(err)
	}
	want := "func a() {\n return 1\n}\n\nfunc b() {\n return 2\n}\n"
	if writes[0].Content != want {
		t.Fatalf("got %q, want %q", writes[0].Content, want)
	}
}

func TestApplyAddAndDelete(t *testing.T) {
	doc := "*** Begin Patch\n" +
		"*** Add File: new.go\n" +
		"+package new\n" +
		"*** Delete File: old.go\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	writes, err := Apply(p, fakeReader(map[string]string{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(writes) != 2 || writes[0].Path != "new.go" || !writes[1].Delete {
		t.Fatalf("unexpected writes: %+v", writes)
	}
}

// TestApplyReversibilityAgainstDiffMatchPatch cross-checks the engine's own
// hunk application against an independent oracle: diffmatchpatch computes a
// patch between original and target, and the engine's own patch (built by
// hand from the same edit) must produce content whose diff from target is
// empty — i.e. the two patching routes converge (spec §8, SPEC_FULL.md §4.F).
func TestApplyReversibilityAgainstDiffMatchPatch(t *testing.T) {
	original := "alpha\nbeta\ngamma\ndelta\n"
	target := "alpha\nBETA\ngamma\ndelta\n"

	doc := "*** Begin Patch\n" +
		"*** Update File: f.go\n" +
		" alpha\n" +
		"-beta\n" +
		"+BETA\n" +
		" gamma\n" +
		"*** End Patch\n"
	p, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	writes, err := Apply(p, fakeReader(map[string]string{"f.go": original}))
	if err != nil {
		t.Fatal(err)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(writes[0].Content, target, false)
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			t.Fatalf("engine output diverges from independent oracle target: %q vs %q (diff %+v)", writes[0].Content, target, diffs)
		}
	}

	// And the oracle's own patch, applied to original, must reproduce the
	// same content the engine produced — the two routes converge.
	oraclePatches := dmp.PatchMake(original, target)
	oracleResult, _ := dmp.PatchApply(oraclePatches, original)
	if strings.TrimSpace(oracleResult) != strings.TrimSpace(writes[0].Content) {
		t.Fatalf("oracle result %q != engine result %q", oracleResult, writes[0].Content)
	}
}

func asApplyError(err error, target **ApplyError) bool {
	if ae, ok := err.(*ApplyError); ok {
		*target = ae
		return true
	}
	return false
}
