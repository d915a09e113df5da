package patch

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffMatchPatch implements Engine on top of diff-match-patch. Edits are
// serialized in the library's patch text format, which is what the
// clients speak as well.
type DiffMatchPatch struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

func NewDiffMatchPatch() *DiffMatchPatch {
	return &DiffMatchPatch{
		dmp: diffmatchpatch.New(),
	}
}

func (e *DiffMatchPatch) Diff(oldContent, newContent string) (string, error) {
	diffs := e.dmp.DiffMain(oldContent, newContent, false)
	patches := e.dmp.PatchMake(oldContent, diffs)
	return e.dmp.PatchToText(patches), nil
}

func (e *DiffMatchPatch) Apply(content, edits string) (string, bool, error) {
	if edits == "" {
		return content, true, nil
	}

	patches, err := e.dmp.PatchFromText(edits)
	if err != nil {
		return "", false, fmt.Errorf("failed to parse edits: %w", err)
	}

	applied, results := e.dmp.PatchApply(patches, content)

	clean := true
	for _, ok := range results {
		if !ok {
			clean = false
			break
		}
	}

	return applied, clean, nil
}
