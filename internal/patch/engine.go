package patch

// Engine is the diff/patch capability the session protocol consumes.
// Diff must produce edits that regenerate newContent from oldContent
// exactly; Apply is best-effort and reports whether every hunk landed.
// A false clean result is not an error: the next diff cycle heals drift.
type Engine interface {
	Diff(oldContent, newContent string) (string, error)
	Apply(content, edits string) (newContent string, clean bool, err error)
}
