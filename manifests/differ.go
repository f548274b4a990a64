package manifests

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/libarch/folio/bagit"
	"github.com/libarch/folio/iiif"
	"github.com/libarch/folio/store"
)

// A Change is one entry of a write-set: the merged manifest which should be
// stored for a document.
type Change struct {
	Document bagit.DocumentID
	Manifest iiif.Manifest
}

// A WriteError records a failure to persist one document's manifest. Other
// documents in the same run are unaffected by it.
type WriteError struct {
	Document bagit.DocumentID
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing manifest %s: %s", e.Document, e.Err)
}

// Diff merges each candidate manifest with its stored counterpart and
// returns the write-set: one Change per document whose stored manifest
// would differ from the merge result. Unchanged documents are excluded,
// which is what makes a second run over the same input a no-op. Nothing
// is persisted; this is the dry-run half of the differ.
//
// Comparison is structural, not textual. Candidates are processed in
// document id order so the returned write-set is deterministic.
func Diff(ms Store, candidates map[bagit.DocumentID]iiif.Manifest, overwrite bool) ([]Change, []error) {
	var changes []Change
	var errs []error
	for _, id := range sortedIDs(candidates) {
		existing, err := ms.Open(id)
		if err != nil && errors.Cause(err) != store.ErrNotFound {
			errs = append(errs, &WriteError{Document: id, Err: err})
			continue
		}
		merged := iiif.Merge(existing, candidates[id], overwrite)
		if iiif.Equal(existing, merged) {
			continue
		}
		changes = append(changes, Change{Document: id, Manifest: merged})
	}
	return changes, errs
}

// Apply persists a write-set. Each manifest write is independent: a failed
// write is reported as a *WriteError and does not roll back or block the
// writes for other documents. The returned changes are the ones actually
// persisted.
func Apply(ms Store, changes []Change) ([]Change, []error) {
	var applied []Change
	var errs []error
	for _, c := range changes {
		err := ms.Save(c.Document, c.Manifest)
		if err != nil {
			errs = append(errs, &WriteError{Document: c.Document, Err: err})
			continue
		}
		applied = append(applied, c)
	}
	return applied, errs
}

func sortedIDs(m map[bagit.DocumentID]iiif.Manifest) []bagit.DocumentID {
	ids := make([]bagit.DocumentID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
