package batch

import (
	"io"
	"log"

	"github.com/libarch/folio/bagit"
	"github.com/libarch/folio/iiif"
	"github.com/libarch/folio/manifests"
)

// A GenerateRequest asks for the published manifests of one collection to
// be regenerated from a bag's checksum manifest.
type GenerateRequest struct {
	Requester string
	Manifest  io.Reader // the raw manifest-md5.txt content
	Source    iiif.Source
	Overwrite bool
	DryRun    bool
}

// A GenerateResult reports what a regeneration run did. Written holds the
// write-set (the changed manifests); in a dry run it is what would have
// been written. Warnings collects the recovered per-line and per-document
// problems: unparseable manifest lines, paths outside the expected
// hierarchy, and failed manifest writes. Warnings never abort the run.
type GenerateResult struct {
	Written  []manifests.Change
	Warnings []error
}

// Generate runs the manifest generation pipeline: parse the checksum
// manifest, group its payload into documents, synthesize a candidate
// manifest per document, and diff against the stored set. Unless DryRun is
// set, changed manifests are persisted; each write is atomic and
// independent, so one failed write costs only that document.
//
// The run is single-threaded: manifest synthesis is CPU-light and the I/O
// is local. Callers must not run two generation batches against the same
// store concurrently; the store expects a single writer.
//
// An unauthorized requester gets ErrNotAuthorized and no work is done.
func (o *Orchestrator) Generate(ms manifests.Store, req GenerateRequest) (GenerateResult, error) {
	var result GenerateResult
	if !o.Authorized(req.Requester) {
		log.Printf("generation rejected: requester %q not allowlisted", req.Requester)
		return result, ErrNotAuthorized
	}

	entries, errs := bagit.ParseManifest(req.Manifest)
	result.Warnings = append(result.Warnings, errs...)

	docs, errs := bagit.GroupDocuments(entries)
	result.Warnings = append(result.Warnings, errs...)

	candidates := make(map[bagit.DocumentID]iiif.Manifest, len(docs))
	for id, pages := range docs {
		candidates[id] = req.Source.Synthesize(id, pages)
	}

	changes, errs := manifests.Diff(ms, candidates, req.Overwrite)
	result.Warnings = append(result.Warnings, errs...)
	if req.DryRun {
		result.Written = changes
		return result, nil
	}

	written, errs := manifests.Apply(ms, changes)
	result.Warnings = append(result.Warnings, errs...)
	result.Written = written
	log.Printf("generation for %s: %d documents, %d manifests written, %d warnings",
		req.Source.Collection, len(docs), len(written), len(result.Warnings))
	return result, nil
}
