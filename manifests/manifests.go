// Package manifests persists the published set of presentation manifests,
// one JSON document per DocumentID, on top of a store.Store. It also
// provides the differ which decides the minimal set of store writes a
// regeneration run needs to make.
//
// The store is the only durable artifact of the generation pipeline. Writes
// are per-document and atomic; callers are expected to serialize whole
// regeneration runs against the same store (single-writer discipline), but
// no locking is done here.
package manifests

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/libarch/folio/bagit"
	"github.com/libarch/folio/iiif"
	"github.com/libarch/folio/store"
)

// Store wraps a store.Store and serializes manifests as JSON under their
// document ids.
type Store struct {
	s store.Store
}

// NewStore creates a manifest store using the provided store for storage.
func NewStore(s store.Store) Store {
	return Store{s: s}
}

// ErrNoManifest is returned by Open when no manifest is stored for the
// given document.
var ErrNoManifest = store.ErrNotFound

// Open reads the manifest stored for the given document.
func (ms Store) Open(id bagit.DocumentID) (iiif.Manifest, error) {
	var m iiif.Manifest
	r, err := ms.s.Open(string(id))
	if err != nil {
		return m, err
	}
	dec := json.NewDecoder(r)
	err = dec.Decode(&m)
	err2 := r.Close()
	if err == nil {
		err = err2
	}
	return m, errors.Wrapf(err, "open manifest %s", id)
}

// Save persists the manifest for the given document. The underlying store
// write is atomic: either the whole new manifest replaces the old one, or
// the old one is left untouched.
func (ms Store) Save(id bagit.DocumentID, m iiif.Manifest) error {
	w, err := ms.s.Create(string(id))
	if err != nil {
		return errors.Wrapf(err, "save manifest %s", id)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err = enc.Encode(m)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	return errors.Wrapf(err, "save manifest %s", id)
}

// List returns the ids of all stored manifests, sorted.
func (ms Store) List() ([]bagit.DocumentID, error) {
	keys, err := ms.s.ListPrefix("")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	result := make([]bagit.DocumentID, 0, len(keys))
	for _, k := range keys {
		result = append(result, bagit.DocumentID(k))
	}
	return result, nil
}
