package iiif

import (
	"net/url"
	"path"
	"strings"

	"github.com/libarch/folio/bagit"
)

// A Source holds the fixed URL pieces a manifest is synthesized against.
// ImageBase is the root of the IIIF image server, ManifestBase the root
// under which the generated manifests are published. Collection is the
// identifier of the collection the bag belongs to; it becomes part of both
// the manifest id and every image service URL.
type Source struct {
	ImageBase    string
	ManifestBase string
	Collection   string
}

// ManifestID returns the published id (and URL) of the manifest for the
// given document.
func (s Source) ManifestID(id bagit.DocumentID) string {
	return joinURL(s.ManifestBase, s.Collection, string(id))
}

// Synthesize builds the candidate manifest for one document. It is pure URL
// construction; no network access happens here. Canvas order follows the
// page order handed in, which GroupDocuments has already sorted.
func (s Source) Synthesize(id bagit.DocumentID, pages []bagit.Page) Manifest {
	m := Manifest{
		ID:    s.ManifestID(id),
		Type:  TypeManifest,
		Label: string(id),
	}
	for _, p := range pages {
		m.Canvases = append(m.Canvases, Canvas{
			ID:    m.ID + "/canvas/" + url.PathEscape(p.Identifier),
			Type:  TypeCanvas,
			Label: p.Identifier,
			// the image server knows images by collection and file name
			Image: joinURL(s.ImageBase, s.Collection, path.Base(p.Path)),
		})
	}
	return m
}

// joinURL joins pieces with single slashes, tolerating trailing slashes on
// the base.
func joinURL(base string, pieces ...string) string {
	result := strings.TrimRight(base, "/")
	for _, p := range pieces {
		result += "/" + url.PathEscape(p)
	}
	return result
}
