// Package iiif holds our internal form of a IIIF Presentation manifest and
// the logic to synthesize one from a bag's page listing and to merge it with
// a previously published version. The JSON serialization of these types is
// the wire format we publish and the one the upload pipeline fetches back.
package iiif

// A Manifest describes the structure and page order of one digitized
// document. Canvases appear in reading order; canvas ids are unique within
// a manifest.
type Manifest struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Canvases []Canvas `json:"items"`
}

// A Canvas is one page of a document. Image is the IIIF image service URL
// for the page; appending /info.json to it yields the image's capability
// document, which is how the downloader learns the available sizes.
type Canvas struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Label  string `json:"label"`
	Image  string `json:"image"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

const (
	// TypeManifest and TypeCanvas are the type markers used in the JSON
	// serialization.
	TypeManifest = "Manifest"
	TypeCanvas   = "Canvas"
)

// Equal compares two manifests structurally. Two manifests are equal when
// they have the same id and label and the same canvases in the same order.
func Equal(a, b Manifest) bool {
	if a.ID != b.ID || a.Label != b.Label || len(a.Canvases) != len(b.Canvases) {
		return false
	}
	for i := range a.Canvases {
		if a.Canvases[i] != b.Canvases[i] {
			return false
		}
	}
	return true
}
