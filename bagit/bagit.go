// Package bagit implements enough of the BagIt specification to read the
// checksum manifests of the bags we receive, and to arrange the payload
// files they list into the collection/document/page hierarchy the manifest
// generation pipeline works with.
//
// Specific items not implemented are bag creation, checksum verification,
// fetch files, and holey bags. Bags are assumed to have been verified by an
// external tool before they reach us.
//
// The BagIt spec can be found at https://tools.ietf.org/html/draft-kunze-bagit-11.
package bagit

// An Entry is one line of a bag's checksum manifest: the checksum for a
// single file and the file's path relative to the bag root.
type Entry struct {
	Checksum string
	Path     string
}

// payloadDir is the directory under the bag root holding the payload files.
// Files anywhere else (tag files, tag manifests) are not part of the payload.
const payloadDir = "data/"
