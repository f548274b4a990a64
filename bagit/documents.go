package bagit

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// A DocumentID names one logical document inside a bag, e.g. one bound
// volume. It is the name of the document's directory under the payload
// directory, so the same bag layout always produces the same id.
type DocumentID string

// A Page is a single payload file placed within its document. Seq is the
// page's position in the document's reading order, counting from 0.
// Identifier is the page's file name without its extension, used for canvas
// ids and labels; the image server knows the image by its full file name.
type Page struct {
	Document   DocumentID
	Seq        int
	Identifier string
	Path       string
}

// A StructureError records a payload path which does not fit the expected
// data/<document>/<page> hierarchy.
type StructureError struct {
	Path string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("path %q does not match data/<document>/<page>", e.Path)
}

// GroupDocuments arranges the payload entries of a bag into documents. Only
// entries under the payload directory are considered; tag files and tag
// manifests are ignored. Each payload path must have the form
// data/<document>/<page file>; paths at any other depth are reported as a
// *StructureError and skipped.
//
// Pages within a document are ordered by natural sort of their paths, so
// p2.tif sorts before p10.tif no matter the order of the manifest lines.
func GroupDocuments(entries []Entry) (map[DocumentID][]Page, []error) {
	var errs []error
	docs := make(map[DocumentID][]Page)
	for _, e := range entries {
		if !strings.HasPrefix(e.Path, payloadDir) {
			continue
		}
		rest := e.Path[len(payloadDir):]
		pieces := strings.Split(rest, "/")
		if len(pieces) != 2 || pieces[0] == "" || pieces[1] == "" {
			errs = append(errs, &StructureError{Path: e.Path})
			continue
		}
		id := DocumentID(pieces[0])
		name := pieces[1]
		docs[id] = append(docs[id], Page{
			Document:   id,
			Identifier: strings.TrimSuffix(name, path.Ext(name)),
			Path:       e.Path,
		})
	}
	for id, pages := range docs {
		sort.SliceStable(pages, func(i, j int) bool {
			return naturalLess(pages[i].Path, pages[j].Path)
		})
		for i := range pages {
			pages[i].Seq = i
		}
		docs[id] = pages
	}
	return docs, errs
}

// naturalLess compares two strings, treating runs of digits as numbers, so
// "p2" < "p10". Digit runs equal in value but not in spelling (e.g. "p02"
// vs "p2") are tie-broken by the usual string comparison.
func naturalLess(a, b string) bool {
	tie := 0
	for a != "" && b != "" {
		adigit := isDigit(a[0])
		bdigit := isDigit(b[0])
		switch {
		case adigit && bdigit:
			anum, arest := splitDigits(a)
			bnum, brest := splitDigits(b)
			if c := compareNumeric(anum, bnum); c != 0 {
				return c < 0
			}
			if tie == 0 {
				tie = strings.Compare(anum, bnum)
			}
			a, b = arest, brest
		case adigit != bdigit:
			return a[0] < b[0]
		case a[0] != b[0]:
			return a[0] < b[0]
		default:
			a, b = a[1:], b[1:]
		}
	}
	if a != b {
		return a < b
	}
	return tie < 0
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

// splitDigits removes the leading run of digits from s and returns it along
// with the remainder of s.
func splitDigits(s string) (string, string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// compareNumeric compares two digit strings by numeric value. It compares by
// length and then lexically, to sidestep overflow on long digit runs.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
