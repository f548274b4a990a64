package bagit

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// A ParseError records a manifest line which could not be parsed. Line
// numbers are 1-based.
type ParseError struct {
	Line int
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest line %d: cannot parse %q", e.Line, e.Text)
}

// ParseManifest reads a checksum manifest, e.g. the content of a
// manifest-md5.txt file, and returns one Entry per parseable line. Each line
// has the form
//
//     <checksum> <relative path>
//
// with the two fields separated by a run of whitespace. Only the first run
// of whitespace is significant, since paths may themselves contain spaces.
//
// A line which does not have both fields is reported as a *ParseError in the
// returned error list; parsing continues with the next line, so one bad line
// does not lose the rest of the file. Blank lines are skipped.
func ParseManifest(r io.Reader) ([]Entry, []error) {
	var entries []Entry
	var errs []error
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}
		i := strings.IndexFunc(line, unicode.IsSpace)
		if i <= 0 {
			errs = append(errs, &ParseError{Line: lineno, Text: line})
			continue
		}
		path := strings.TrimLeftFunc(line[i:], unicode.IsSpace)
		if path == "" {
			errs = append(errs, &ParseError{Line: lineno, Text: line})
			continue
		}
		entries = append(entries, Entry{
			Checksum: line[:i],
			Path:     path,
		})
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, err)
	}
	return entries, errs
}
