// Package batch coordinates the two pipelines: regenerating presentation
// manifests from a bag's checksum manifest, and pushing a list of published
// manifests into the transcription service. Each run is driven by an
// explicit request value carrying the requester identity and all
// configuration; nothing here reads the environment, which keeps the
// pipelines testable without any mocking of globals.
package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/libarch/folio/transcribe"
)

// Status is the lifecycle of one upload job. A job moves strictly forward:
// Pending, Fetching, Downloading, Uploading, and then either Succeeded or
// Failed.
type Status int

const (
	StatusPending Status = iota
	StatusFetching
	StatusDownloading
	StatusUploading
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusFetching:
		return "Fetching"
	case StatusDownloading:
		return "Downloading"
	case StatusUploading:
		return "Uploading"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	}
	return "Unknown"
}

// MarshalJSON serializes a status by name, so reports are readable without
// this package's constants to hand.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON reads a status back from its name.
func (s *Status) UnmarshalJSON(b []byte) error {
	name := strings.Trim(string(b), `"`)
	for c := StatusPending; c <= StatusFailed; c++ {
		if c.String() == name {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", name)
}

// ErrNotAuthorized is returned when the requester of a batch is not on the
// allowlist. The batch is rejected before any job starts.
var ErrNotAuthorized = errors.New("requester not authorized")

// A Job is the in-memory state of one manifest upload. The orchestrator
// owns jobs exclusively during a run; they are only visible to others
// through the final Report.
type Job struct {
	ManifestURL string
	Status      Status
	Attempts    int
	LastError   error
}

// A Request names everything one upload batch needs. The requester must be
// present in the orchestrator's allowlist or the batch is rejected whole.
type Request struct {
	Requester    string
	ManifestURLs []string
	Collection   string
	Credentials  transcribe.Credentials
}

// An Outcome is the reported result of one job.
type Outcome struct {
	URL       string `json:"url"`
	Status    Status `json:"status"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempts  int    `json:"attempts"`
}

// A Report is the single artifact of a batch run. Outcomes are listed in
// the order the manifest URLs were submitted, whatever order the jobs
// finished in. A report is never mutated after it is returned.
type Report struct {
	Collection string    `json:"collection"`
	Outcomes   []Outcome `json:"outcomes"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
}

// Error kind names used in reports.
const (
	KindFetch         = "FetchError"
	KindSchema        = "SchemaError"
	KindDownload      = "DownloadError"
	KindUpload        = "UploadError"
	KindPartialUpload = "PartialUpload"
	KindCancelled     = "Cancelled"
)
