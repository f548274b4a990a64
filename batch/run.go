package batch

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/libarch/folio/iiif"
	"github.com/libarch/folio/iiifapi"
	"github.com/libarch/folio/transcribe"
	"github.com/libarch/folio/util"
)

// An Orchestrator runs upload batches. Set the public fields and then call
// Run as often as needed; an orchestrator holds no per-batch state.
type Orchestrator struct {
	// Allowlist is the set of identities permitted to submit batches.
	Allowlist []string

	// UploadHost is the base URL of the transcription service.
	UploadHost string

	// MaxConcurrent caps the in-flight job count, so a batch cannot
	// exceed downstream rate limits. Zero means 2.
	MaxConcurrent int

	// MaxAttempts and Backoff configure download retries; see
	// iiifapi.Connection. Zero values take that package's defaults.
	MaxAttempts int
	Backoff     time.Duration

	// WorkDir is where per-job image scratch directories are made.
	// Empty means the system temp directory.
	WorkDir string
}

// Run executes one upload batch: for every manifest URL, fetch the
// manifest, download its images in canvas order, and push them to the
// transcription service as one document. Jobs run concurrently under the
// configured limit and fail independently; a batch always yields exactly
// one report, listing every submitted URL in submission order.
//
// If the requester is not allowlisted the batch is rejected immediately:
// zero jobs run and ErrNotAuthorized is returned with an empty report.
//
// Cancelling the context stops new jobs from starting; jobs already in
// flight fail cleanly with a cancellation reason. No job is left without an
// outcome in the report.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Report, error) {
	report := Report{Collection: req.Collection, Started: time.Now()}
	if !o.Authorized(req.Requester) {
		log.Printf("batch rejected: requester %q not allowlisted", req.Requester)
		report.Finished = time.Now()
		return report, ErrNotAuthorized
	}

	njobs := len(req.ManifestURLs)
	jobs := make([]Job, njobs)
	for i, u := range req.ManifestURLs {
		jobs[i] = Job{ManifestURL: u, Status: StatusPending}
	}

	conn := &iiifapi.Connection{MaxAttempts: o.MaxAttempts, Backoff: o.Backoff}
	upload := &transcribe.Connection{HostURL: o.UploadHost, Credentials: req.Credentials}

	maxc := o.MaxConcurrent
	if maxc <= 0 {
		maxc = 2
	}
	gate := util.NewGate(maxc)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			gate.Stop()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(njobs)
	for i := range jobs {
		go func(job *Job) {
			defer wg.Done()
			if !gate.Enter() {
				job.Status = StatusFailed
				job.LastError = ctx.Err()
				return
			}
			defer gate.Leave()
			o.runJob(ctx, job, conn, upload, req.Collection)
		}(&jobs[i])
	}
	wg.Wait()
	close(done)

	for i := range jobs {
		report.Outcomes = append(report.Outcomes, outcome(&jobs[i]))
		if jobs[i].Status == StatusSucceeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	report.Finished = time.Now()
	log.Printf("batch for %s done: %d succeeded, %d failed",
		req.Collection, report.Succeeded, report.Failed)
	return report, nil
}

// runJob walks a single job through its states. Attempts records the worst
// retry count any single download of the job needed, and at least 1 once
// any network work was attempted.
func (o *Orchestrator) runJob(ctx context.Context, job *Job,
	conn *iiifapi.Connection, upload *transcribe.Connection, collection string) {

	fail := func(err error) {
		job.Status = StatusFailed
		job.LastError = err
		if job.Attempts == 0 {
			job.Attempts = 1
		}
		log.Printf("job %s failed: %s", job.ManifestURL, err)
	}

	job.Status = StatusFetching
	m, err := conn.FetchManifest(ctx, job.ManifestURL)
	if err != nil {
		fail(err)
		return
	}

	job.Status = StatusDownloading
	dir, err := ioutil.TempDir(o.WorkDir, "folio-job-")
	if err != nil {
		fail(err)
		return
	}
	defer os.RemoveAll(dir)

	var images []string
	for i, canvas := range m.Canvases {
		imgURL, err := conn.ResolveLargest(ctx, canvas.Image)
		if err != nil {
			fail(err)
			return
		}
		dest := filepath.Join(dir, fmt.Sprintf("%06d%s", i, imageExt(imgURL)))
		attempts, err := conn.DownloadImage(ctx, imgURL, dest)
		if attempts > job.Attempts {
			job.Attempts = attempts
		}
		if err != nil {
			fail(err)
			return
		}
		images = append(images, dest)
	}

	job.Status = StatusUploading
	err = upload.UploadDocument(ctx, collection, documentTitle(m, job.ManifestURL), images)
	if err != nil {
		fail(err)
		return
	}
	if job.Attempts == 0 {
		job.Attempts = 1
	}
	job.Status = StatusSucceeded
}

// Authorized reports whether requester is on the allowlist.
func (o *Orchestrator) Authorized(requester string) bool {
	for _, id := range o.Allowlist {
		if id == requester {
			return true
		}
	}
	return false
}

// documentTitle prefers the manifest's label and falls back to the last
// path segment of its URL.
func documentTitle(m iiif.Manifest, manifestURL string) string {
	if m.Label != "" {
		return m.Label
	}
	if u, err := url.Parse(manifestURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return manifestURL
}

// imageExt guesses a file extension for a downloaded image from its URL.
func imageExt(imgURL string) string {
	ext := path.Ext(imgURL)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "/%,") {
		ext = ".jpg"
	}
	return ext
}

// outcome freezes a finished job into its report entry.
func outcome(job *Job) Outcome {
	out := Outcome{
		URL:      job.ManifestURL,
		Status:   job.Status,
		Attempts: job.Attempts,
	}
	if job.LastError != nil {
		out.ErrorKind = classify(job.LastError)
		out.Error = job.LastError.Error()
	}
	return out
}

// classify maps an error to the kind name reported for it. A cancelled
// context shows up wrapped inside whatever call was in flight, so that
// check runs before the type switch: every job cut short by cancellation
// reports the same kind, no matter how far it got.
func classify(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	switch e := err.(type) {
	case *iiifapi.FetchError:
		return KindFetch
	case *iiifapi.SchemaError:
		return KindSchema
	case *iiifapi.DownloadError:
		return KindDownload
	case *transcribe.UploadError:
		if e.Partial() {
			return KindPartialUpload
		}
		return KindUpload
	}
	return "Error"
}
