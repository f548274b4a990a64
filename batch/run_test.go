package batch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/libarch/folio/transcribe"
)

// testFixture stands up an image server, a manifest server, and a fake
// transcription service for one test.
type testFixture struct {
	manifests *httptest.Server
	upload    *httptest.Server

	m        sync.Mutex
	uploaded map[string][]string // document title -> image names
	badPages map[string]int     // image identifier -> status to return
	flaky    map[string]int     // image identifier -> failures before success
}

func newFixture() *testFixture {
	f := &testFixture{
		uploaded: make(map[string][]string),
		badPages: make(map[string]int),
		flaky:    make(map[string]int),
	}

	mux := http.NewServeMux()
	// manifest endpoint: /m/<doc>?pages=n
	mux.HandleFunc("/m/", func(w http.ResponseWriter, r *http.Request) {
		doc := strings.TrimPrefix(r.URL.Path, "/m/")
		if doc == "missing" {
			w.WriteHeader(404)
			return
		}
		var items []string
		for i := 1; i <= 2; i++ {
			items = append(items, fmt.Sprintf(
				`{"id": "c%d", "type": "Canvas", "label": "p%03d", "image": %q}`,
				i, i, f.manifests.URL+"/img/"+doc+"-p"+fmt.Sprint(i)))
		}
		fmt.Fprintf(w, `{"id": %q, "type": "Manifest", "label": %q, "items": [%s]}`,
			r.URL.String(), doc, strings.Join(items, ","))
	})
	// image endpoints: /img/<id>/info.json and /img/<id>/full/...
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/img/")
		id := strings.SplitN(rest, "/", 2)[0]
		if strings.HasSuffix(r.URL.Path, "/info.json") {
			fmt.Fprint(w, `{"sizes": [{"width": 100, "height": 150}]}`)
			return
		}
		f.m.Lock()
		if status, ok := f.badPages[id]; ok {
			f.m.Unlock()
			w.WriteHeader(status)
			return
		}
		if n := f.flaky[id]; n > 0 {
			f.flaky[id] = n - 1
			f.m.Unlock()
			w.WriteHeader(503)
			return
		}
		f.m.Unlock()
		fmt.Fprint(w, "bytes-"+id)
	})
	f.manifests = httptest.NewServer(mux)

	umux := http.NewServeMux()
	umux.HandleFunc("/collections/", func(w http.ResponseWriter, r *http.Request) {
		title := r.URL.Query().Get("title")
		fmt.Fprintf(w, `{"id": %q}`, "doc-"+title)
	})
	umux.HandleFunc("/documents/", func(w http.ResponseWriter, r *http.Request) {
		pieces := strings.Split(r.URL.Path, "/")
		docID := pieces[2]
		f.m.Lock()
		f.uploaded[docID] = append(f.uploaded[docID], r.Header.Get("X-Image-Name"))
		f.m.Unlock()
		w.WriteHeader(201)
	})
	f.upload = httptest.NewServer(umux)
	return f
}

func (f *testFixture) close() {
	f.manifests.Close()
	f.upload.Close()
}

func (f *testFixture) orchestrator() *Orchestrator {
	return &Orchestrator{
		Allowlist:     []string{"curator"},
		UploadHost:    f.upload.URL,
		MaxConcurrent: 2,
		MaxAttempts:   5,
		Backoff:       time.Millisecond,
	}
}

func (f *testFixture) request(docs ...string) Request {
	req := Request{
		Requester:   "curator",
		Collection:  "letters",
		Credentials: transcribe.Credentials{User: "u", Password: "p"},
	}
	for _, d := range docs {
		req.ManifestURLs = append(req.ManifestURLs, f.manifests.URL+"/m/"+d)
	}
	return req
}

func TestRunIsolation(t *testing.T) {
	f := newFixture()
	defer f.close()

	// url #3 of 5 refers to a manifest that always 404s
	req := f.request("vol1", "vol2", "missing", "vol4", "vol5")
	report, err := f.orchestrator().Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if report.Succeeded != 4 || report.Failed != 1 {
		t.Fatalf("counts %d/%d, expected 4/1", report.Succeeded, report.Failed)
	}
	if len(report.Outcomes) != 5 {
		t.Fatalf("Received %d outcomes, expected 5", len(report.Outcomes))
	}
	// outcomes come back in submission order
	for i, out := range report.Outcomes {
		if out.URL != req.ManifestURLs[i] {
			t.Errorf("outcome %d is for %s, expected %s", i, out.URL, req.ManifestURLs[i])
		}
	}
	bad := report.Outcomes[2]
	if bad.Status != StatusFailed || bad.ErrorKind != KindFetch {
		t.Errorf("outcome 3 is %v/%s, expected Failed/FetchError", bad.Status, bad.ErrorKind)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if report.Outcomes[i].Status != StatusSucceeded {
			t.Errorf("outcome %d is %v, expected Succeeded", i, report.Outcomes[i].Status)
		}
	}

	// uploads preserved page order
	f.m.Lock()
	defer f.m.Unlock()
	if len(f.uploaded["doc-vol1"]) != 2 {
		t.Errorf("doc-vol1 received %v", f.uploaded["doc-vol1"])
	}
}

func TestRunRetryAccounting(t *testing.T) {
	f := newFixture()
	defer f.close()

	// the first page of vol1 fails twice before succeeding
	f.flaky["vol1-p1"] = 2
	report, err := f.orchestrator().Run(context.Background(), f.request("vol1"))
	if err != nil {
		t.Fatal(err)
	}
	out := report.Outcomes[0]
	if out.Status != StatusSucceeded {
		t.Fatalf("job %v: %s", out.Status, out.Error)
	}
	if out.Attempts != 3 {
		t.Errorf("Received %d attempts, expected 3", out.Attempts)
	}
}

func TestRunRetryCeiling(t *testing.T) {
	f := newFixture()
	defer f.close()

	f.flaky["vol1-p1"] = 100 // never recovers within the ceiling
	report, err := f.orchestrator().Run(context.Background(), f.request("vol1"))
	if err != nil {
		t.Fatal(err)
	}
	out := report.Outcomes[0]
	if out.Status != StatusFailed || out.ErrorKind != KindDownload {
		t.Fatalf("outcome %v/%s, expected Failed/DownloadError", out.Status, out.ErrorKind)
	}
	if out.Attempts != 5 {
		t.Errorf("Received %d attempts, expected 5", out.Attempts)
	}
}

func TestRunTerminalDownload(t *testing.T) {
	f := newFixture()
	defer f.close()

	f.badPages["vol1-p1"] = 403 // forbidden is not retried
	report, err := f.orchestrator().Run(context.Background(), f.request("vol1"))
	if err != nil {
		t.Fatal(err)
	}
	out := report.Outcomes[0]
	if out.Status != StatusFailed || out.Attempts != 1 {
		t.Errorf("outcome %v with %d attempts, expected Failed with 1", out.Status, out.Attempts)
	}
}

func TestRunAuthorizationGate(t *testing.T) {
	f := newFixture()
	defer f.close()

	req := f.request("vol1")
	req.Requester = "stranger"
	report, err := f.orchestrator().Run(context.Background(), req)
	if err != ErrNotAuthorized {
		t.Fatalf("Received error %v, expected ErrNotAuthorized", err)
	}
	if len(report.Outcomes) != 0 {
		t.Errorf("Received %d outcomes, expected 0", len(report.Outcomes))
	}
	f.m.Lock()
	defer f.m.Unlock()
	if len(f.uploaded) != 0 {
		t.Error("jobs ran for an unauthorized requester")
	}
}

func TestRunCancellation(t *testing.T) {
	f := newFixture()
	defer f.close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before the batch starts
	report, err := f.orchestrator().Run(ctx, f.request("vol1", "vol2", "vol3"))
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Outcomes) != 3 {
		t.Fatalf("Received %d outcomes, expected 3", len(report.Outcomes))
	}
	for i, out := range report.Outcomes {
		if out.Status != StatusFailed {
			t.Errorf("outcome %d is %v, expected Failed", i, out.Status)
		}
		// jobs stopped at the gate and jobs already in flight report
		// the same reason
		if out.ErrorKind != KindCancelled {
			t.Errorf("outcome %d has kind %v, expected %v", i, out.ErrorKind, KindCancelled)
		}
	}
}
