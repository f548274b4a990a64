package server

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/libarch/folio/batch"
	"github.com/libarch/folio/iiif"
	"github.com/libarch/folio/manifests"
	"github.com/libarch/folio/store"
)

const bagFixture = `44d7180ff8e40372871a78d3e421fbd3  data/vol1/p001.tif
0a4b05e875a9f1a65b0dbcd6676078a1  data/vol1/p002.tif
9b06b88083b1a0e8366ab2166d888137  data/vol2/p001.jp2
`

func TestWelcome(t *testing.T) {
	text := getbody(t, "GET", "/", "", 200)
	if !strings.Contains(text, "Folio") {
		t.Errorf("Received %#v, expected a greeting", text)
	}
}

func TestAuthz(t *testing.T) {
	checkStatus(t, "GET", "/batches", "", 401)
	checkStatus(t, "GET", "/batches", "nosuchtoken", 401)
	checkStatus(t, "GET", "/batches", readToken, 200)
	// a read token cannot submit work
	checkStatus(t, "POST", "/batch", readToken, 401)
	checkStatus(t, "POST", "/generate/letters", readToken, 401)
}

func TestGenerateAndManifest(t *testing.T) {
	checkStatus(t, "GET", "/manifest/vol1", "", 404)

	text := uploadstring(t, "POST", "/generate/letters", adminToken, bagFixture, 200)
	var result struct {
		Written  []string `json:"written"`
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		t.Fatalf("Received %s decoding %#v", err.Error(), text)
	}
	if len(result.Written) != 2 || len(result.Warnings) != 0 {
		t.Fatalf("Received %v", result)
	}

	text = getbody(t, "GET", "/manifest/vol1", "", 200)
	var m iiif.Manifest
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("Received %s decoding %#v", err.Error(), text)
	}
	if len(m.Canvases) != 2 {
		t.Errorf("Received %d canvases, expected 2", len(m.Canvases))
	}

	// generating again changes nothing
	text = uploadstring(t, "POST", "/generate/letters", adminToken, bagFixture, 200)
	result.Written = nil
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		t.Fatalf("Received %s decoding %#v", err.Error(), text)
	}
	if len(result.Written) != 0 {
		t.Errorf("Received %v, expected no writes", result.Written)
	}

	text = getbody(t, "GET", "/manifests", readToken, 200)
	if !strings.Contains(text, "vol1") || !strings.Contains(text, "vol2") {
		t.Errorf("Received %#v, expected vol1 and vol2", text)
	}
}

func TestGenerateForbidden(t *testing.T) {
	// dan has a write token but is not on the allowlist
	uploadstring(t, "POST", "/generate/letters", outsiderToken, bagFixture, 403)
}

func TestSubmitBatch(t *testing.T) {
	// a manifest server with nothing on it, so the job fails at the fetch
	badsource := httptest.NewServer(http.NotFoundHandler())
	defer badsource.Close()

	checkStatus(t, "GET", "/batch/nosuchbatch", readToken, 404)

	body := `{"collection": "letters", "urls": ["` + badsource.URL + `/m/1"]}`
	text := uploadstring(t, "POST", "/batch", writeToken, body, 202)
	var sub struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(text), &sub); err != nil || sub.ID == "" {
		t.Fatalf("Received %#v, expected a batch id", text)
	}

	// poll until the background run finishes
	var view struct {
		Requester string        `json:"requester"`
		Status    string        `json:"status"`
		Report    *batch.Report `json:"report"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		text = getbody(t, "GET", "/batch/"+sub.ID, readToken, 200)
		if err := json.Unmarshal([]byte(text), &view); err != nil {
			t.Fatalf("Received %s decoding %#v", err.Error(), text)
		}
		if view.Status == "finished" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("batch %s did not finish", sub.ID)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if view.Requester != "bob" {
		t.Errorf("Received requester %v, expected bob", view.Requester)
	}
	if view.Report == nil || view.Report.Failed != 1 || view.Report.Succeeded != 0 {
		t.Fatalf("Received report %v", view.Report)
	}
	if view.Report.Outcomes[0].ErrorKind != "FetchError" {
		t.Errorf("Received kind %v, expected FetchError",
			view.Report.Outcomes[0].ErrorKind)
	}
}

func TestSubmitBatchBadRequest(t *testing.T) {
	uploadstring(t, "POST", "/batch", writeToken, `{"collection": "letters"}`, 400)
	uploadstring(t, "POST", "/batch", writeToken, `not json`, 400)
}

func uploadstring(t *testing.T, verb, route, token string, s string, expstatus int) string {
	req, err := http.NewRequest(verb, testServer.URL+route, strings.NewReader(s))
	if err != nil {
		t.Fatal("Problem creating request", err)
	}
	if token != "" {
		req.Header.Set("X-Api-Key", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(route, err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != expstatus {
		t.Errorf("%s: Expected status %d and received %d",
			route, expstatus, resp.StatusCode)
		return ""
	}
	body, _ := ioutil.ReadAll(resp.Body)
	return string(body)
}

func getbody(t *testing.T, verb, route, token string, expstatus int) string {
	resp := checkRoute(t, verb, route, token, expstatus)
	if resp != nil {
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(route, err)
		}
		resp.Body.Close()
		return string(body)
	}
	return ""
}

func checkStatus(t *testing.T, verb, route, token string, expstatus int) {
	resp := checkRoute(t, verb, route, token, expstatus)
	if resp != nil {
		resp.Body.Close()
	}
}

func checkRoute(t *testing.T, verb, route, token string, expstatus int) *http.Response {
	req, err := http.NewRequest(verb, testServer.URL+route, nil)
	if err != nil {
		t.Fatal("Problem creating request", err)
	}
	if token != "" {
		req.Header.Set("X-Api-Key", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(route, err)
		return nil
	}
	if resp.StatusCode != expstatus {
		t.Errorf("%s: Expected status %d and received %d",
			route, expstatus, resp.StatusCode)
		resp.Body.Close()
		return nil
	}
	return resp
}

const (
	adminToken    = "12345"
	writeToken    = "qwerty"
	readToken     = "zxcvb"
	outsiderToken = "asdfg"
)

var testServer *httptest.Server

func init() {
	const tokenfile = `alice admin 12345
bob write qwerty
carol read zxcvb
dan write asdfg
`
	validator, err := NewListDecoder(strings.NewReader(tokenfile))
	if err != nil {
		panic(err)
	}
	batchDB, err := NewQlBatchDB("memory")
	if err != nil {
		panic(err)
	}
	s := &RESTServer{
		Manifests: manifests.NewStore(store.NewMemory()),
		Source: iiif.Source{
			ImageBase:    "http://images.example.org/iiif",
			ManifestBase: "http://manifests.example.org",
		},
		Validator: validator,
		Allowlist: []string{"alice", "bob"},
		BatchDB:   batchDB,
	}
	s.batches = &batch.Orchestrator{
		Allowlist:     s.Allowlist,
		UploadHost:    "http://transcribe.example.org",
		MaxConcurrent: 2,
	}
	testServer = httptest.NewServer(s.addRoutes())
}
