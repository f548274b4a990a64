// Package server provides the REST interface to folio. It accepts batch
// upload requests, runs manifest generation, serves the published
// manifests, and lets requesters poll for batch reports. Triggering
// mechanics beyond HTTP (issue trackers, chat bots) are a caller concern;
// whatever the trigger, it lands here as a plain request.
package server

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/libarch/folio/bagit"
	"github.com/libarch/folio/batch"
	"github.com/libarch/folio/iiif"
	"github.com/libarch/folio/manifests"
	"github.com/libarch/folio/transcribe"
)

// Version is the server's version string, set at build time.
var Version = "devel"

// RESTServer holds the configuration for a folio REST API server.
//
// Set the public fields and then call Run. Run will listen on the given
// port and handle requests. Do not change any fields after calling Run.
type RESTServer struct {
	// Port number to listen on. Defaults to 15000.
	PortNumber string
	PProfPort  string

	// Manifests is the published manifest set.
	Manifests manifests.Store

	// Source gives the URL pieces manifests are synthesized against.
	Source iiif.Source

	// Validator does authentication by validating any user tokens
	// presented to the API. If this is nil then no authentication will
	// be done.
	Validator TokenDecoder

	// Allowlist names the identities allowed to submit batch and
	// generation requests. If empty, the users of the Validator's token
	// list are used (when the Validator is a list decoder).
	Allowlist []string

	// UploadHost is the base URL of the transcription service, and
	// UploadCredentials the account used when pushing documents to it.
	// The credentials are opaque: they are handed to the uploader and
	// appear nowhere else.
	UploadHost        string
	UploadCredentials transcribe.Credentials

	// MaxConcurrent caps in-flight upload jobs per batch.
	MaxConcurrent int

	// Pass in a dial command to use a MySQL server for the batch
	// database. Otherwise the lightweight ql database is used, placed
	// inside CacheDir, or in memory if CacheDir is empty.
	MySQL    string
	CacheDir string

	// BatchDB keeps batch reports. If nil, one is set up according to
	// MySQL and CacheDir.
	BatchDB BatchDB

	batches *batch.Orchestrator
	server  httpdown.Server
	genm    sync.Mutex // serializes generation runs against Manifests
}

// Run initializes the server and then blocks, listening for and handling
// http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting Folio Server version %s", Version)

	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NewNobodyDecoder()
	}
	if len(s.Allowlist) == 0 {
		if ld, ok := s.Validator.(interface{ Users() []string }); ok {
			s.Allowlist = ld.Users()
		}
	}
	log.Printf("Allowlist has %d entries", len(s.Allowlist))

	if s.BatchDB == nil {
		if s.MySQL != "" {
			log.Printf("Using MySQL")
			db, err := NewMysqlBatchDB(s.MySQL)
			if err != nil {
				return err
			}
			s.BatchDB = db
		} else {
			path := "memory"
			if s.CacheDir != "" {
				path = filepath.Join(s.CacheDir, "folio.ql")
			}
			log.Printf("Using internal database at %s", path)
			db, err := NewQlBatchDB(path)
			if err != nil {
				return err
			}
			s.BatchDB = db
		}
	}

	s.batches = &batch.Orchestrator{
		Allowlist:     s.Allowlist,
		UploadHost:    s.UploadHost,
		MaxConcurrent: s.MaxConcurrent,
	}

	if s.PortNumber == "" {
		s.PortNumber = "15000"
	}
	// for pprof
	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	log.Println("Listening on", s.PortNumber)

	var err error
	h := httpdown.HTTP{}
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop will stop the server and return when all the server goroutines have
// exited and the socket closed.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		{"POST", "/batch", RoleWrite, s.SubmitBatchHandler},
		{"GET", "/batch/:id", RoleRead, s.BatchHandler},
		{"GET", "/batches", RoleRead, s.ListBatchesHandler},

		{"POST", "/generate/:collection", RoleWrite, s.GenerateHandler},

		{"GET", "/manifest/:id", RoleUnknown, s.ManifestHandler},
		{"GET", "/manifests", RoleRead, s.ListManifestsHandler},

		// other
		{"GET", "/", RoleUnknown, WelcomeHandler},
		{"GET", "/debug/vars", RoleUnknown, VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// General route handlers and convenience functions

// WelcomeHandler identifies the server.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "Folio (%s)\n", Version)
}

// VarHandler adapts the expvar default handler to the httprouter three parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Validator.TokenDecode(token)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}

		// is role valid?
		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}

		ps = append(ps, httprouter.Param{Key: "username", Value: user})
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

// A batchSubmission is the request body for SubmitBatchHandler.
type batchSubmission struct {
	Collection   string   `json:"collection"`
	ManifestURLs []string `json:"urls"`
}

// SubmitBatchHandler handles requests to POST /batch. The body names the
// target collection and the manifest URLs to upload. The batch runs in the
// background; the response carries the batch id to poll.
func (s *RESTServer) SubmitBatchHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requester := ps.ByName("username")
	var sub batchSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	if sub.Collection == "" || len(sub.ManifestURLs) == 0 {
		w.WriteHeader(400)
		fmt.Fprintln(w, "need a collection and at least one manifest url")
		return
	}
	if !s.batches.Authorized(requester) {
		w.WriteHeader(403)
		fmt.Fprintln(w, batch.ErrNotAuthorized.Error())
		return
	}

	id := randomid()
	if err := s.BatchDB.NewBatch(id, requester, sub.Collection); err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	req := batch.Request{
		Requester:    requester,
		ManifestURLs: sub.ManifestURLs,
		Collection:   sub.Collection,
		Credentials:  s.UploadCredentials,
	}
	go func() {
		report, err := s.batches.Run(context.Background(), req)
		if err != nil {
			log.Printf("batch %s: %s", id, err)
		}
		if err := s.BatchDB.FinishBatch(id, report); err != nil {
			log.Printf("batch %s: %s", id, err)
		}
	}()

	w.WriteHeader(202)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// BatchHandler handles requests to GET /batch/:id, returning the batch
// record. The report member is absent while the batch is still running.
func (s *RESTServer) BatchHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rec := s.BatchDB.LookupBatch(ps.ByName("id"))
	if rec == nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "Batch Not Found")
		return
	}
	writeJSON(w, batchView(rec))
}

// ListBatchesHandler handles requests to GET /batches, returning the most
// recent batch records, newest first. The limit query parameter caps the
// count; the default is 20.
func (s *RESTServer) ListBatchesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	recs := s.BatchDB.ListBatches(limit)
	result := make([]interface{}, 0, len(recs))
	for i := range recs {
		result = append(result, batchView(&recs[i]))
	}
	writeJSON(w, result)
}

// GenerateHandler handles requests to POST /generate/:collection. The body
// is the raw content of the bag's manifest-md5.txt. Query parameters
// overwrite and dryrun select the merge and persistence behavior.
// Generation runs are serialized: the manifest store expects one writer.
func (s *RESTServer) GenerateHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	src := s.Source
	src.Collection = ps.ByName("collection")
	req := batch.GenerateRequest{
		Requester: ps.ByName("username"),
		Manifest:  r.Body,
		Source:    src,
		Overwrite: boolParam(r, "overwrite"),
		DryRun:    boolParam(r, "dryrun"),
	}
	s.genm.Lock()
	result, err := s.batches.Generate(s.Manifests, req)
	s.genm.Unlock()
	if err == batch.ErrNotAuthorized {
		w.WriteHeader(403)
		fmt.Fprintln(w, err.Error())
		return
	}
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}

	var view struct {
		Written  []string `json:"written"`
		Warnings []string `json:"warnings"`
	}
	view.Written = []string{}
	view.Warnings = []string{}
	for _, c := range result.Written {
		view.Written = append(view.Written, string(c.Document))
	}
	for _, warn := range result.Warnings {
		view.Warnings = append(view.Warnings, warn.Error())
	}
	writeJSON(w, view)
}

// ManifestHandler handles requests to GET /manifest/:id, returning the
// published manifest for the document.
func (s *RESTServer) ManifestHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	m, err := s.Manifests.Open(bagit.DocumentID(ps.ByName("id")))
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "Manifest Not Found")
		return
	}
	writeJSON(w, m)
}

// ListManifestsHandler handles requests to GET /manifests, listing the ids
// of the published manifests.
func (s *RESTServer) ListManifestsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ids, err := s.Manifests.List()
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	writeJSON(w, ids)
}

// batchView shapes a record for JSON output.
func batchView(rec *BatchRecord) interface{} {
	view := struct {
		ID         string        `json:"id"`
		Requester  string        `json:"requester"`
		Collection string        `json:"collection"`
		Created    time.Time     `json:"created"`
		Status     string        `json:"status"`
		Report     *batch.Report `json:"report,omitempty"`
	}{
		ID:         rec.ID,
		Requester:  rec.Requester,
		Collection: rec.Collection,
		Created:    rec.Created,
		Status:     "running",
		Report:     rec.Report,
	}
	if rec.Report != nil {
		view.Status = "finished"
	}
	return view
}

func writeJSON(w http.ResponseWriter, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(val)
}

func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || v == "true"
}

// randomid generates an identifier for a submitted batch. The ids are
// short, unique enough for the volume we see, and sort roughly by day.
func randomid() string {
	var day = int64(time.Now().YearDay())
	var n = day<<32 | int64(rand.Int31())
	return strconv.FormatInt(n, 36)
}
