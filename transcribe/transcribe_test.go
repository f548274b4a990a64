package transcribe

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeService records document creations and image attachments.
type fakeService struct {
	m        sync.Mutex
	docs     []string          // titles in creation order
	images   map[string][]string // doc id -> image names in attach order
	failName string            // attaching an image with this name returns 500
}

func newFakeService() *fakeService {
	return &fakeService{images: make(map[string][]string)}
}

func (f *fakeService) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok || user != "scribe" {
			w.WriteHeader(401)
			return
		}
		f.m.Lock()
		defer f.m.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/documents"):
			title := r.URL.Query().Get("title")
			f.docs = append(f.docs, title)
			fmt.Fprintf(w, `{"id": %q}`, "doc-"+title)
		case strings.HasSuffix(r.URL.Path, "/images"):
			name := r.Header.Get("X-Image-Name")
			if name == f.failName {
				w.WriteHeader(500)
				return
			}
			pieces := strings.Split(r.URL.Path, "/")
			docID := pieces[len(pieces)-2]
			f.images[docID] = append(f.images[docID], name)
			w.WriteHeader(201)
		default:
			w.WriteHeader(404)
		}
	})
}

func writeImages(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	var paths []string
	for _, name := range names {
		p := filepath.Join(dir, name)
		if err := ioutil.WriteFile(p, []byte("img "+name), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestUploadDocument(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	dir, err := ioutil.TempDir("", "transcribe-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	images := writeImages(t, dir, "p001.jpg", "p002.jpg", "p003.jpg")

	c := &Connection{
		HostURL:     srv.URL,
		Credentials: Credentials{User: "scribe", Password: "secret"},
	}
	err = c.UploadDocument(context.Background(), "letters", "vol1", images)
	if err != nil {
		t.Fatal(err)
	}

	if len(svc.docs) != 1 || svc.docs[0] != "vol1" {
		t.Errorf("documents created: %v", svc.docs)
	}
	attached := svc.images["doc-vol1"]
	expected := []string{"p001.jpg", "p002.jpg", "p003.jpg"}
	if len(attached) != len(expected) {
		t.Fatalf("attached %v, expected %v", attached, expected)
	}
	for i := range expected {
		if attached[i] != expected[i] {
			t.Errorf("image %d is %s, expected %s", i, attached[i], expected[i])
		}
	}
}

func TestUploadDocumentPartial(t *testing.T) {
	svc := newFakeService()
	svc.failName = "p002.jpg"
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	dir, err := ioutil.TempDir("", "transcribe-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	images := writeImages(t, dir, "p001.jpg", "p002.jpg", "p003.jpg")

	c := &Connection{
		HostURL:     srv.URL,
		Credentials: Credentials{User: "scribe", Password: "secret"},
	}
	err = c.UploadDocument(context.Background(), "letters", "vol1", images)
	ue, ok := err.(*UploadError)
	if !ok {
		t.Fatalf("error has type %T, expected *UploadError", err)
	}
	if !ue.Partial() || ue.Uploaded != 1 || ue.Total != 3 {
		t.Errorf("partial accounting wrong: %+v", ue)
	}
}

func TestUploadDocumentUnauthorized(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	dir, err := ioutil.TempDir("", "transcribe-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	images := writeImages(t, dir, "p001.jpg")

	c := &Connection{
		HostURL:     srv.URL,
		Credentials: Credentials{User: "intruder", Password: "x"},
	}
	err = c.UploadDocument(context.Background(), "letters", "vol1", images)
	ue, ok := err.(*UploadError)
	if !ok {
		t.Fatalf("error has type %T, expected *UploadError", err)
	}
	if ue.Err != ErrNotAuthorized {
		t.Errorf("cause is %v, expected ErrNotAuthorized", ue.Err)
	}
	if ue.Partial() {
		t.Error("no image should have been attached")
	}
}
