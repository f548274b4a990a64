// Package transcribe is the client for the transcription service's
// collection API. It creates a document inside a named collection and
// attaches the page images in reading order. The service performs its own
// OCR and human transcription workflow; from our side a document is only a
// title and an ordered list of images.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
)

// Credentials is the user/password pair for the transcription service. It
// is supplied out of band and treated as opaque: it is never logged and
// never persisted.
type Credentials struct {
	User     string
	Password string
}

// A Connection represents a connection to the transcription service. It can
// be shared between multiple goroutines.
type Connection struct {
	HostURL     string
	Credentials Credentials

	clientOnce sync.Once
	client     *http.Client
}

// Exported errors
var (
	ErrNotFound       = errors.New("collection not found")
	ErrNotAuthorized  = errors.New("access denied")
	ErrUnexpectedResp = errors.New("unexpected response code")
)

// An UploadError is a failure to push one document. Uploaded counts the
// images attached before the failure; when it is nonzero, the remote
// document exists partially and the condition needs manual follow-up, since
// we do not attempt rollback of partially created remote documents.
type UploadError struct {
	Document string
	Uploaded int
	Total    int
	Err      error
}

func (e *UploadError) Error() string {
	if e.Partial() {
		return fmt.Sprintf("upload %s: %s (partial: %d of %d images attached)",
			e.Document, e.Err, e.Uploaded, e.Total)
	}
	return fmt.Sprintf("upload %s: %s", e.Document, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Partial reports whether some images were already attached remotely when
// the upload failed.
func (e *UploadError) Partial() bool {
	return e.Uploaded > 0
}

// CreateDocument creates an empty document with the given title inside the
// named collection and returns the new document's id.
func (c *Connection) CreateDocument(ctx context.Context, collection, title string) (string, error) {
	target := c.HostURL + "/collections/" + url.PathEscape(collection) + "/documents"
	req, err := http.NewRequest("POST", target, nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Set("title", title)
	req.URL.RawQuery = q.Encode()
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 200, 201:
		// created
	case 401, 403:
		return "", ErrNotAuthorized
	case 404:
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("received status %d creating document %s", resp.StatusCode, title)
	}
	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return "", err
	}
	id, err := v.GetString("id")
	if err != nil || id == "" {
		return "", fmt.Errorf("no document id in response for %s", title)
	}
	return id, nil
}

// AttachImage uploads one image file to the document, at the given position
// in the document's page sequence.
func (c *Connection) AttachImage(ctx context.Context, docID string, seq int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	target := c.HostURL + "/documents/" + url.PathEscape(docID) + "/images"
	req, err := http.NewRequest("POST", target, f)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Image-Name", filepath.Base(path))
	q := req.URL.Query()
	q.Set("position", strconv.Itoa(seq))
	req.URL.RawQuery = q.Encode()
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(ioutil.Discard, resp.Body)
	switch resp.StatusCode {
	case 200, 201, 204:
		return nil
	case 401, 403:
		return ErrNotAuthorized
	case 404:
		return ErrNotFound
	default:
		return fmt.Errorf("received status %d attaching image %s", resp.StatusCode, filepath.Base(path))
	}
}

// UploadDocument creates a document and attaches the given image files in
// order. The operation is all-or-nothing at the job level: on any failure
// an *UploadError is returned, with its Uploaded count recording how many
// images had already been attached remotely.
func (c *Connection) UploadDocument(ctx context.Context, collection, title string, images []string) error {
	docID, err := c.CreateDocument(ctx, collection, title)
	if err != nil {
		return &UploadError{Document: title, Total: len(images), Err: err}
	}
	for i, img := range images {
		err = c.AttachImage(ctx, docID, i, img)
		if err != nil {
			return &UploadError{Document: title, Uploaded: i, Total: len(images), Err: err}
		}
	}
	return nil
}

// do performs an http request using our client with a timeout. The timeout
// is arbitrary, and is just there so we don't hang indefinitely should the
// server never close the connection.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	if c.Credentials.User != "" {
		req.SetBasicAuth(c.Credentials.User, c.Credentials.Password)
	}
	c.clientOnce.Do(func() {
		c.client = &http.Client{
			Timeout: 10 * time.Minute, // arbitrary
		}
	})
	return c.client.Do(req)
}
