// Package iiifapi is the client side of the upload pipeline: it re-fetches
// published presentation manifests, asks the image server which resolutions
// it has, and downloads page images. All failures here are scoped to a
// single manifest job; nothing in this package aborts a batch.
package iiifapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/libarch/folio/iiif"
)

// A Connection holds the HTTP client and retry policy shared by the fetch
// and download calls of one batch. It can be shared between goroutines.
type Connection struct {
	// MaxAttempts is the ceiling on tries for one download, counting the
	// first one. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// Backoff is the delay before the second attempt; it doubles after
	// every failure. Zero means DefaultBackoff.
	Backoff time.Duration

	clientOnce sync.Once
	client     *http.Client
}

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 2 * time.Second
)

// A FetchError is a network-level failure to retrieve a manifest: the
// request did not complete or came back with a non-200 status.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// A SchemaError means a manifest was retrieved but does not have the
// required shape.
type SchemaError struct {
	URL    string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("manifest %s: %s", e.URL, e.Reason)
}

// FetchManifest retrieves the presentation manifest at the given URL and
// parses it into our internal form. The canvas list keeps the manifest's
// order. A manifest missing its id, items, or a canvas image URL is
// reported as a *SchemaError; transport-level problems as a *FetchError.
func (c *Connection) FetchManifest(ctx context.Context, url string) (iiif.Manifest, error) {
	var m iiif.Manifest
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return m, &FetchError{URL: url, Err: err}
	}
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		return m, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return m, &FetchError{URL: url, Err: fmt.Errorf("received status %d", resp.StatusCode)}
	}

	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return m, &SchemaError{URL: url, Reason: "not a JSON object"}
	}
	m.ID, err = v.GetString("id")
	if err != nil || m.ID == "" {
		return m, &SchemaError{URL: url, Reason: "missing id"}
	}
	m.Type, _ = v.GetString("type")
	m.Label, _ = v.GetString("label")
	items, err := v.GetObjectArray("items")
	if err != nil {
		return m, &SchemaError{URL: url, Reason: "missing items"}
	}
	for i, item := range items {
		var canvas iiif.Canvas
		canvas.ID, _ = item.GetString("id")
		canvas.Type, _ = item.GetString("type")
		canvas.Label, _ = item.GetString("label")
		canvas.Image, err = item.GetString("image")
		if err != nil || canvas.Image == "" {
			return m, &SchemaError{URL: url, Reason: fmt.Sprintf("canvas %d missing image", i)}
		}
		if w, err := item.GetInt64("width"); err == nil {
			canvas.Width = int(w)
		}
		if h, err := item.GetInt64("height"); err == nil {
			canvas.Height = int(h)
		}
		m.Canvases = append(m.Canvases, canvas)
	}
	return m, nil
}

// do performs an http request using our client with a timeout. The timeout
// is arbitrary, and is just there so we don't hang indefinitely should the
// server never close the connection.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	c.clientOnce.Do(func() {
		c.client = &http.Client{
			Timeout: 10 * time.Minute, // arbitrary
		}
	})
	return c.client.Do(req)
}
