package iiifapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/antonholmquist/jason"
)

// A DownloadError is a failure to retrieve an image. Terminal is set when
// retrying cannot help (a 4xx status): the job should fail immediately
// instead of burning its remaining attempts.
type DownloadError struct {
	URL      string
	Status   int // 0 when the request never completed
	Terminal bool
	Err      error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download %s: %s", e.URL, e.Err)
	}
	return fmt.Sprintf("download %s: received status %d", e.URL, e.Status)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ResolveLargest asks the image service for its info.json capability
// document and returns the URL of the largest size it advertises. An image
// service that lists no sizes gets the "full/max" request, which every
// server is required to honor.
func (c *Connection) ResolveLargest(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequest("GET", imageURL+"/info.json", nil)
	if err != nil {
		return "", &DownloadError{URL: imageURL, Terminal: true, Err: err}
	}
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		return "", &DownloadError{URL: imageURL, Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == 200:
		// fall through to parsing
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", &DownloadError{URL: imageURL, Status: resp.StatusCode, Terminal: true}
	default:
		return "", &DownloadError{URL: imageURL, Status: resp.StatusCode}
	}

	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		// a broken info.json is not worth failing the page over
		return imageURL + "/full/max/0/default.jpg", nil
	}
	sizes, err := v.GetObjectArray("sizes")
	if err != nil || len(sizes) == 0 {
		return imageURL + "/full/max/0/default.jpg", nil
	}
	var bestW, bestH int64
	for _, s := range sizes {
		w, _ := s.GetInt64("width")
		h, _ := s.GetInt64("height")
		if w*h > bestW*bestH {
			bestW, bestH = w, h
		}
	}
	return fmt.Sprintf("%s/full/%d,%d/0/default.jpg", imageURL, bestW, bestH), nil
}

// DownloadImage retrieves the image at url into the file at path, creating
// or truncating it. Transient failures (transport errors, 5xx responses)
// are retried up to the connection's attempt ceiling with exponential
// backoff; a 4xx response is terminal and fails at once. Recreating the
// file on every attempt keeps a failed attempt's partial bytes out of the
// final result. The number of attempts actually made is returned along
// with the result, so the batch report can account for retries.
func (c *Connection) DownloadImage(ctx context.Context, url string, path string) (int, error) {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	var lasterr error
	for attempt := 1; ; attempt++ {
		lasterr = c.downloadOnce(ctx, url, path)
		if lasterr == nil {
			return attempt, nil
		}
		if de, ok := lasterr.(*DownloadError); ok && de.Terminal {
			return attempt, lasterr
		}
		if attempt >= maxAttempts {
			return attempt, lasterr
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			// the wait was cut short; report why we stopped, not the
			// transient failure we were about to retry
			return attempt, &DownloadError{URL: url, Err: ctx.Err()}
		}
		backoff *= 2
	}
}

func (c *Connection) downloadOnce(ctx context.Context, url string, path string) error {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return &DownloadError{URL: url, Terminal: true, Err: err}
	}
	resp, err := c.do(req.WithContext(ctx))
	if err != nil {
		return &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == 200:
		// keep going
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &DownloadError{URL: url, Status: resp.StatusCode, Terminal: true}
	default:
		return &DownloadError{URL: url, Status: resp.StatusCode}
	}
	f, err := os.Create(path)
	if err != nil {
		return &DownloadError{URL: url, Terminal: true, Err: err}
	}
	_, err = io.Copy(f, resp.Body)
	err2 := f.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		return &DownloadError{URL: url, Err: err}
	}
	return nil
}
