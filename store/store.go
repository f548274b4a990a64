// Package store provides a simple, goroutine safe key-value interface over
// a stream of bytes. It is the persistence substrate for the published
// manifest set. The FileSystem store is the important implementation; the
// Memory store is useful for testing, and the S3 store lets the manifest
// set live in a bucket behind a static site.
package store

import (
	"errors"
	"io"
)

// Store defines the basic stream based key-value store. Values are written
// whole: the data handed to Create only becomes visible under its key once
// the returned writer is closed without error. This gives each key an
// atomic, all-or-nothing write.
//
// Since the FileSystem store uses keys as file names, keys should not
// contain forbidden filesystem characters, such as '/'.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only pieces of a Store. It allows one to list contents
// and to retrieve data.
type ROStore interface {
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (io.ReadCloser, error)
}

// ErrNotFound is returned by Open when there is no value for the given key.
var ErrNotFound = errors.New("key not found")
