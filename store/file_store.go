package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
)

// FileSystem implements the simple file system based store. Keys are used as
// file names inside the root directory. New values are first written into a
// scratch subdirectory and then renamed into place, so a key never holds a
// partially written value, and a failed write cannot clobber the value
// already stored under that key.
type FileSystem struct {
	root string
}

const (
	// the subdir to store files while they are being written to.
	scratchdir = "scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyContainsSlash means the key provided contains a forward slash '/'
	ErrKeyContainsSlash = errors.New("key contains forward slash")

	// ErrKeyContainsNonUnicode means the key provided contains a non-unicode rune
	ErrKeyContainsNonUnicode = errors.New("key contains non-unicode character")

	// ErrKeyContainsControlChar means the key provided contains control characters
	ErrKeyContainsControlChar = errors.New("key contains control characters")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
// The root directory and its scratch subdirectory are created if needed.
func NewFileSystem(root string) *FileSystem {
	os.MkdirAll(filepath.Join(root, scratchdir), 0755)
	return &FileSystem{root: root}
}

func validateKey(key string) error {
	switch {
	case strings.ContainsRune(key, '/'):
		return ErrKeyContainsSlash
	case !utf8.ValidString(key):
		return ErrKeyContainsNonUnicode
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return ErrKeyContainsControlChar
		}
	}
	return nil
}

// ListPrefix returns the keys beginning with the given prefix, sorted.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	names, err := filepath.Glob(filepath.Join(s.root, prefix+"*"))
	if err != nil {
		return nil, err
	}
	var result []string
	for _, name := range names {
		info, err := os.Stat(name)
		if err != nil || info.IsDir() {
			continue
		}
		result = append(result, filepath.Base(name))
	}
	return result, nil
}

// Open returns a reader for the value stored under the given key.
func (s *FileSystem) Open(key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.root, key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

// Create makes a new entry in the store and returns a writer to save data
// into it. The value is staged in the scratch directory and only moved
// under its key when the writer is closed.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(s.root, scratchdir, key))
	if err != nil {
		raven.CaptureError(err, nil)
		return nil, err
	}
	return &commitWriter{
		f:      f,
		tmp:    filepath.Join(s.root, scratchdir, key),
		target: filepath.Join(s.root, key),
	}, nil
}

// Delete the given key from the store. It is not an error if the item does
// not exist in the store.
func (s *FileSystem) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, key))
	if os.IsNotExist(err) {
		err = nil
	}
	return err
}

// commitWriter writes into a scratch file and renames it over the target on
// Close. The rename is what makes each store write atomic.
type commitWriter struct {
	f      *os.File
	tmp    string
	target string
	err    error // sticky write error
}

func (w *commitWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

func (w *commitWriter) Close() error {
	err := w.f.Close()
	if w.err != nil {
		err = w.err
	}
	if err != nil {
		raven.CaptureError(err, nil)
		os.Remove(w.tmp)
		return err
	}
	err = os.Rename(w.tmp, w.target)
	if err != nil {
		raven.CaptureError(err, nil)
		os.Remove(w.tmp)
	}
	return err
}
