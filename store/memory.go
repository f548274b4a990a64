package store

import (
	"bytes"
	"io"
	"io/ioutil"
	"sort"
	"strings"
	"sync"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte

	// CreateErr, when set, is returned by Create. Tests use it to
	// exercise write-failure paths.
	CreateErr error
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// ListPrefix returns all the key entries which begin with the given prefix.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.store {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	sort.Strings(result)
	return result, nil
}

// Open returns a reader over the value for the given key.
func (ms *Memory) Open(key string) (io.ReadCloser, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return ioutil.NopCloser(bytes.NewReader(v)), nil
}

// Create makes a new entry in the store, and returns a writer to save data
// into it. The value becomes visible when the writer is closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	if ms.CreateErr != nil {
		return nil, ms.CreateErr
	}
	return &membuf{parent: ms, key: key}, nil
}

// Delete the given key from the store. It is not an error if the item does
// not exist in the store.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

type membuf struct {
	parent *Memory
	key    string
	b      []byte
}

func (w *membuf) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *membuf) Close() error {
	w.parent.m.Lock()
	w.parent.store[w.key] = w.b
	w.parent.m.Unlock()
	return nil
}
