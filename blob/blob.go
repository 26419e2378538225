// Package blob keeps short-lived byte buffers in memory behind opaque
// handles, the way a browser hands out object URLs: a handle is only
// meaningful inside this process and must be released by its owner.
//
// A handle is content-addressed (the prefix is a BLAKE2b digest of the
// bytes it was created with) but unique per allocation, so two owners
// storing identical bytes never share a handle.
package blob

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/docpeek/idgen"
)

// Handle is an opaque in-memory reference. Format: blob:<digest>-<nonce>.
type Handle string

const handlePrefix = "blob:"

// ErrReleased is returned when a handle is used after Release (or was
// never allocated by this store).
var ErrReleased = errors.New("blob: handle released")

type entry struct {
	data        []byte
	contentType string
}

// Store is a concurrency-safe handle table.
type Store struct {
	mu      sync.RWMutex
	entries map[Handle]*entry
	nonce   idgen.Generator
	bytes   int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[Handle]*entry),
		nonce:   idgen.NanoID(10),
	}
}

// Put stores data and returns a fresh handle for it. The slice is owned
// by the store afterwards; callers must not modify it.
func (s *Store) Put(data []byte, contentType string) Handle {
	sum := blake2b.Sum256(data)
	h := Handle(handlePrefix + hex.EncodeToString(sum[:8]) + "-" + s.nonce())

	s.mu.Lock()
	s.entries[h] = &entry{data: data, contentType: contentType}
	s.bytes += int64(len(data))
	s.mu.Unlock()
	return h
}

// Get returns the bytes and content type behind h.
func (s *Store) Get(h Handle) ([]byte, string, error) {
	s.mu.RLock()
	e, ok := s.entries[h]
	s.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrReleased, h)
	}
	return e.data, e.contentType, nil
}

// Replace swaps the bytes behind a live handle in place.
func (s *Store) Replace(h Handle, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReleased, h)
	}
	s.bytes += int64(len(data) - len(e.data))
	e.data = data
	e.contentType = contentType
	return nil
}

// Release drops the buffer behind h. It returns true only for the call
// that actually freed it; later calls are no-ops.
func (s *Store) Release(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[h]
	if !ok {
		return false
	}
	s.bytes -= int64(len(e.data))
	delete(s.entries, h)
	return true
}

// Len returns the number of live handles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Bytes returns the total size of live buffers.
func (s *Store) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}
