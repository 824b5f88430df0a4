// Package memblob implements an in-memory petastore.BlobStore for tests
// and examples: a map of id to bytes, refcounted handles, and a
// free-space counter that decreases as blobs are written.
package memblob

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/vdisk/petastore"
)

// MaxBlobSize is the hard per-blob limit the store enforces on Put.
const MaxBlobSize = 1 << 18

// Store is a map-backed petastore.BlobStore. The zero value is not usable;
// construct with New.
type Store struct {
	mu        sync.Mutex
	blobs     map[petastore.BlobID][]byte
	freeSpace uint64
}

// New returns an empty Store with the given free-space budget.
func New(freeSpace uint64) *Store {
	return &Store{
		blobs:     make(map[petastore.BlobID][]byte),
		freeSpace: freeSpace,
	}
}

// GetBlob returns a handle to id. All handles for the same id share the
// store's entry; a Put through one is visible to reads through another.
func (s *Store) GetBlob(id petastore.BlobID) (petastore.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &handle{store: s, id: id}, nil
}

// FreeSpace reports the store's remaining capacity in bytes.
func (s *Store) FreeSpace() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeSpace
}

// handle is the petastore.Blob returned by GetBlob. Get/Put reach
// straight into the store's map under its mutex; there is no per-handle
// buffering.
type handle struct {
	store *Store
	id    petastore.BlobID
}

func (h *handle) Get() []byte {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return h.store.blobs[h.id]
}

func (h *handle) Put(data []byte) error {
	if len(data) > MaxBlobSize {
		return errors.Wrapf(petastore.ErrBadArgs, "blob %d: %d bytes exceeds max blob size %d", h.id, len(data), MaxBlobSize)
	}

	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	old := len(h.store.blobs[h.id])
	delta := len(data) - old
	if delta > 0 && uint64(delta) > h.store.freeSpace {
		return errors.Wrapf(petastore.ErrOutOfSpace, "blob %d: need %d more bytes, %d free", h.id, delta, h.store.freeSpace)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	h.store.blobs[h.id] = buf
	h.store.freeSpace -= uint64(delta)

	return nil
}

func (h *handle) Release() error {
	return nil
}
