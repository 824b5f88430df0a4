// Package blockio implements typed block handles, the superblock, and
// blob id allocation. A Handle wraps one blob, lazily formats it with a
// zero header on first touch, and appends fixed-size records to it.
package blockio

import (
	"github.com/pkg/errors"

	"github.com/vdisk/petastore"
)

// Codec encodes and decodes one fixed-size record type. Directory blocks
// use a Codec[FileEntry]. Control blocks do not go through Handle or a
// Codec; package control encodes them itself.
type Codec[R any] interface {
	// Size is the fixed on-disk size of one encoded record.
	Size() int
	Encode(R) ([]byte, error)
	Decode([]byte) (R, error)
}

// Handle is a typed view over one blob: a BlockHeader prefix followed by
// fixed-size R records. It caches the blob's raw bytes and writes them
// back on every mutation.
type Handle[R any] struct {
	store petastore.BlobStore
	blob  petastore.Blob

	id        petastore.BlobID
	blockType petastore.BlockType
	codec     Codec[R]

	header petastore.BlockHeader
	raw    []byte // full blob contents, header included
}

// Open loads the blob at id as a Handle of the given block type, lazily
// formatting it with a zero header if the blob has never been written.
// Returns petastore.ErrCorrupt if the blob already holds a header whose
// Type doesn't match blockType.
func Open[R any](store petastore.BlobStore, id petastore.BlobID, blockType petastore.BlockType, codec Codec[R]) (*Handle[R], error) {
	blob, err := store.GetBlob(id)
	if err != nil {
		return nil, errors.Wrapf(petastore.ErrIOError, "blockio: get blob %d: %v", id, err)
	}

	h := &Handle[R]{
		store:     store,
		blob:      blob,
		id:        id,
		blockType: blockType,
		codec:     codec,
	}

	raw := blob.Get()
	if len(raw) == 0 {
		if err := h.format(); err != nil {
			return nil, err
		}
		return h, nil
	}

	if err := h.parse(raw); err != nil {
		return nil, err
	}
	return h, nil
}

// OpenExisting loads the blob at id as a Handle without formatting it.
// ok is false if the blob has never been written. Read paths use this;
// they must not write headers into untouched blobs.
func OpenExisting[R any](store petastore.BlobStore, id petastore.BlobID, blockType petastore.BlockType, codec Codec[R]) (h *Handle[R], ok bool, err error) {
	blob, err := store.GetBlob(id)
	if err != nil {
		return nil, false, errors.Wrapf(petastore.ErrIOError, "blockio: get blob %d: %v", id, err)
	}

	raw := blob.Get()
	if len(raw) == 0 {
		return nil, false, blob.Release()
	}

	h = &Handle[R]{
		store:     store,
		blob:      blob,
		id:        id,
		blockType: blockType,
		codec:     codec,
	}
	if err := h.parse(raw); err != nil {
		return nil, false, err
	}
	return h, true, nil
}

func (h *Handle[R]) format() error {
	h.header = petastore.BlockHeader{Type: h.blockType, Flags: petastore.FlagNew}
	hdr, err := h.header.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "blockio: marshal header")
	}
	h.raw = hdr
	if err := h.blob.Put(h.raw); err != nil {
		return classifyPutError(err, h.id)
	}
	return nil
}

func (h *Handle[R]) parse(raw []byte) error {
	var hdr petastore.BlockHeader
	if err := hdr.UnmarshalBinary(raw); err != nil {
		return errors.Wrapf(petastore.ErrCorrupt, "blockio: blob %d: %v", h.id, err)
	}
	if hdr.Type != h.blockType {
		return errors.Wrapf(petastore.ErrCorrupt, "blockio: blob %d: header type %s, want %s", h.id, hdr.Type, h.blockType)
	}
	h.header = hdr
	h.raw = raw
	return nil
}

// ID returns the blob id this handle is backed by.
func (h *Handle[R]) ID() petastore.BlobID { return h.id }

// Header returns the block's current header.
func (h *Handle[R]) Header() petastore.BlockHeader { return h.header }

// Size returns the block's current total payload length, header included.
func (h *Handle[R]) Size() int { return len(h.raw) }

// SetNext rewrites the header's Next link, preserving Type/Flags/Prev.
func (h *Handle[R]) SetNext(next petastore.BlobID) error {
	h.header.Next = next
	return h.writeHeader()
}

// SetPrev rewrites the header's Prev link, preserving Type/Flags/Next.
func (h *Handle[R]) SetPrev(prev petastore.BlobID) error {
	h.header.Prev = prev
	return h.writeHeader()
}

func (h *Handle[R]) writeHeader() error {
	hdr, err := h.header.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "blockio: marshal header")
	}
	copy(h.raw[:petastore.BlockHeaderSize], hdr)
	if err := h.blob.Put(h.raw); err != nil {
		return classifyPutError(err, h.id)
	}
	return nil
}

// AppendRecord encodes rec and appends it to the block's payload.
// Returns petastore.ErrBlockFull, unwrapped, if the resulting size would
// exceed maxBlobSize. The caller chains a new block and retries there.
func (h *Handle[R]) AppendRecord(rec R, maxBlobSize int) error {
	enc, err := h.codec.Encode(rec)
	if err != nil {
		return errors.Wrap(err, "blockio: encode record")
	}
	if len(h.raw)+len(enc) > maxBlobSize {
		return petastore.ErrBlockFull
	}

	next := append(append([]byte{}, h.raw...), enc...)
	if err := h.blob.Put(next); err != nil {
		return classifyPutError(err, h.id)
	}
	h.raw = next
	return nil
}

// Records decodes every record following the header.
func (h *Handle[R]) Records() ([]R, error) {
	body := h.raw[petastore.BlockHeaderSize:]
	size := h.codec.Size()
	if size <= 0 || len(body)%size != 0 {
		return nil, errors.Wrapf(petastore.ErrCorrupt, "blockio: blob %d: payload %d not a multiple of record size %d", h.id, len(body), size)
	}

	n := len(body) / size
	out := make([]R, n)
	for i := 0; i < n; i++ {
		rec, err := h.codec.Decode(body[i*size : (i+1)*size])
		if err != nil {
			return nil, errors.Wrapf(err, "blockio: blob %d: decode record %d", h.id, i)
		}
		out[i] = rec
	}
	return out, nil
}

// RecordCount returns the number of whole records currently stored,
// without decoding them.
func (h *Handle[R]) RecordCount() int {
	return (len(h.raw) - petastore.BlockHeaderSize) / h.codec.Size()
}

// OverwriteRecord re-encodes rec in place at slot index.
func (h *Handle[R]) OverwriteRecord(index int, rec R) error {
	size := h.codec.Size()
	off := petastore.BlockHeaderSize + index*size
	if off+size > len(h.raw) {
		return errors.Wrapf(petastore.ErrBadArgs, "blockio: blob %d: record %d out of range", h.id, index)
	}

	enc, err := h.codec.Encode(rec)
	if err != nil {
		return errors.Wrap(err, "blockio: encode record")
	}

	next := append([]byte{}, h.raw...)
	copy(next[off:off+size], enc)
	if err := h.blob.Put(next); err != nil {
		return classifyPutError(err, h.id)
	}
	h.raw = next
	return nil
}

// Release gives up the handle's reference to the underlying blob.
func (h *Handle[R]) Release() error {
	return h.blob.Release()
}

func classifyPutError(err error, id petastore.BlobID) error {
	cause := errors.Cause(err)
	switch cause {
	case petastore.ErrOutOfSpace, petastore.ErrBadArgs:
		return errors.Wrapf(cause, "blockio: put blob %d", id)
	default:
		return errors.Wrapf(petastore.ErrIOError, "blockio: put blob %d: %v", id, err)
	}
}
