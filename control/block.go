// Package control implements the per-file control-block chain that maps
// file byte offsets to data-blob ids: offset translation, the read and
// write paths, and chain creation/deletion.
package control

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/vdisk/petastore"
)

// fixedFieldsSize is the on-disk size of a control block's fields after
// the BlockHeader and before its blobs[] array: directory(8) + start(8) +
// lastMod(8) + checksum(32). Must match Layout.ControlCapacity's
// arithmetic.
const fixedFieldsSize = 8 + 8 + 8 + 32

// Block is a single control block, the per-file index structure. Its
// fixed fields (Directory, Start, LastMod, Checksum) precede the record
// array; it does not fit blockio.Handle's header-then-records layout and
// manages its own bytes directly.
type Block struct {
	store petastore.BlobStore
	blob  petastore.Blob
	id    petastore.BlobID

	header    petastore.BlockHeader
	directory petastore.BlobID
	start     uint64
	lastMod   uint64
	checksum  [32]byte
	blobs     []petastore.BlobID

	verifyChecksum bool
}

// Create initializes a brand-new control block at id: start, directory,
// and an empty blobs[].
func Create(store petastore.BlobStore, id petastore.BlobID, directory petastore.BlobID, start uint64, verifyChecksum bool) (*Block, error) {
	blob, err := store.GetBlob(id)
	if err != nil {
		return nil, errors.Wrapf(petastore.ErrIOError, "control: get blob %d: %v", id, err)
	}

	b := &Block{
		store:          store,
		blob:           blob,
		id:             id,
		header:         petastore.BlockHeader{Type: petastore.TypeControl, Flags: petastore.FlagNew},
		directory:      directory,
		start:          start,
		verifyChecksum: verifyChecksum,
	}
	if err := b.write(); err != nil {
		return nil, err
	}
	return b, nil
}

// Open loads an existing control block at id. Returns petastore.ErrCorrupt
// if the header type isn't Control, the payload is short, or, when
// verifyChecksum is set, the stored checksum doesn't match the recomputed
// digest of blobs[].
func Open(store petastore.BlobStore, id petastore.BlobID, verifyChecksum bool) (*Block, error) {
	blob, err := store.GetBlob(id)
	if err != nil {
		return nil, errors.Wrapf(petastore.ErrIOError, "control: get blob %d: %v", id, err)
	}

	raw := blob.Get()
	if len(raw) == 0 {
		return nil, errors.Wrapf(petastore.ErrCorrupt, "control: blob %d has no header", id)
	}

	b := &Block{store: store, blob: blob, id: id, verifyChecksum: verifyChecksum}
	if err := b.parse(raw); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Block) parse(raw []byte) error {
	var hdr petastore.BlockHeader
	if err := hdr.UnmarshalBinary(raw); err != nil {
		return errors.Wrapf(petastore.ErrCorrupt, "control: blob %d: %v", b.id, err)
	}
	if hdr.Type != petastore.TypeControl {
		return errors.Wrapf(petastore.ErrCorrupt, "control: blob %d: header type %s, want control", b.id, hdr.Type)
	}

	const prefix = petastore.BlockHeaderSize + fixedFieldsSize
	if len(raw) < prefix {
		return errors.Wrapf(petastore.ErrCorrupt, "control: blob %d: short payload (%d bytes)", b.id, len(raw))
	}

	off := petastore.BlockHeaderSize
	directory := petastore.BlobID(binary.LittleEndian.Uint64(raw[off : off+8]))
	off += 8
	start := binary.LittleEndian.Uint64(raw[off : off+8])
	off += 8
	lastMod := binary.LittleEndian.Uint64(raw[off : off+8])
	off += 8
	var checksum [32]byte
	copy(checksum[:], raw[off:off+32])
	off += 32

	body := raw[off:]
	if len(body)%8 != 0 {
		return errors.Wrapf(petastore.ErrCorrupt, "control: blob %d: blobs[] not a multiple of 8 bytes", b.id)
	}
	blobs := make([]petastore.BlobID, len(body)/8)
	for i := range blobs {
		blobs[i] = petastore.BlobID(binary.LittleEndian.Uint64(body[i*8 : i*8+8]))
	}

	b.header = hdr
	b.directory = directory
	b.start = start
	b.lastMod = lastMod
	b.checksum = checksum
	b.blobs = blobs

	if b.verifyChecksum {
		want := b.computeChecksum()
		if checksum != want {
			return errors.Wrapf(petastore.ErrCorrupt, "control: blob %d: checksum mismatch", b.id)
		}
	}
	return nil
}

func (b *Block) computeChecksum() [32]byte {
	h := blake3.New()
	buf := make([]byte, 8)
	for _, id := range b.blobs {
		binary.LittleEndian.PutUint64(buf, uint64(id))
		_, _ = h.Write(buf)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (b *Block) encode() []byte {
	hdr, _ := b.header.MarshalBinary()

	buf := make([]byte, petastore.BlockHeaderSize+fixedFieldsSize+8*len(b.blobs))
	copy(buf, hdr)
	off := petastore.BlockHeaderSize
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(b.directory))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], b.start)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], b.lastMod)
	off += 8

	checksum := b.checksum
	if b.verifyChecksum {
		checksum = b.computeChecksum()
		b.checksum = checksum
	}
	copy(buf[off:off+32], checksum[:])
	off += 32

	for i, id := range b.blobs {
		binary.LittleEndian.PutUint64(buf[off+i*8:off+i*8+8], uint64(id))
	}
	return buf
}

func (b *Block) write() error {
	if err := b.blob.Put(b.encode()); err != nil {
		return classifyPutError(err, b.id)
	}
	return nil
}

// ID returns this block's blob id.
func (b *Block) ID() petastore.BlobID { return b.id }

// Header returns the block's current header.
func (b *Block) Header() petastore.BlockHeader { return b.header }

// Directory returns the owning directory entry's block id, recorded at
// creation for use when removing a file.
func (b *Block) Directory() petastore.BlobID { return b.directory }

// Start returns this block's position within its file's control chain:
// 0 for the first block, Prev.Start+1 thereafter.
func (b *Block) Start() uint64 { return b.start }

// LastMod returns the last-modified timestamp (Unix nanoseconds) recorded
// on this block, updated on every successful write.
func (b *Block) LastMod() uint64 { return b.lastMod }

// Blobs returns the block's data-blob id slots, in order. Slot i holds
// the id for file-offset range [(Start*CAPACITY+i)*BlobSize, +BlobSize).
func (b *Block) Blobs() []petastore.BlobID { return b.blobs }

// SetNext rewrites the header's Next link, preserving Type/Flags/Prev.
func (b *Block) SetNext(next petastore.BlobID) error {
	b.header.Next = next
	return b.write()
}

// SetPrev rewrites the header's Prev link, preserving Type/Flags/Next.
func (b *Block) SetPrev(prev petastore.BlobID) error {
	b.header.Prev = prev
	return b.write()
}

// Touch updates LastMod to nowNanos and persists the block. Called after
// every successful write.
func (b *Block) Touch(nowNanos uint64) error {
	b.lastMod = nowNanos
	return b.write()
}

// AppendBlob appends a data-blob id to blobs[], failing with
// petastore.ErrBlockFull if doing so would exceed capacity slots.
func (b *Block) AppendBlob(id petastore.BlobID, capacity int) error {
	if len(b.blobs) >= capacity {
		return petastore.ErrBlockFull
	}
	b.blobs = append(b.blobs, id)
	return b.write()
}

// OverwriteBlob replaces the data-blob id at slot, used when a write
// targets a slot that some prior write already populated.
func (b *Block) OverwriteBlob(slot int, id petastore.BlobID) error {
	if slot < 0 || slot >= len(b.blobs) {
		return errors.Wrapf(petastore.ErrBadArgs, "control: blob %d: slot %d out of range", b.id, slot)
	}
	b.blobs[slot] = id
	return b.write()
}

// Release gives up the block's reference to its underlying blob.
func (b *Block) Release() error {
	return b.blob.Release()
}

func classifyPutError(err error, id petastore.BlobID) error {
	cause := errors.Cause(err)
	switch cause {
	case petastore.ErrOutOfSpace, petastore.ErrBadArgs:
		return errors.Wrapf(cause, "control: put blob %d", id)
	default:
		return errors.Wrapf(petastore.ErrIOError, "control: put blob %d: %v", id, err)
	}
}
