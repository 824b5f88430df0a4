package blockio

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vdisk/petastore"
)

// superblockSize is the on-disk width of the fixed superblock layout:
// magic[16] + version(u64) + next_free(u64).
const superblockSize = 16 + 8 + 8

// Superblock holds the magic, the format version, and the monotonically
// increasing next-free-blob counter. It is loaded once at Initialize,
// mutated in memory by AllocateBlobID, and written back at Finalize.
// Callers pass it explicitly; there is no package-level global.
type Superblock struct {
	layout petastore.Layout
	store  petastore.BlobStore
	log    logrus.FieldLogger

	magic    [16]byte
	version  uint64
	nextFree petastore.BlobID
}

// Initialize reads blob 0. If it is empty, it constructs a fresh
// superblock with NextFree = layout.FirstFreeDataID() and writes it.
// Otherwise it validates magic, version, and next_free > DirHeads,
// returning petastore.ErrCorrupt on any mismatch.
func Initialize(store petastore.BlobStore, layout petastore.Layout, log logrus.FieldLogger) (*Superblock, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	blob, err := store.GetBlob(petastore.SuperblockID)
	if err != nil {
		return nil, errors.Wrap(petastore.ErrIOError, "blockio: get superblock")
	}

	sb := &Superblock{layout: layout, store: store, log: log}

	raw := blob.Get()
	if len(raw) == 0 {
		sb.magic = layout.MagicBytes()
		sb.version = layout.Version
		sb.nextFree = layout.FirstFreeDataID()
		log.WithFields(logrus.Fields{
			"magic":     layout.Magic,
			"version":   layout.Version,
			"next_free": sb.nextFree,
		}).Info("blockio: initializing fresh superblock")
		if err := sb.write(blob); err != nil {
			return nil, err
		}
		return sb, blob.Release()
	}

	if err := sb.parse(raw); err != nil {
		return nil, err
	}

	if sb.magic != layout.MagicBytes() {
		return nil, errors.Wrapf(petastore.ErrCorrupt, "blockio: superblock magic mismatch")
	}
	if sb.version < 1 || sb.version != layout.Version {
		return nil, errors.Wrapf(petastore.ErrCorrupt, "blockio: superblock version %d, want %d", sb.version, layout.Version)
	}
	if sb.nextFree <= petastore.BlobID(layout.DirHeads) {
		return nil, errors.Wrapf(petastore.ErrCorrupt, "blockio: superblock next_free %d <= dir_heads %d", sb.nextFree, layout.DirHeads)
	}

	return sb, blob.Release()
}

func (sb *Superblock) parse(raw []byte) error {
	if len(raw) < superblockSize {
		return errors.Wrapf(petastore.ErrCorrupt, "blockio: superblock short read (%d bytes)", len(raw))
	}
	copy(sb.magic[:], raw[0:16])
	sb.version = binary.LittleEndian.Uint64(raw[16:24])
	sb.nextFree = petastore.BlobID(binary.LittleEndian.Uint64(raw[24:32]))
	return nil
}

func (sb *Superblock) encode() []byte {
	buf := make([]byte, superblockSize)
	copy(buf[0:16], sb.magic[:])
	binary.LittleEndian.PutUint64(buf[16:24], sb.version)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(sb.nextFree))
	return buf
}

func (sb *Superblock) write(blob petastore.Blob) error {
	if err := blob.Put(sb.encode()); err != nil {
		return classifyPutError(err, petastore.SuperblockID)
	}
	return nil
}

// Finalize writes the in-memory superblock back to blob 0. Call exactly
// once, at shutdown.
func (sb *Superblock) Finalize() error {
	blob, err := sb.store.GetBlob(petastore.SuperblockID)
	if err != nil {
		return errors.Wrap(petastore.ErrIOError, "blockio: get superblock")
	}
	defer blob.Release()

	if err := sb.write(blob); err != nil {
		return err
	}
	sb.log.WithField("next_free", sb.nextFree).Debug("blockio: superblock finalized")
	return nil
}

// AllocateBlobID returns the current NextFree, then post-increments it.
// Released ids are not recycled.
func (sb *Superblock) AllocateBlobID() petastore.BlobID {
	id := sb.nextFree
	sb.nextFree++
	return id
}

// NextFree returns the next id AllocateBlobID would hand out, without
// allocating it.
func (sb *Superblock) NextFree() petastore.BlobID { return sb.nextFree }

// Version returns the superblock's format version.
func (sb *Superblock) Version() uint64 { return sb.version }
