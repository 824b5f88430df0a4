// Package directory implements the hash-bucketed directory layer: hashing
// a filename into one of Layout.DirHeads bucket blocks, searching the
// chained directory blocks for a FileEntry, and inserting new entries,
// chaining an overflow block when the current tail is full.
package directory

import (
	"encoding/binary"
	"hash/fnv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vdisk/petastore"
	"github.com/vdisk/petastore/blockio"
)

// FileName is a directory entry's name: printable ASCII, at most
// Layout.MaxPath-1 bytes (the last byte is reserved for the NUL
// terminator), compared byte-for-byte up to the first NUL.
type FileName string

// FileEntry is one slot in a directory block: a name and the id of the
// file's first control block. A zero ControlBlob with an empty Name marks
// a tombstoned (deleted) slot.
type FileEntry struct {
	Name        FileName
	ControlBlob petastore.BlobID
}

// ValidateName enforces the BadArgs conditions on a filename: non-empty,
// at most maxPath-1 bytes, printable ASCII only (0x20-0x7e).
func ValidateName(name FileName, maxPath int) error {
	if len(name) == 0 {
		return errors.Wrap(petastore.ErrBadArgs, "directory: empty name")
	}
	if len(name) > maxPath-1 {
		return errors.Wrapf(petastore.ErrBadArgs, "directory: name %q exceeds max path %d", name, maxPath-1)
	}
	for _, b := range []byte(name) {
		if b < 0x20 || b > 0x7e {
			return errors.Wrapf(petastore.ErrBadArgs, "directory: name %q has non-printable byte 0x%02x", name, b)
		}
	}
	return nil
}

type entryCodec struct{ maxPath int }

func (c entryCodec) Size() int { return c.maxPath + 8 }

func (c entryCodec) Encode(e FileEntry) ([]byte, error) {
	if len(e.Name) > c.maxPath {
		return nil, errors.Wrapf(petastore.ErrBadArgs, "directory: name %q exceeds max path %d", e.Name, c.maxPath)
	}
	buf := make([]byte, c.maxPath+8)
	copy(buf, []byte(e.Name))
	binary.LittleEndian.PutUint64(buf[c.maxPath:], uint64(e.ControlBlob))
	return buf, nil
}

func (c entryCodec) Decode(buf []byte) (FileEntry, error) {
	nameBytes := buf[:c.maxPath]
	end := strings.IndexByte(string(nameBytes), 0)
	if end < 0 {
		end = c.maxPath
	}
	control := binary.LittleEndian.Uint64(buf[c.maxPath:])
	return FileEntry{Name: FileName(nameBytes[:end]), ControlBlob: petastore.BlobID(control)}, nil
}

type handle = blockio.Handle[FileEntry]

// Directory is the hash-bucketed filename index.
type Directory struct {
	store  petastore.BlobStore
	layout petastore.Layout
	log    logrus.FieldLogger
	codec  entryCodec
}

// New constructs a Directory over store using layout's DirHeads/MaxPath.
func New(store petastore.BlobStore, layout petastore.Layout, log logrus.FieldLogger) *Directory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Directory{
		store:  store,
		layout: layout,
		log:    log,
		codec:  entryCodec{maxPath: layout.MaxPath},
	}
}

// BucketID hashes name with FNV-1a/32 into one of [1, DirHeads]. The
// hash is on-disk format; changing it relocates every existing name.
func (d *Directory) BucketID(name FileName) petastore.BlobID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return petastore.BlobID(h.Sum32()%d.layout.DirHeads) + 1
}

func (d *Directory) openHead(name FileName) (*handle, error) {
	return blockio.Open(d.store, d.BucketID(name), petastore.TypeDir, d.codec)
}

// Location names where a FileEntry lives: the directory block holding it,
// and its slot index within that block's Records().
type Location struct {
	Block petastore.BlobID
	Slot  int
	Entry FileEntry
}

// Find searches the chain rooted at name's bucket head for an exact,
// non-tombstoned match. found is false if no match exists anywhere in the
// chain. Find never writes: an untouched bucket head is simply a miss.
func (d *Directory) Find(name FileName) (loc Location, found bool, err error) {
	h, ok, err := blockio.OpenExisting(d.store, d.BucketID(name), petastore.TypeDir, d.codec)
	if err != nil {
		return Location{}, false, err
	}
	if !ok {
		return Location{}, false, nil
	}

	for {
		recs, err := h.Records()
		if err != nil {
			return Location{}, false, err
		}
		for i, rec := range recs {
			if rec.ControlBlob == 0 {
				continue // tombstoned slot
			}
			if rec.Name == name {
				return Location{Block: h.ID(), Slot: i, Entry: rec}, true, nil
			}
		}

		next, ok, err := blockio.FollowNext(h)
		if err != nil {
			return Location{}, false, err
		}
		if !ok {
			return Location{}, false, nil
		}
		h = next
	}
}

// Insert appends a FileEntry{name, controlBlob} to the tail of name's
// bucket chain. It does not deduplicate; the open-file path does.
//
// If the tail block is full, Insert calls allocate to mint a new blob id,
// chains a fresh Dir block there as the new tail, and appends the entry
// to it instead. Returns the block the entry ended up in.
func (d *Directory) Insert(name FileName, controlBlob petastore.BlobID, allocate func() petastore.BlobID) (petastore.BlobID, error) {
	h, err := d.openHead(name)
	if err != nil {
		return 0, err
	}

	for {
		next, ok, err := blockio.FollowNext(h)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		h = next
	}

	entry := FileEntry{Name: name, ControlBlob: controlBlob}
	if err := h.AppendRecord(entry, d.layout.BlobSize); err == nil {
		return h.ID(), nil
	} else if !errors.Is(err, petastore.ErrBlockFull) {
		return 0, err
	}

	newID := allocate()
	newBlock, err := blockio.Open(d.store, newID, petastore.TypeDir, d.codec)
	if err != nil {
		return 0, errors.Wrapf(petastore.ErrIOError, "directory: chain new block %d: %v", newID, err)
	}
	if err := newBlock.AppendRecord(entry, d.layout.BlobSize); err != nil {
		return 0, errors.Wrapf(petastore.ErrIOError, "directory: append to fresh overflow block %d: %v", newID, err)
	}
	if err := h.SetNext(newID); err != nil {
		return 0, errors.Wrap(petastore.ErrIOError, "directory: link overflow block")
	}
	if err := newBlock.SetPrev(h.ID()); err != nil {
		return 0, errors.Wrap(petastore.ErrIOError, "directory: link overflow block")
	}

	d.log.WithFields(logrus.Fields{
		"bucket": d.BucketID(name),
		"block":  newID,
	}).Info("directory: chained overflow block")

	return newID, nil
}

// WalkBucket visits every non-tombstoned entry reachable from bucketHead,
// calling fn with the block it lives in and its slot index. WalkBucket
// never writes; an untouched bucket head is an empty bucket.
func (d *Directory) WalkBucket(bucketHead petastore.BlobID, fn func(blockID petastore.BlobID, slot int, entry FileEntry) error) error {
	h, ok, err := blockio.OpenExisting(d.store, bucketHead, petastore.TypeDir, d.codec)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for {
		recs, err := h.Records()
		if err != nil {
			return err
		}
		for i, rec := range recs {
			if rec.ControlBlob == 0 {
				continue
			}
			if err := fn(h.ID(), i, rec); err != nil {
				return err
			}
		}

		next, ok, err := blockio.FollowNext(h)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		h = next
	}
}

// Delete tombstones name's entry: clears the name and zeroes ControlBlob
// in place. The slot is not reclaimed; Find skips tombstoned slots.
// Returns petastore.ErrNotFound if name has no entry.
func (d *Directory) Delete(name FileName) error {
	loc, found, err := d.Find(name)
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrapf(petastore.ErrNotFound, "directory: %q", name)
	}

	h, err := blockio.Open(d.store, loc.Block, petastore.TypeDir, d.codec)
	if err != nil {
		return err
	}
	return h.OverwriteRecord(loc.Slot, FileEntry{})
}
