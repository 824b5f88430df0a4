package control

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/vdisk/petastore"
)

// Chain is the per-file control-block index: offset translation, the
// read/write paths, chain extension, and deletion. It holds no per-file
// state; callers thread a *Block cursor through SeekRead/SeekWrite.
type Chain struct {
	store  petastore.BlobStore
	layout petastore.Layout
	log    logrus.FieldLogger
}

// New constructs a Chain over store using layout's BlobSize/
// ControlCapacity/VerifyChecksums.
func New(store petastore.BlobStore, layout petastore.Layout, log logrus.FieldLogger) *Chain {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Chain{store: store, layout: layout, log: log}
}

// CreateFirst allocates the first control block of a new file's chain:
// start=0, inheriting directory.
func (c *Chain) CreateFirst(id petastore.BlobID, directory petastore.BlobID) (*Block, error) {
	return Create(c.store, id, directory, 0, c.layout.VerifyChecksums)
}

// Position is the result of translating a file byte offset.
type Position struct {
	CtrlIndex  uint64
	Slot       int
	WithinBlob int
}

// Translate converts a file byte offset into a position: data_index =
// off/BlobSize, within_blob = off mod BlobSize, ctrl_index =
// data_index/CAPACITY, slot = data_index mod CAPACITY.
func (c *Chain) Translate(off uint64) Position {
	blobSize := uint64(c.layout.BlobSize)
	capacity := uint64(c.layout.ControlCapacity())

	dataIndex := off / blobSize
	within := off % blobSize
	ctrlIndex := dataIndex / capacity
	slot := dataIndex % capacity

	return Position{CtrlIndex: ctrlIndex, Slot: int(slot), WithinBlob: int(within)}
}

func (c *Chain) start(current *Block, first petastore.BlobID) (*Block, error) {
	if current != nil {
		return current, nil
	}
	return Open(c.store, first, c.layout.VerifyChecksums)
}

// SeekRead walks the chain, from current if non-nil, else from first,
// to the control block whose Start equals ctrlIndex, following Next while
// Start < ctrlIndex and Prev while Start > ctrlIndex. Returns (nil, nil)
// if the chain ends before reaching ctrlIndex.
func (c *Chain) SeekRead(current *Block, first petastore.BlobID, ctrlIndex uint64) (*Block, error) {
	cur, err := c.start(current, first)
	if err != nil {
		return nil, err
	}

	for cur.Start() < ctrlIndex {
		next := cur.Header().Next
		if next == 0 {
			return nil, nil
		}
		if cur, err = Open(c.store, next, c.layout.VerifyChecksums); err != nil {
			return nil, err
		}
	}
	for cur.Start() > ctrlIndex {
		prev := cur.Header().Prev
		if prev == 0 {
			return nil, errors.Wrapf(petastore.ErrCorrupt, "control: chain underflow seeking index %d", ctrlIndex)
		}
		if cur, err = Open(c.store, prev, c.layout.VerifyChecksums); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// SeekWrite behaves like SeekRead but extends the chain with freshly
// allocated control blocks (via allocate) instead of returning nil when
// the chain ends before ctrlIndex. Each new block is initialized with
// Start = prev.Start+1, inheriting Directory.
func (c *Chain) SeekWrite(current *Block, first petastore.BlobID, ctrlIndex uint64, allocate func() petastore.BlobID) (*Block, error) {
	cur, err := c.start(current, first)
	if err != nil {
		return nil, err
	}

	for cur.Start() > ctrlIndex {
		prev := cur.Header().Prev
		if prev == 0 {
			return nil, errors.Wrapf(petastore.ErrCorrupt, "control: chain underflow seeking index %d", ctrlIndex)
		}
		if cur, err = Open(c.store, prev, c.layout.VerifyChecksums); err != nil {
			return nil, err
		}
	}

	for cur.Start() < ctrlIndex {
		next := cur.Header().Next
		if next != 0 {
			if cur, err = Open(c.store, next, c.layout.VerifyChecksums); err != nil {
				return nil, err
			}
			continue
		}

		newID := allocate()
		nextBlock, err := Create(c.store, newID, cur.Directory(), cur.Start()+1, c.layout.VerifyChecksums)
		if err != nil {
			return nil, err
		}
		if err := cur.SetNext(newID); err != nil {
			return nil, err
		}
		if err := nextBlock.SetPrev(cur.ID()); err != nil {
			return nil, err
		}
		c.log.WithFields(logrus.Fields{"block": newID, "start": nextBlock.Start()}).Debug("control: extended chain")
		cur = nextBlock
	}
	return cur, nil
}

// Read returns 0 bytes if the slot is unpopulated (EOF), otherwise up to
// min(len(buf), BlobSize-withinBlob, blob.size()-withinBlob) bytes, once
// the control block and slot are known. A single call never crosses a
// data-blob boundary.
func (c *Chain) Read(block *Block, slot int, withinBlob int, buf []byte) (int, error) {
	blobs := block.Blobs()
	if slot >= len(blobs) {
		return 0, nil
	}

	dataBlob, err := c.store.GetBlob(blobs[slot])
	if err != nil {
		return 0, errors.Wrapf(petastore.ErrIOError, "control: get data blob %d: %v", blobs[slot], err)
	}
	defer dataBlob.Release()

	data := dataBlob.Get()
	avail := len(data) - withinBlob
	if avail <= 0 {
		return 0, nil
	}

	n := len(buf)
	if max := c.layout.BlobSize - withinBlob; n > max {
		n = max
	}
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0, nil
	}

	copy(buf[:n], data[withinBlob:withinBlob+n])
	return n, nil
}

// Write fills any missing slots up to and including slot with freshly
// allocated, empty data blobs, then writes data at [withinBlob,
// withinBlob+len(data)) in the target blob, zero-extending if necessary
// but never shrinking it. Returns petastore.ErrCrossBoundary, without
// allocating anything, if the write would cross a blob boundary.
func (c *Chain) Write(block *Block, slot int, withinBlob int, data []byte, allocate func() petastore.BlobID) (int, error) {
	if withinBlob+len(data) > c.layout.BlobSize {
		return 0, petastore.ErrCrossBoundary
	}

	for len(block.Blobs()) <= slot {
		id := allocate()
		if err := block.AppendBlob(id, c.layout.ControlCapacity()); err != nil {
			return 0, err
		}
	}

	dataID := block.Blobs()[slot]
	dataBlob, err := c.store.GetBlob(dataID)
	if err != nil {
		return 0, errors.Wrapf(petastore.ErrIOError, "control: get data blob %d: %v", dataID, err)
	}
	defer dataBlob.Release()

	existing := dataBlob.Get()
	need := withinBlob + len(data)
	size := len(existing)
	if need > size {
		size = need
	}

	buf := make([]byte, size)
	copy(buf, existing)
	copy(buf[withinBlob:], data)

	if err := dataBlob.Put(buf); err != nil {
		return 0, classifyPutError(err, dataID)
	}
	return len(data), nil
}

// Length walks the chain to its tail and sums the bytes it holds: the
// highest populated slot's data-index times BlobSize, plus that blob's
// own length. Used to compute append mode's initial write position.
func (c *Chain) Length(first petastore.BlobID) (uint64, error) {
	cur, err := Open(c.store, first, c.layout.VerifyChecksums)
	if err != nil {
		return 0, err
	}
	for cur.Header().Next != 0 {
		if cur, err = Open(c.store, cur.Header().Next, c.layout.VerifyChecksums); err != nil {
			return 0, err
		}
	}

	blobs := cur.Blobs()
	if len(blobs) == 0 {
		return cur.Start() * uint64(c.layout.ControlCapacity()) * uint64(c.layout.BlobSize), nil
	}

	lastSlot := len(blobs) - 1
	lastBlob, err := c.store.GetBlob(blobs[lastSlot])
	if err != nil {
		return 0, errors.Wrapf(petastore.ErrIOError, "control: get data blob %d: %v", blobs[lastSlot], err)
	}
	defer lastBlob.Release()

	dataIndex := cur.Start()*uint64(c.layout.ControlCapacity()) + uint64(lastSlot)
	return dataIndex*uint64(c.layout.BlobSize) + uint64(len(lastBlob.Get())), nil
}

// Delete walks a file's control chain end to end and logs it as orphaned.
// Ids are not recycled and no on-disk state changes; the chain becomes
// unreachable once the caller tombstones the directory entry. Returns
// petastore.ErrCorrupt if the chain loops back on itself.
func (c *Chain) Delete(first petastore.BlobID) error {
	cur, err := Open(c.store, first, c.layout.VerifyChecksums)
	if err != nil {
		return err
	}

	blocks, dataBlobs := 0, 0
	seen := map[petastore.BlobID]bool{}
	for {
		if seen[cur.ID()] {
			return errors.Wrapf(petastore.ErrCorrupt, "control: cycle in chain at block %d", cur.ID())
		}
		seen[cur.ID()] = true
		blocks++
		dataBlobs += len(cur.Blobs())
		next := cur.Header().Next
		if next == 0 {
			break
		}
		if cur, err = Open(c.store, next, c.layout.VerifyChecksums); err != nil {
			return err
		}
	}

	c.log.WithFields(logrus.Fields{
		"first_control": first,
		"control_blocks": blocks,
		"data_blobs":     dataBlobs,
	}).Info("control: chain orphaned by remove")
	return nil
}
