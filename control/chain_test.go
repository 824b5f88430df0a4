package control

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vdisk/petastore"
	"github.com/vdisk/petastore/memblob"
)

func smallLayout() petastore.Layout {
	l := petastore.DefaultLayout()
	l.BlobSize = 128 // capacity of 6 data slots per control block
	return l
}

func newAllocator(start petastore.BlobID) func() petastore.BlobID {
	next := start
	return func() petastore.BlobID {
		id := next
		next++
		return id
	}
}

func TestTranslate(t *testing.T) {
	r := require.New(t)
	layout := smallLayout()
	c := New(memblob.New(1<<20), layout, logrus.New())

	capacity := uint64(layout.ControlCapacity())
	blobSize := uint64(layout.BlobSize)

	pos := c.Translate(0)
	r.Equal(Position{CtrlIndex: 0, Slot: 0, WithinBlob: 0}, pos)

	pos = c.Translate(blobSize + 5)
	r.Equal(Position{CtrlIndex: 0, Slot: 1, WithinBlob: 5}, pos)

	pos = c.Translate(capacity * blobSize)
	r.Equal(Position{CtrlIndex: 1, Slot: 0, WithinBlob: 0}, pos)
}

func TestWriteThenReadWithinOneBlob(t *testing.T) {
	r := require.New(t)
	layout := smallLayout()
	store := memblob.New(1 << 20)
	c := New(store, layout, logrus.New())
	alloc := newAllocator(layout.FirstFreeDataID())

	block, err := c.CreateFirst(1, 0)
	r.NoError(err)

	n, err := c.Write(block, 0, 0, []byte("hello"), alloc)
	r.NoError(err)
	r.Equal(5, n)

	buf := make([]byte, 64)
	n, err = c.Read(block, 0, 0, buf)
	r.NoError(err)
	r.Equal(5, n)
	r.Equal("hello", string(buf[:n]))
}

func TestReadUnpopulatedSlotIsEOF(t *testing.T) {
	r := require.New(t)
	layout := smallLayout()
	store := memblob.New(1 << 20)
	c := New(store, layout, logrus.New())

	block, err := c.CreateFirst(1, 0)
	r.NoError(err)

	buf := make([]byte, 10)
	n, err := c.Read(block, 0, 0, buf)
	r.NoError(err)
	r.Equal(0, n)
}

func TestWriteCrossBoundaryFails(t *testing.T) {
	r := require.New(t)
	layout := smallLayout()
	store := memblob.New(1 << 20)
	c := New(store, layout, logrus.New())
	alloc := newAllocator(layout.FirstFreeDataID())

	block, err := c.CreateFirst(1, 0)
	r.NoError(err)

	data := make([]byte, layout.BlobSize+1)
	n, err := c.Write(block, 0, 0, data, alloc)
	r.ErrorIs(err, petastore.ErrCrossBoundary)
	r.Equal(0, n)
	r.Empty(block.Blobs(), "a crossing write must not allocate anything")
}

func TestWriteDoesNotShrinkBlobOnPartialOverwrite(t *testing.T) {
	r := require.New(t)
	layout := smallLayout()
	store := memblob.New(1 << 20)
	c := New(store, layout, logrus.New())
	alloc := newAllocator(layout.FirstFreeDataID())

	block, err := c.CreateFirst(1, 0)
	r.NoError(err)

	_, err = c.Write(block, 0, 0, []byte("0123456789"), alloc)
	r.NoError(err)
	_, err = c.Write(block, 0, 0, []byte("ab"), alloc)
	r.NoError(err)

	buf := make([]byte, 10)
	n, err := c.Read(block, 0, 0, buf)
	r.NoError(err)
	r.Equal(10, n)
	r.Equal("ab23456789", string(buf[:n]))
}

func TestSeekWriteExtendsChainAcrossControlBlocks(t *testing.T) {
	r := require.New(t)
	layout := smallLayout()
	store := memblob.New(1 << 20)
	c := New(store, layout, logrus.New())
	alloc := newAllocator(layout.FirstFreeDataID())

	first := alloc()
	block, err := c.CreateFirst(first, 0)
	r.NoError(err)

	capacity := uint64(layout.ControlCapacity())
	blobSize := uint64(layout.BlobSize)

	// Land squarely in the second control block.
	off := capacity * blobSize
	pos := c.Translate(off)
	r.EqualValues(1, pos.CtrlIndex)

	target, err := c.SeekWrite(block, first, pos.CtrlIndex, alloc)
	r.NoError(err)
	r.EqualValues(1, target.Start())
	r.EqualValues(0, target.Directory())

	n, err := c.Write(target, pos.Slot, pos.WithinBlob, []byte("x"), alloc)
	r.NoError(err)
	r.Equal(1, n)

	// Re-seeking from the head must land on the same block.
	reread, err := c.SeekRead(nil, first, pos.CtrlIndex)
	r.NoError(err)
	r.NotNil(reread)
	r.EqualValues(1, reread.Start())
}

func TestSeekReadReturnsNilPastChainEnd(t *testing.T) {
	r := require.New(t)
	layout := smallLayout()
	store := memblob.New(1 << 20)
	c := New(store, layout, logrus.New())

	first := petastore.BlobID(layout.FirstFreeDataID())
	_, err := c.CreateFirst(first, 0)
	r.NoError(err)

	block, err := c.SeekRead(nil, first, 5)
	r.NoError(err)
	r.Nil(block)
}

func TestLengthAcrossMultipleDataBlobs(t *testing.T) {
	r := require.New(t)
	layout := smallLayout()
	store := memblob.New(1 << 20)
	c := New(store, layout, logrus.New())
	alloc := newAllocator(layout.FirstFreeDataID())

	first := alloc()
	block, err := c.CreateFirst(first, 0)
	r.NoError(err)

	blobSize := layout.BlobSize
	full := bytes.Repeat([]byte{0xAB}, blobSize)

	_, err = c.Write(block, 0, 0, full, alloc)
	r.NoError(err)

	_, err = c.Write(block, 1, 0, []byte("partial"), alloc)
	r.NoError(err)

	length, err := c.Length(first)
	r.NoError(err)
	r.EqualValues(uint64(blobSize)+uint64(len("partial")), length)
}

func TestDeleteWalksChainWithoutError(t *testing.T) {
	r := require.New(t)
	layout := smallLayout()
	store := memblob.New(1 << 20)
	c := New(store, layout, logrus.New())
	alloc := newAllocator(layout.FirstFreeDataID())

	first := alloc()
	block, err := c.CreateFirst(first, 0)
	r.NoError(err)
	_, err = c.Write(block, 0, 0, []byte("x"), alloc)
	r.NoError(err)

	r.NoError(c.Delete(first))
}
