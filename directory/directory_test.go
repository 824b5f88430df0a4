package directory

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vdisk/petastore"
	"github.com/vdisk/petastore/memblob"
)

func testLayout() petastore.Layout {
	l := petastore.DefaultLayout()
	l.DirHeads = 4
	l.MaxPath = 32
	l.BlobSize = 256 // small enough to force overflow chaining in tests
	return l
}

func newTestDirectory(t *testing.T) (*Directory, func() petastore.BlobID) {
	t.Helper()
	layout := testLayout()
	store := memblob.New(1 << 20)
	d := New(store, layout, logrus.New())

	next := layout.FirstFreeDataID()
	alloc := func() petastore.BlobID {
		id := next
		next++
		return id
	}
	return d, alloc
}

func TestValidateName(t *testing.T) {
	r := require.New(t)
	r.NoError(ValidateName("abc.txt", 32))
	r.ErrorIs(ValidateName("", 32), petastore.ErrBadArgs)
	r.ErrorIs(ValidateName(FileName(make([]byte, 40)), 32), petastore.ErrBadArgs)
	r.ErrorIs(ValidateName("bad\x01name", 32), petastore.ErrBadArgs)
}

func TestInsertThenFind(t *testing.T) {
	r := require.New(t)
	d, alloc := newTestDirectory(t)

	_, err := d.Insert("abcdef.txt", 777, alloc)
	r.NoError(err)

	loc, found, err := d.Find("abcdef.txt")
	r.NoError(err)
	r.True(found)
	r.EqualValues(777, loc.Entry.ControlBlob)
}

func TestFindMissingNotFound(t *testing.T) {
	r := require.New(t)
	d, _ := newTestDirectory(t)

	_, found, err := d.Find("nope.txt")
	r.NoError(err)
	r.False(found)
}

func TestDeleteTombstonesEntry(t *testing.T) {
	r := require.New(t)
	d, alloc := newTestDirectory(t)

	_, err := d.Insert("x", 1, alloc)
	r.NoError(err)

	r.NoError(d.Delete("x"))

	_, found, err := d.Find("x")
	r.NoError(err)
	r.False(found)

	r.ErrorIs(d.Delete("x"), petastore.ErrNotFound)
}

func TestInsertChainsOverflowWhenFull(t *testing.T) {
	r := require.New(t)

	// A single bucket head forces every insert into the same chain.
	layout := testLayout()
	layout.DirHeads = 1
	store := memblob.New(1 << 20)
	d := New(store, layout, logrus.New())
	next := layout.FirstFreeDataID()
	alloc := func() petastore.BlobID {
		id := next
		next++
		return id
	}

	// Each entry is MaxPath+8 = 40 bytes; header is 24 bytes; blob size
	// is 256, so the head block holds floor((256-24)/40) = 5 entries
	// before an overflow block must be chained.
	const headCapacity = 5

	var blocks []petastore.BlobID
	for i := 0; i < headCapacity+3; i++ {
		name := FileName(fmt.Sprintf("file-%02d", i))
		block, err := d.Insert(name, petastore.BlobID(i+1), alloc)
		r.NoError(err)
		blocks = append(blocks, block)
	}

	// All entries remain findable across the chain.
	for i := 0; i < headCapacity+3; i++ {
		name := FileName(fmt.Sprintf("file-%02d", i))
		loc, found, err := d.Find(name)
		r.NoError(err)
		r.True(found, "missing %s", name)
		r.EqualValues(i+1, loc.Entry.ControlBlob)
	}

	// At least one entry landed outside the head block.
	headSeen, overflowSeen := false, false
	head := blocks[0]
	for _, b := range blocks {
		if b == head {
			headSeen = true
		} else {
			overflowSeen = true
		}
	}
	r.True(headSeen)
	r.True(overflowSeen, "expected an overflow block to be chained")
}

func TestWalkBucketVisitsAllLiveEntries(t *testing.T) {
	r := require.New(t)
	d, alloc := newTestDirectory(t)

	names := []FileName{"a", "b", "c", "d", "e", "f", "g", "h"}
	bucket := d.BucketID(names[0])
	var ownNames []FileName
	for _, n := range names {
		if d.BucketID(n) == bucket {
			ownNames = append(ownNames, n)
			_, err := d.Insert(n, 1, alloc)
			r.NoError(err)
		}
	}
	r.NotEmpty(ownNames)

	var visited []FileName
	err := d.WalkBucket(bucket, func(blockID petastore.BlobID, slot int, entry FileEntry) error {
		visited = append(visited, entry.Name)
		return nil
	})
	r.NoError(err)
	r.ElementsMatch(ownNames, visited)
}

func TestBucketIDWithinRange(t *testing.T) {
	r := require.New(t)
	d, _ := newTestDirectory(t)
	layout := testLayout()

	for i := 0; i < 1000; i++ {
		id := d.BucketID(FileName(fmt.Sprintf("name-%d", i)))
		r.GreaterOrEqual(uint64(id), uint64(1))
		r.LessOrEqual(uint64(id), uint64(layout.DirHeads))
	}
}
